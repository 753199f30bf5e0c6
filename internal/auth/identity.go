package auth

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller, extracted from the JWT by the
// middleware. User records live in the auth service; this core only needs
// the id and email.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// RequestMeta carries client metadata for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type contextKey string

const (
	identityKey contextKey = "identity"
	metaKey     contextKey = "request_meta"
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller identity, or a zero Identity when
// the request was not authenticated.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(metaKey).(RequestMeta)
	return meta
}
