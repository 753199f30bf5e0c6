package models

import (
	"time"

	"github.com/google/uuid"
)

// SharingPermission is the permission level of a document sharing grant.
type SharingPermission string

const (
	PermViewOnly     SharingPermission = "VIEW_ONLY"
	PermCollaborator SharingPermission = "COLLABORATOR"
	PermCanShare     SharingPermission = "CAN_SHARE"
)

// SharingGrant gives a non-owner access to a document. Grant management
// lives in another service; this one only reads grants.
type SharingGrant struct {
	DocumentID uuid.UUID         `json:"document_id" db:"document_id"`
	SharedWith uuid.UUID         `json:"shared_with" db:"shared_with"`
	Permission SharingPermission `json:"permission" db:"permission"`
	SharedBy   uuid.UUID         `json:"shared_by" db:"shared_by"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// CanGenerateAudio reports whether the grant allows requesting audio
// generation. View-only grantees can listen but not generate.
func (g *SharingGrant) CanGenerateAudio() bool {
	return g.Permission == PermCollaborator || g.Permission == PermCanShare
}

// CanShare reports whether the grantee may share the document onward.
func (g *SharingGrant) CanShare() bool {
	return g.Permission == PermCanShare
}
