package sharing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagevoice/pagevoice/internal/models"
)

// Service is the read side of document sharing. Grant management (the CRUD
// surface) belongs to another service; generation and playback decisions
// only need lookups.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// GetGrant returns the grant for (document, user), or (nil, nil) when the
// user has no grant.
func (s *Service) GetGrant(ctx context.Context, documentID, userID uuid.UUID) (*models.SharingGrant, error) {
	var g models.SharingGrant
	err := s.db.QueryRow(ctx,
		`SELECT document_id, shared_with, permission, shared_by, created_at
		 FROM document_shares WHERE document_id = $1 AND shared_with = $2`,
		documentID, userID,
	).Scan(&g.DocumentID, &g.SharedWith, &g.Permission, &g.SharedBy, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sharing grant: %w", err)
	}
	return &g, nil
}
