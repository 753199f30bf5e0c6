package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagevoice/pagevoice/internal/models"
)

// ErrNotFound is returned when a document or page does not exist.
var ErrNotFound = errors.New("document not found")

// Service reads documents and pages. Ingestion and parsing happen in a
// separate pipeline; the audio core only consumes the results.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var d models.Document
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, title, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.OwnerID, &d.Title, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (s *Service) GetPage(ctx context.Context, id uuid.UUID) (*models.DocumentPage, error) {
	var p models.DocumentPage
	err := s.db.QueryRow(ctx,
		`SELECT id, document_id, page_number, content, created_at FROM document_pages WHERE id = $1`, id,
	).Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.Content, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &p, nil
}
