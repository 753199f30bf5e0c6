package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is the read-side view of an ingested document. Ingestion and
// parsing happen in a separate service; this one only needs ownership and
// page text.
type Document struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type DocumentPage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	PageNumber int       `json:"page_number" db:"page_number"`
	Content    string    `json:"content" db:"content"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
