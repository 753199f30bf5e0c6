package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagevoice/pagevoice/internal/models"
	"github.com/pagevoice/pagevoice/internal/storage"
)

// Recorder is the append-only write path of the audit trail. Every
// state-changing operation in the core calls it through an explicit
// interceptor, so the side effect shows up in the call graph.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Service appends, queries, and exports audit entries.
type Service struct {
	db    *pgxpool.Pool
	store storage.Gateway
}

func NewService(db *pgxpool.Pool, store storage.Gateway) *Service {
	return &Service{db: db, store: store}
}

func (s *Service) Record(ctx context.Context, entry models.AuditEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audio_access_logs (id, actor_id, action, audio_id, document_id, outcome, error_message, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), entry.ActorID, entry.Action, entry.AudioID, entry.DocumentID,
		entry.Outcome, entry.ErrorMessage, entry.IPAddress, entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query lists entries within [start, end), newest first, optionally filtered
// by actor.
func (s *Service) Query(ctx context.Context, start, end time.Time, actorID *uuid.UUID, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, actor_id, action, audio_id, document_id, outcome, error_message, ip_address, user_agent, created_at
			  FROM audio_access_logs WHERE created_at >= $1 AND created_at < $2`
	args := []interface{}{start, end}
	if actorID != nil {
		query += " AND actor_id = $3"
		args = append(args, *actorID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.AudioID, &e.DocumentID,
			&e.Outcome, &e.ErrorMessage, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Export writes every entry in [start, end) to the object store as
// line-delimited JSON and returns the object key and line count. Entries
// are ordered oldest first within the file.
func (s *Service) Export(ctx context.Context, start, end time.Time, actorID *uuid.UUID) (string, int, error) {
	query := `SELECT id, actor_id, action, audio_id, document_id, outcome, error_message, ip_address, user_agent, created_at
			  FROM audio_access_logs WHERE created_at >= $1 AND created_at < $2`
	args := []interface{}{start, end}
	if actorID != nil {
		query += " AND actor_id = $3"
		args = append(args, *actorID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return "", 0, fmt.Errorf("query audit export: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.AudioID, &e.DocumentID,
			&e.Outcome, &e.ErrorMessage, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return "", 0, fmt.Errorf("scan audit export entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}

	data, err := MarshalLines(entries)
	if err != nil {
		return "", 0, err
	}

	key := ExportKey(start)
	if err := s.store.Put(ctx, key, data, "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("upload audit export: %w", err)
	}

	slog.Info("exported audit entries", "key", key, "count", len(entries))
	return key, len(entries), nil
}

// ExportKey returns the object key for an export period, grouped by month.
func ExportKey(start time.Time) string {
	return fmt.Sprintf("audit-logs/%04d/%02d/audit-logs-%04d-%02d.jsonl",
		start.Year(), int(start.Month()), start.Year(), int(start.Month()))
}

// MarshalLines renders entries as line-delimited JSON, one entry per line.
func MarshalLines(entries []models.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}
