package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagevoice/pagevoice/internal/models"
)

const audioColumns = `id, page_id, voice, generated_by, storage_key, status, lifetime_status,
	error_message, created_at, last_played_at, deleted_at, warned_at`

// PostgresStore owns all SQL for page audio records.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateActive inserts a new Pending/Active record, enforcing both creation
// invariants inside one transaction:
//
//   - the lifetime quota is counted under a FOR UPDATE lock on the page row,
//     so two concurrent requests serialize on the count
//   - voice uniqueness rides on the partial unique index over
//     (page_id, voice) WHERE lifetime_status = 'ACTIVE'; a constraint
//     violation at insert time is the authoritative duplicate rejection
func (s *PostgresStore) CreateActive(ctx context.Context, pageID, actorID uuid.UUID, voice string, maxPerPage int) (*models.PageAudio, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM document_pages WHERE id = $1 FOR UPDATE`, pageID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock page: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM page_audios WHERE page_id = $1`, pageID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count page audios: %w", err)
	}
	if count >= maxPerPage {
		return nil, ErrQuotaExceeded
	}

	rec := &models.PageAudio{
		ID:          uuid.New(),
		PageID:      pageID,
		Voice:       voice,
		GeneratedBy: actorID,
		Status:      models.GenPending,
		Lifetime:    models.LifetimeActive,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO page_audios (id, page_id, voice, generated_by, storage_key, status, lifetime_status)
		 VALUES ($1, $2, $3, $4, '', $5, $6)
		 RETURNING created_at`,
		rec.ID, rec.PageID, rec.Voice, rec.GeneratedBy, rec.Status, rec.Lifetime,
	).Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateVoice
		}
		return nil, fmt.Errorf("insert page audio: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit page audio: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetAudio(ctx context.Context, id uuid.UUID) (*models.PageAudio, error) {
	var a models.PageAudio
	err := s.db.QueryRow(ctx,
		`SELECT `+audioColumns+` FROM page_audios WHERE id = $1`, id,
	).Scan(&a.ID, &a.PageID, &a.Voice, &a.GeneratedBy, &a.StorageKey, &a.Status, &a.Lifetime,
		&a.ErrorMessage, &a.CreatedAt, &a.LastPlayedAt, &a.DeletedAt, &a.WarnedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get page audio: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CountByPage(ctx context.Context, pageID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM page_audios WHERE page_id = $1`, pageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count page audios: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ActiveVoiceExists(ctx context.Context, pageID uuid.UUID, voice string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM page_audios WHERE page_id = $1 AND voice = $2 AND lifetime_status = $3)`,
		pageID, voice, models.LifetimeActive,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active voice: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListActiveByPage(ctx context.Context, pageID uuid.UUID) ([]models.PageAudio, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+audioColumns+` FROM page_audios
		 WHERE page_id = $1 AND lifetime_status = $2
		 ORDER BY created_at DESC`,
		pageID, models.LifetimeActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list page audios: %w", err)
	}
	defer rows.Close()
	return scanAudios(rows)
}

// ListActiveCompleted returns every sweep candidate: Active lifetime,
// Completed generation.
func (s *PostgresStore) ListActiveCompleted(ctx context.Context) ([]models.PageAudio, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+audioColumns+` FROM page_audios
		 WHERE lifetime_status = $1 AND status = $2
		 ORDER BY created_at`,
		models.LifetimeActive, models.GenCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	defer rows.Close()
	return scanAudios(rows)
}

func scanAudios(rows pgx.Rows) ([]models.PageAudio, error) {
	var audios []models.PageAudio
	for rows.Next() {
		var a models.PageAudio
		if err := rows.Scan(&a.ID, &a.PageID, &a.Voice, &a.GeneratedBy, &a.StorageKey, &a.Status,
			&a.Lifetime, &a.ErrorMessage, &a.CreatedAt, &a.LastPlayedAt, &a.DeletedAt, &a.WarnedAt); err != nil {
			return nil, fmt.Errorf("scan page audio: %w", err)
		}
		audios = append(audios, a)
	}
	return audios, rows.Err()
}

// MarkGenerating moves a record into GENERATING. The WHERE clause doubles as
// a database-side guard on the transition table.
func (s *PostgresStore) MarkGenerating(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE page_audios SET status = $1 WHERE id = $2 AND status IN ($3, $4)`,
		models.GenGenerating, id, models.GenPending, models.GenFailed)
	if err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audio %s cannot transition to %s", id, models.GenGenerating)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, storageKey string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE page_audios SET status = $1, storage_key = $2, error_message = NULL
		 WHERE id = $3 AND status = $4`,
		models.GenCompleted, storageKey, id, models.GenGenerating)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audio %s is not generating", id)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE page_audios SET status = $1, error_message = $2 WHERE id = $3`,
		models.GenFailed, message, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// TouchLastPlayed records an access. Concurrent calls are last-write-wins;
// the value only feeds the coarse expiry clock. A fresh play opens a new
// expiry window, so any prior warning mark is cleared.
func (s *PostgresStore) TouchLastPlayed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE page_audios SET last_played_at = $1, warned_at = NULL WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch last played: %w", err)
	}
	return nil
}

// SoftDelete moves an Active record to Deleted, freeing its voice slot while
// keeping the row for quota counting and audit history.
func (s *PostgresStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE page_audios SET lifetime_status = $1, deleted_at = $2
		 WHERE id = $3 AND lifetime_status = $4`,
		models.LifetimeDeleted, at, id, models.LifetimeActive)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audio %s is not active", id)
	}
	return nil
}

// MarkExpired retires a record during the sweep. Guarded on Active so a
// repeated sweep is a no-op. The storage key is cleared in the same
// statement: the sweep has already deleted the object, and an Expired
// record must not point at storage it no longer owns.
func (s *PostgresStore) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE page_audios SET lifetime_status = $1, deleted_at = $2, storage_key = ''
		 WHERE id = $3 AND lifetime_status = $4`,
		models.LifetimeExpired, at, id, models.LifetimeActive)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

// MarkWarned stamps the record so it lands in at most one warning batch per
// expiry window.
func (s *PostgresStore) MarkWarned(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE page_audios SET warned_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark warned: %w", err)
	}
	return nil
}
