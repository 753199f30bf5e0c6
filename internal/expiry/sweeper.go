package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pagevoice/pagevoice/internal/audit"
	"github.com/pagevoice/pagevoice/internal/models"
	"github.com/pagevoice/pagevoice/internal/notify"
	"github.com/pagevoice/pagevoice/internal/storage"
)

// Store is the slice of the audio store the sweep drives.
type Store interface {
	ListActiveCompleted(ctx context.Context) ([]models.PageAudio, error)
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkWarned(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Documents resolves page metadata for warning content.
type Documents interface {
	GetPage(ctx context.Context, id uuid.UUID) (*models.DocumentPage, error)
}

// Settings exposes the retention configuration read at the start of a run.
type Settings interface {
	Get(ctx context.Context) (*models.SiteSettings, error)
}

// Result summarizes one sweep run.
type Result struct {
	Candidates int
	Expired    int
	Warned     int
	Errors     []error
}

// Sweeper retires audios that outlived the retention period and warns owners
// of audios approaching it. Runs are idempotent: expiry is guarded on the
// Active lifetime state and warnings are stamped per expiry window, so a
// rerun after a crash picks up exactly the records the first run missed.
type Sweeper struct {
	store    Store
	docs     Documents
	settings Settings
	gateway  storage.Gateway
	notifier notify.Notifier
	auditor  audit.Recorder
	now      func() time.Time
}

func NewSweeper(store Store, docs Documents, settings Settings,
	gateway storage.Gateway, notifier notify.Notifier, auditor audit.Recorder) *Sweeper {
	return &Sweeper{
		store:    store,
		docs:     docs,
		settings: settings,
		gateway:  gateway,
		notifier: notifier,
		auditor:  auditor,
		now:      time.Now,
	}
}

// Run performs one sweep. Per-record failures are collected, never fatal: one
// bad record or one unreachable owner must not stall retention for the rest.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var res Result

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return res, fmt.Errorf("read settings: %w", err)
	}

	audios, err := s.store.ListActiveCompleted(ctx)
	if err != nil {
		return res, fmt.Errorf("list sweep candidates: %w", err)
	}
	res.Candidates = len(audios)

	now := s.now()
	warnings := make(map[uuid.UUID][]warnedAudio)

	for i := range audios {
		a := &audios[i]
		switch {
		case a.IsExpired(now, cfg.RetentionPeriod):
			// With auto-delete off, records and objects are left alone
			// entirely. Re-enabling the toggle lets a later sweep
			// expire-and-delete in one step, so no object is ever orphaned
			// behind an Expired record.
			if !cfg.AutoDeleteEnabled {
				continue
			}
			if err := s.expire(ctx, a, now); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Expired++
		case a.WarnedAt == nil && a.NeedsWarning(now, cfg.RetentionPeriod, cfg.WarningLeadTime):
			item, err := s.warningItem(ctx, a, cfg.RetentionPeriod)
			if err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			warnings[a.GeneratedBy] = append(warnings[a.GeneratedBy], warnedAudio{id: a.ID, item: item})
		}
	}

	// One batch per owner per run, however many of their audios are at risk.
	for actorID, batch := range warnings {
		items := make([]notify.WarningItem, len(batch))
		for i, w := range batch {
			items[i] = w.item
		}
		if err := s.notifier.SendWarningBatch(ctx, actorID, items); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("warn actor %s: %w", actorID, err))
			continue
		}
		// Stamp only after delivery, so a failed send retries next run.
		for _, w := range batch {
			if err := s.store.MarkWarned(ctx, w.id, now); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("mark warned %s: %w", w.id, err))
				continue
			}
			res.Warned++
		}
	}

	slog.Info("expiry sweep finished",
		"candidates", res.Candidates, "expired", res.Expired, "warned", res.Warned, "errors", len(res.Errors))
	return res, nil
}

type warnedAudio struct {
	id   uuid.UUID
	item notify.WarningItem
}

// expire removes the stored object and retires the record. When the object
// deletion fails the record stays Active so the next run tries again; marking
// it Expired first would orphan the object.
func (s *Sweeper) expire(ctx context.Context, a *models.PageAudio, now time.Time) error {
	if a.StorageKey != "" {
		if err := s.gateway.Delete(ctx, a.StorageKey); err != nil {
			return fmt.Errorf("delete object for audio %s: %w", a.ID, err)
		}
	}
	if err := s.store.MarkExpired(ctx, a.ID, now); err != nil {
		return fmt.Errorf("mark expired %s: %w", a.ID, err)
	}

	entry := models.AuditEntry{
		ActorID: a.GeneratedBy,
		Action:  models.ActionExpire,
		AudioID: &a.ID,
		Outcome: models.OutcomeSuccess,
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		slog.Error("failed to record expiry audit entry", "audio_id", a.ID, "error", err)
	}

	slog.Info("audio expired", "audio_id", a.ID, "voice", a.Voice)
	return nil
}

func (s *Sweeper) warningItem(ctx context.Context, a *models.PageAudio, retention time.Duration) (notify.WarningItem, error) {
	page, err := s.docs.GetPage(ctx, a.PageID)
	if err != nil {
		return notify.WarningItem{}, fmt.Errorf("load page for audio %s: %w", a.ID, err)
	}
	return notify.WarningItem{
		AudioID:    a.ID,
		Voice:      a.Voice,
		DocumentID: page.DocumentID,
		PageNumber: page.PageNumber,
		ExpiresAt:  a.ExpiresAt(retention),
	}, nil
}
