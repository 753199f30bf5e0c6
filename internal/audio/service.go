package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pagevoice/pagevoice/internal/audit"
	"github.com/pagevoice/pagevoice/internal/auth"
	"github.com/pagevoice/pagevoice/internal/document"
	"github.com/pagevoice/pagevoice/internal/models"
	"github.com/pagevoice/pagevoice/internal/storage"
)

// Store is the persistence surface the orchestrator needs. *PostgresStore
// implements it.
type Store interface {
	CreateActive(ctx context.Context, pageID, actorID uuid.UUID, voice string, maxPerPage int) (*models.PageAudio, error)
	GetAudio(ctx context.Context, id uuid.UUID) (*models.PageAudio, error)
	CountByPage(ctx context.Context, pageID uuid.UUID) (int, error)
	ActiveVoiceExists(ctx context.Context, pageID uuid.UUID, voice string) (bool, error)
	ListActiveByPage(ctx context.Context, pageID uuid.UUID) ([]models.PageAudio, error)
	TouchLastPlayed(ctx context.Context, id uuid.UUID, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
}

// Documents reads pages and their owning documents.
type Documents interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetPage(ctx context.Context, id uuid.UUID) (*models.DocumentPage, error)
}

// Grants is the sharing read contract.
type Grants interface {
	GetGrant(ctx context.Context, documentID, userID uuid.UUID) (*models.SharingGrant, error)
}

// Settings exposes the site configuration read on every decision.
type Settings interface {
	Get(ctx context.Context) (*models.SiteSettings, error)
}

// Enqueuer hands a created record off to the background pipeline.
type Enqueuer interface {
	EnqueueAudioGenerate(audioID uuid.UUID) error
}

// Service is the synchronous entry point for audio generation and access.
// It validates, creates records atomically, and enqueues background work;
// it never blocks on the synthesis pipeline.
type Service struct {
	store    Store
	docs     Documents
	grants   Grants
	settings Settings
	gateway  storage.Gateway
	queue    Enqueuer
	auditor  audit.Recorder
	voices   []string
	urlTTL   time.Duration
	now      func() time.Time
}

func NewService(store Store, docs Documents, grants Grants, settings Settings,
	gateway storage.Gateway, queue Enqueuer, auditor audit.Recorder, voices []string) *Service {
	return &Service{
		store:    store,
		docs:     docs,
		grants:   grants,
		settings: settings,
		gateway:  gateway,
		queue:    queue,
		auditor:  auditor,
		voices:   voices,
		urlTTL:   storage.DefaultURLTTL,
		now:      time.Now,
	}
}

// RequestGeneration validates the request and creates a Pending record for
// (page, voice). Preconditions are checked in order, each failing fast with
// its own error kind; the quota and voice-uniqueness invariants are then
// re-enforced atomically inside the store insert, so a race between two
// passing pre-checks still yields exactly one record.
func (s *Service) RequestGeneration(ctx context.Context, pageID uuid.UUID, voice string) (rec *models.PageAudio, err error) {
	var docID *uuid.UUID
	defer func() {
		var audioID *uuid.UUID
		if rec != nil {
			audioID = &rec.ID
		}
		s.audit(ctx, models.ActionGenerate, audioID, docID, err)
	}()

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if !cfg.GenerationEnabled {
		return nil, ErrGenerationDisabled
	}

	if voice == "" || !slices.Contains(s.voices, voice) {
		return nil, fmt.Errorf("%w: unknown voice %q", ErrValidation, voice)
	}

	page, err := s.docs.GetPage(ctx, pageID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if page.Content == "" {
		return nil, fmt.Errorf("%w: page has no text content", ErrValidation)
	}

	doc, err := s.docs.GetDocument(ctx, page.DocumentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	docID = &doc.ID

	if err := s.checkCanGenerate(ctx, doc); err != nil {
		return nil, err
	}

	// Fast-fail pre-checks; the create below is the authoritative guard.
	count, err := s.store.CountByPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("count page audios: %w", err)
	}
	if count >= cfg.MaxAudiosPerPage {
		return nil, ErrQuotaExceeded
	}
	exists, err := s.store.ActiveVoiceExists(ctx, pageID, voice)
	if err != nil {
		return nil, fmt.Errorf("check voice uniqueness: %w", err)
	}
	if exists {
		return nil, ErrDuplicateVoice
	}

	actor := auth.IdentityFromContext(ctx)
	rec, err = s.store.CreateActive(ctx, pageID, actor.UserID, voice, cfg.MaxAudiosPerPage)
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueueAudioGenerate(rec.ID); err != nil {
		// The record exists but no job will run it. Fail it so the caller
		// sees a terminal state instead of a record stuck in Pending.
		if markErr := s.store.MarkFailed(ctx, rec.ID, "could not schedule audio generation"); markErr != nil {
			slog.Error("failed to mark unscheduled audio as failed", "audio_id", rec.ID, "error", markErr)
		}
		return nil, fmt.Errorf("enqueue generation job: %w", err)
	}

	slog.Info("audio generation requested", "audio_id", rec.ID, "page_id", pageID, "voice", voice)
	return rec, nil
}

// AudioStatus is the polling view of a record.
type AudioStatus struct {
	ID           uuid.UUID               `json:"audio_id"`
	Status       models.GenerationStatus `json:"status"`
	Lifetime     models.LifetimeStatus   `json:"lifetime_status"`
	Voice        string                  `json:"voice"`
	CreatedAt    time.Time               `json:"created_at"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	URL          *string                 `json:"url,omitempty"`
}

// Status reports generation progress for polling. Read-only, so it is not
// audited and does not touch the access clock; the URL included on completed
// records is a convenience copy of the download grant.
func (s *Service) Status(ctx context.Context, audioID uuid.UUID) (*AudioStatus, error) {
	rec, _, err := s.getAccessible(ctx, audioID)
	if err != nil {
		return nil, err
	}

	st := &AudioStatus{
		ID:           rec.ID,
		Status:       rec.Status,
		Lifetime:     rec.Lifetime,
		Voice:        rec.Voice,
		CreatedAt:    rec.CreatedAt,
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.Status == models.GenCompleted && rec.Lifetime == models.LifetimeActive {
		url, err := s.gateway.SignedURL(ctx, rec.StorageKey, s.urlTTL)
		if err != nil {
			slog.Warn("could not sign status URL", "audio_id", rec.ID, "error", err)
		} else {
			st.URL = &url
		}
	}
	return st, nil
}

// Play records an access, resetting the record's expiry clock.
func (s *Service) Play(ctx context.Context, audioID uuid.UUID) (err error) {
	var docID *uuid.UUID
	defer func() { s.audit(ctx, models.ActionPlay, &audioID, docID, err) }()

	rec, doc, err := s.getAccessible(ctx, audioID)
	if err != nil {
		return err
	}
	docID = &doc.ID

	if rec.Status != models.GenCompleted || rec.Lifetime != models.LifetimeActive {
		return fmt.Errorf("%w: audio is not playable", ErrValidation)
	}
	return s.store.TouchLastPlayed(ctx, audioID, s.now())
}

// DownloadGrant is a short-lived access URL for a completed audio.
type DownloadGrant struct {
	URL       string `json:"download_url"`
	Voice     string `json:"voice"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// DownloadURL issues a signed URL for a completed audio and records the
// access. The CDN signer is tried first; a presigned object-store URL is the
// transparent fallback.
func (s *Service) DownloadURL(ctx context.Context, audioID uuid.UUID) (grant *DownloadGrant, err error) {
	var docID *uuid.UUID
	defer func() { s.audit(ctx, models.ActionDownload, &audioID, docID, err) }()

	rec, doc, err := s.getAccessible(ctx, audioID)
	if err != nil {
		return nil, err
	}
	docID = &doc.ID

	if rec.Status != models.GenCompleted || rec.Lifetime != models.LifetimeActive {
		return nil, fmt.Errorf("%w: audio is not ready for download", ErrValidation)
	}

	url, err := s.gateway.SignedURL(ctx, rec.StorageKey, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("issue download url: %w", err)
	}

	if err := s.store.TouchLastPlayed(ctx, audioID, s.now()); err != nil {
		return nil, err
	}

	return &DownloadGrant{
		URL:       url,
		Voice:     rec.Voice,
		ExpiresIn: int(s.urlTTL.Seconds()),
	}, nil
}

// Delete soft-deletes an audio. Only the document owner may delete; the
// record itself is kept for quota counting and audit history, but its voice
// slot becomes reusable.
func (s *Service) Delete(ctx context.Context, audioID uuid.UUID) (err error) {
	var docID *uuid.UUID
	defer func() { s.audit(ctx, models.ActionDelete, &audioID, docID, err) }()

	rec, err := s.store.GetAudio(ctx, audioID)
	if err != nil {
		return err
	}
	page, err := s.docs.GetPage(ctx, rec.PageID)
	if err != nil {
		return mapNotFound(err)
	}
	doc, err := s.docs.GetDocument(ctx, page.DocumentID)
	if err != nil {
		return mapNotFound(err)
	}
	docID = &doc.ID

	actor := auth.IdentityFromContext(ctx)
	if doc.OwnerID != actor.UserID {
		return fmt.Errorf("%w: only the document owner can delete audio", ErrPermissionDenied)
	}

	return s.store.SoftDelete(ctx, audioID, s.now())
}

// AudioSummary is one row of a page listing.
type AudioSummary struct {
	ID              uuid.UUID               `json:"id"`
	Voice           string                  `json:"voice"`
	Status          models.GenerationStatus `json:"status"`
	GeneratedBy     uuid.UUID               `json:"generated_by"`
	CreatedAt       time.Time               `json:"created_at"`
	LastPlayedAt    *time.Time              `json:"last_played_at,omitempty"`
	DaysUntilExpiry int                     `json:"days_until_expiry"`
	ErrorMessage    *string                 `json:"error_message,omitempty"`
}

// QuotaInfo reports lifetime quota usage for a page.
type QuotaInfo struct {
	Used      int `json:"used"`
	Max       int `json:"max"`
	Remaining int `json:"remaining"`
}

// PageAudios is the per-page listing with quota and voice availability.
type PageAudios struct {
	Audios          []AudioSummary `json:"audios"`
	Quota           QuotaInfo      `json:"quota"`
	VoicesUsed      []string       `json:"voices_used"`
	VoicesAvailable []string       `json:"voices_available"`
	IsOwner         bool           `json:"is_owner"`
}

// ListByPage returns the active audios of a page along with quota usage and
// which voices remain available.
func (s *Service) ListByPage(ctx context.Context, pageID uuid.UUID) (*PageAudios, error) {
	page, err := s.docs.GetPage(ctx, pageID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	doc, err := s.docs.GetDocument(ctx, page.DocumentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	actor := auth.IdentityFromContext(ctx)
	if err := s.checkCanView(ctx, doc); err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	audios, err := s.store.ListActiveByPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountByPage(ctx, pageID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	used := make([]string, 0, len(audios))
	summaries := make([]AudioSummary, 0, len(audios))
	for _, a := range audios {
		used = append(used, a.Voice)
		days := int(a.ExpiresAt(cfg.RetentionPeriod).Sub(now).Hours() / 24)
		if days < 0 {
			days = 0
		}
		summaries = append(summaries, AudioSummary{
			ID:              a.ID,
			Voice:           a.Voice,
			Status:          a.Status,
			GeneratedBy:     a.GeneratedBy,
			CreatedAt:       a.CreatedAt,
			LastPlayedAt:    a.LastPlayedAt,
			DaysUntilExpiry: days,
			ErrorMessage:    a.ErrorMessage,
		})
	}

	available := make([]string, 0, len(s.voices))
	for _, v := range s.voices {
		if !slices.Contains(used, v) {
			available = append(available, v)
		}
	}

	remaining := cfg.MaxAudiosPerPage - total
	if remaining < 0 {
		remaining = 0
	}

	return &PageAudios{
		Audios:          summaries,
		Quota:           QuotaInfo{Used: total, Max: cfg.MaxAudiosPerPage, Remaining: remaining},
		VoicesUsed:      used,
		VoicesAvailable: available,
		IsOwner:         doc.OwnerID == actor.UserID,
	}, nil
}

// Voices returns the provider's voice catalog.
func (s *Service) Voices() []string {
	out := make([]string, len(s.voices))
	copy(out, s.voices)
	return out
}

// getAccessible loads a record and verifies the caller may see it (owner or
// any grantee of the owning document).
func (s *Service) getAccessible(ctx context.Context, audioID uuid.UUID) (*models.PageAudio, *models.Document, error) {
	rec, err := s.store.GetAudio(ctx, audioID)
	if err != nil {
		return nil, nil, err
	}
	page, err := s.docs.GetPage(ctx, rec.PageID)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	doc, err := s.docs.GetDocument(ctx, page.DocumentID)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	if err := s.checkCanView(ctx, doc); err != nil {
		return nil, nil, err
	}
	return rec, doc, nil
}

func (s *Service) checkCanView(ctx context.Context, doc *models.Document) error {
	actor := auth.IdentityFromContext(ctx)
	if doc.OwnerID == actor.UserID {
		return nil
	}
	grant, err := s.grants.GetGrant(ctx, doc.ID, actor.UserID)
	if err != nil {
		return fmt.Errorf("look up grant: %w", err)
	}
	if grant == nil {
		return fmt.Errorf("%w: no access to this document", ErrPermissionDenied)
	}
	return nil
}

func (s *Service) checkCanGenerate(ctx context.Context, doc *models.Document) error {
	actor := auth.IdentityFromContext(ctx)
	if doc.OwnerID == actor.UserID {
		return nil
	}
	grant, err := s.grants.GetGrant(ctx, doc.ID, actor.UserID)
	if err != nil {
		return fmt.Errorf("look up grant: %w", err)
	}
	if grant == nil {
		return fmt.Errorf("%w: no access to this document", ErrPermissionDenied)
	}
	if !grant.CanGenerateAudio() {
		return fmt.Errorf("%w: grant does not allow audio generation", ErrPermissionDenied)
	}
	return nil
}

// audit is the explicit interceptor every state-changing entry point calls
// before returning. A failed audit write is logged, never propagated: audit
// problems must not break the user-facing operation.
func (s *Service) audit(ctx context.Context, action models.AuditAction, audioID, documentID *uuid.UUID, opErr error) {
	actor := auth.IdentityFromContext(ctx)
	meta := auth.RequestMetaFromContext(ctx)

	entry := models.AuditEntry{
		ActorID:    actor.UserID,
		Action:     action,
		AudioID:    audioID,
		DocumentID: documentID,
		Outcome:    models.OutcomeSuccess,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	}
	if opErr != nil {
		entry.Outcome = models.OutcomeFailure
		msg := opErr.Error()
		entry.ErrorMessage = &msg
	}

	if err := s.auditor.Record(ctx, entry); err != nil {
		slog.Error("failed to record audit entry", "action", action, "error", err)
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, document.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
