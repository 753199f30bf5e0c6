package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/pagevoice/pagevoice/internal/audio"
	"github.com/pagevoice/pagevoice/internal/audit"
	"github.com/pagevoice/pagevoice/internal/document"
	"github.com/pagevoice/pagevoice/internal/models"
	"github.com/pagevoice/pagevoice/internal/queue"
	"github.com/pagevoice/pagevoice/internal/storage"
	"github.com/pagevoice/pagevoice/internal/tts"
	"github.com/pagevoice/pagevoice/pkg/audiomerge"
	"github.com/pagevoice/pagevoice/pkg/segmenter"
)

// AudioStore is the slice of the audio store the worker drives.
type AudioStore interface {
	GetAudio(ctx context.Context, id uuid.UUID) (*models.PageAudio, error)
	MarkGenerating(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, storageKey string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
}

// Documents reads the page text and owning document for a record.
type Documents interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetPage(ctx context.Context, id uuid.UUID) (*models.DocumentPage, error)
}

// AudioWorker runs the synthesis pipeline for one record per task:
// segment the page text, synthesize each chunk, merge, upload, complete.
//
// Failure policy: a transient failure with retries left returns the error to
// asynq and leaves the record in Generating, so pollers never see a Failed
// record that will recover on its own. Permanent failures and exhausted
// retries mark the record Failed and stop the task.
type AudioWorker struct {
	store        AudioStore
	docs         Documents
	provider     tts.Provider
	gateway      storage.Gateway
	auditor      audit.Recorder
	seg          *segmenter.Segmenter
	chunkTimeout time.Duration
}

func NewAudioWorker(store AudioStore, docs Documents, provider tts.Provider,
	gateway storage.Gateway, auditor audit.Recorder, seg *segmenter.Segmenter,
	chunkTimeout time.Duration) *AudioWorker {
	if chunkTimeout <= 0 {
		chunkTimeout = 2 * time.Minute
	}
	return &AudioWorker{
		store:        store,
		docs:         docs,
		provider:     provider,
		gateway:      gateway,
		auditor:      auditor,
		seg:          seg,
		chunkTimeout: chunkTimeout,
	}
}

func (w *AudioWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.AudioGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	audioID, err := uuid.Parse(payload.AudioID)
	if err != nil {
		return fmt.Errorf("parse audio ID %q: %v: %w", payload.AudioID, err, asynq.SkipRetry)
	}

	attempt, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return w.run(ctx, audioID, attempt, maxRetry)
}

func (w *AudioWorker) run(ctx context.Context, audioID uuid.UUID, attempt, maxRetry int) error {
	rec, err := w.store.GetAudio(ctx, audioID)
	if err != nil {
		if errors.Is(err, audio.ErrNotFound) {
			slog.Warn("audio record gone, dropping task", "audio_id", audioID)
			return fmt.Errorf("audio %s not found: %w", audioID, asynq.SkipRetry)
		}
		return fmt.Errorf("load audio %s: %w", audioID, err)
	}

	// Redelivery after a crash, or a duplicate enqueue.
	if rec.Status == models.GenCompleted {
		slog.Info("audio already completed, skipping", "audio_id", audioID)
		return nil
	}
	// Deleted or expired while the task sat in the queue.
	if rec.Lifetime != models.LifetimeActive {
		slog.Info("audio no longer active, dropping task", "audio_id", audioID, "lifetime", rec.Lifetime)
		return fmt.Errorf("audio %s is %s: %w", audioID, rec.Lifetime, asynq.SkipRetry)
	}

	// A retried attempt finds the record still in Generating.
	if rec.Status != models.GenGenerating {
		if err := w.store.MarkGenerating(ctx, audioID); err != nil {
			return fmt.Errorf("mark generating: %w", err)
		}
	}

	page, err := w.docs.GetPage(ctx, rec.PageID)
	if err != nil {
		return w.fail(ctx, rec, attempt, maxRetry, fmt.Errorf("load page %s: %w", rec.PageID, err))
	}
	doc, err := w.docs.GetDocument(ctx, page.DocumentID)
	if err != nil {
		return w.fail(ctx, rec, attempt, maxRetry, fmt.Errorf("load document %s: %w", page.DocumentID, err))
	}

	chunks := w.seg.Split(page.Content)
	slog.Info("synthesizing audio", "audio_id", audioID, "voice", rec.Voice,
		"chunks", len(chunks), "attempt", attempt, "provider", w.provider.Name())

	parts := make([][]byte, 0, len(chunks))
	contentType := ""
	for i, chunk := range chunks {
		result, err := w.synthesizeChunk(ctx, chunk, rec.Voice)
		if err != nil {
			return w.fail(ctx, rec, attempt, maxRetry, fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err))
		}
		if contentType == "" {
			contentType = result.ContentType
		}
		parts = append(parts, result.Audio)
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	merged, err := audiomerge.Merge(parts)
	if err != nil {
		return w.fail(ctx, rec, attempt, maxRetry, fmt.Errorf("merge %d chunks: %w", len(parts), err))
	}

	// The key is derived from the record, so a retried attempt overwrites any
	// partial object from a previous one. Key extension and upload content
	// type both follow what the provider declared for its output.
	key := storage.AudioKey(doc.ID.String(), page.PageNumber, rec.Voice, rec.CreatedAt, contentType)
	if err := w.gateway.Put(ctx, key, merged, contentType); err != nil {
		return w.fail(ctx, rec, attempt, maxRetry, fmt.Errorf("upload audio: %w", err))
	}

	if err := w.store.MarkCompleted(ctx, audioID, key); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	w.recordOutcome(ctx, rec, doc.ID, nil)
	slog.Info("audio generation completed", "audio_id", audioID, "key", key, "bytes", len(merged))
	return nil
}

// synthesizeChunk runs one provider call under the soft per-chunk deadline.
func (w *AudioWorker) synthesizeChunk(ctx context.Context, text, voice string) (*tts.SynthesisResult, error) {
	cctx, cancel := context.WithTimeout(ctx, w.chunkTimeout)
	defer cancel()
	return w.provider.Synthesize(cctx, tts.SynthesisRequest{Input: text, Voice: voice})
}

// fail applies the retry policy to a pipeline error. A missing page or
// document cannot recover, so it is terminal regardless of classification.
func (w *AudioWorker) fail(ctx context.Context, rec *models.PageAudio, attempt, maxRetry int, err error) error {
	if tts.IsTransient(err) && !errors.Is(err, document.ErrNotFound) && attempt < maxRetry {
		slog.Warn("transient failure, leaving for retry",
			"audio_id", rec.ID, "attempt", attempt, "max_retry", maxRetry, "error", err)
		return err
	}

	msg := tts.SafeMessage(err)
	if markErr := w.store.MarkFailed(ctx, rec.ID, msg); markErr != nil {
		slog.Error("failed to mark audio as failed", "audio_id", rec.ID, "error", markErr)
	}
	w.recordOutcome(ctx, rec, uuid.Nil, err)
	slog.Error("audio generation failed terminally",
		"audio_id", rec.ID, "attempt", attempt, "error", err)
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// recordOutcome appends the pipeline result to the audit trail, attributed to
// the user who requested the generation.
func (w *AudioWorker) recordOutcome(ctx context.Context, rec *models.PageAudio, docID uuid.UUID, opErr error) {
	entry := models.AuditEntry{
		ActorID: rec.GeneratedBy,
		Action:  models.ActionGenerate,
		AudioID: &rec.ID,
		Outcome: models.OutcomeSuccess,
	}
	if docID != uuid.Nil {
		id := docID
		entry.DocumentID = &id
	}
	if opErr != nil {
		entry.Outcome = models.OutcomeFailure
		msg := tts.SafeMessage(opErr)
		entry.ErrorMessage = &msg
	}
	if err := w.auditor.Record(ctx, entry); err != nil {
		slog.Error("failed to record audit entry", "audio_id", rec.ID, "error", err)
	}
}
