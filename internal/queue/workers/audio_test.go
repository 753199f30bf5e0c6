package workers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagevoice/pagevoice/internal/audio"
	"github.com/pagevoice/pagevoice/internal/document"
	"github.com/pagevoice/pagevoice/internal/models"
	"github.com/pagevoice/pagevoice/internal/tts"
	"github.com/pagevoice/pagevoice/pkg/segmenter"
)

type fakeAudioStore struct {
	rec          *models.PageAudio
	generating   int
	completedKey string
	failedMsg    string
}

func (f *fakeAudioStore) GetAudio(_ context.Context, id uuid.UUID) (*models.PageAudio, error) {
	if f.rec == nil || f.rec.ID != id {
		return nil, audio.ErrNotFound
	}
	cp := *f.rec
	return &cp, nil
}

func (f *fakeAudioStore) MarkGenerating(context.Context, uuid.UUID) error {
	f.generating++
	f.rec.Status = models.GenGenerating
	return nil
}

func (f *fakeAudioStore) MarkCompleted(_ context.Context, _ uuid.UUID, key string) error {
	f.completedKey = key
	f.rec.Status = models.GenCompleted
	return nil
}

func (f *fakeAudioStore) MarkFailed(_ context.Context, _ uuid.UUID, msg string) error {
	f.failedMsg = msg
	f.rec.Status = models.GenFailed
	return nil
}

type fakeDocs struct {
	doc  *models.Document
	page *models.DocumentPage
}

func (f *fakeDocs) GetDocument(_ context.Context, id uuid.UUID) (*models.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, document.ErrNotFound
	}
	return f.doc, nil
}

func (f *fakeDocs) GetPage(_ context.Context, id uuid.UUID) (*models.DocumentPage, error) {
	if f.page == nil || f.page.ID != id {
		return nil, document.ErrNotFound
	}
	return f.page, nil
}

type fakeProvider struct {
	calls       int
	errs        []error // consumed per call; nil entry means success
	contentType string
}

func (f *fakeProvider) Synthesize(_ context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	ct := f.contentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	return &tts.SynthesisResult{Audio: []byte(req.Input), ContentType: ct}, nil
}

func (f *fakeProvider) Name() string     { return "fake" }
func (f *fakeProvider) Voices() []string { return []string{"alloy"} }

type fakeGateway struct {
	puts         map[string][]byte
	contentTypes map[string]string
}

func (f *fakeGateway) Put(_ context.Context, key string, data []byte, contentType string) error {
	if f.puts == nil {
		f.puts = make(map[string][]byte)
		f.contentTypes = make(map[string]string)
	}
	f.puts[key] = data
	f.contentTypes[key] = contentType
	return nil
}

func (f *fakeGateway) Delete(context.Context, string) error { return nil }

func (f *fakeGateway) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

type fakeAudit struct {
	entries []models.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, e models.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type workerFixture struct {
	worker   *AudioWorker
	store    *fakeAudioStore
	provider *fakeProvider
	gateway  *fakeGateway
	audit    *fakeAudit
	rec      *models.PageAudio
}

func newWorkerFixture(t *testing.T, pageText string) *workerFixture {
	t.Helper()

	docID := uuid.New()
	pageID := uuid.New()
	rec := &models.PageAudio{
		ID:          uuid.New(),
		PageID:      pageID,
		Voice:       "alloy",
		GeneratedBy: uuid.New(),
		Status:      models.GenPending,
		Lifetime:    models.LifetimeActive,
		CreatedAt:   time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}

	f := &workerFixture{
		store: &fakeAudioStore{rec: rec},
		provider: &fakeProvider{},
		gateway:  &fakeGateway{},
		audit:    &fakeAudit{},
		rec:      rec,
	}
	docs := &fakeDocs{
		doc:  &models.Document{ID: docID, OwnerID: rec.GeneratedBy},
		page: &models.DocumentPage{ID: pageID, DocumentID: docID, PageNumber: 7, Content: pageText},
	}
	f.worker = NewAudioWorker(f.store, docs, f.provider, f.gateway, f.audit,
		segmenter.New(40), time.Minute)
	return f
}

func TestRun_Success(t *testing.T) {
	f := newWorkerFixture(t, "First sentence here. Second sentence follows. And a third one closes.")

	err := f.worker.run(context.Background(), f.rec.ID, 0, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.generating)
	assert.Greater(t, f.provider.calls, 1, "long text should synthesize in chunks")
	require.NotEmpty(t, f.store.completedKey)
	assert.Contains(t, f.store.completedKey, "page_7")
	assert.Contains(t, f.store.completedKey, "voice_alloy")
	assert.True(t, strings.HasSuffix(f.store.completedKey, ".mp3"), f.store.completedKey)
	assert.Contains(t, f.gateway.puts, f.store.completedKey)
	assert.Equal(t, "audio/mpeg", f.gateway.contentTypes[f.store.completedKey])

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.OutcomeSuccess, f.audit.entries[0].Outcome)
	assert.Equal(t, f.rec.GeneratedBy, f.audit.entries[0].ActorID)
}

func TestRun_UploadsProviderContentType(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.provider.contentType = "audio/wav" // local piper backend

	err := f.worker.run(context.Background(), f.rec.ID, 0, 3)
	require.NoError(t, err)

	require.NotEmpty(t, f.store.completedKey)
	assert.True(t, strings.HasSuffix(f.store.completedKey, ".wav"), f.store.completedKey)
	assert.Equal(t, "audio/wav", f.gateway.contentTypes[f.store.completedKey])
}

func TestRun_TransientLeavesGeneratingForRetry(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.provider.errs = []error{&tts.Error{Kind: tts.Transient, Message: "throttled"}}

	err := f.worker.run(context.Background(), f.rec.ID, 0, 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	// The record must not take a Failed excursion while retries remain.
	assert.Equal(t, models.GenGenerating, f.rec.Status)
	assert.Empty(t, f.store.failedMsg)
	assert.Empty(t, f.audit.entries)
}

func TestRun_TransientExhaustedMarksFailed(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.provider.errs = []error{&tts.Error{Kind: tts.Transient, Message: "service unavailable"}}

	err := f.worker.run(context.Background(), f.rec.ID, 3, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, models.GenFailed, f.rec.Status)
	assert.Equal(t, "service unavailable", f.store.failedMsg)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.OutcomeFailure, f.audit.entries[0].Outcome)
}

func TestRun_PermanentFailsImmediately(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.provider.errs = []error{&tts.Error{Kind: tts.Permanent, Message: "voice not supported"}}

	err := f.worker.run(context.Background(), f.rec.ID, 0, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, models.GenFailed, f.rec.Status)
	assert.Equal(t, "voice not supported", f.store.failedMsg)
}

func TestRun_RetryDoesNotReenterGenerating(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.rec.Status = models.GenGenerating // left over from a transient attempt

	err := f.worker.run(context.Background(), f.rec.ID, 1, 3)
	require.NoError(t, err)
	assert.Zero(t, f.store.generating)
	assert.Equal(t, models.GenCompleted, f.rec.Status)
}

func TestRun_AlreadyCompletedIsNoop(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.rec.Status = models.GenCompleted

	require.NoError(t, f.worker.run(context.Background(), f.rec.ID, 0, 3))
	assert.Zero(t, f.provider.calls)
}

func TestRun_DeletedRecordDropsTask(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")
	f.rec.Lifetime = models.LifetimeDeleted

	err := f.worker.run(context.Background(), f.rec.ID, 0, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, f.provider.calls)
}

func TestRun_MissingRecordDropsTask(t *testing.T) {
	f := newWorkerFixture(t, "Short text.")

	err := f.worker.run(context.Background(), uuid.New(), 0, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
