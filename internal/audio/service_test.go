package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagevoice/pagevoice/internal/auth"
	"github.com/pagevoice/pagevoice/internal/document"
	"github.com/pagevoice/pagevoice/internal/models"
)

type fakeStore struct {
	audios      map[uuid.UUID]*models.PageAudio
	count       int
	voiceExists bool
	createErr   error
	created     []string
	touched     []uuid.UUID
	softDeleted []uuid.UUID
	failed      map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		audios: make(map[uuid.UUID]*models.PageAudio),
		failed: make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) CreateActive(_ context.Context, pageID, actorID uuid.UUID, voice string, _ int) (*models.PageAudio, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	rec := &models.PageAudio{
		ID:          uuid.New(),
		PageID:      pageID,
		Voice:       voice,
		GeneratedBy: actorID,
		Status:      models.GenPending,
		Lifetime:    models.LifetimeActive,
		CreatedAt:   time.Now(),
	}
	f.audios[rec.ID] = rec
	f.created = append(f.created, voice)
	return rec, nil
}

func (f *fakeStore) GetAudio(_ context.Context, id uuid.UUID) (*models.PageAudio, error) {
	rec, ok := f.audios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) CountByPage(context.Context, uuid.UUID) (int, error) { return f.count, nil }

func (f *fakeStore) ActiveVoiceExists(context.Context, uuid.UUID, string) (bool, error) {
	return f.voiceExists, nil
}

func (f *fakeStore) ListActiveByPage(_ context.Context, pageID uuid.UUID) ([]models.PageAudio, error) {
	var out []models.PageAudio
	for _, a := range f.audios {
		if a.PageID == pageID && a.Lifetime == models.LifetimeActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) TouchLastPlayed(_ context.Context, id uuid.UUID, at time.Time) error {
	f.touched = append(f.touched, id)
	if rec, ok := f.audios[id]; ok {
		t := at
		rec.LastPlayedAt = &t
	}
	return nil
}

func (f *fakeStore) SoftDelete(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.softDeleted = append(f.softDeleted, id)
	if rec, ok := f.audios[id]; ok {
		rec.Lifetime = models.LifetimeDeleted
	}
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, msg string) error {
	f.failed[id] = msg
	return nil
}

type fakeDocs struct {
	pages map[uuid.UUID]*models.DocumentPage
	docs  map[uuid.UUID]*models.Document
}

func (f *fakeDocs) GetDocument(_ context.Context, id uuid.UUID) (*models.Document, error) {
	if d, ok := f.docs[id]; ok {
		return d, nil
	}
	return nil, document.ErrNotFound
}

func (f *fakeDocs) GetPage(_ context.Context, id uuid.UUID) (*models.DocumentPage, error) {
	if p, ok := f.pages[id]; ok {
		return p, nil
	}
	return nil, document.ErrNotFound
}

type fakeGrants struct {
	grant *models.SharingGrant
}

func (f *fakeGrants) GetGrant(context.Context, uuid.UUID, uuid.UUID) (*models.SharingGrant, error) {
	return f.grant, nil
}

type fakeSettings struct {
	cfg models.SiteSettings
}

func (f *fakeSettings) Get(context.Context) (*models.SiteSettings, error) {
	cfg := f.cfg
	return &cfg, nil
}

type fakeQueue struct {
	enqueued []uuid.UUID
	err      error
}

func (f *fakeQueue) EnqueueAudioGenerate(id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

type fakeGateway struct {
	url  string
	puts map[string][]byte
}

func (f *fakeGateway) Put(_ context.Context, key string, data []byte, _ string) error {
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[key] = data
	return nil
}

func (f *fakeGateway) Delete(context.Context, string) error { return nil }

func (f *fakeGateway) SignedURL(context.Context, string, time.Duration) (string, error) {
	return f.url, nil
}

type fakeAudit struct {
	entries []models.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, e models.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type serviceFixture struct {
	svc      *Service
	store    *fakeStore
	docs     *fakeDocs
	grants   *fakeGrants
	settings *fakeSettings
	queue    *fakeQueue
	gateway  *fakeGateway
	audit    *fakeAudit

	owner  uuid.UUID
	docID  uuid.UUID
	pageID uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	owner := uuid.New()
	docID := uuid.New()
	pageID := uuid.New()

	docs := &fakeDocs{
		docs: map[uuid.UUID]*models.Document{
			docID: {ID: docID, OwnerID: owner, Title: "report"},
		},
		pages: map[uuid.UUID]*models.DocumentPage{
			pageID: {ID: pageID, DocumentID: docID, PageNumber: 3, Content: "Some page text."},
		},
	}

	f := &serviceFixture{
		store:  newFakeStore(),
		docs:   docs,
		grants: &fakeGrants{},
		settings: &fakeSettings{cfg: models.SiteSettings{
			GenerationEnabled: true,
			RetentionPeriod:   180 * 24 * time.Hour,
			WarningLeadTime:   30 * 24 * time.Hour,
			MaxAudiosPerPage:  3,
			AutoDeleteEnabled: true,
		}},
		queue:   &fakeQueue{},
		gateway: &fakeGateway{url: "https://cdn.example.com/signed"},
		audit:   &fakeAudit{},
		owner:   owner,
		docID:   docID,
		pageID:  pageID,
	}
	f.svc = NewService(f.store, f.docs, f.grants, f.settings, f.gateway, f.queue, f.audit,
		[]string{"alloy", "echo", "nova"})
	return f
}

func (f *serviceFixture) ctxAs(userID uuid.UUID) context.Context {
	ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: userID})
	return auth.WithRequestMeta(ctx, auth.RequestMeta{IPAddress: "10.0.0.1", UserAgent: "test"})
}

func TestRequestGeneration_Success(t *testing.T) {
	f := newServiceFixture(t)

	rec, err := f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "alloy")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.GenPending, rec.Status)
	assert.Equal(t, models.LifetimeActive, rec.Lifetime)
	assert.Equal(t, f.owner, rec.GeneratedBy)
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, rec.ID, f.queue.enqueued[0])

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, models.ActionGenerate, entry.Action)
	assert.Equal(t, models.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, f.owner, entry.ActorID)
	require.NotNil(t, entry.AudioID)
	assert.Equal(t, rec.ID, *entry.AudioID)
}

func TestRequestGeneration_Disabled(t *testing.T) {
	f := newServiceFixture(t)
	f.settings.cfg.GenerationEnabled = false

	_, err := f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "alloy")
	assert.ErrorIs(t, err, ErrGenerationDisabled)
	assert.Empty(t, f.queue.enqueued)
	assert.Empty(t, f.store.created)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.OutcomeFailure, f.audit.entries[0].Outcome)
}

func TestRequestGeneration_Validation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "robot-9000")
	assert.ErrorIs(t, err, ErrValidation)

	empty := uuid.New()
	f.docs.pages[empty] = &models.DocumentPage{ID: empty, DocumentID: f.docID, PageNumber: 4}
	_, err = f.svc.RequestGeneration(f.ctxAs(f.owner), empty, "alloy")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequestGeneration_PageNotFound(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.RequestGeneration(f.ctxAs(f.owner), uuid.New(), "alloy")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestGeneration_Permissions(t *testing.T) {
	f := newServiceFixture(t)
	stranger := uuid.New()

	// No grant at all.
	_, err := f.svc.RequestGeneration(f.ctxAs(stranger), f.pageID, "alloy")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// View-only grantees can listen but not generate.
	f.grants.grant = &models.SharingGrant{
		DocumentID: f.docID, SharedWith: stranger, Permission: models.PermViewOnly,
	}
	_, err = f.svc.RequestGeneration(f.ctxAs(stranger), f.pageID, "alloy")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Collaborators can.
	f.grants.grant.Permission = models.PermCollaborator
	_, err = f.svc.RequestGeneration(f.ctxAs(stranger), f.pageID, "alloy")
	assert.NoError(t, err)
}

func TestRequestGeneration_QuotaAndDuplicates(t *testing.T) {
	f := newServiceFixture(t)

	f.store.count = 3 // lifetime count includes deleted and expired records
	_, err := f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "alloy")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	f.store.count = 1
	f.store.voiceExists = true
	_, err = f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "alloy")
	assert.ErrorIs(t, err, ErrDuplicateVoice)
}

// lockingStore counts and inserts under one lock, the way the SQL store
// serializes creation on the page row lock.
type lockingStore struct {
	mu     sync.Mutex
	audios []*models.PageAudio
}

func (s *lockingStore) CreateActive(_ context.Context, pageID, actorID uuid.UUID, voice string, maxPerPage int) (*models.PageAudio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.audios {
		if a.PageID != pageID {
			continue
		}
		count++
		if a.Lifetime == models.LifetimeActive && a.Voice == voice {
			return nil, ErrDuplicateVoice
		}
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
		CreatedAt:   time.Now(),
	}
	s.audios = append(s.audios, rec)
	return rec, nil
}

func (s *lockingStore) GetAudio(context.Context, uuid.UUID) (*models.PageAudio, error) {
	return nil, ErrNotFound
}

func (s *lockingStore) CountByPage(_ context.Context, pageID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.audios {
		if a.PageID == pageID {
			count++
		}
	}
	return count, nil
}

func (s *lockingStore) ActiveVoiceExists(_ context.Context, pageID uuid.UUID, voice string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.audios {
		if a.PageID == pageID && a.Voice == voice && a.Lifetime == models.LifetimeActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *lockingStore) ListActiveByPage(context.Context, uuid.UUID) ([]models.PageAudio, error) {
	return nil, nil
}

func (s *lockingStore) TouchLastPlayed(context.Context, uuid.UUID, time.Time) error { return nil }
func (s *lockingStore) SoftDelete(context.Context, uuid.UUID, time.Time) error      { return nil }
func (s *lockingStore) MarkFailed(context.Context, uuid.UUID, string) error         { return nil }

type safeQueue struct {
	mu sync.Mutex
	n  int
}

func (q *safeQueue) EnqueueAudioGenerate(uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.n++
	return nil
}

type safeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *safeAudit) Record(_ context.Context, e models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func TestRequestGeneration_ConcurrentQuota(t *testing.T) {
	f := newServiceFixture(t)

	// One lifetime slot is already spent by a since-deleted record, so a max
	// of 3 leaves exactly two slots for the racing requests.
	store := &lockingStore{audios: []*models.PageAudio{{
		ID:       uuid.New(),
		PageID:   f.pageID,
		Voice:    "shimmer",
		Status:   models.GenFailed,
		Lifetime: models.LifetimeDeleted,
	}}}
	queue := &safeQueue{}
	auditor := &safeAudit{}
	voices := []string{"alloy", "ash", "ballad", "coral", "echo", "nova"}
	svc := NewService(store, f.docs, f.grants, f.settings, f.gateway, queue, auditor, voices)

	results := make(chan error, len(voices))
	var wg sync.WaitGroup
	for _, voice := range voices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, voice)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, overQuota := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrQuotaExceeded):
			overQuota++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, successes)
	assert.Equal(t, len(voices)-2, overQuota)
	assert.Equal(t, 2, queue.n)
}

func TestRequestGeneration_RaceLosesAtInsert(t *testing.T) {
	f := newServiceFixture(t)

	// Pre-checks pass but a concurrent request won the insert.
	f.store.createErr = ErrDuplicateVoice
	_, err := f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "alloy")
	assert.ErrorIs(t, err, ErrDuplicateVoice)
	assert.Empty(t, f.queue.enqueued)
}

func TestRequestGeneration_EnqueueFailureMarksFailed(t *testing.T) {
	f := newServiceFixture(t)
	f.queue.err = errors.New("redis down")

	_, err := f.svc.RequestGeneration(f.ctxAs(f.owner), f.pageID, "alloy")
	require.Error(t, err)
	require.Len(t, f.store.audios, 1)
	for id := range f.store.audios {
		assert.Contains(t, f.store.failed, id)
	}
}

func completedAudio(f *serviceFixture) *models.PageAudio {
	rec := &models.PageAudio{
		ID:          uuid.New(),
		PageID:      f.pageID,
		Voice:       "alloy",
		GeneratedBy: f.owner,
		StorageKey:  "audio/doc_x/page_3/voice_alloy_20260101_000000.mp3",
		Status:      models.GenCompleted,
		Lifetime:    models.LifetimeActive,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	f.store.audios[rec.ID] = rec
	return rec
}

func TestDownloadURL(t *testing.T) {
	f := newServiceFixture(t)
	rec := completedAudio(f)

	grant, err := f.svc.DownloadURL(f.ctxAs(f.owner), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/signed", grant.URL)
	assert.Equal(t, "alloy", grant.Voice)
	assert.Equal(t, 3600, grant.ExpiresIn)
	assert.Equal(t, []uuid.UUID{rec.ID}, f.store.touched)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.ActionDownload, f.audit.entries[0].Action)
}

func TestDownloadURL_NotReady(t *testing.T) {
	f := newServiceFixture(t)
	rec := completedAudio(f)
	rec.Status = models.GenGenerating

	_, err := f.svc.DownloadURL(f.ctxAs(f.owner), rec.ID)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.store.touched)
}

func TestPlay_TouchesAccessClock(t *testing.T) {
	f := newServiceFixture(t)
	rec := completedAudio(f)

	// Grantees with view-only access may play.
	viewer := uuid.New()
	f.grants.grant = &models.SharingGrant{
		DocumentID: f.docID, SharedWith: viewer, Permission: models.PermViewOnly,
	}
	require.NoError(t, f.svc.Play(f.ctxAs(viewer), rec.ID))
	assert.Equal(t, []uuid.UUID{rec.ID}, f.store.touched)
	require.NotNil(t, rec.LastPlayedAt)
}

func TestDelete_OwnerOnly(t *testing.T) {
	f := newServiceFixture(t)
	rec := completedAudio(f)

	collaborator := uuid.New()
	f.grants.grant = &models.SharingGrant{
		DocumentID: f.docID, SharedWith: collaborator, Permission: models.PermCollaborator,
	}
	err := f.svc.Delete(f.ctxAs(collaborator), rec.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.store.softDeleted)

	require.NoError(t, f.svc.Delete(f.ctxAs(f.owner), rec.ID))
	assert.Equal(t, []uuid.UUID{rec.ID}, f.store.softDeleted)
	assert.Equal(t, models.LifetimeDeleted, rec.Lifetime)
}

func TestListByPage(t *testing.T) {
	f := newServiceFixture(t)
	rec := completedAudio(f)
	f.store.count = 2 // one active above plus one deleted record

	list, err := f.svc.ListByPage(f.ctxAs(f.owner), f.pageID)
	require.NoError(t, err)

	require.Len(t, list.Audios, 1)
	assert.Equal(t, rec.ID, list.Audios[0].ID)
	assert.Equal(t, 2, list.Quota.Used)
	assert.Equal(t, 3, list.Quota.Max)
	assert.Equal(t, 1, list.Quota.Remaining)
	assert.Equal(t, []string{"alloy"}, list.VoicesUsed)
	assert.ElementsMatch(t, []string{"echo", "nova"}, list.VoicesAvailable)
	assert.True(t, list.IsOwner)
	assert.Greater(t, list.Audios[0].DaysUntilExpiry, 170)
}

func TestStatus_NotAudited(t *testing.T) {
	f := newServiceFixture(t)
	rec := completedAudio(f)

	st, err := f.svc.Status(f.ctxAs(f.owner), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenCompleted, st.Status)
	require.NotNil(t, st.URL)
	assert.Equal(t, "https://cdn.example.com/signed", *st.URL)
	assert.Empty(t, f.audit.entries)
	assert.Empty(t, f.store.touched, "status polling must not reset the expiry clock")
}
