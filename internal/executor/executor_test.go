package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarmetrics/harvester/internal/alerts"
	"github.com/scholarmetrics/harvester/internal/docstore"
	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
	"github.com/scholarmetrics/harvester/internal/sources"
)

// stubAdapter serves a canned result for every work.
type stubAdapter struct {
	name   string
	url    string
	result *domain.FetchResult
	skip   bool
}

func (a *stubAdapter) Name() string       { return a.name }
func (a *stubAdapter) Spec() sources.Spec { return sources.DefaultSpec }

func (a *stubAdapter) BuildQuery(*domain.Work) string {
	if a.skip {
		return ""
	}
	return a.url
}

func (a *stubAdapter) ParseResponse([]byte, int, *domain.Work) (*domain.FetchResult, error) {
	return a.result, nil
}

type fakeSourceRepo struct {
	source *domain.Source
	states []domain.SourceState
}

func (f *fakeSourceRepo) Create(context.Context, *domain.Source) error { return nil }

func (f *fakeSourceRepo) Get(_ context.Context, id uuid.UUID) (*domain.Source, error) {
	if f.source == nil || f.source.ID != id {
		return nil, domain.NewNotFoundError("source", id.String())
	}
	return f.source, nil
}

func (f *fakeSourceRepo) GetByName(_ context.Context, name string) (*domain.Source, error) {
	if f.source == nil || f.source.Name != name {
		return nil, domain.NewNotFoundError("source", name)
	}
	return f.source, nil
}

func (f *fakeSourceRepo) List(context.Context) ([]*domain.Source, error) {
	return []*domain.Source{f.source}, nil
}

func (f *fakeSourceRepo) UpdateState(_ context.Context, _ uuid.UUID, state domain.SourceState) error {
	f.states = append(f.states, state)
	f.source.State = state
	return nil
}

func (f *fakeSourceRepo) CountByState(context.Context, domain.SourceState) (int64, error) {
	return 0, nil
}

type fakeWorkRepo struct {
	works map[uuid.UUID]*domain.Work
}

func (f *fakeWorkRepo) Create(context.Context, *domain.Work, []*domain.Source) error { return nil }

func (f *fakeWorkRepo) Get(_ context.Context, id uuid.UUID) (*domain.Work, error) {
	work, ok := f.works[id]
	if !ok {
		return nil, domain.NewNotFoundError("work", id.String())
	}
	return work, nil
}

func (f *fakeWorkRepo) GetByPID(_ context.Context, pid string) (*domain.Work, error) {
	return nil, domain.NewNotFoundError("work", pid)
}

func (f *fakeWorkRepo) UpdateIdentifiers(context.Context, *domain.Work) error { return nil }

func (f *fakeWorkRepo) List(context.Context, repository.WorkFilter) ([]*domain.Work, int64, error) {
	return nil, 0, nil
}

type fakeRetrievalRepo struct {
	statuses  map[uuid.UUID]*domain.RetrievalStatus
	queued    []uuid.UUID
	cleared   []uuid.UUID
	applied   []*domain.RetrievalStatus
	histories []*domain.RetrievalHistory
}

func (f *fakeRetrievalRepo) GetStatus(_ context.Context, id uuid.UUID) (*domain.RetrievalStatus, error) {
	status, ok := f.statuses[id]
	if !ok {
		return nil, domain.NewNotFoundError("retrieval status", id.String())
	}
	copied := *status
	return &copied, nil
}

func (f *fakeRetrievalRepo) GetStatusByPair(_ context.Context, workID, _ uuid.UUID) (*domain.RetrievalStatus, error) {
	return nil, domain.NewNotFoundError("retrieval status", workID.String())
}

func (f *fakeRetrievalRepo) MarkQueued(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	f.queued = append(f.queued, ids...)
	return nil
}

func (f *fakeRetrievalRepo) ClearQueued(_ context.Context, ids []uuid.UUID) error {
	f.cleared = append(f.cleared, ids...)
	return nil
}

func (f *fakeRetrievalRepo) ApplyOutcome(_ context.Context, status *domain.RetrievalStatus) error {
	copied := *status
	f.applied = append(f.applied, &copied)
	f.statuses[status.ID] = status
	return nil
}

func (f *fakeRetrievalRepo) CreateHistory(_ context.Context, history *domain.RetrievalHistory) error {
	f.histories = append(f.histories, history)
	return nil
}

func (f *fakeRetrievalRepo) ListPending(context.Context, uuid.UUID, time.Time, int) ([]*domain.RetrievalStatus, error) {
	return nil, nil
}

func (f *fakeRetrievalRepo) CountByState(context.Context, uuid.UUID) (map[domain.RetrievalState]int64, error) {
	return nil, nil
}

type fakeAlertRepo struct {
	alerts []*domain.Alert
}

func (f *fakeAlertRepo) FirstOrCreate(_ context.Context, alert *domain.Alert) (bool, error) {
	for _, existing := range f.alerts {
		if existing.Message == alert.Message {
			return false, nil
		}
	}
	f.alerts = append(f.alerts, alert)
	return true, nil
}

func (f *fakeAlertRepo) ResolveBulk(context.Context, repository.AlertFilter) (int64, error) {
	return 0, nil
}

func (f *fakeAlertRepo) List(context.Context, repository.AlertFilter) ([]*domain.Alert, int64, error) {
	return f.alerts, int64(len(f.alerts)), nil
}

type fixture struct {
	job       *SourceJob
	source    *domain.Source
	work      *domain.Work
	status    *domain.RetrievalStatus
	batch     *domain.Batch
	sources   *fakeSourceRepo
	retrieval *fakeRetrievalRepo
	alertRepo *fakeAlertRepo
	docs      *docstore.Store
	gate      *queue.SlotGate
}

func newFixture(t *testing.T, adapter sources.Adapter, state domain.SourceState) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &domain.Source{
		ID:      uuid.New(),
		Name:    adapter.Name(),
		State:   state,
		Workers: 2,
	}
	work := &domain.Work{
		ID:    uuid.New(),
		DOI:   strPtr("10.1371/journal.pone.0025110"),
		PID:   "10.1371/journal.pone.0025110",
		Title: "Test article",
	}
	work.PIDType = domain.IDTypeDOI
	status := &domain.RetrievalStatus{
		ID:          uuid.New(),
		WorkID:      work.ID,
		SourceID:    source.ID,
		RetrievedAt: domain.EpochSentinel,
	}

	sourceRepo := &fakeSourceRepo{source: source}
	workRepo := &fakeWorkRepo{works: map[uuid.UUID]*domain.Work{work.ID: work}}
	retrievalRepo := &fakeRetrievalRepo{statuses: map[uuid.UUID]*domain.RetrievalStatus{status.ID: status}}
	alertRepo := &fakeAlertRepo{}

	registry := sources.NewRegistry()
	registry.Register(adapter)

	metrics := observability.NewMetrics(fmt.Sprintf("executor_test_%s", uuid.NewString()[:8]))
	docs := docstore.New(client)
	gate := queue.NewSlotGate(client)

	job := NewSourceJob(SourceJobParams{
		Registry:      registry,
		Client: sources.NewHTTPClient(sources.HTTPClientConfig{
			RateLimit:  1000,
			BurstSize:  1000,
			RetryDelay: time.Millisecond,
		}),
		SourceRepo:    sourceRepo,
		WorkRepo:      workRepo,
		RetrievalRepo: retrievalRepo,
		Docs:          docs,
		Gate:          gate,
		Alerts:        alerts.NewDeduplicator(alertRepo, metrics, zerolog.Nop()),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
		StaleAge:      24 * time.Hour,
	})

	return &fixture{
		job:    job,
		source: source,
		work:   work,
		status: status,
		batch: &domain.Batch{
			ID:                 uuid.New(),
			SourceID:           source.ID,
			RetrievalStatusIDs: []uuid.UUID{status.ID},
			Queue:              "default",
		},
		sources:   sourceRepo,
		retrieval: retrievalRepo,
		alertRepo: alertRepo,
		docs:      docs,
		gate:      gate,
	}
}

func strPtr(s string) *string {
	return &s
}

func TestSourceJob_Run_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	adapter := &stubAdapter{
		name: "crossref",
		url:  srv.URL,
		result: &domain.FetchResult{
			EventCount:   domain.Count(25),
			Events:       map[string]interface{}{"year": 2012},
			EventsURL:    "http://dx.doi.org/10.1371/journal.pone.0025110",
			EventMetrics: map[string]int64{"citations": 25},
		},
	}
	f := newFixture(t, adapter, domain.SourceWorking)

	results, err := f.job.Run(context.Background(), f.batch)
	require.NoError(t, err)
	require.Len(t, results, 1)

	item := results[0]
	assert.Equal(t, domain.OutcomeSuccess, item.Outcome)
	require.NotNil(t, item.EventCount)
	assert.Equal(t, int64(25), *item.EventCount)
	assert.Nil(t, item.PreviousCount)
	assert.Equal(t, 1, item.UpdateInterval)
	assert.NotEqual(t, uuid.Nil, item.RetrievalHistoryID)

	// Status stamped with the count and its staleness horizon.
	require.Len(t, f.retrieval.applied, 1)
	applied := f.retrieval.applied[0]
	require.NotNil(t, applied.EventCount)
	assert.Equal(t, int64(25), *applied.EventCount)
	assert.True(t, applied.ScheduledAt.Equal(applied.StaleAt))
	assert.Equal(t, int64(25), applied.EventMetrics["citations"])

	// One history row with the same count.
	require.Len(t, f.retrieval.histories, 1)
	assert.Equal(t, int64(25), f.retrieval.histories[0].EventCount)

	// Two document writes: current and history.
	ctx := context.Background()
	current, err := f.docs.GetCurrent(ctx, "crossref", f.work.PID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), current.EventCount)
	history, err := f.docs.Get(ctx, docstore.HistoryKey(item.RetrievalHistoryID))
	require.NoError(t, err)
	assert.Equal(t, docstore.DocTypeHistory, history.DocType)

	// Bookkeeping: queued then cleared, slot released, source demoted.
	assert.Equal(t, []uuid.UUID{f.status.ID}, f.retrieval.queued)
	assert.Equal(t, []uuid.UUID{f.status.ID}, f.retrieval.cleared)
	inflight, err := f.gate.Inflight(ctx, "crossref")
	require.NoError(t, err)
	assert.Zero(t, inflight)
	assert.Equal(t, []domain.SourceState{domain.SourceWaiting}, f.sources.states)
	assert.Empty(t, f.alertRepo.alerts)
}

func TestSourceJob_Run_SuccessNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	adapter := &stubAdapter{
		name:   "europepmc",
		url:    srv.URL,
		result: &domain.FetchResult{EventCount: domain.Count(0)},
	}
	f := newFixture(t, adapter, domain.SourceWorking)

	results, err := f.job.Run(context.Background(), f.batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeSuccessNoData, results[0].Outcome)

	// History row written, but nothing in the document store.
	require.Len(t, f.retrieval.histories, 1)
	assert.Equal(t, int64(0), f.retrieval.histories[0].EventCount)
	_, err = f.docs.GetCurrent(context.Background(), "europepmc", f.work.PID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSourceJob_Run_Skipped(t *testing.T) {
	adapter := &stubAdapter{name: "github", skip: true}
	f := newFixture(t, adapter, domain.SourceWorking)

	results, err := f.job.Run(context.Background(), f.batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeSkipped, results[0].Outcome)

	// Stamped as retrieved with a zero count, but no history and no document.
	require.Len(t, f.retrieval.applied, 1)
	applied := f.retrieval.applied[0]
	require.NotNil(t, applied.EventCount)
	assert.Equal(t, int64(0), *applied.EventCount)
	assert.False(t, applied.RetrievedAt.Equal(domain.EpochSentinel))
	assert.Empty(t, f.retrieval.histories)
	_, err = f.docs.GetCurrent(context.Background(), "github", f.work.PID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSourceJob_Run_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := &stubAdapter{name: "scopus", url: srv.URL}
	f := newFixture(t, adapter, domain.SourceWorking)

	results, err := f.job.Run(context.Background(), f.batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeError, results[0].Outcome)

	// Errored items leave every piece of state untouched and raise an alert.
	assert.Empty(t, f.retrieval.applied)
	assert.Empty(t, f.retrieval.histories)
	assert.Equal(t, []uuid.UUID{f.status.ID}, f.retrieval.cleared)
	require.Len(t, f.alertRepo.alerts, 1)
	assert.Equal(t, alerts.ClassTransport, f.alertRepo.alerts[0].ClassName)
}

func TestSourceJob_Run_StaleAge(t *testing.T) {
	frozen := time.Date(2014, 6, 10, 15, 0, 0, 0, time.UTC)

	t.Run("source override wins", func(t *testing.T) {
		adapter := &stubAdapter{name: "github", skip: true}
		f := newFixture(t, adapter, domain.SourceWorking)
		f.source.StaleAge = 6 * time.Hour
		f.job.now = func() time.Time { return frozen }

		_, err := f.job.Run(context.Background(), f.batch)
		require.NoError(t, err)

		require.Len(t, f.retrieval.applied, 1)
		assert.True(t, f.retrieval.applied[0].StaleAt.Equal(frozen.Add(6*time.Hour)))
	})

	t.Run("unset falls back to the default", func(t *testing.T) {
		adapter := &stubAdapter{name: "github", skip: true}
		f := newFixture(t, adapter, domain.SourceWorking)
		f.job.now = func() time.Time { return frozen }

		_, err := f.job.Run(context.Background(), f.batch)
		require.NoError(t, err)

		require.Len(t, f.retrieval.applied, 1)
		assert.True(t, f.retrieval.applied[0].StaleAt.Equal(frozen.Add(24*time.Hour)))
	})
}

func TestSourceJob_Run_PacesItemsByJobInterval(t *testing.T) {
	adapter := &stubAdapter{name: "crossref", skip: true}
	f := newFixture(t, adapter, domain.SourceWorking)

	for i := 0; i < 2; i++ {
		status := &domain.RetrievalStatus{
			ID:          uuid.New(),
			WorkID:      f.work.ID,
			SourceID:    f.source.ID,
			RetrievedAt: domain.EpochSentinel,
		}
		f.retrieval.statuses[status.ID] = status
		f.batch.RetrievalStatusIDs = append(f.batch.RetrievalStatusIDs, status.ID)
	}

	f.source.JobInterval = 5 * time.Second
	frozen := time.Date(2014, 6, 10, 15, 0, 0, 0, time.UTC)
	f.job.now = func() time.Time { return frozen }

	var deadlines []time.Time
	f.job.sleepUntil = func(_ context.Context, deadline time.Time, _ func() time.Time) error {
		deadlines = append(deadlines, deadline)
		return nil
	}

	results, err := f.job.Run(context.Background(), f.batch)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// One pause between each consecutive pair and none after the last item,
	// each targeting the start of the previous call plus job_interval.
	require.Len(t, deadlines, 2)
	for _, deadline := range deadlines {
		assert.Equal(t, frozen.Add(5*time.Second), deadline)
	}
}

func TestSourceJob_Run_SourceNotWorking(t *testing.T) {
	adapter := &stubAdapter{name: "crossref", skip: true}
	f := newFixture(t, adapter, domain.SourceWaiting)

	_, err := f.job.Run(context.Background(), f.batch)
	assert.True(t, errors.Is(err, domain.ErrSourceInactive))

	// Backpressure: queued stamped and cleared, no alert, nothing processed.
	assert.Equal(t, []uuid.UUID{f.status.ID}, f.retrieval.queued)
	assert.Equal(t, []uuid.UUID{f.status.ID}, f.retrieval.cleared)
	assert.Empty(t, f.retrieval.applied)
	assert.Empty(t, f.alertRepo.alerts)
}

func TestSourceJob_Run_NoWorkers(t *testing.T) {
	adapter := &stubAdapter{name: "crossref", skip: true}
	f := newFixture(t, adapter, domain.SourceWorking)

	ctx := context.Background()
	require.NoError(t, f.gate.Acquire(ctx, f.source, "other-1"))
	require.NoError(t, f.gate.Acquire(ctx, f.source, "other-2"))

	_, err := f.job.Run(ctx, f.batch)
	assert.True(t, errors.Is(err, domain.ErrNoWorkers))
	assert.Empty(t, f.retrieval.applied)
	assert.Empty(t, f.alertRepo.alerts)
}

func TestUpdateInterval(t *testing.T) {
	now := time.Date(2014, 6, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		retrievedAt time.Time
		want        int
	}{
		{"epoch sentinel", domain.EpochSentinel, 1},
		{"retrieved earlier today", time.Date(2014, 6, 10, 2, 0, 0, 0, time.UTC), 1},
		{"retrieved yesterday", time.Date(2014, 6, 9, 23, 0, 0, 0, time.UTC), 1},
		{"retrieved three days ago", time.Date(2014, 6, 7, 12, 0, 0, 0, time.UTC), 3},
		{"retrieved a month ago", time.Date(2014, 5, 10, 0, 0, 0, 0, time.UTC), 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UpdateInterval(tt.retrievedAt, now))
		})
	}
}
