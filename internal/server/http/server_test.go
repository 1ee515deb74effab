package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/scholarmetrics/harvester/internal/database"
	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/metadata"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
	"github.com/scholarmetrics/harvester/internal/sources"
	"github.com/scholarmetrics/harvester/internal/works"
)

type fakeHealth struct {
	healthy bool
}

func (f *fakeHealth) Health(context.Context) database.HealthStatus {
	if f.healthy {
		return database.HealthStatus{Status: "healthy"}
	}
	return database.HealthStatus{Status: "unhealthy", Error: "connection refused"}
}

type fakeWorkRepo struct {
	works map[uuid.UUID]*domain.Work
}

func newFakeWorkRepo() *fakeWorkRepo {
	return &fakeWorkRepo{works: make(map[uuid.UUID]*domain.Work)}
}

func (f *fakeWorkRepo) Create(_ context.Context, work *domain.Work, _ []*domain.Source) error {
	for _, existing := range f.works {
		if existing.PID == work.PID {
			return fmt.Errorf("work %s: %w", work.PID, domain.ErrAlreadyExists)
		}
	}
	work.CreatedAt = time.Now().UTC()
	f.works[work.ID] = work
	return nil
}

func (f *fakeWorkRepo) Get(_ context.Context, id uuid.UUID) (*domain.Work, error) {
	work, ok := f.works[id]
	if !ok {
		return nil, domain.NewNotFoundError("work", id.String())
	}
	return work, nil
}

func (f *fakeWorkRepo) GetByPID(_ context.Context, pid string) (*domain.Work, error) {
	for _, work := range f.works {
		if work.PID == pid {
			return work, nil
		}
	}
	return nil, domain.NewNotFoundError("work", pid)
}

func (f *fakeWorkRepo) UpdateIdentifiers(context.Context, *domain.Work) error { return nil }

func (f *fakeWorkRepo) List(_ context.Context, filter repository.WorkFilter) ([]*domain.Work, int64, error) {
	var matched []*domain.Work
	for _, work := range f.works {
		if filter.PIDType != "" && work.PIDType != filter.PIDType {
			continue
		}
		matched = append(matched, work)
	}
	return matched, int64(len(matched)), nil
}

type fakeSourceRepo struct {
	sources []*domain.Source
}

func (f *fakeSourceRepo) Create(context.Context, *domain.Source) error { return nil }

func (f *fakeSourceRepo) Get(_ context.Context, id uuid.UUID) (*domain.Source, error) {
	for _, src := range f.sources {
		if src.ID == id {
			return src, nil
		}
	}
	return nil, domain.NewNotFoundError("source", id.String())
}

func (f *fakeSourceRepo) GetByName(_ context.Context, name string) (*domain.Source, error) {
	for _, src := range f.sources {
		if src.Name == name {
			return src, nil
		}
	}
	return nil, domain.NewNotFoundError("source", name)
}

func (f *fakeSourceRepo) List(context.Context) ([]*domain.Source, error) {
	return f.sources, nil
}

func (f *fakeSourceRepo) UpdateState(context.Context, uuid.UUID, domain.SourceState) error {
	return nil
}

func (f *fakeSourceRepo) CountByState(context.Context, domain.SourceState) (int64, error) {
	return 0, nil
}

type pairKey struct {
	workID   uuid.UUID
	sourceID uuid.UUID
}

type fakeRetrievalRepo struct {
	statuses map[pairKey]*domain.RetrievalStatus
	counts   map[uuid.UUID]map[domain.RetrievalState]int64
}

func newFakeRetrievalRepo() *fakeRetrievalRepo {
	return &fakeRetrievalRepo{
		statuses: make(map[pairKey]*domain.RetrievalStatus),
		counts:   make(map[uuid.UUID]map[domain.RetrievalState]int64),
	}
}

func (f *fakeRetrievalRepo) GetStatus(_ context.Context, id uuid.UUID) (*domain.RetrievalStatus, error) {
	for _, status := range f.statuses {
		if status.ID == id {
			return status, nil
		}
	}
	return nil, domain.NewNotFoundError("retrieval status", id.String())
}

func (f *fakeRetrievalRepo) GetStatusByPair(_ context.Context, workID, sourceID uuid.UUID) (*domain.RetrievalStatus, error) {
	status, ok := f.statuses[pairKey{workID, sourceID}]
	if !ok {
		return nil, domain.NewNotFoundError("retrieval status", workID.String())
	}
	return status, nil
}

func (f *fakeRetrievalRepo) MarkQueued(context.Context, []uuid.UUID, time.Time) error { return nil }
func (f *fakeRetrievalRepo) ClearQueued(context.Context, []uuid.UUID) error           { return nil }
func (f *fakeRetrievalRepo) ApplyOutcome(context.Context, *domain.RetrievalStatus) error {
	return nil
}
func (f *fakeRetrievalRepo) CreateHistory(context.Context, *domain.RetrievalHistory) error {
	return nil
}

func (f *fakeRetrievalRepo) ListPending(context.Context, uuid.UUID, time.Time, int) ([]*domain.RetrievalStatus, error) {
	return nil, nil
}

func (f *fakeRetrievalRepo) CountByState(_ context.Context, sourceID uuid.UUID) (map[domain.RetrievalState]int64, error) {
	return f.counts[sourceID], nil
}

type fakeAlertRepo struct {
	alerts   []*domain.Alert
	resolved int64
}

func (f *fakeAlertRepo) FirstOrCreate(_ context.Context, alert *domain.Alert) (bool, error) {
	f.alerts = append(f.alerts, alert)
	return true, nil
}

func (f *fakeAlertRepo) ResolveBulk(_ context.Context, filter repository.AlertFilter) (int64, error) {
	if filter.Empty() {
		return 0, domain.NewValidationError("filter", "at least one criterion is required")
	}
	return f.resolved, nil
}

func (f *fakeAlertRepo) List(_ context.Context, filter repository.AlertFilter) ([]*domain.Alert, int64, error) {
	var matched []*domain.Alert
	for _, a := range f.alerts {
		if filter.ClassName != "" && a.ClassName != filter.ClassName {
			continue
		}
		if filter.SourceID != nil && (a.SourceID == nil || *a.SourceID != *filter.SourceID) {
			continue
		}
		matched = append(matched, a)
	}
	return matched, int64(len(matched)), nil
}

type testServer struct {
	server    *Server
	health    *fakeHealth
	workRepo  *fakeWorkRepo
	sources   *fakeSourceRepo
	retrieval *fakeRetrievalRepo
	alertRepo *fakeAlertRepo
	gate      *queue.SlotGate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	health := &fakeHealth{healthy: true}
	workRepo := newFakeWorkRepo()
	sourceRepo := &fakeSourceRepo{sources: []*domain.Source{
		{ID: uuid.New(), Name: "crossref", DisplayName: "CrossRef", State: domain.SourceWaiting, Workers: 1, JobInterval: time.Second, Timeout: 30 * time.Second, Queue: "default"},
		{ID: uuid.New(), Name: "europepmc", DisplayName: "Europe PMC", State: domain.SourceWorking, Workers: 2, JobInterval: time.Second, Timeout: 30 * time.Second, Queue: "default"},
	}}
	retrievalRepo := newFakeRetrievalRepo()
	alertRepo := &fakeAlertRepo{}
	gate := queue.NewSlotGate(client)

	metrics := observability.NewMetrics(fmt.Sprintf("httpserver_test_%s", uuid.NewString()[:8]))
	meta := metadata.NewService(metadata.Config{}, sources.NewHTTPClient(sources.HTTPClientConfig{}))
	workSvc := works.NewService(workRepo, sourceRepo, meta, metrics, zerolog.Nop())
	alertSvc := alerts.NewDeduplicator(alertRepo, metrics, zerolog.Nop())

	server := NewServer(Config{Address: "127.0.0.1:0", MetricsPath: "/metrics"},
		workSvc, workRepo, sourceRepo, retrievalRepo, alertRepo, alertSvc, gate, health, zerolog.Nop())

	return &testServer{
		server:    server,
		health:    health,
		workRepo:  workRepo,
		sources:   sourceRepo,
		retrieval: retrievalRepo,
		alertRepo: alertRepo,
		gate:      gate,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("healthy", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy database", func(t *testing.T) {
		ts.health.healthy = false
		defer func() { ts.health.healthy = true }()

		rec := ts.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = ts.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateWork(t *testing.T) {
	t.Run("creates work from DOI", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/api/v1/works", map[string]string{
			"id":    "doi/10.1371/journal.pone.0036790",
			"title": "Test article",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp workResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "10.1371/JOURNAL.PONE.0036790", resp.DOI)
		assert.Equal(t, "doi", resp.PIDType)
		assert.Equal(t, resp.DOI, resp.PID)
	})

	t.Run("missing id", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/api/v1/works", map[string]string{"title": "no id"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		ts := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/works", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		ts.server.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate identifier conflicts", func(t *testing.T) {
		ts := newTestServer(t)
		body := map[string]string{"id": "doi/10.1371/journal.pone.0036790"}

		rec := ts.do(t, http.MethodPost, "/api/v1/works", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/v1/works", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestGetWork(t *testing.T) {
	ts := newTestServer(t)

	doi := "10.1371/JOURNAL.PONE.0036790"
	work := &domain.Work{ID: uuid.New(), DOI: &doi}
	require.True(t, work.SetPID())
	ts.workRepo.works[work.ID] = work

	t.Run("found", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/works/"+work.ID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp workResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, work.ID.String(), resp.ID)
	})

	t.Run("not found", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/works/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid uuid", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/works/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetWorkStatus(t *testing.T) {
	ts := newTestServer(t)

	doi := "10.1371/JOURNAL.PONE.0036790"
	work := &domain.Work{ID: uuid.New(), DOI: &doi}
	require.True(t, work.SetPID())
	ts.workRepo.works[work.ID] = work

	// One source has a status for the work, the other does not.
	crossref := ts.sources.sources[0]
	count := int64(12)
	ts.retrieval.statuses[pairKey{work.ID, crossref.ID}] = &domain.RetrievalStatus{
		ID:         uuid.New(),
		WorkID:     work.ID,
		SourceID:   crossref.ID,
		EventCount: &count,
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/works/"+work.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp workStatusResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, work.PID, resp.PID)
	require.Len(t, resp.Statuses, 1)
	assert.Equal(t, "crossref", resp.Statuses[0].Source)
	assert.Equal(t, string(domain.RetrievalKnownPositive), resp.Statuses[0].State)
}

func TestListWorks(t *testing.T) {
	ts := newTestServer(t)

	doi := "10.1371/JOURNAL.PONE.0036790"
	pmid := "17183631"
	withDOI := &domain.Work{ID: uuid.New(), DOI: &doi}
	require.True(t, withDOI.SetPID())
	withPMID := &domain.Work{ID: uuid.New(), PMID: &pmid}
	require.True(t, withPMID.SetPID())
	ts.workRepo.works[withDOI.ID] = withDOI
	ts.workRepo.works[withPMID.ID] = withPMID

	rec := ts.do(t, http.MethodGet, "/api/v1/works?pid_type=doi", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listWorksResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Works, 1)
	assert.Equal(t, "doi", resp.Works[0].PIDType)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestListSources(t *testing.T) {
	ts := newTestServer(t)

	crossref := ts.sources.sources[0]
	ts.retrieval.counts[crossref.ID] = map[domain.RetrievalState]int64{
		domain.RetrievalPending:       5,
		domain.RetrievalKnownZero:     3,
		domain.RetrievalKnownPositive: 2,
	}
	require.NoError(t, ts.gate.Acquire(context.Background(), crossref, "exec-1"))

	rec := ts.do(t, http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listSourcesResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "crossref", resp.Sources[0].Name)
	assert.Equal(t, int64(1), resp.Sources[0].Inflight)
	assert.Equal(t, int64(5), resp.Sources[0].Counts.Pending)
	assert.Equal(t, int64(2), resp.Sources[0].Counts.KnownPositive)
	assert.Equal(t, int64(0), resp.Sources[1].Inflight)
}

func TestGetSource(t *testing.T) {
	ts := newTestServer(t)

	t.Run("found", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/sources/europepmc", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sourceResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "europepmc", resp.Name)
		assert.Equal(t, string(domain.SourceWorking), resp.State)
		assert.Equal(t, 2, resp.Workers)
	})

	t.Run("unknown source", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/sources/unknown", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListAlerts(t *testing.T) {
	ts := newTestServer(t)

	crossref := ts.sources.sources[0]
	ts.alertRepo.alerts = []*domain.Alert{
		{ID: uuid.New(), ClassName: alerts.ClassTransport, Message: "fetch failed", SourceID: &crossref.ID, Unresolved: true},
		{ID: uuid.New(), ClassName: alerts.ClassRateLimited, Message: "slow down", Unresolved: true},
	}

	t.Run("filter by class name", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/alerts?class_name="+alerts.ClassRateLimited, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp listAlertsResponse
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Alerts, 1)
		assert.Equal(t, "slow down", resp.Alerts[0].Message)
	})

	t.Run("filter by source name", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/alerts?source=crossref", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp listAlertsResponse
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Alerts, 1)
		assert.Equal(t, alerts.ClassTransport, resp.Alerts[0].ClassName)
	})

	t.Run("unknown source filter", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/alerts?source=unknown", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestResolveAlerts(t *testing.T) {
	t.Run("resolves by class name", func(t *testing.T) {
		ts := newTestServer(t)
		ts.alertRepo.resolved = 7

		rec := ts.do(t, http.MethodPost, "/api/v1/alerts/resolve", map[string]string{
			"class_name": alerts.ClassTransport,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp resolveAlertsResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, int64(7), resp.Resolved)
	})

	t.Run("empty filter rejected", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/api/v1/alerts/resolve", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("resolves by source name", func(t *testing.T) {
		ts := newTestServer(t)
		ts.alertRepo.resolved = 2

		rec := ts.do(t, http.MethodPost, "/api/v1/alerts/resolve", map[string]string{
			"source": "crossref",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp resolveAlertsResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, int64(2), resp.Resolved)
	})
}
