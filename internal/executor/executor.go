// Package executor runs harvest batches: for each retrieval status in a
// claimed batch it fetches the source, classifies the result into one of the
// four outcomes and applies the matching state transition. The asymmetry
// between skipped and errored items is the heart of the scheduler: a skipped
// item is stamped as retrieved so it waits out its staleness horizon, while
// an errored item stays untouched and immediately eligible again.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/alerts"
	"github.com/scholarmetrics/harvester/internal/docstore"
	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
	"github.com/scholarmetrics/harvester/internal/sources"
)

// ItemResult is the per-item outcome handed to the observability layer,
// e.g. to flag counts that decreased between fetches.
type ItemResult struct {
	RetrievalStatusID  uuid.UUID
	Outcome            domain.OutcomeKind
	EventCount         *int64
	PreviousCount      *int64
	RetrievalHistoryID uuid.UUID
	UpdateInterval     int
}

// SourceJobParams carries the collaborators of a SourceJob.
type SourceJobParams struct {
	Registry      *sources.Registry
	Client        *sources.HTTPClient
	SourceRepo    repository.SourceRepository
	WorkRepo      repository.WorkRepository
	RetrievalRepo repository.RetrievalRepository
	Docs          *docstore.Store
	Gate          *queue.SlotGate
	Alerts        *alerts.Deduplicator
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	// StaleAge is the staleness horizon stamped on every confident outcome
	// for sources that do not set their own.
	StaleAge time.Duration
}

// SourceJob executes one harvest batch against one source.
type SourceJob struct {
	registry      *sources.Registry
	client        *sources.HTTPClient
	sourceRepo    repository.SourceRepository
	workRepo      repository.WorkRepository
	retrievalRepo repository.RetrievalRepository
	docs          *docstore.Store
	gate          *queue.SlotGate
	alerts        *alerts.Deduplicator
	metrics       *observability.Metrics
	logger        zerolog.Logger
	staleAge      time.Duration

	now        func() time.Time
	sleepUntil func(ctx context.Context, deadline time.Time, now func() time.Time) error
}

// NewSourceJob creates a batch executor.
func NewSourceJob(p SourceJobParams) *SourceJob {
	return &SourceJob{
		registry:      p.Registry,
		client:        p.Client,
		sourceRepo:    p.SourceRepo,
		workRepo:      p.WorkRepo,
		retrievalRepo: p.RetrievalRepo,
		docs:          p.Docs,
		gate:          p.Gate,
		alerts:        p.Alerts,
		metrics:       p.Metrics,
		logger:        p.Logger.With().Str("component", "executor").Logger(),
		staleAge:      p.StaleAge,
		now:           time.Now,
		sleepUntil:    sleepUntil,
	}
}

// Run executes one batch. Backpressure conditions (source not working, no
// free worker slot) return domain.ErrSourceInactive or domain.ErrNoWorkers
// after stamping and clearing queued_at; the caller reschedules the batch
// without alerting. Item-level fetch failures never fail the batch.
func (j *SourceJob) Run(ctx context.Context, batch *domain.Batch) ([]ItemResult, error) {
	source, err := j.sourceRepo.Get(ctx, batch.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load source for batch %s: %w", batch.ID, err)
	}

	adapter, err := j.registry.Get(source.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve adapter for batch %s: %w", batch.ID, err)
	}

	logger := observability.WithSourceContext(j.logger, source.Name).With().
		Str("batch_id", batch.ID.String()).Logger()

	if err := j.retrievalRepo.MarkQueued(ctx, batch.RetrievalStatusIDs, j.now()); err != nil {
		return nil, fmt.Errorf("mark batch %s queued: %w", batch.ID, err)
	}
	defer j.finish(batch, source, logger)

	if !source.Working() {
		logger.Debug().Msg("source not working, rescheduling batch")
		return nil, domain.ErrSourceInactive
	}

	execID := batch.ID.String()
	if err := j.gate.Acquire(ctx, source, execID); err != nil {
		if domain.Backpressure(err) {
			logger.Debug().Msg("no worker slot available, rescheduling batch")
		}
		return nil, err
	}
	defer func() {
		if err := j.gate.Release(context.WithoutCancel(ctx), source.Name, execID); err != nil {
			logger.Error().Err(err).Msg("failed to release worker slot")
		}
	}()

	results := make([]ItemResult, 0, len(batch.RetrievalStatusIDs))
	for i, id := range batch.RetrievalStatusIDs {
		start := j.now()

		result := j.processItem(ctx, adapter, source, id, logger)
		results = append(results, result)

		// Floor-to-floor spacing: the gap between the starts of two
		// consecutive calls is never under job_interval, however long the
		// call itself took.
		if i < len(batch.RetrievalStatusIDs)-1 {
			if err := j.sleepUntil(ctx, start.Add(source.JobInterval), j.now); err != nil {
				return results, err
			}
		}
	}

	return results, nil
}

// processItem runs steps (a) through (d) for one retrieval status.
func (j *SourceJob) processItem(ctx context.Context, adapter sources.Adapter, source *domain.Source, id uuid.UUID, logger zerolog.Logger) ItemResult {
	item := ItemResult{RetrievalStatusID: id, Outcome: domain.OutcomeError}

	status, err := j.retrievalRepo.GetStatus(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("retrieval_status_id", id.String()).Msg("failed to load retrieval status")
		_ = j.alerts.Record(ctx, err, &source.ID, nil)
		return item
	}
	item.PreviousCount = status.EventCount
	item.UpdateInterval = UpdateInterval(status.RetrievedAt, j.now())

	work, err := j.workRepo.Get(ctx, status.WorkID)
	if err != nil {
		logger.Error().Err(err).Str("retrieval_status_id", id.String()).Msg("failed to load work")
		_ = j.alerts.Record(ctx, err, &source.ID, &status.WorkID)
		return item
	}

	itemLogger := observability.WithWorkContext(logger, work.PID)

	fetchStart := j.now()
	result, fetchErr := sources.Fetch(ctx, j.client, adapter, work)
	duration := j.now().Sub(fetchStart)

	outcome := domain.Classify(result, fetchErr)
	item.Outcome = outcome
	j.metrics.RecordFetch(source.Name, outcome.String(), duration.Seconds())

	if outcome == domain.OutcomeError {
		itemLogger.Warn().Err(fetchErr).Dur("duration", duration).Msg("fetch failed")
		_ = j.alerts.Record(ctx, fetchErr, &source.ID, &work.ID)
		return item
	}

	if err := j.applyOutcome(ctx, outcome, source, work, status, result, &item); err != nil {
		itemLogger.Error().Err(err).Msg("failed to apply outcome")
		_ = j.alerts.Record(ctx, err, &source.ID, &work.ID)
		item.Outcome = domain.OutcomeError
		return item
	}

	itemLogger.Info().
		Str("outcome", outcome.String()).
		Int("update_interval", item.UpdateInterval).
		Dur("duration", duration).
		Msg("item processed")
	return item
}

// applyOutcome applies the state-transition table for one confident outcome.
func (j *SourceJob) applyOutcome(ctx context.Context, outcome domain.OutcomeKind, source *domain.Source, work *domain.Work, status *domain.RetrievalStatus, result *domain.FetchResult, item *ItemResult) error {
	now := j.now().UTC()
	staleAge := source.StaleAge
	if staleAge <= 0 {
		staleAge = j.staleAge
	}
	status.RetrievedAt = now
	status.StaleAt = now.Add(staleAge)
	status.ScheduledAt = status.StaleAt

	switch outcome {
	case domain.OutcomeSkipped:
		// Stamped as retrieved so the pair waits out its staleness horizon,
		// but no history: the source never confirmed anything.
		status.EventCount = domain.Count(0)
	case domain.OutcomeSuccessNoData:
		status.EventCount = domain.Count(0)
	case domain.OutcomeSuccess:
		status.EventCount = result.EventCount
		status.EventsURL = result.EventsURL
		status.EventMetrics = result.EventMetrics
	}
	item.EventCount = status.EventCount

	if err := j.retrievalRepo.ApplyOutcome(ctx, status); err != nil {
		return err
	}

	if outcome == domain.OutcomeSkipped {
		return nil
	}

	history := &domain.RetrievalHistory{
		ID:                uuid.New(),
		RetrievalStatusID: status.ID,
		WorkID:            work.ID,
		SourceID:          source.ID,
		EventCount:        *status.EventCount,
		RetrievedAt:       now,
		CreatedAt:         now,
	}
	if err := j.retrievalRepo.CreateHistory(ctx, history); err != nil {
		return err
	}
	item.RetrievalHistoryID = history.ID

	if outcome != domain.OutcomeSuccess {
		return nil
	}

	j.metrics.RecordFetchEvents(source.Name, *status.EventCount)

	if _, err := j.docs.PutCurrent(ctx, source.Name, work, result, now); err != nil {
		return err
	}
	j.metrics.RecordDocumentWrite(docstore.DocTypeCurrent)

	if _, err := j.docs.PutHistory(ctx, history.ID, source.Name, work, result, now); err != nil {
		return err
	}
	j.metrics.RecordDocumentWrite(docstore.DocTypeHistory)

	return nil
}

// finish clears queued_at and demotes the source out of working when this
// execution was the last one in flight. Runs on every completion path.
func (j *SourceJob) finish(batch *domain.Batch, source *domain.Source, logger zerolog.Logger) {
	ctx := context.Background()

	if err := j.retrievalRepo.ClearQueued(ctx, batch.RetrievalStatusIDs); err != nil {
		logger.Error().Err(err).Msg("failed to clear queued statuses")
	}

	inflight, err := j.gate.Inflight(ctx, source.Name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read inflight count")
		return
	}
	if inflight == 0 && source.Working() {
		if err := j.sourceRepo.UpdateState(ctx, source.ID, domain.SourceWaiting); err != nil {
			logger.Error().Err(err).Msg("failed to demote source")
		}
	}
}

// UpdateInterval computes the whole-day span a fetch covers: 1 when the
// status was never retrieved (epoch sentinel) or already retrieved today,
// otherwise the day difference between today and the last retrieval.
func UpdateInterval(retrievedAt, now time.Time) int {
	if retrievedAt.Equal(domain.EpochSentinel) {
		return 1
	}

	today := dateOf(now)
	last := dateOf(retrievedAt)
	if last.Equal(today) {
		return 1
	}

	return int(today.Sub(last).Hours() / 24)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sleepUntil blocks until deadline or context cancellation.
func sleepUntil(ctx context.Context, deadline time.Time, now func() time.Time) error {
	wait := deadline.Sub(now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
