// Package worker drives the harvest pipeline: a pool of claim loops pulls
// due batches from the durable queue and hands them to the executor, and a
// scheduler sweep turns due retrieval statuses into new batches.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/alerts"
	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/executor"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
)

// jobFailureAttempts is the attempt count at which a repeatedly failing
// batch raises an operator alert. The batch keeps retrying at the long
// backoff delay; deduplication keeps the alert from repeating.
const jobFailureAttempts = 7

// BatchRunner executes one claimed batch. Satisfied by *executor.SourceJob.
type BatchRunner interface {
	Run(ctx context.Context, batch *domain.Batch) ([]executor.ItemResult, error)
}

// Config holds claim loop settings.
type Config struct {
	// ID identifies this worker instance in batch locks.
	ID string

	// Concurrency is the number of parallel claim loops.
	Concurrency int

	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration

	// LeaseDuration is how long a claimed batch stays locked.
	LeaseDuration time.Duration
}

// Worker runs a pool of claim loops against the batch queue.
type Worker struct {
	cfg        Config
	queue      *queue.Queue
	runner     BatchRunner
	sourceRepo repository.SourceRepository
	alerts     *alerts.Deduplicator
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates a worker pool.
func New(cfg Config, q *queue.Queue, runner BatchRunner, sourceRepo repository.SourceRepository, alertSvc *alerts.Deduplicator, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		cfg:        cfg,
		queue:      q,
		runner:     runner,
		sourceRepo: sourceRepo,
		alerts:     alertSvc,
		metrics:    metrics,
		logger:     logger.With().Str("component", "worker").Str("worker_id", cfg.ID).Logger(),
	}
}

// Run starts the claim loops and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.claimLoop(ctx)
		}()
	}
	wg.Wait()
}

// claimLoop claims and processes batches until ctx is cancelled, sleeping
// through idle polls.
func (w *Worker) claimLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := w.queue.Claim(ctx, w.cfg.ID, w.cfg.LeaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("failed to claim batch")
			w.sleep(ctx)
			continue
		}
		if batch == nil {
			w.sleep(ctx)
			continue
		}

		w.process(ctx, batch)
	}
}

// process runs one claimed batch end to end: execute, then complete or
// reschedule. Backpressure is expected flow control and is never alerted.
func (w *Worker) process(ctx context.Context, batch *domain.Batch) {
	sourceName := w.sourceName(ctx, batch)
	logger := w.logger.With().
		Str("batch_id", batch.ID.String()).
		Str("source", sourceName).Logger()

	w.metrics.RecordBatchClaimed(sourceName)
	start := time.Now()

	// The run must not outlive the batch lock, or two workers could
	// execute the same batch once the lease expires.
	deadline := start.Add(w.cfg.LeaseDuration)
	if batch.LockExpiresAt != nil {
		deadline = *batch.LockExpiresAt
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	runCtx = observability.WithBatch(runCtx, batch.ID.String(), sourceName)
	results, err := w.runner.Run(runCtx, batch)

	if err == nil {
		if completeErr := w.queue.Complete(context.WithoutCancel(ctx), batch.ID); completeErr != nil {
			logger.Error().Err(completeErr).Msg("failed to complete batch")
			return
		}
		w.metrics.RecordBatchCompleted(sourceName, time.Since(start).Seconds())
		logger.Info().
			Int("items", len(results)).
			Dur("duration", time.Since(start)).
			Msg("batch completed")
		return
	}

	failCtx := context.WithoutCancel(ctx)
	if failErr := w.queue.Fail(failCtx, batch); failErr != nil {
		logger.Error().Err(failErr).Msg("failed to reschedule batch")
		return
	}
	w.metrics.RecordBatchRescheduled(sourceName)

	switch {
	case domain.Backpressure(err):
		logger.Debug().Err(err).Msg("batch rescheduled on backpressure")
	case ctx.Err() != nil:
		logger.Info().Msg("batch rescheduled on shutdown")
	default:
		logger.Warn().Err(err).Int("attempts", batch.Attempts).Msg("batch failed")
		if batch.Attempts >= jobFailureAttempts {
			_ = w.alerts.RecordJobFailure(failCtx, batch.Queue, err)
		}
	}
}

// sourceName resolves the batch's source name for metrics labels and logs.
func (w *Worker) sourceName(ctx context.Context, batch *domain.Batch) string {
	source, err := w.sourceRepo.Get(ctx, batch.SourceID)
	if err != nil {
		return "unknown"
	}
	return source.Name
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
