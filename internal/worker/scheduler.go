package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/queue"
	"github.com/scholarmetrics/harvester/internal/repository"
)

// SchedulerConfig holds sweep settings.
type SchedulerConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration

	// BatchSize caps the retrieval statuses bundled into one batch.
	BatchSize int
}

// Scheduler periodically turns due retrieval statuses into harvest batches.
// Statuses are stamped queued_at as they are bundled, so overlapping sweeps
// never enqueue the same status twice.
type Scheduler struct {
	cfg           SchedulerConfig
	queue         *queue.Queue
	sourceRepo    repository.SourceRepository
	retrievalRepo repository.RetrievalRepository
	metrics       *observability.Metrics
	logger        zerolog.Logger

	now func() time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, q *queue.Queue, sourceRepo repository.SourceRepository, retrievalRepo repository.RetrievalRepository, metrics *observability.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		queue:         q,
		sourceRepo:    sourceRepo,
		retrievalRepo: retrievalRepo,
		metrics:       metrics,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		now:           time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if enqueued, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		} else if enqueued > 0 {
			s.logger.Info().Int("batches", enqueued).Msg("sweep enqueued batches")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep enqueues one batch per eligible source from its due retrieval
// statuses and returns how many batches were created. A source with pending
// work is promoted from waiting to working so its slot budget applies.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	srcs, err := s.sourceRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}

	enqueued := 0
	for _, src := range srcs {
		if src.State != domain.SourceWaiting && src.State != domain.SourceWorking {
			continue
		}

		n, err := s.sweepSource(ctx, src)
		if err != nil {
			s.logger.Error().Err(err).Str("source", src.Name).Msg("failed to sweep source")
			continue
		}
		enqueued += n
	}

	return enqueued, nil
}

func (s *Scheduler) sweepSource(ctx context.Context, src *domain.Source) (int, error) {
	now := s.now().UTC()

	pending, err := s.retrievalRepo.ListPending(ctx, src.ID, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(pending))
	for i, status := range pending {
		ids[i] = status.ID
	}

	batch := &domain.Batch{
		SourceID:           src.ID,
		RetrievalStatusIDs: ids,
		Queue:              src.Queue,
	}
	if err := s.queue.Enqueue(ctx, batch); err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}

	// Stamp before the next sweep can see these statuses again.
	if err := s.retrievalRepo.MarkQueued(ctx, ids, now); err != nil {
		return 0, fmt.Errorf("mark queued: %w", err)
	}

	if src.State == domain.SourceWaiting {
		if err := s.sourceRepo.UpdateState(ctx, src.ID, domain.SourceWorking); err != nil {
			return 0, fmt.Errorf("promote source: %w", err)
		}
	}

	s.logger.Debug().
		Str("source", src.Name).
		Str("batch_id", batch.ID.String()).
		Int("items", len(ids)).
		Msg("batch enqueued")
	return 1, nil
}
