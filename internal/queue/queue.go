// Package queue implements the durable harvest batch queue on PostgreSQL,
// with a Redis-backed worker-slot gate bounding per-source concurrency.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholarmetrics/harvester/internal/database"
	"github.com/scholarmetrics/harvester/internal/domain"
)

// Backoff schedule for failed batches.
const (
	shortRetryDelay = time.Minute
	midRetryDelay   = 5 * time.Minute
	longRetryDelay  = 10 * time.Minute
)

// RescheduleDelay returns the delay before a failed batch becomes claimable
// again. The schedule is bounded so a poisoned batch keeps retrying at a low
// steady rate instead of backing off forever.
func RescheduleDelay(attempts int) time.Duration {
	switch {
	case attempts <= 4:
		return shortRetryDelay
	case attempts <= 6:
		return midRetryDelay
	default:
		return longRetryDelay
	}
}

// Queue persists harvest batches and hands them to workers under a lease.
type Queue struct {
	db database.DBTX
}

// New creates a queue over the given database handle.
func New(db database.DBTX) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a batch, claimable once scheduled_at passes.
func (q *Queue) Enqueue(ctx context.Context, batch *domain.Batch) error {
	if batch == nil {
		return domain.NewValidationError("batch", "batch cannot be nil")
	}
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.ScheduledAt.IsZero() {
		batch.ScheduledAt = time.Now().UTC()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if len(batch.RetrievalStatusIDs) == 0 {
		return domain.NewValidationError("retrieval_status_ids", "batch carries no work")
	}

	query := `
		INSERT INTO harvest_batches (
			id, source_id, retrieval_status_ids, queue, attempts,
			scheduled_at, locked_by, lock_expires_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, '', NULL, $7
		)`

	_, err := q.db.Exec(ctx, query,
		batch.ID, batch.SourceID, batch.RetrievalStatusIDs, batch.Queue, batch.Attempts,
		batch.ScheduledAt, batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}

	return nil
}

// claimSQL atomically selects and locks a single due batch.
//
// FOR UPDATE SKIP LOCKED prevents contention: workers that lose the race
// move on immediately rather than blocking. An expired lease makes the
// batch claimable again, which is how crashed workers are recovered.
const claimSQL = `
WITH candidate AS (
    SELECT id FROM harvest_batches
    WHERE scheduled_at <= NOW()
      AND (lock_expires_at IS NULL OR lock_expires_at < NOW())
    ORDER BY scheduled_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE harvest_batches
SET
    locked_by       = $1,
    lock_expires_at = NOW() + ($2 * interval '1 second')
FROM candidate
WHERE harvest_batches.id = candidate.id
RETURNING
    harvest_batches.id, harvest_batches.source_id, harvest_batches.retrieval_status_ids,
    harvest_batches.queue, harvest_batches.attempts, harvest_batches.scheduled_at,
    harvest_batches.locked_by, harvest_batches.lock_expires_at, harvest_batches.created_at`

// Claim attempts to claim one due batch for workerID under the given lease.
// Returns nil, nil when no batch is available, the normal idle state.
func (q *Queue) Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Batch, error) {
	row := q.db.QueryRow(ctx, claimSQL, workerID, int64(lease/time.Second))

	batch := &domain.Batch{}
	err := row.Scan(
		&batch.ID, &batch.SourceID, &batch.RetrievalStatusIDs,
		&batch.Queue, &batch.Attempts, &batch.ScheduledAt,
		&batch.LockedBy, &batch.LockExpiresAt, &batch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	return batch, nil
}

// Complete removes a finished batch from the queue.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	result, err := q.db.Exec(ctx, `DELETE FROM harvest_batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("batch", id.String())
	}

	return nil
}

// Fail releases a batch after a failed attempt and reschedules it at the
// backoff delay for the new attempt count.
func (q *Queue) Fail(ctx context.Context, batch *domain.Batch) error {
	if batch == nil {
		return domain.NewValidationError("batch", "batch cannot be nil")
	}

	batch.Attempts++
	delay := RescheduleDelay(batch.Attempts)

	query := `
		UPDATE harvest_batches
		SET attempts = $1,
			scheduled_at = $2,
			locked_by = '',
			lock_expires_at = NULL
		WHERE id = $3`

	result, err := q.db.Exec(ctx, query,
		batch.Attempts, time.Now().UTC().Add(delay), batch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule batch: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("batch", batch.ID.String())
	}

	return nil
}

// Depth returns the number of batches currently queued.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var depth int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM harvest_batches`).Scan(&depth); err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return depth, nil
}
