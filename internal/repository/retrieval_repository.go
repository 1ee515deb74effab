package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// RetrievalRepository handles persistence of per-(work, source) retrieval
// state and the immutable retrieval history ledger.
type RetrievalRepository interface {
	// GetStatus retrieves a retrieval status by its ID.
	// Returns domain.ErrNotFound if no matching status exists.
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.RetrievalStatus, error)

	// GetStatusByPair retrieves the retrieval status for one (work, source)
	// pair. Returns domain.ErrNotFound if no matching status exists.
	GetStatusByPair(ctx context.Context, workID, sourceID uuid.UUID) (*domain.RetrievalStatus, error)

	// MarkQueued stamps queued_at on the given statuses. Already-queued rows
	// keep their original stamp.
	MarkQueued(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// ClearQueued clears queued_at on the given statuses.
	ClearQueued(ctx context.Context, ids []uuid.UUID) error

	// ApplyOutcome persists the fields a fetch outcome mutated: event_count,
	// retrieved_at, scheduled_at, stale_at, events_url and event_metrics.
	// Errored fetches must not call this; their state stays untouched.
	// Returns domain.ErrNotFound if no matching status exists.
	ApplyOutcome(ctx context.Context, status *domain.RetrievalStatus) error

	// CreateHistory appends one immutable history row. Only confident
	// outcomes produce history.
	CreateHistory(ctx context.Context, history *domain.RetrievalHistory) error

	// ListPending returns due statuses for a source: scheduled_at <= asOf and
	// not currently queued, oldest first, at most limit rows.
	ListPending(ctx context.Context, sourceID uuid.UUID, asOf time.Time, limit int) ([]*domain.RetrievalStatus, error)

	// CountByState returns per-state counts for a source, keyed by the
	// derived retrieval state.
	CountByState(ctx context.Context, sourceID uuid.UUID) (map[domain.RetrievalState]int64, error)
}
