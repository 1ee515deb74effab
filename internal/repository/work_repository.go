package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// WorkRepository handles persistence of tracked works. Creating a work also
// creates the per-source retrieval fan-out so every installed source starts
// harvesting the new work on its next pending sweep.
type WorkRepository interface {
	// Create inserts a new work together with one retrieval status per given
	// source, all in a single transaction. The work must have an ID and a
	// derived PID; each new retrieval status starts at the epoch sentinel so
	// it is immediately due.
	// Returns domain.ErrAlreadyExists if an identifier column collides with
	// an existing work.
	Create(ctx context.Context, work *domain.Work, sources []*domain.Source) error

	// Get retrieves a work by its ID.
	// Returns domain.ErrNotFound if no matching work exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Work, error)

	// GetByPID retrieves a work by its persistent identifier.
	// Returns domain.ErrNotFound if no matching work exists.
	GetByPID(ctx context.Context, pid string) (*domain.Work, error)

	// UpdateIdentifiers persists the identifier columns of a work after a
	// backfill lookup filled in missing ones. The PID itself never changes.
	// Returns domain.ErrNotFound if no matching work exists.
	UpdateIdentifiers(ctx context.Context, work *domain.Work) error

	// List retrieves works matching the filter criteria.
	// Returns the matching works and total count for pagination.
	List(ctx context.Context, filter WorkFilter) ([]*domain.Work, int64, error)
}

// WorkFilter specifies criteria for listing works.
type WorkFilter struct {
	// PIDType filters by identifier scheme (optional).
	PIDType domain.IDType

	// CreatedAfter filters to works created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to works created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes pagination values.
func (f *WorkFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
