package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// AlertRepository handles persistence of deduplicated operator alerts.
// Open alerts are unique per message; repeated identical failures are
// absorbed into the existing row.
type AlertRepository interface {
	// FirstOrCreate inserts the alert unless an unresolved alert with the
	// same message already exists. Returns true when a new row was created.
	FirstOrCreate(ctx context.Context, alert *domain.Alert) (bool, error)

	// ResolveBulk marks every unresolved alert matching the filter as
	// resolved and returns the number of rows affected.
	// Returns domain.ErrInvalidInput when the filter carries no criteria.
	ResolveBulk(ctx context.Context, filter AlertFilter) (int64, error)

	// List retrieves alerts matching the filter criteria, newest first.
	// Returns the matching alerts and total count for pagination.
	List(ctx context.Context, filter AlertFilter) ([]*domain.Alert, int64, error)
}

// AlertFilter specifies criteria for listing and bulk-resolving alerts.
type AlertFilter struct {
	// ClassName filters by error class (optional).
	ClassName string

	// SourceID filters by originating source (optional).
	SourceID *uuid.UUID

	// WorkID filters by affected work (optional).
	WorkID *uuid.UUID

	// Message filters by exact alert message (optional).
	Message string

	// Unresolved filters by resolution state (optional; nil means both).
	Unresolved *bool

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes pagination values.
func (f *AlertFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}

// Empty reports whether the filter carries no selection criteria.
func (f *AlertFilter) Empty() bool {
	return f.ClassName == "" && f.SourceID == nil && f.WorkID == nil &&
		f.Message == "" && f.Unresolved == nil
}
