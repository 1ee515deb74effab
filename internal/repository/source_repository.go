package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// SourceRepository handles persistence of metrics sources and their
// lifecycle state.
type SourceRepository interface {
	// Create registers a new source.
	// Returns domain.ErrAlreadyExists if a source with the same name exists.
	Create(ctx context.Context, source *domain.Source) error

	// Get retrieves a source by its ID.
	// Returns domain.ErrNotFound if no matching source exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Source, error)

	// GetByName retrieves a source by its unique name.
	// Returns domain.ErrNotFound if no matching source exists.
	GetByName(ctx context.Context, name string) (*domain.Source, error)

	// List retrieves all registered sources ordered by name.
	List(ctx context.Context) ([]*domain.Source, error)

	// UpdateState moves a source to the given lifecycle state.
	// Returns domain.ErrNotFound if no matching source exists.
	UpdateState(ctx context.Context, id uuid.UUID, state domain.SourceState) error

	// CountByState returns the number of sources currently in the given state.
	CountByState(ctx context.Context, state domain.SourceState) (int64, error)
}
