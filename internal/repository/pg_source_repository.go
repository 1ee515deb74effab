package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Compile-time interface verification.
var _ SourceRepository = (*PgSourceRepository)(nil)

// PgSourceRepository is a PostgreSQL implementation of SourceRepository.
type PgSourceRepository struct {
	db DBTX
}

// NewPgSourceRepository creates a new PostgreSQL source repository.
func NewPgSourceRepository(db DBTX) *PgSourceRepository {
	return &PgSourceRepository{db: db}
}

const sourceColumns = `id, name, display_name, state, workers,
		job_interval_seconds, timeout_seconds, stale_age_seconds,
		max_failed_queries, queue, created_at, updated_at`

// Create registers a new source.
func (r *PgSourceRepository) Create(ctx context.Context, source *domain.Source) error {
	if source == nil {
		return domain.NewValidationError("source", "source cannot be nil")
	}
	if source.ID == uuid.Nil {
		return domain.NewValidationError("id", "source ID is required")
	}
	if source.Name == "" {
		return domain.NewValidationError("name", "source name is required")
	}

	query := `
		INSERT INTO sources (
			id, name, display_name, state, workers,
			job_interval_seconds, timeout_seconds, stale_age_seconds,
			max_failed_queries, queue, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		)`

	_, err := r.db.Exec(ctx, query,
		source.ID, source.Name, source.DisplayName, source.State, source.Workers,
		int64(source.JobInterval/time.Second), int64(source.Timeout/time.Second),
		int64(source.StaleAge/time.Second),
		source.MaxFailedQueries, source.Queue,
		source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("source %s: %w", source.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

// Get retrieves a source by its ID.
func (r *PgSourceRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	query := fmt.Sprintf(`SELECT %s FROM sources WHERE id = $1`, sourceColumns)

	row := r.db.QueryRow(ctx, query, id)
	source, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("source", id.String())
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return source, nil
}

// GetByName retrieves a source by its unique name.
func (r *PgSourceRepository) GetByName(ctx context.Context, name string) (*domain.Source, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "source name is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM sources WHERE name = $1`, sourceColumns)

	row := r.db.QueryRow(ctx, query, name)
	source, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("source", name)
		}
		return nil, fmt.Errorf("failed to get source by name: %w", err)
	}

	return source, nil
}

// List retrieves all registered sources ordered by name.
func (r *PgSourceRepository) List(ctx context.Context) ([]*domain.Source, error) {
	query := fmt.Sprintf(`SELECT %s FROM sources ORDER BY name ASC`, sourceColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		source, err := scanSourceFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

// UpdateState moves a source to the given lifecycle state.
func (r *PgSourceRepository) UpdateState(ctx context.Context, id uuid.UUID, state domain.SourceState) error {
	query := `
		UPDATE sources
		SET state = $1, updated_at = $2
		WHERE id = $3`

	result, err := r.db.Exec(ctx, query, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update source state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("source", id.String())
	}

	return nil
}

// CountByState returns the number of sources currently in the given state.
func (r *PgSourceRepository) CountByState(ctx context.Context, state domain.SourceState) (int64, error) {
	query := `SELECT COUNT(*) FROM sources WHERE state = $1`

	var count int64
	if err := r.db.QueryRow(ctx, query, state).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sources by state: %w", err)
	}

	return count, nil
}

// sourceScanDest holds the destination pointers for scanning a Source row.
type sourceScanDest struct {
	source          domain.Source
	state           string
	jobIntervalSecs int64
	timeoutSecs     int64
	staleAgeSecs    int64
}

// destinations returns the slice of pointers for Scan operations.
func (d *sourceScanDest) destinations() []interface{} {
	return []interface{}{
		&d.source.ID, &d.source.Name, &d.source.DisplayName, &d.state, &d.source.Workers,
		&d.jobIntervalSecs, &d.timeoutSecs, &d.staleAgeSecs,
		&d.source.MaxFailedQueries, &d.source.Queue,
		&d.source.CreatedAt, &d.source.UpdatedAt,
	}
}

// finalize converts stored second counts back to durations.
func (d *sourceScanDest) finalize() (*domain.Source, error) {
	d.source.State = domain.SourceState(d.state)
	d.source.JobInterval = time.Duration(d.jobIntervalSecs) * time.Second
	d.source.Timeout = time.Duration(d.timeoutSecs) * time.Second
	d.source.StaleAge = time.Duration(d.staleAgeSecs) * time.Second
	return &d.source, nil
}

// scanSource scans a single row into a Source.
func scanSource(row pgx.Row) (*domain.Source, error) {
	var dest sourceScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanSourceFromRows scans the current row from pgx.Rows into a Source.
func scanSourceFromRows(rows pgx.Rows) (*domain.Source, error) {
	var dest sourceScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
