package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Compile-time interface verification.
var _ RetrievalRepository = (*PgRetrievalRepository)(nil)

// PgRetrievalRepository is a PostgreSQL implementation of RetrievalRepository.
type PgRetrievalRepository struct {
	db DBTX
}

// NewPgRetrievalRepository creates a new PostgreSQL retrieval repository.
func NewPgRetrievalRepository(db DBTX) *PgRetrievalRepository {
	return &PgRetrievalRepository{db: db}
}

const statusColumns = `id, work_id, source_id, event_count, queued_at,
		retrieved_at, scheduled_at, stale_at, events_url, event_metrics,
		created_at, updated_at`

// GetStatus retrieves a retrieval status by its ID.
func (r *PgRetrievalRepository) GetStatus(ctx context.Context, id uuid.UUID) (*domain.RetrievalStatus, error) {
	query := fmt.Sprintf(`SELECT %s FROM retrieval_statuses WHERE id = $1`, statusColumns)

	row := r.db.QueryRow(ctx, query, id)
	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("retrieval status", id.String())
		}
		return nil, fmt.Errorf("failed to get retrieval status: %w", err)
	}

	return status, nil
}

// GetStatusByPair retrieves the retrieval status for one (work, source) pair.
func (r *PgRetrievalRepository) GetStatusByPair(ctx context.Context, workID, sourceID uuid.UUID) (*domain.RetrievalStatus, error) {
	query := fmt.Sprintf(`SELECT %s FROM retrieval_statuses WHERE work_id = $1 AND source_id = $2`, statusColumns)

	row := r.db.QueryRow(ctx, query, workID, sourceID)
	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("retrieval status", workID.String())
		}
		return nil, fmt.Errorf("failed to get retrieval status by pair: %w", err)
	}

	return status, nil
}

// MarkQueued stamps queued_at on the given statuses.
func (r *PgRetrievalRepository) MarkQueued(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE retrieval_statuses
		SET queued_at = $1, updated_at = $1
		WHERE id = ANY($2) AND queued_at IS NULL`

	if _, err := r.db.Exec(ctx, query, at.UTC(), ids); err != nil {
		return fmt.Errorf("failed to mark statuses queued: %w", err)
	}

	return nil
}

// ClearQueued clears queued_at on the given statuses.
func (r *PgRetrievalRepository) ClearQueued(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE retrieval_statuses
		SET queued_at = NULL, updated_at = $1
		WHERE id = ANY($2)`

	if _, err := r.db.Exec(ctx, query, time.Now().UTC(), ids); err != nil {
		return fmt.Errorf("failed to clear queued statuses: %w", err)
	}

	return nil
}

// ApplyOutcome persists the fields a fetch outcome mutated.
func (r *PgRetrievalRepository) ApplyOutcome(ctx context.Context, status *domain.RetrievalStatus) error {
	if status == nil {
		return domain.NewValidationError("status", "status cannot be nil")
	}

	metricsJSON, err := json.Marshal(status.EventMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal event metrics: %w", err)
	}

	query := `
		UPDATE retrieval_statuses
		SET event_count = $1,
			retrieved_at = $2,
			scheduled_at = $3,
			stale_at = $4,
			events_url = $5,
			event_metrics = $6,
			updated_at = $7
		WHERE id = $8`

	result, err := r.db.Exec(ctx, query,
		status.EventCount,
		status.RetrievedAt, status.ScheduledAt, status.StaleAt,
		status.EventsURL, metricsJSON,
		time.Now().UTC(), status.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("retrieval status", status.ID.String())
	}

	return nil
}

// CreateHistory appends one immutable history row.
func (r *PgRetrievalRepository) CreateHistory(ctx context.Context, history *domain.RetrievalHistory) error {
	if history == nil {
		return domain.NewValidationError("history", "history cannot be nil")
	}
	if history.ID == uuid.Nil {
		return domain.NewValidationError("id", "history ID is required")
	}

	query := `
		INSERT INTO retrieval_histories (
			id, retrieval_status_id, work_id, source_id,
			event_count, retrieved_at, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7
		)`

	_, err := r.db.Exec(ctx, query,
		history.ID, history.RetrievalStatusID, history.WorkID, history.SourceID,
		history.EventCount, history.RetrievedAt, history.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retrieval history: %w", err)
	}

	return nil
}

// ListPending returns due statuses for a source, oldest first.
func (r *PgRetrievalRepository) ListPending(ctx context.Context, sourceID uuid.UUID, asOf time.Time, limit int) ([]*domain.RetrievalStatus, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	if limit > maxFilterLimit {
		limit = maxFilterLimit
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM retrieval_statuses
		WHERE source_id = $1 AND scheduled_at <= $2 AND queued_at IS NULL
		ORDER BY scheduled_at ASC
		LIMIT $3`, statusColumns)

	rows, err := r.db.Query(ctx, query, sourceID, asOf.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]*domain.RetrievalStatus, 0, limit)
	for rows.Next() {
		status, err := scanStatusFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retrieval status: %w", err)
		}
		statuses = append(statuses, status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending statuses: %w", err)
	}

	return statuses, nil
}

// CountByState returns per-state counts for a source. The state is derived
// from event_count, matching RetrievalStatus.State.
func (r *PgRetrievalRepository) CountByState(ctx context.Context, sourceID uuid.UUID) (map[domain.RetrievalState]int64, error) {
	query := `
		SELECT
			CASE
				WHEN event_count IS NULL THEN 'pending'
				WHEN event_count > 0 THEN 'known-positive'
				ELSE 'known-zero'
			END AS state,
			COUNT(*)
		FROM retrieval_statuses
		WHERE source_id = $1
		GROUP BY 1`

	rows, err := r.db.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RetrievalState]int64, 3)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[domain.RetrievalState(state)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state counts: %w", err)
	}

	return counts, nil
}

// statusScanDest holds the destination pointers for scanning a RetrievalStatus row.
type statusScanDest struct {
	status      domain.RetrievalStatus
	metricsJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *statusScanDest) destinations() []interface{} {
	return []interface{}{
		&d.status.ID, &d.status.WorkID, &d.status.SourceID, &d.status.EventCount, &d.status.QueuedAt,
		&d.status.RetrievedAt, &d.status.ScheduledAt, &d.status.StaleAt,
		&d.status.EventsURL, &d.metricsJSON,
		&d.status.CreatedAt, &d.status.UpdatedAt,
	}
}

// finalize unmarshals the event metrics map.
func (d *statusScanDest) finalize() (*domain.RetrievalStatus, error) {
	if len(d.metricsJSON) > 0 {
		if err := json.Unmarshal(d.metricsJSON, &d.status.EventMetrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metrics: %w", err)
		}
	}
	return &d.status, nil
}

// scanStatus scans a single row into a RetrievalStatus.
func scanStatus(row pgx.Row) (*domain.RetrievalStatus, error) {
	var dest statusScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanStatusFromRows scans the current row from pgx.Rows into a RetrievalStatus.
func scanStatusFromRows(rows pgx.Rows) (*domain.RetrievalStatus, error) {
	var dest statusScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
