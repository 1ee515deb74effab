package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Compile-time interface verification.
var _ AlertRepository = (*PgAlertRepository)(nil)

// PgAlertRepository is a PostgreSQL implementation of AlertRepository.
type PgAlertRepository struct {
	db DBTX
}

// NewPgAlertRepository creates a new PostgreSQL alert repository.
func NewPgAlertRepository(db DBTX) *PgAlertRepository {
	return &PgAlertRepository{db: db}
}

const alertColumns = `id, class_name, message, exception, status,
		source_id, work_id, unresolved, created_at`

// FirstOrCreate inserts the alert unless an unresolved alert with the same
// message already exists.
func (r *PgAlertRepository) FirstOrCreate(ctx context.Context, alert *domain.Alert) (bool, error) {
	if alert == nil {
		return false, domain.NewValidationError("alert", "alert cannot be nil")
	}
	if alert.Message == "" {
		return false, domain.NewValidationError("message", "alert message is required")
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.Unresolved = true

	var existingID uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM alerts WHERE message = $1 AND unresolved`,
		alert.Message,
	).Scan(&existingID)
	switch {
	case err == nil:
		// Repeated identical failure, absorbed into the existing row.
		alert.ID = existingID
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("failed to look up open alert: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, class_name, message, exception, status,
			source_id, work_id, unresolved, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, TRUE, $8
		)`

	_, err = r.db.Exec(ctx, query,
		alert.ID, alert.ClassName, alert.Message, alert.Exception, alert.Status,
		alert.SourceID, alert.WorkID, alert.CreatedAt,
	)
	if err != nil {
		// A concurrent writer won the race on the partial unique index;
		// the failure is already recorded.
		if isPgUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create alert: %w", err)
	}

	return true, nil
}

// ResolveBulk marks every unresolved alert matching the filter as resolved.
func (r *PgAlertRepository) ResolveBulk(ctx context.Context, filter AlertFilter) (int64, error) {
	if filter.Empty() {
		return 0, domain.NewValidationError("filter", "at least one criterion is required")
	}

	conditions, args := alertConditions(filter, 1)
	conditions = append(conditions, "unresolved")

	query := fmt.Sprintf(
		"UPDATE alerts SET unresolved = FALSE WHERE %s",
		strings.Join(conditions, " AND "),
	)

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts: %w", err)
	}

	return result.RowsAffected(), nil
}

// List retrieves alerts matching the filter criteria, newest first.
func (r *PgAlertRepository) List(ctx context.Context, filter AlertFilter) ([]*domain.Alert, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	conditions, args := alertConditions(filter, 1)
	if filter.Unresolved != nil {
		conditions = append(conditions, fmt.Sprintf("unresolved = $%d", len(args)+1))
		args = append(args, *filter.Unresolved)
	}
	if len(conditions) == 0 {
		conditions = []string{"TRUE"}
	}
	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM alerts WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		alertColumns, whereClause, len(args)+1, len(args)+2)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*domain.Alert, 0, filter.Limit)
	for rows.Next() {
		var alert domain.Alert
		if err := rows.Scan(
			&alert.ID, &alert.ClassName, &alert.Message, &alert.Exception, &alert.Status,
			&alert.SourceID, &alert.WorkID, &alert.Unresolved, &alert.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, totalCount, nil
}

// alertConditions builds the shared WHERE conditions for the selection
// criteria of an AlertFilter, starting placeholders at argIndex.
func alertConditions(filter AlertFilter, argIndex int) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.ClassName != "" {
		conditions = append(conditions, fmt.Sprintf("class_name = $%d", argIndex))
		args = append(args, filter.ClassName)
		argIndex++
	}
	if filter.SourceID != nil {
		conditions = append(conditions, fmt.Sprintf("source_id = $%d", argIndex))
		args = append(args, *filter.SourceID)
		argIndex++
	}
	if filter.WorkID != nil {
		conditions = append(conditions, fmt.Sprintf("work_id = $%d", argIndex))
		args = append(args, *filter.WorkID)
		argIndex++
	}
	if filter.Message != "" {
		conditions = append(conditions, fmt.Sprintf("message = $%d", argIndex))
		args = append(args, filter.Message)
	}

	return conditions, args
}
