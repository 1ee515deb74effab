package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction
// (e.g., *pgxpool.Pool, *database.DB). Used by Create to wrap the work
// insert and its retrieval-status fan-out in a transaction when the
// underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// Compile-time interface verification.
var _ WorkRepository = (*PgWorkRepository)(nil)

// PgWorkRepository is a PostgreSQL implementation of WorkRepository.
type PgWorkRepository struct {
	db DBTX
}

// NewPgWorkRepository creates a new PostgreSQL work repository.
func NewPgWorkRepository(db DBTX) *PgWorkRepository {
	return &PgWorkRepository{db: db}
}

const workColumns = `id, doi, pmid, pmcid, canonical_url, pid, pid_type,
		title, published_on, created_at, updated_at`

// Create inserts a new work together with one retrieval status per source.
func (r *PgWorkRepository) Create(ctx context.Context, work *domain.Work, sources []*domain.Source) error {
	if work == nil {
		return domain.NewValidationError("work", "work cannot be nil")
	}
	if work.ID == uuid.Nil {
		return domain.NewValidationError("id", "work ID is required")
	}
	if work.PID == "" {
		return domain.NewValidationError("pid", "work has no persistent identifier")
	}

	// Wrap the insert and the fan-out in one transaction so a half-created
	// work never appears.
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for work create: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgWorkRepository{db: tx}
		if err := txRepo.createInTx(ctx, work, sources); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	return r.createInTx(ctx, work, sources)
}

// createInTx performs the work insert and retrieval-status fan-out within
// the current DBTX.
func (r *PgWorkRepository) createInTx(ctx context.Context, work *domain.Work, sources []*domain.Source) error {
	insertWork := `
		INSERT INTO works (
			id, doi, pmid, pmcid, canonical_url, pid, pid_type,
			title, published_on, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11
		)`

	_, err := r.db.Exec(ctx, insertWork,
		work.ID, work.DOI, work.PMID, work.PMCID, work.CanonicalURL,
		work.PID, work.PIDType,
		work.Title, work.PublishedOn, work.CreatedAt, work.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("work %s: %w", work.PID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create work: %w", err)
	}

	insertStatus := `
		INSERT INTO retrieval_statuses (
			id, work_id, source_id, event_count, queued_at,
			retrieved_at, scheduled_at, stale_at, events_url, event_metrics,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, NULL, NULL,
			$4, $5, $6, '', '{}',
			$7, $8
		)`

	now := time.Now().UTC()
	for _, source := range sources {
		// Epoch-sentinel retrieved_at makes the pair immediately due.
		_, err := r.db.Exec(ctx, insertStatus,
			uuid.New(), work.ID, source.ID,
			domain.EpochSentinel, now, now,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create retrieval status for source %s: %w", source.Name, err)
		}
	}

	return nil
}

// Get retrieves a work by its ID.
func (r *PgWorkRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Work, error) {
	query := fmt.Sprintf(`SELECT %s FROM works WHERE id = $1`, workColumns)

	row := r.db.QueryRow(ctx, query, id)
	work, err := scanWork(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("work", id.String())
		}
		return nil, fmt.Errorf("failed to get work: %w", err)
	}

	return work, nil
}

// GetByPID retrieves a work by its persistent identifier.
func (r *PgWorkRepository) GetByPID(ctx context.Context, pid string) (*domain.Work, error) {
	if pid == "" {
		return nil, domain.NewValidationError("pid", "persistent identifier is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM works WHERE pid = $1`, workColumns)

	row := r.db.QueryRow(ctx, query, pid)
	work, err := scanWork(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("work", pid)
		}
		return nil, fmt.Errorf("failed to get work by pid: %w", err)
	}

	return work, nil
}

// UpdateIdentifiers persists the identifier columns of a work.
func (r *PgWorkRepository) UpdateIdentifiers(ctx context.Context, work *domain.Work) error {
	if work == nil {
		return domain.NewValidationError("work", "work cannot be nil")
	}

	query := `
		UPDATE works
		SET doi = $1, pmid = $2, pmcid = $3, canonical_url = $4, updated_at = $5
		WHERE id = $6`

	result, err := r.db.Exec(ctx, query,
		work.DOI, work.PMID, work.PMCID, work.CanonicalURL,
		time.Now().UTC(), work.ID,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("work %s: %w", work.PID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update work identifiers: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("work", work.ID.String())
	}

	return nil
}

// List retrieves works matching the filter criteria.
func (r *PgWorkRepository) List(ctx context.Context, filter WorkFilter) ([]*domain.Work, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if filter.PIDType != "" {
		conditions = append(conditions, fmt.Sprintf("pid_type = $%d", argIndex))
		args = append(args, filter.PIDType)
		argIndex++
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM works WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count works: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM works
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		workColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list works: %w", err)
	}
	defer rows.Close()

	works := make([]*domain.Work, 0, filter.Limit)
	for rows.Next() {
		work, err := scanWorkFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan work: %w", err)
		}
		works = append(works, work)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating works: %w", err)
	}

	return works, totalCount, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// workScanDest holds the destination pointers for scanning a Work row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type workScanDest struct {
	work    domain.Work
	pidType string
}

// destinations returns the slice of pointers for Scan operations.
func (d *workScanDest) destinations() []interface{} {
	return []interface{}{
		&d.work.ID, &d.work.DOI, &d.work.PMID, &d.work.PMCID, &d.work.CanonicalURL,
		&d.work.PID, &d.pidType,
		&d.work.Title, &d.work.PublishedOn, &d.work.CreatedAt, &d.work.UpdatedAt,
	}
}

// finalize performs post-scan processing.
func (d *workScanDest) finalize() (*domain.Work, error) {
	d.work.PIDType = domain.IDType(d.pidType)
	return &d.work, nil
}

// scanWork scans a single row into a Work.
func scanWork(row pgx.Row) (*domain.Work, error) {
	var dest workScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanWorkFromRows scans the current row from pgx.Rows into a Work.
func scanWorkFromRows(rows pgx.Rows) (*domain.Work, error) {
	var dest workScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
