package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarmetrics/harvester/internal/domain"
)

func TestRescheduleDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{4, time.Minute},
		{5, 5 * time.Minute},
		{6, 5 * time.Minute},
		{7, 10 * time.Minute},
		{12, 10 * time.Minute},
		{100, 10 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RescheduleDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func batchRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "source_id", "retrieval_status_ids",
		"queue", "attempts", "scheduled_at",
		"locked_by", "lock_expires_at", "created_at",
	})
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("inserts a claimable batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		batch := &domain.Batch{
			SourceID:           uuid.New(),
			RetrievalStatusIDs: []uuid.UUID{uuid.New(), uuid.New()},
			Queue:              "default",
		}

		mock.ExpectExec(`INSERT INTO harvest_batches`).
			WithArgs(pgxmock.AnyArg(), batch.SourceID, batch.RetrievalStatusIDs, "default", 0,
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, q.Enqueue(context.Background(), batch))
		assert.NotEqual(t, uuid.Nil, batch.ID)
		assert.False(t, batch.ScheduledAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		err = q.Enqueue(context.Background(), &domain.Batch{SourceID: uuid.New()})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestQueue_Claim(t *testing.T) {
	t.Run("returns claimed batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		batchID := uuid.New()
		sourceID := uuid.New()
		statusIDs := []uuid.UUID{uuid.New()}
		now := time.Now().UTC()
		expires := now.Add(10 * time.Minute)

		mock.ExpectQuery(`UPDATE harvest_batches`).
			WithArgs("worker-1", int64(600)).
			WillReturnRows(batchRows().AddRow(
				batchID, sourceID, statusIDs,
				"default", 2, now.Add(-time.Minute),
				"worker-1", &expires, now.Add(-time.Hour)))

		batch, err := q.Claim(context.Background(), "worker-1", 10*time.Minute)
		require.NoError(t, err)
		require.NotNil(t, batch)
		assert.Equal(t, batchID, batch.ID)
		assert.Equal(t, statusIDs, batch.RetrievalStatusIDs)
		assert.Equal(t, 2, batch.Attempts)
		assert.Equal(t, "worker-1", batch.LockedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idle queue yields nil batch and nil error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		mock.ExpectQuery(`UPDATE harvest_batches`).
			WithArgs("worker-1", int64(600)).
			WillReturnError(pgx.ErrNoRows)

		batch, err := q.Claim(context.Background(), "worker-1", 10*time.Minute)
		require.NoError(t, err)
		assert.Nil(t, batch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQueue_Complete(t *testing.T) {
	t.Run("deletes the batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		batchID := uuid.New()
		mock.ExpectExec(`DELETE FROM harvest_batches WHERE id = \$1`).
			WithArgs(batchID).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, q.Complete(context.Background(), batchID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		mock.ExpectExec(`DELETE FROM harvest_batches WHERE id = \$1`).
			WithArgs(pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err = q.Complete(context.Background(), uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQueue_Fail(t *testing.T) {
	t.Run("bumps attempts and reschedules", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		q := New(mock)

		batch := &domain.Batch{ID: uuid.New(), Attempts: 4}
		mock.ExpectExec(`UPDATE harvest_batches`).
			WithArgs(5, pgxmock.AnyArg(), batch.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, q.Fail(context.Background(), batch))
		assert.Equal(t, 5, batch.Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
