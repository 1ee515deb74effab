package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// inflightKeyPrefix is the Redis key prefix of per-source inflight sets.
const inflightKeyPrefix = "harvester:inflight:"

// acquireScript adds the execution to the inflight set only while the set
// is below the worker budget. Check and add run in one script so the set
// can never exceed the budget.
var acquireScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// SlotGate bounds concurrent batch executions per source by tracking
// execution ids in a Redis set.
type SlotGate struct {
	client *redis.Client
}

// NewSlotGate creates a slot gate backed by the given Redis client.
func NewSlotGate(client *redis.Client) *SlotGate {
	return &SlotGate{client: client}
}

// Acquire reserves one worker slot for the source. Returns
// domain.ErrNoWorkers when every slot is occupied; the caller reschedules
// the batch without raising an alert.
func (g *SlotGate) Acquire(ctx context.Context, source *domain.Source, execID string) error {
	ok, err := acquireScript.Run(ctx, g.client,
		[]string{inflightKeyPrefix + source.Name},
		execID, source.Workers,
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to acquire worker slot: %w", err)
	}
	if ok == 0 {
		return domain.ErrNoWorkers
	}
	return nil
}

// Release frees the slot held by execID. Releasing an unheld slot is a
// no-op, so retries after partial failures are safe.
func (g *SlotGate) Release(ctx context.Context, sourceName, execID string) error {
	if err := g.client.SRem(ctx, inflightKeyPrefix+sourceName, execID).Err(); err != nil {
		return fmt.Errorf("failed to release worker slot: %w", err)
	}
	return nil
}

// Inflight returns the number of executions currently holding a slot for
// the source.
func (g *SlotGate) Inflight(ctx context.Context, sourceName string) (int64, error) {
	n, err := g.client.SCard(ctx, inflightKeyPrefix+sourceName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count inflight executions: %w", err)
	}
	return n, nil
}
