package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Generations hands out strictly increasing rebuild generations per
// workspace. A queue is published only if its generation is newer than the
// stored one.
type Generations interface {
	Next(ctx context.Context, workspaceID string) (int64, error)
}

// MemoryGenerations issues generations in process. Values start at the
// current Unix time in microseconds so a restarted process still outranks
// queues published before the restart.
type MemoryGenerations struct {
	mu   sync.Mutex
	last map[string]int64
	now  func() time.Time
}

// NewMemoryGenerations creates an in-process generation source.
func NewMemoryGenerations() *MemoryGenerations {
	return &MemoryGenerations{last: make(map[string]int64), now: time.Now}
}

// Next returns max(previous+1, now in microseconds).
func (g *MemoryGenerations) Next(_ context.Context, workspaceID string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := max(g.last[workspaceID]+1, g.now().UnixMicro())
	g.last[workspaceID] = next
	return next, nil
}

// nextGeneration increments the counter and lifts it to the clock floor, so
// Redis-issued and in-process generations share one scale.
var nextGeneration = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
local floor = tonumber(ARGV[1])
if v < floor then
  redis.call('SET', KEYS[1], ARGV[1])
  v = floor
end
return v
`)

// RedisGenerations issues generations from a Redis counter shared by every
// process serving the workspace.
type RedisGenerations struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisGenerations creates a Redis-backed generation source. Keys are
// "<prefix>generation:<workspace>".
func NewRedisGenerations(client redis.UniversalClient, prefix string) *RedisGenerations {
	return &RedisGenerations{client: client, prefix: prefix, now: time.Now}
}

// Next atomically advances the workspace counter.
func (g *RedisGenerations) Next(ctx context.Context, workspaceID string) (int64, error) {
	key := g.prefix + "generation:" + workspaceID
	v, err := nextGeneration.Run(ctx, g.client, []string{key}, g.now().UnixMicro()).Int64()
	if err != nil {
		return 0, eris.Wrapf(err, "queue: next generation for %s", workspaceID)
	}
	return v, nil
}
