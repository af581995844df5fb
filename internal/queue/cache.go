package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// Cache holds the last published queue per workspace. Get returns nil, nil
// on a miss. Invalidate drops an entry that can no longer be refreshed.
type Cache interface {
	Get(ctx context.Context, workspaceID string) (*model.RankedQueue, error)
	Put(ctx context.Context, q *model.RankedQueue) error
	Invalidate(ctx context.Context, workspaceID string) error
}

// RedisCache stores published queues as JSON under
// "<prefix>queue:<workspace>".
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache. A zero ttl keeps entries until replaced.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(workspaceID string) string {
	return c.prefix + "queue:" + workspaceID
}

// Get returns the cached queue for the workspace.
func (c *RedisCache) Get(ctx context.Context, workspaceID string) (*model.RankedQueue, error) {
	data, err := c.client.Get(ctx, c.key(workspaceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "queue: cache get %s", workspaceID)
	}
	var q model.RankedQueue
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, eris.Wrapf(err, "queue: decode cached queue %s", workspaceID)
	}
	return &q, nil
}

// Put stores q unless the cache already holds the same or a newer
// generation. The compare and set runs under WATCH so concurrent writers
// cannot regress the entry.
func (c *RedisCache) Put(ctx context.Context, q *model.RankedQueue) error {
	data, err := json.Marshal(q)
	if err != nil {
		return eris.Wrap(err, "queue: encode queue")
	}
	key := c.key(q.WorkspaceID)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var existing struct {
				Generation int64 `json:"generation"`
			}
			if json.Unmarshal(cur, &existing) == nil && existing.Generation >= q.Generation {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return eris.Wrapf(err, "queue: cache put %s", q.WorkspaceID)
	}
	return nil
}

// Invalidate drops the cached queue for the workspace.
func (c *RedisCache) Invalidate(ctx context.Context, workspaceID string) error {
	if err := c.client.Del(ctx, c.key(workspaceID)).Err(); err != nil {
		return eris.Wrapf(err, "queue: cache invalidate %s", workspaceID)
	}
	return nil
}
