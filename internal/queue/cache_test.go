package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speedrun-cli/internal/model"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return mr, client
}

func sampleQueue(gen int64) *model.RankedQueue {
	return &model.RankedQueue{
		ID:          "q",
		WorkspaceID: "ws1",
		Generation:  gen,
		Mode:        model.OrderMerged,
		Eligible:    2,
		Entries: []model.RankedQueueEntry{
			{GlobalRank: 1, Kind: model.KindPerson, EntityID: "p1", CompanyID: "acme", Score: 71.2},
			{GlobalRank: 2, Kind: model.KindCompany, EntityID: "solo", Score: 40},
		},
		BuiltAt: fixedNow,
	}
}

func TestRedisCache_PutGet(t *testing.T) {
	_, client := setupRedis(t)
	c := NewRedisCache(client, "speedrun:", 0)
	ctx := context.Background()

	got, err := c.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Put(ctx, sampleQueue(5)))
	got, err = c.Get(ctx, "ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.Generation)
	assert.Equal(t, sampleQueue(5).Entries, got.Entries)
	assert.True(t, fixedNow.Equal(got.BuiltAt))
}

func TestRedisCache_NeverRegresses(t *testing.T) {
	_, client := setupRedis(t)
	c := NewRedisCache(client, "speedrun:", 0)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, sampleQueue(9)))
	require.NoError(t, c.Put(ctx, sampleQueue(4)))

	got, err := c.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Generation)

	require.NoError(t, c.Put(ctx, sampleQueue(10)))
	got, err = c.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Generation)
}

func TestRedisCache_TTLAndInvalidate(t *testing.T) {
	mr, client := setupRedis(t)
	c := NewRedisCache(client, "speedrun:", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, sampleQueue(1)))
	assert.True(t, mr.Exists("speedrun:queue:ws1"))

	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Put(ctx, sampleQueue(2)))
	require.NoError(t, c.Invalidate(ctx, "ws1"))
	assert.False(t, mr.Exists("speedrun:queue:ws1"))
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	mr, client := setupRedis(t)
	require.NoError(t, mr.Set("speedrun:queue:ws1", "{not json"))

	_, err := NewRedisCache(client, "speedrun:", 0).Get(context.Background(), "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cached queue")
}

func TestRedisGenerations(t *testing.T) {
	mr, client := setupRedis(t)
	g := NewRedisGenerations(client, "speedrun:")
	g.now = func() time.Time { return time.UnixMicro(1000) }
	ctx := context.Background()

	first, err := g.Next(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first, "counter is lifted to the clock floor")

	second, err := g.Next(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), second)

	other, err := g.Next(ctx, "ws2")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), other)

	v, err := mr.Get("speedrun:generation:ws1")
	require.NoError(t, err)
	assert.Equal(t, "1001", v)
}

func TestRedisGenerations_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	_, err := NewRedisGenerations(client, "speedrun:").Next(context.Background(), "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue: next generation for ws1")
}

func TestMemoryGenerations(t *testing.T) {
	g := NewMemoryGenerations()
	g.now = func() time.Time { return time.UnixMicro(50) }
	ctx := context.Background()

	a, _ := g.Next(ctx, "ws1")
	b, _ := g.Next(ctx, "ws1")
	c, _ := g.Next(ctx, "ws2")
	assert.Equal(t, int64(50), a)
	assert.Equal(t, int64(51), b)
	assert.Equal(t, int64(50), c)

	g.now = func() time.Time { return time.UnixMicro(500) }
	d, _ := g.Next(ctx, "ws1")
	assert.Equal(t, int64(500), d)
}

func TestService_ReadsThroughCache(t *testing.T) {
	_, client := setupRedis(t)
	cache := NewRedisCache(client, "speedrun:", time.Hour)

	st := newMemStore()
	st.setSnapshot(workspace())
	svc := newTestService(t, st, WithCache(cache), WithGenerations(NewRedisGenerations(client, "speedrun:")))

	published, err := svc.Rebuild(context.Background(), "ws1")
	require.NoError(t, err)

	cached, err := cache.Get(context.Background(), "ws1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, published.Generation, cached.Generation)

	// Drop the store copy; reads still come from the cache.
	st.mu.Lock()
	delete(st.queues, "ws1")
	st.mu.Unlock()

	got, err := svc.Queue(context.Background(), "ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, published.Entries, got.Entries)
}

func TestService_FillsCacheOnMiss(t *testing.T) {
	_, client := setupRedis(t)
	cache := NewRedisCache(client, "speedrun:", time.Hour)

	st := newMemStore()
	st.queues["ws1"] = sampleQueue(3)
	svc := newTestService(t, st, WithCache(cache))

	got, err := svc.Queue(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Generation)

	cached, err := cache.Get(context.Background(), "ws1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(3), cached.Generation)
}

type putFailingCache struct {
	*RedisCache
	invalidated []string
}

func (c *putFailingCache) Put(context.Context, *model.RankedQueue) error {
	return errors.New("cache write refused")
}

func (c *putFailingCache) Invalidate(ctx context.Context, workspaceID string) error {
	c.invalidated = append(c.invalidated, workspaceID)
	return c.RedisCache.Invalidate(ctx, workspaceID)
}

func TestService_InvalidatesCacheWhenPutFails(t *testing.T) {
	_, client := setupRedis(t)
	redisCache := NewRedisCache(client, "speedrun:", time.Hour)
	require.NoError(t, redisCache.Put(context.Background(), sampleQueue(1)))
	cache := &putFailingCache{RedisCache: redisCache}

	st := newMemStore()
	st.setSnapshot(workspace())
	svc := newTestService(t, st, WithCache(cache))

	published, err := svc.Rebuild(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws1"}, cache.invalidated)

	cached, err := redisCache.Get(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Nil(t, cached)

	got, err := svc.Queue(context.Background(), "ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, published.Generation, got.Generation)
	assert.Greater(t, got.Generation, int64(1))
}
