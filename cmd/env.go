package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/config"
	"github.com/sells-group/speedrun-cli/internal/discovery"
	"github.com/sells-group/speedrun-cli/internal/metrics"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/queue"
	"github.com/sells-group/speedrun-cli/internal/ranking"
	"github.com/sells-group/speedrun-cli/internal/resilience"
	"github.com/sells-group/speedrun-cli/internal/scoring"
	"github.com/sells-group/speedrun-cli/internal/store"
	"github.com/sells-group/speedrun-cli/internal/targets"
	"github.com/sells-group/speedrun-cli/pkg/enrichment"
)

// appEnv holds the store and the optional Redis client shared by commands.
type appEnv struct {
	Store store.Store
	Redis *redis.Client // nil when redis.addr is empty
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and connects
// to Redis when configured. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st}
	if cfg.Redis.Addr != "" {
		env.Redis, err = initRedis(ctx, cfg.Redis)
		if err != nil {
			env.Close()
			return nil, err
		}
	}
	return env, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		return store.NewSQLite(sc.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func initRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "redis: ping %s", rc.Addr)
	}
	zap.L().Debug("redis connected", zap.String("addr", rc.Addr))
	return client, nil
}

// newQueueService builds the rebuild coordinator. With Redis configured,
// generations are shared across processes and published queues are cached.
func newQueueService(env *appEnv) (*queue.Service, error) {
	scorer, err := scoring.New(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	ranker := ranking.New(
		ranking.WithSize(cfg.Queue.Size),
		ranking.WithMode(model.OrderingMode(cfg.Queue.OrderingMode)),
	)

	opts := []queue.Option{queue.WithMaxPageSize(cfg.Queue.MaxPageSize)}
	if env.Redis != nil {
		ttl := time.Duration(cfg.Queue.CacheTTLSecs) * time.Second
		opts = append(opts,
			queue.WithGenerations(queue.NewRedisGenerations(env.Redis, cfg.Redis.KeyPrefix)),
			queue.WithCache(queue.NewRedisCache(env.Redis, cfg.Redis.KeyPrefix, ttl)),
		)
	}
	return queue.New(env.Store, scorer, ranker, opts...), nil
}

// newProvider returns the JSONL file provider when profilesPath is set and
// the HTTP enrichment client otherwise.
func newProvider(profilesPath string) enrichment.Provider {
	if profilesPath != "" {
		return enrichment.NewFileProvider(profilesPath)
	}
	ec := cfg.Enrichment
	opts := []enrichment.Option{
		enrichment.WithRateLimit(ec.RateLimit, ec.Burst),
		enrichment.WithPageSize(ec.PageSize),
	}
	if ec.TimeoutSecs > 0 {
		opts = append(opts, enrichment.WithHTTPClient(&http.Client{
			Timeout: time.Duration(ec.TimeoutSecs) * time.Second,
		}))
	}
	return enrichment.NewClient(ec.BaseURL, ec.Key, opts...)
}

// newDiscoveryService wires the discovery pipeline from configuration.
func newDiscoveryService(env *appEnv, provider enrichment.Provider) (*discovery.Service, error) {
	dc := cfg.Discovery

	var table targets.Table
	if dc.TargetsFile != "" {
		t, err := targets.LoadFile(dc.TargetsFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	resolver, err := targets.NewResolver(table)
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewBreaker(cfg.Circuit, resilience.OnStateChange(func(from, to resilience.BreakerState) {
		metrics.BreakerState.WithLabelValues("enrichment").Set(float64(to))
		zap.L().Warn("enrichment circuit breaker",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}))

	return discovery.New(provider, env.Store,
		discovery.WithResolver(resolver),
		discovery.WithFloor(dc.AcceptanceFloor),
		discovery.WithRetryPolicy(resilience.NewRetryPolicy(cfg.Retry)),
		discovery.WithBreaker(breaker),
		discovery.WithConcurrency(dc.Concurrency),
		discovery.WithFailureLedger(dc.MaxRetries, time.Duration(dc.RetryDelayMins)*time.Minute),
	), nil
}
