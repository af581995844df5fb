// Package queue coordinates speedrun queue rebuilds: one in-flight rebuild
// per workspace, newer requests superseding older ones, and an atomic
// publish of the finished queue.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/metrics"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/ranking"
	"github.com/sells-group/speedrun-cli/internal/scoring"
	"github.com/sells-group/speedrun-cli/internal/store"
)

// ErrSuperseded means a newer rebuild for the same workspace took over
// before this one published. The newer result stands.
var ErrSuperseded = eris.New("queue: rebuild superseded")

// Store is the subset of the entity store rebuilds need.
type Store interface {
	LoadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error)
	ReplaceQueue(ctx context.Context, q *model.RankedQueue) error
	GetQueue(ctx context.Context, workspaceID string, offset, limit int) (*model.RankedQueue, error)
}

type flight struct {
	generation int64
	cancel     context.CancelCauseFunc
}

// Service rebuilds and serves ranked queues.
type Service struct {
	store  Store
	scorer *scoring.Scorer
	ranker *ranking.Ranker
	gens   Generations
	cache  Cache

	maxPage int
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	inflight map[string]*flight
}

// Option configures a Service.
type Option func(*Service)

// WithGenerations sets the generation source.
func WithGenerations(g Generations) Option {
	return func(s *Service) { s.gens = g }
}

// WithCache sets the published-queue cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMaxPageSize caps the page size served by Page.
func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPage = n
		}
	}
}

// WithNow sets the clock used for BuiltAt.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithIDFunc sets the queue ID generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates a Service.
func New(st Store, scorer *scoring.Scorer, ranker *ranking.Ranker, opts ...Option) *Service {
	s := &Service{
		store:    st,
		scorer:   scorer,
		ranker:   ranker,
		gens:     NewMemoryGenerations(),
		maxPage:  100,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		inflight: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rebuild recomputes the workspace queue from a fresh snapshot and publishes
// it as one atomic replace. Starting a rebuild cancels any older rebuild of
// the same workspace, which then returns ErrSuperseded. Any failure leaves
// the previously published queue in place.
func (s *Service) Rebuild(ctx context.Context, workspaceID string) (*model.RankedQueue, error) {
	if workspaceID == "" {
		return nil, eris.New("queue: workspace id is required")
	}
	start := time.Now()
	defer func() { metrics.RebuildDuration.Observe(time.Since(start).Seconds()) }()

	log := zap.L().With(zap.String("workspace_id", workspaceID))

	gen, err := s.gens.Next(ctx, workspaceID)
	if err != nil {
		metrics.RebuildRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		return nil, err
	}
	log = log.With(zap.Int64("generation", gen))

	ctx, release, ok := s.acquire(ctx, workspaceID, gen)
	defer release()
	if !ok {
		return nil, s.superseded(log)
	}

	q, err := s.build(ctx, workspaceID, gen)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrSuperseded) {
			return nil, s.superseded(log)
		}
		metrics.RebuildRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Error("queue: rebuild failed, previous queue kept", zap.Error(err))
		return nil, err
	}

	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return nil, s.superseded(log)
	}
	if err := s.store.ReplaceQueue(ctx, q); err != nil {
		if errors.Is(err, store.ErrStaleGeneration) || errors.Is(context.Cause(ctx), ErrSuperseded) {
			return nil, s.superseded(log)
		}
		metrics.RebuildRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Error("queue: publish failed, previous queue kept", zap.Error(err))
		return nil, eris.Wrapf(err, "queue: publish %s", workspaceID)
	}

	if s.cache != nil {
		// A cache left on the previous generation would keep serving it.
		cctx := context.WithoutCancel(ctx)
		if err := s.cache.Put(cctx, q); err != nil {
			log.Warn("queue: cache put failed, invalidating", zap.Error(err))
			if err := s.cache.Invalidate(cctx, workspaceID); err != nil {
				log.Error("queue: cache invalidate failed", zap.Error(err))
			}
		}
	}

	metrics.RebuildRuns.WithLabelValues(metrics.OutcomePublished).Inc()
	metrics.QueueEntries.WithLabelValues(workspaceID).Set(float64(len(q.Entries)))
	log.Info("queue: published",
		zap.Int("entries", len(q.Entries)),
		zap.Int("eligible", q.Eligible),
		zap.String("mode", string(q.Mode)),
	)
	return q, nil
}

func (s *Service) build(ctx context.Context, workspaceID string, gen int64) (*model.RankedQueue, error) {
	snap, err := s.store.LoadSnapshot(ctx, workspaceID)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: load snapshot %s", workspaceID)
	}
	scores := s.scorer.ScoreSnapshot(snap)
	q, err := s.ranker.Build(snap, scores)
	if err != nil {
		return nil, err
	}
	q.ID = s.newID()
	q.Generation = gen
	q.BuiltAt = s.now().UTC()
	return q, nil
}

// acquire registers gen as the workspace's in-flight rebuild, cancelling an
// older one. It reports false when a newer rebuild is already running.
func (s *Service) acquire(ctx context.Context, workspaceID string, gen int64) (context.Context, func(), bool) {
	ctx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.inflight[workspaceID]; ok {
		if prev.generation > gen {
			cancel(ErrSuperseded)
			return ctx, func() {}, false
		}
		prev.cancel(ErrSuperseded)
	}
	f := &flight{generation: gen, cancel: cancel}
	s.inflight[workspaceID] = f

	release := func() {
		s.mu.Lock()
		if s.inflight[workspaceID] == f {
			delete(s.inflight, workspaceID)
		}
		s.mu.Unlock()
		cancel(nil)
	}
	return ctx, release, true
}

func (s *Service) superseded(log *zap.Logger) error {
	metrics.RebuildRuns.WithLabelValues(metrics.OutcomeSuperseded).Inc()
	log.Info("queue: rebuild superseded by a newer request")
	return ErrSuperseded
}

// Queue returns the whole published queue, from cache when available. It
// returns nil, nil when nothing has been published.
func (s *Service) Queue(ctx context.Context, workspaceID string) (*model.RankedQueue, error) {
	if s.cache != nil {
		q, err := s.cache.Get(ctx, workspaceID)
		if err != nil {
			zap.L().Warn("queue: cache get failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		} else if q != nil {
			return q, nil
		}
	}

	q, err := s.store.GetQueue(ctx, workspaceID, 0, 0)
	if err != nil {
		return nil, err
	}
	if q != nil && s.cache != nil {
		if err := s.cache.Put(ctx, q); err != nil {
			zap.L().Warn("queue: cache fill failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		}
	}
	return q, nil
}

// Page is one slice of the published queue.
type Page struct {
	WorkspaceID string                   `json:"workspace_id"`
	Generation  int64                    `json:"generation"`
	BuiltAt     time.Time                `json:"built_at"`
	Total       int                      `json:"total"`
	Offset      int                      `json:"offset"`
	Limit       int                      `json:"limit"`
	Entries     []model.RankedQueueEntry `json:"entries"`
}

// Page serves entries [offset, offset+limit). limit defaults to the queue's
// default size and is capped at the max page size. Ranks come from the
// stored queue and are never derived from position.
func (s *Service) Page(ctx context.Context, workspaceID string, offset, limit int) (*Page, error) {
	if offset < 0 {
		return nil, eris.Errorf("queue: negative offset %d", offset)
	}
	if limit <= 0 {
		limit = min(s.ranker.Size(), s.maxPage)
	}
	limit = min(limit, s.maxPage)

	q, err := s.Queue(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	p := &Page{WorkspaceID: workspaceID, Offset: offset, Limit: limit, Entries: []model.RankedQueueEntry{}}
	if q == nil {
		return p, nil
	}
	p.Generation = q.Generation
	p.BuiltAt = q.BuiltAt
	p.Total = len(q.Entries)
	p.Entries = q.Page(offset, limit)
	return p, nil
}

// Explain scores the current snapshot without publishing anything. Eligible
// entities come first, then by score descending, then kind and ID.
func (s *Service) Explain(ctx context.Context, workspaceID string) ([]model.EntityScore, error) {
	snap, err := s.store.LoadSnapshot(ctx, workspaceID)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: load snapshot %s", workspaceID)
	}
	scores := s.scorer.ScoreSnapshot(snap)
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kind != b.Kind {
			return a.Kind == model.KindPerson
		}
		return a.EntityID < b.EntityID
	})
	return scores, nil
}
