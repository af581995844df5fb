// Package ranking merges scored workspace entities into the bounded,
// totally ordered speedrun queue.
package ranking

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// DefaultSize is the default queue length.
const DefaultSize = 50

// ErrInconsistentSnapshot aborts a rebuild whose input cannot be ranked.
// The previously published queue stays in place.
var ErrInconsistentSnapshot = eris.New("ranking: inconsistent snapshot")

// Ranker orders scored entities. It is a pure function of its input.
type Ranker struct {
	size int
	mode model.OrderingMode
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithSize bounds the queue to n entries. Non-positive values are ignored.
func WithSize(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.size = n
		}
	}
}

// WithMode selects the ordering mode.
func WithMode(m model.OrderingMode) Option {
	return func(r *Ranker) {
		if m != "" {
			r.mode = m
		}
	}
}

// New returns a Ranker with merged ordering and a queue of DefaultSize.
func New(opts ...Option) *Ranker {
	r := &Ranker{size: DefaultSize, mode: model.OrderMerged}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Size returns the queue bound.
func (r *Ranker) Size() int { return r.size }

// Mode returns the ordering mode.
func (r *Ranker) Mode() model.OrderingMode { return r.mode }

// Rank filters and orders scores and assigns dense ranks 1..min(N, eligible).
// scores must cover every entity in the workspace, ineligible ones
// included: a company that any person references is represented only
// through its people and never gets its own entry. The second return value
// is the number of rankable entities before truncation.
func (r *Ranker) Rank(scores []model.EntityScore) ([]model.RankedQueueEntry, int, error) {
	if r.mode != model.OrderMerged && r.mode != model.OrderPeopleFirst {
		return nil, 0, eris.Errorf("ranking: unknown ordering mode %q", r.mode)
	}

	seen := make(map[model.EntityKind]map[string]bool, 2)
	hasPeople := make(map[string]bool)
	for _, es := range scores {
		if es.EntityID == "" {
			return nil, 0, eris.Wrap(ErrInconsistentSnapshot, "entity without id")
		}
		if es.Kind != model.KindPerson && es.Kind != model.KindCompany {
			return nil, 0, eris.Wrapf(ErrInconsistentSnapshot, "entity %s has unknown kind %q", es.EntityID, es.Kind)
		}
		if math.IsNaN(es.Score) || math.IsInf(es.Score, 0) {
			return nil, 0, eris.Wrapf(ErrInconsistentSnapshot, "%s %s has non-finite score", es.Kind, es.EntityID)
		}
		if seen[es.Kind] == nil {
			seen[es.Kind] = make(map[string]bool)
		}
		if seen[es.Kind][es.EntityID] {
			return nil, 0, eris.Wrapf(ErrInconsistentSnapshot, "%s %s scored twice", es.Kind, es.EntityID)
		}
		seen[es.Kind][es.EntityID] = true
		if es.Kind == model.KindPerson && es.CompanyID != "" {
			hasPeople[es.CompanyID] = true
		}
	}

	pool := make([]model.EntityScore, 0, len(scores))
	for _, es := range scores {
		if !es.Eligible {
			continue
		}
		if es.Kind == model.KindCompany && hasPeople[es.EntityID] {
			continue
		}
		pool = append(pool, es)
	}

	less := r.less()
	sort.Slice(pool, func(i, j int) bool { return less(pool[i], pool[j]) })

	n := min(r.size, len(pool))
	entries := make([]model.RankedQueueEntry, n)
	for i := range n {
		es := pool[i]
		entries[i] = model.RankedQueueEntry{
			GlobalRank: i + 1,
			Kind:       es.Kind,
			EntityID:   es.EntityID,
			CompanyID:  es.CompanyID,
			Score:      es.Score,
		}
	}
	return entries, len(pool), nil
}

// Build ranks a scored snapshot into an unpublished queue. The caller
// assigns ID and generation.
func (r *Ranker) Build(snap *model.Snapshot, scores []model.EntityScore) (*model.RankedQueue, error) {
	entries, eligible, err := r.Rank(scores)
	if err != nil {
		return nil, err
	}
	return &model.RankedQueue{
		WorkspaceID: snap.WorkspaceID,
		Mode:        r.mode,
		Eligible:    eligible,
		Entries:     entries,
		SnapshotAt:  snap.TakenAt,
	}, nil
}

// less is the total order over rankable entities. Merged mode orders by
// score and falls back to kind precedence only on equal scores;
// people-first mode puts every person ahead of every company.
func (r *Ranker) less() func(a, b model.EntityScore) bool {
	return func(a, b model.EntityScore) bool {
		if r.mode == model.OrderPeopleFirst && a.Kind != b.Kind {
			return a.Kind == model.KindPerson
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kind != b.Kind {
			return a.Kind == model.KindPerson
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.EntityID < b.EntityID
	}
}
