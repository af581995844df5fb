// Package balance assigns classified candidates to buyer-group roles under
// per-role and overall size targets.
package balance

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/classify"
	"github.com/sells-group/speedrun-cli/internal/model"
)

// DefaultFloor is the minimum confidence for a candidate to be considered
// for a role at all.
const DefaultFloor = 0.5

// Balancer performs the constrained assignment. It is stateless apart from
// its options and safe for concurrent use.
type Balancer struct {
	floor float64
	now   func() time.Time
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithFloor overrides the acceptance floor.
func WithFloor(f float64) Option {
	return func(b *Balancer) {
		if f > 0 && f <= 1 {
			b.floor = f
		}
	}
}

// WithNow sets the clock used for GeneratedAt.
func WithNow(fn func() time.Time) Option {
	return func(b *Balancer) { b.now = fn }
}

// New creates a Balancer.
func New(opts ...Option) *Balancer {
	b := &Balancer{floor: DefaultFloor, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Floor returns the configured acceptance floor.
func (b *Balancer) Floor() float64 { return b.floor }

// slot is one candidate's eligibility for one role.
type slot struct {
	cand      int
	role      model.Role
	conf      float64
	reasoning string
}

// run holds the working state of one Balance call.
type run struct {
	cands    []model.ScoredCandidate
	spec     model.RoleTargetSpec
	eligible map[model.Role][]slot
	assigned map[int]model.Role
	count    map[model.Role]int
}

// Balance produces the buyer group for one company. The steps run in a
// fixed order: provisional selection, conflict resolution with backfill,
// minimum backfill, redistribution of total headroom, then the total-size
// trim. Roles that cannot reach their minimum are reported in Underfilled and
// a group below total_min in Undersized; members are never invented and
// never placed below the floor.
func (b *Balancer) Balance(companyID string, scored []model.ScoredCandidate, spec model.RoleTargetSpec) *model.BuyerGroup {
	r := b.prepare(scored, spec)

	r.resolveProvisional()
	r.fill()
	r.repairMinimums()
	r.redistribute()
	r.trim()

	group := &model.BuyerGroup{
		CompanyID:   companyID,
		Members:     make(map[model.Role][]model.Member, len(model.Roles)),
		TargetSpec:  spec,
		GeneratedAt: b.now().UTC(),
	}
	for _, role := range model.Roles {
		members := []model.Member{}
		for _, s := range r.eligible[role] {
			if r.assigned[s.cand] != role {
				continue
			}
			c := r.cands[s.cand].Candidate
			members = append(members, model.Member{
				CandidateID: c.SourceID,
				FullName:    c.FullName,
				Title:       c.RawTitle,
				Seniority:   c.Seniority,
				Confidence:  s.conf,
				Reasoning:   s.reasoning,
			})
		}
		group.Members[role] = members

		if want := spec.Target(role).Min; len(members) < want {
			group.Underfilled = append(group.Underfilled, model.RoleShortfall{Role: role, Min: want, Filled: len(members)})
		}
	}

	if size := group.Size(); size < spec.TotalMin {
		group.Undersized = &model.SizeShortfall{Min: spec.TotalMin, Filled: size}
	}

	if len(group.Underfilled) > 0 || group.Undersized != nil {
		zap.L().Info("balance: group under target",
			zap.String("company_id", companyID),
			zap.Int("underfilled", len(group.Underfilled)),
			zap.Int("members", group.Size()),
		)
	}
	return group
}

func (b *Balancer) prepare(scored []model.ScoredCandidate, spec model.RoleTargetSpec) *run {
	// Fully ordered so neither the ranking nor the duplicate kept below
	// depends on input order.
	cands := append([]model.ScoredCandidate(nil), scored...)
	sort.Slice(cands, func(i, j int) bool {
		if c := model.CompareCandidates(cands[i].Candidate, cands[j].Candidate); c != 0 {
			return c < 0
		}
		return compareScores(cands[i], cands[j]) < 0
	})
	dedup := make([]model.ScoredCandidate, 0, len(cands))
	for i, c := range cands {
		if i > 0 && c.Candidate.SourceID == cands[i-1].Candidate.SourceID {
			continue
		}
		dedup = append(dedup, c)
	}
	cands = dedup

	r := &run{
		cands:    cands,
		spec:     spec,
		eligible: make(map[model.Role][]slot, len(model.Roles)),
		assigned: make(map[int]model.Role),
		count:    make(map[model.Role]int, len(model.Roles)),
	}
	for _, role := range model.Roles {
		var slots []slot
		for i, c := range cands {
			rs := c.Score(role)
			if rs.Confidence >= b.floor {
				slots = append(slots, slot{cand: i, role: role, conf: rs.Confidence, reasoning: rs.Reasoning})
			}
		}
		sort.SliceStable(slots, func(i, j int) bool { return r.better(slots[i], slots[j]) })
		r.eligible[role] = slots
	}
	return r
}

func compareScores(a, b model.ScoredCandidate) int {
	for _, role := range model.Roles {
		sa, sb := a.Score(role), b.Score(role)
		if sa.Confidence != sb.Confidence {
			if sa.Confidence < sb.Confidence {
				return -1
			}
			return 1
		}
		if c := strings.Compare(sa.Reasoning, sb.Reasoning); c != 0 {
			return c
		}
	}
	return 0
}

// better orders slots: confidence descending, then the classifier's
// tie-break (seniority, normalized title, source ID), then canonical role
// order.
func (r *run) better(a, b slot) bool {
	if a.conf != b.conf {
		return a.conf > b.conf
	}
	if a.cand != b.cand {
		return classify.Precedes(r.cands[a.cand].Candidate, r.cands[b.cand].Candidate)
	}
	return a.role.Index() < b.role.Index()
}

func (r *run) max(role model.Role) int { return r.spec.Target(role).Max }
func (r *run) min(role model.Role) int { return r.spec.Target(role).Min }

func (r *run) assign(cand int, role model.Role) {
	if prev, ok := r.assigned[cand]; ok {
		r.count[prev]--
	}
	r.assigned[cand] = role
	r.count[role]++
}

func (r *run) unassign(cand int) {
	if prev, ok := r.assigned[cand]; ok {
		r.count[prev]--
		delete(r.assigned, cand)
	}
}

// resolveProvisional takes the top max eligible candidates per role, then
// keeps each multiply-selected candidate only in the role where its
// confidence is highest.
func (r *run) resolveProvisional() {
	best := make(map[int]slot)
	for _, role := range model.Roles {
		limit := r.max(role)
		for i, s := range r.eligible[role] {
			if i >= limit {
				break
			}
			cur, ok := best[s.cand]
			if !ok || s.conf > cur.conf {
				best[s.cand] = s
			}
		}
	}

	picks := make([]slot, 0, len(best))
	for _, s := range best {
		picks = append(picks, s)
	}
	sort.Slice(picks, func(i, j int) bool { return r.better(picks[i], picks[j]) })
	for _, s := range picks {
		r.assign(s.cand, s.role)
	}
}

// fill backfills vacancies from unassigned eligible candidates, best slot
// first across all roles, never exceeding a role's max.
func (r *run) fill() {
	var pool []slot
	for _, role := range model.Roles {
		for _, s := range r.eligible[role] {
			if _, taken := r.assigned[s.cand]; !taken {
				pool = append(pool, s)
			}
		}
	}
	sort.Slice(pool, func(i, j int) bool { return r.better(pool[i], pool[j]) })
	for _, s := range pool {
		if _, taken := r.assigned[s.cand]; taken {
			continue
		}
		if r.count[s.role] < r.max(s.role) {
			r.assign(s.cand, s.role)
		}
	}
}

// repairMinimums raises under-minimum roles by moving eligible members out
// of roles that sit above their own minimum, then refilling the vacated
// roles. It stops when no move makes progress.
func (r *run) repairMinimums() {
	for {
		moved := false
		for _, role := range model.Roles {
			if r.count[role] >= r.min(role) {
				continue
			}
			for _, s := range r.eligible[role] {
				from, ok := r.assigned[s.cand]
				if !ok || from == role || r.count[from] <= r.min(from) {
					continue
				}
				r.assign(s.cand, role)
				moved = true
				break
			}
		}
		if !moved {
			return
		}
		r.fill()
	}
}

// redistribute hands total headroom to roles past their max when the role
// maxima sum to less than total_max. Remaining eligible candidates join in
// best-slot order until the group reaches total_max or runs out.
func (r *run) redistribute() {
	limit := r.spec.TotalMax
	sumMax := 0
	for _, role := range model.Roles {
		sumMax += r.max(role)
	}
	if limit <= 0 || sumMax >= limit || len(r.assigned) >= limit {
		return
	}

	var pool []slot
	for _, role := range model.Roles {
		for _, s := range r.eligible[role] {
			if _, taken := r.assigned[s.cand]; !taken {
				pool = append(pool, s)
			}
		}
	}
	sort.Slice(pool, func(i, j int) bool { return r.better(pool[i], pool[j]) })
	for _, s := range pool {
		if len(r.assigned) >= limit {
			return
		}
		if _, taken := r.assigned[s.cand]; !taken {
			r.assign(s.cand, s.role)
		}
	}
}

// trim enforces total_max by dropping the lowest-confidence members,
// protecting role minimums unless every remaining member is protected.
func (r *run) trim() {
	total := len(r.assigned)
	limit := r.spec.TotalMax
	if limit <= 0 || total <= limit {
		return
	}

	var members []slot
	for _, role := range model.Roles {
		for _, s := range r.eligible[role] {
			if r.assigned[s.cand] == role {
				members = append(members, s)
			}
		}
	}
	// Worst first.
	sort.Slice(members, func(i, j int) bool { return r.better(members[j], members[i]) })

	for len(r.assigned) > limit {
		victim := -1
		for i, s := range members {
			if _, ok := r.assigned[s.cand]; !ok {
				continue
			}
			if r.count[s.role] > r.min(s.role) {
				victim = i
				break
			}
		}
		if victim < 0 {
			for i, s := range members {
				if _, ok := r.assigned[s.cand]; ok {
					victim = i
					break
				}
			}
		}
		r.unassign(members[victim].cand)
	}
}
