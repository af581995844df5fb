// Package classify scores normalized candidates against the five buyer-group
// roles using a fixed table of weighted rules.
package classify

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// NoSignal is the reasoning tag used when no positive rule matched.
const NoSignal = "no_signal"

// MaxAdjustment bounds how far an Adjuster may move a confidence.
const MaxAdjustment = 0.15

// Classifier is a deterministic pure function of its candidate input.
type Classifier struct {
	rules map[model.Role][]Rule
}

// New creates a Classifier. A nil rule table uses DefaultRules.
func New(rules map[model.Role][]Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Score returns exactly one RoleScore per role, in model.Roles order. The
// reasoning tag names the heaviest positive rule that fired.
func (cl *Classifier) Score(c model.Candidate) []model.RoleScore {
	scores := make([]model.RoleScore, 0, len(model.Roles))
	for _, role := range model.Roles {
		var sum, best float64
		tag := NoSignal
		for _, r := range cl.rules[role] {
			if !r.Match(c) {
				continue
			}
			sum += r.Weight
			if r.Weight > best {
				best = r.Weight
				tag = r.Tag
			}
		}
		scores = append(scores, model.RoleScore{
			Role:       role,
			Confidence: clamp(round(sum)),
			Reasoning:  tag,
		})
	}
	return scores
}

// ScoreAll classifies each candidate, preserving input order.
func (cl *Classifier) ScoreAll(cands []model.Candidate) []model.ScoredCandidate {
	out := make([]model.ScoredCandidate, len(cands))
	for i, c := range cands {
		out[i] = model.ScoredCandidate{Candidate: c, Scores: cl.Score(c)}
	}
	return out
}

// Adjuster is an optional post-processor (for example an LLM re-scoring
// pass) that proposes per-role confidence deltas.
type Adjuster interface {
	Adjust(ctx context.Context, c model.Candidate, scores []model.RoleScore) (map[model.Role]float64, error)
}

// ApplyAdjuster runs adj over already-scored candidates. Each delta is
// clamped to ±MaxAdjustment and the result to [0,1]. An adjuster error
// leaves that candidate's deterministic scores untouched.
func ApplyAdjuster(ctx context.Context, adj Adjuster, scored []model.ScoredCandidate) ([]model.ScoredCandidate, error) {
	if adj == nil {
		return scored, nil
	}
	out := make([]model.ScoredCandidate, len(scored))
	var firstErr error
	for i, sc := range scored {
		out[i] = sc
		deltas, err := adj.Adjust(ctx, sc.Candidate, sc.Scores)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "classify: adjust")
			}
			if firstErr == nil {
				firstErr = eris.Wrapf(err, "classify: adjust %s", sc.Candidate.SourceID)
			}
			continue
		}
		adjusted := make([]model.RoleScore, len(sc.Scores))
		for j, rs := range sc.Scores {
			d := math.Max(-MaxAdjustment, math.Min(MaxAdjustment, deltas[rs.Role]))
			if d != 0 {
				rs.Confidence = clamp(round(rs.Confidence + d))
				rs.Reasoning += "+adjusted"
			}
			adjusted[j] = rs
		}
		out[i].Scores = adjusted
	}
	return out, firstErr
}

// Precedes breaks a confidence tie between two candidates: higher seniority
// first, then normalized title, then source ID.
func Precedes(a, b model.Candidate) bool {
	if a.Seniority != b.Seniority {
		return a.Seniority > b.Seniority
	}
	if c := strings.Compare(a.NormalizedTitle, b.NormalizedTitle); c != 0 {
		return c < 0
	}
	return a.SourceID < b.SourceID
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// round trims float noise so sums like 0.45+0.25 compare equal across
// evaluation orders.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
