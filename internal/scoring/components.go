package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// neutral is used when the underlying data is missing.
const neutral = 0.5

var stageScores = map[string]float64{
	"opportunity": 1.0,
	"qualified":   0.8,
	"prospect":    0.5,
	"lead":        0.4,
	"customer":    0.2,
	"churned":     0.1,
}

var roleScores = map[model.Role]float64{
	model.RoleDecisionMaker: 1.0,
	model.RoleChampion:      0.9,
	model.RoleIntroducer:    0.7,
	model.RoleStakeholder:   0.6,
	model.RoleBlocker:       0.3,
}

// notInGroup is the role component for people outside their company's
// buyer group.
const notInGroup = 0.2

var seniorityScores = map[model.SeniorityTier]float64{
	model.TierCLevel:   1.0,
	model.TierVP:       0.85,
	model.TierDirector: 0.7,
	model.TierManager:  0.5,
	model.TierIC:       0.3,
}

// sizeScore maps headcount onto a log scale that saturates at 10,000.
func sizeScore(employees *int, flaggedLarge bool) float64 {
	if employees == nil {
		if flaggedLarge {
			return 0.8
		}
		return neutral
	}
	n := *employees
	if n <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(float64(n)+1)/4)
}

func revenueScore(revenue *float64) float64 {
	if revenue == nil {
		return neutral
	}
	switch r := *revenue; {
	case r >= 250_000_000:
		return 1.0
	case r >= 50_000_000:
		return 0.8
	case r >= 10_000_000:
		return 0.6
	case r >= 1_000_000:
		return 0.4
	case r > 0:
		return 0.2
	default:
		return 0
	}
}

func stageScore(stage string) float64 {
	if s, ok := stageScores[strings.ToLower(strings.TrimSpace(stage))]; ok {
		return s
	}
	return 0.3
}

func dealValueScore(v *float64) float64 {
	if v == nil {
		return neutral
	}
	switch d := *v; {
	case d >= 500_000:
		return 1.0
	case d >= 100_000:
		return 0.8
	case d >= 50_000:
		return 0.6
	case d >= 10_000:
		return 0.4
	case d > 0:
		return 0.2
	default:
		return 0
	}
}

func buyerGroupScore(g *model.BuyerGroup) float64 {
	if g == nil {
		return neutral
	}
	return g.Completeness()
}

func contactScore(p model.Person) float64 {
	var s float64
	if strings.TrimSpace(p.Email) != "" {
		s += 0.6
	}
	if strings.TrimSpace(p.Phone) != "" {
		s += 0.4
	}
	return s
}

// decay halves the weight of an engagement every halfLifeDays.
// Formula: 2^(-ageDays / halfLifeDays)
func decay(at, now time.Time, halfLifeDays int) float64 {
	if at.IsZero() {
		return 0
	}
	ageDays := now.Sub(at).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	halfLife := float64(halfLifeDays)
	if halfLife <= 0 {
		halfLife = 30
	}
	return math.Pow(2, -ageDays/halfLife)
}

// member returns the buyer-group entry for a candidate, if any.
func member(g *model.BuyerGroup, candidateID string) (model.Role, model.Member, bool) {
	if g == nil || candidateID == "" {
		return "", model.Member{}, false
	}
	for _, role := range model.Roles {
		for _, m := range g.Members[role] {
			if m.CandidateID == candidateID {
				return role, m, true
			}
		}
	}
	return "", model.Member{}, false
}

// weighted combines 0-1 component scores into a 0-100 score rounded to
// two decimals.
func weighted(parts []component) float64 {
	var sum, total float64
	for _, p := range parts {
		sum += p.weight
		total += p.value * p.weight
	}
	if sum <= 0 {
		return 0
	}
	return round2(total / sum * 100)
}

type component struct {
	value  float64
	weight float64
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
