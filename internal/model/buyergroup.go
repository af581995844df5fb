package model

import "time"

// Bracket is an organization-size bracket.
type Bracket string

const (
	BracketSmall      Bracket = "small"
	BracketMedium     Bracket = "medium"
	BracketLarge      Bracket = "large"
	BracketEnterprise Bracket = "enterprise"
)

// Brackets lists the size brackets from smallest to largest.
var Brackets = []Bracket{BracketSmall, BracketMedium, BracketLarge, BracketEnterprise}

// RoleTarget is the inclusive member-count band for one role.
type RoleTarget struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// RoleTargetSpec holds per-role and overall group-size targets for a bracket.
type RoleTargetSpec struct {
	Bracket  Bracket             `json:"bracket" yaml:"-"`
	Roles    map[Role]RoleTarget `json:"roles" yaml:"roles"`
	TotalMin int                 `json:"total_min" yaml:"total_min"`
	TotalMax int                 `json:"total_max" yaml:"total_max"`
}

// Target returns the band for role; roles absent from the target spec get 0-0.
func (s RoleTargetSpec) Target(role Role) RoleTarget {
	return s.Roles[role]
}

// Member is one candidate placed into a buyer-group role.
type Member struct {
	CandidateID string        `json:"candidate_id"`
	FullName    string        `json:"full_name,omitempty"`
	Title       string        `json:"title,omitempty"`
	Seniority   SeniorityTier `json:"seniority"`
	Confidence  float64       `json:"confidence"`
	Reasoning   string        `json:"reasoning"`
}

// RoleShortfall records a role that could not reach its minimum.
type RoleShortfall struct {
	Role   Role `json:"role"`
	Min    int  `json:"min"`
	Filled int  `json:"filled"`
}

// SizeShortfall records a group that could not reach the total minimum.
type SizeShortfall struct {
	Min    int `json:"min"`
	Filled int `json:"filled"`
}

// BuyerGroup is the role assignment for one company. It is replaced as a
// whole on every discovery run.
type BuyerGroup struct {
	ID          string            `json:"id"`
	CompanyID   string            `json:"company_id"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	Members     map[Role][]Member `json:"members"`
	TargetSpec  RoleTargetSpec    `json:"target_spec"`
	Underfilled []RoleShortfall   `json:"underfilled,omitempty"`
	Undersized  *SizeShortfall    `json:"undersized,omitempty"`
	Skipped     int               `json:"skipped"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Size returns the total number of members across roles.
func (g *BuyerGroup) Size() int {
	n := 0
	for _, members := range g.Members {
		n += len(members)
	}
	return n
}

// RoleOf returns the role a candidate was placed in, if any.
func (g *BuyerGroup) RoleOf(candidateID string) (Role, bool) {
	for _, role := range Roles {
		for _, m := range g.Members[role] {
			if m.CandidateID == candidateID {
				return role, true
			}
		}
	}
	return "", false
}

// Completeness is the fraction of roles whose minimum is met, in [0,1].
// Roles with a zero minimum count as met.
func (g *BuyerGroup) Completeness() float64 {
	if g == nil {
		return 0
	}
	met := 0
	for _, role := range Roles {
		if len(g.Members[role]) >= g.TargetSpec.Target(role).Min {
			met++
		}
	}
	return float64(met) / float64(len(Roles))
}
