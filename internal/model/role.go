package model

// Role is a sales-relevant buyer-group archetype.
type Role string

const (
	RoleDecisionMaker Role = "decision_maker"
	RoleChampion      Role = "champion"
	RoleStakeholder   Role = "stakeholder"
	RoleBlocker       Role = "blocker"
	RoleIntroducer    Role = "introducer"
)

// Roles lists every role in canonical order. Iteration over roles always uses
// this slice so results never depend on map ordering.
var Roles = []Role{
	RoleDecisionMaker,
	RoleChampion,
	RoleStakeholder,
	RoleBlocker,
	RoleIntroducer,
}

// Index returns the role's position in Roles, or -1.
func (r Role) Index() int {
	for i, role := range Roles {
		if role == r {
			return i
		}
	}
	return -1
}

// Valid reports whether r is one of the five roles.
func (r Role) Valid() bool {
	return r.Index() >= 0
}

// RoleScore is one candidate's confidence for one role.
type RoleScore struct {
	Role       Role    `json:"role"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ScoredCandidate pairs a candidate with exactly one RoleScore per role,
// ordered as in Roles.
type ScoredCandidate struct {
	Candidate Candidate   `json:"candidate"`
	Scores    []RoleScore `json:"scores"`
}

// Score returns the candidate's score for role. The zero RoleScore is
// returned when the role is missing.
func (s ScoredCandidate) Score(role Role) RoleScore {
	for _, rs := range s.Scores {
		if rs.Role == role {
			return rs
		}
	}
	return RoleScore{Role: role}
}
