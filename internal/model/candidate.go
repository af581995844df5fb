package model

import (
	"cmp"
	"strings"

	"github.com/rotisserie/eris"
)

// Department is the functional area a candidate's title maps to.
type Department string

const (
	DeptExecutive   Department = "executive"
	DeptLegal       Department = "legal_procurement"
	DeptFinance     Department = "finance"
	DeptEngineering Department = "engineering"
	DeptSales       Department = "sales"
	DeptOperations  Department = "operations"
	DeptOther       Department = "other"
)

// DepartmentPriority is the fixed order used when a title matches several
// departments. The first match wins.
var DepartmentPriority = []Department{
	DeptExecutive,
	DeptLegal,
	DeptFinance,
	DeptEngineering,
	DeptSales,
	DeptOperations,
}

// SeniorityTier orders candidates by organizational level. Higher is more senior.
type SeniorityTier int

const (
	TierIC SeniorityTier = iota
	TierManager
	TierDirector
	TierVP
	TierCLevel
)

var tierNames = map[SeniorityTier]string{
	TierIC:       "ic",
	TierManager:  "manager",
	TierDirector: "director",
	TierVP:       "vp",
	TierCLevel:   "c_level",
}

func (t SeniorityTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the tier by name.
func (t SeniorityTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *SeniorityTier) UnmarshalText(b []byte) error {
	tier, ok := ParseSeniorityTier(string(b))
	if !ok {
		return eris.Errorf("model: unknown seniority tier %q", string(b))
	}
	*t = tier
	return nil
}

// ParseSeniorityTier maps a tier name (as produced by String) back to a tier.
func ParseSeniorityTier(s string) (SeniorityTier, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tier, name := range tierNames {
		if name == s {
			return tier, true
		}
	}
	return TierIC, false
}

// AuthoritySignals are boolean hints derived from a profile.
type AuthoritySignals struct {
	BudgetHolder   bool `json:"budget_holder"`
	ReportsToCEO   bool `json:"reports_to_ceo"`
	ExternalFacing bool `json:"external_facing"`
	HighInfluence  bool `json:"high_influence"`
}

func (s AuthoritySignals) bits() int {
	n := 0
	for i, on := range []bool{s.BudgetHolder, s.ReportsToCEO, s.ExternalFacing, s.HighInfluence} {
		if on {
			n |= 1 << i
		}
	}
	return n
}

// Candidate is one normalized external profile. A re-enrichment produces a
// new Candidate; existing values are never mutated.
type Candidate struct {
	SourceID        string           `json:"source_id"`
	CompanyID       string           `json:"company_id"`
	FullName        string           `json:"full_name,omitempty"`
	RawTitle        string           `json:"raw_title"`
	NormalizedTitle string           `json:"normalized_title"`
	Department      Department       `json:"department"`
	Seniority       SeniorityTier    `json:"seniority"`
	Signals         AuthoritySignals `json:"signals"`
	Email           string           `json:"email,omitempty"`
	Phone           string           `json:"phone,omitempty"`
	LinkedInURL     string           `json:"linkedin_url,omitempty"`
}

// RawProfile is an employee record as returned by an enrichment source.
// Only Title and CompanyID are mandatory.
type RawProfile struct {
	SourceID      string `json:"source_id"`
	CompanyID     string `json:"company_id" validate:"required"`
	FullName      string `json:"full_name"`
	Title         string `json:"title" validate:"required"`
	Department    string `json:"department,omitempty"`
	SeniorityHint string `json:"seniority,omitempty"`
	ReportsTo     string `json:"reports_to,omitempty"`
	BudgetOwner   bool   `json:"budget_owner,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`
	Connections   int    `json:"connections,omitempty" validate:"gte=0"`
	Followers     int    `json:"followers,omitempty" validate:"gte=0"`
}

// CompareCandidates orders candidates by source ID and then by every
// normalized field, so records sharing a source ID resolve the same way
// whatever order they arrive in.
func CompareCandidates(a, b Candidate) int {
	if c := strings.Compare(a.SourceID, b.SourceID); c != 0 {
		return c
	}
	for _, f := range [][2]string{
		{a.NormalizedTitle, b.NormalizedTitle},
		{a.RawTitle, b.RawTitle},
		{a.FullName, b.FullName},
		{a.Email, b.Email},
		{a.Phone, b.Phone},
		{a.LinkedInURL, b.LinkedInURL},
		{a.CompanyID, b.CompanyID},
		{string(a.Department), string(b.Department)},
	} {
		if c := strings.Compare(f[0], f[1]); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.Seniority, b.Seniority); c != 0 {
		return c
	}
	return cmp.Compare(a.Signals.bits(), b.Signals.bits())
}
