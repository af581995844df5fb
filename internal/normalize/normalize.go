// Package normalize converts raw enrichment profiles into canonical candidates.
package normalize

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// Skip reasons reported for records that cannot become candidates.
const (
	ReasonMissingTitle   = "missing_title"
	ReasonMissingCompany = "missing_company"
	ReasonInvalidRecord  = "invalid_record"
	ReasonDuplicate      = "duplicate_source_id"
)

// DefaultInfluenceThreshold is the combined connections+followers count at
// which a profile carries the high-influence signal.
const DefaultInfluenceThreshold = 2000

var validate = validator.New(validator.WithRequiredStructEnabled())

// Result is the outcome of normalizing one raw profile: either Valid or
// Skipped. Downstream stages only ever see Valid candidates.
type Result interface {
	isResult()
}

// Valid wraps a normalized candidate.
type Valid struct {
	Candidate model.Candidate
}

// Skipped records why a raw profile was dropped.
type Skipped struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

func (Valid) isResult() {}
func (Skipped) isResult() {}

// Normalizer turns raw profiles into candidates. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	synonyms           map[string]Synonym
	influenceThreshold int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithSynonyms merges extra entries into the synonym table. Keys are folded
// before insertion.
func WithSynonyms(extra map[string]Synonym) Option {
	return func(n *Normalizer) {
		for k, v := range extra {
			n.synonyms[foldTitle(k)] = v
		}
	}
}

// WithInfluenceThreshold overrides DefaultInfluenceThreshold.
func WithInfluenceThreshold(v int) Option {
	return func(n *Normalizer) {
		if v > 0 {
			n.influenceThreshold = v
		}
	}
}

// New creates a Normalizer seeded with DefaultSynonyms.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		synonyms:           make(map[string]Synonym, len(DefaultSynonyms)),
		influenceThreshold: DefaultInfluenceThreshold,
	}
	for k, v := range DefaultSynonyms {
		n.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one raw profile.
func (n *Normalizer) Normalize(p model.RawProfile) Result {
	p = trimProfile(p)
	if err := validate.Struct(p); err != nil {
		return Skipped{SourceID: p.SourceID, Reason: skipReason(err)}
	}

	sourceID := p.SourceID
	if sourceID == "" {
		sourceID = derivedSourceID(p)
	}

	title := n.Title(p.Title)
	tokens := strings.Fields(title.Folded)
	deptTokens := append(append([]string{}, tokens...), strings.Fields(foldTitle(p.Department))...)
	dept := detectDepartment(deptTokens)

	tier := title.Tier
	if !title.Matched && tier == model.TierIC {
		if hinted, ok := tierFromHint(p.SeniorityHint); ok {
			tier = hinted
		}
	}

	email := p.Email
	if email != "" && validate.Var(email, "email") != nil {
		email = ""
	}

	return Valid{Candidate: model.Candidate{
		SourceID:        sourceID,
		CompanyID:       p.CompanyID,
		FullName:        p.FullName,
		RawTitle:        p.Title,
		NormalizedTitle: title.Token,
		Department:      dept,
		Seniority:       tier,
		Signals:         n.signals(p, tokens, title.Token, dept, tier),
		Email:           email,
		Phone:           p.Phone,
		LinkedInURL:     p.LinkedInURL,
	}}
}

// NormalizeAll normalizes a batch, preserving input order. Records sharing a
// source ID collapse to one candidate at the first one's position; the kept
// record is the lowest by model.CompareCandidates and the rest are skipped
// as duplicates.
func (n *Normalizer) NormalizeAll(profiles []model.RawProfile) ([]model.Candidate, []Skipped) {
	candidates := make([]model.Candidate, 0, len(profiles))
	var skipped []Skipped
	index := make(map[string]int, len(profiles))

	for _, p := range profiles {
		switch r := n.Normalize(p).(type) {
		case Valid:
			id := r.Candidate.SourceID
			if i, ok := index[id]; ok {
				skipped = append(skipped, Skipped{SourceID: id, Reason: ReasonDuplicate})
				if model.CompareCandidates(r.Candidate, candidates[i]) < 0 {
					candidates[i] = r.Candidate
				}
				continue
			}
			index[id] = len(candidates)
			candidates = append(candidates, r.Candidate)
		case Skipped:
			skipped = append(skipped, r)
		}
	}
	return candidates, skipped
}

// TitleInfo is the normalized form of a title.
type TitleInfo struct {
	Folded  string
	Token   string
	Tier    model.SeniorityTier
	Matched bool
}

// Title normalizes a raw title. Known synonyms map to their canonical token
// and tier; anything else passes through folded with a heuristic tier.
func (n *Normalizer) Title(raw string) TitleInfo {
	folded := foldTitle(raw)
	if syn, ok := n.synonyms[folded]; ok {
		return TitleInfo{Folded: folded, Token: syn.Token, Tier: syn.Tier, Matched: true}
	}
	return TitleInfo{Folded: folded, Token: folded, Tier: inferTier(strings.Fields(folded))}
}

var (
	budgetPhrases   = []string{"budget", "general manager", "managing director", "owner", "controller"}
	externalPhrases = []string{
		"partner", "partnerships", "alliances", "community", "evangelist",
		"advocate", "developer relations", "devrel", "public relations",
		"investor relations", "customer success", "account manager", "ecosystem",
	}
	ceoPhrases = []string{"ceo", "chief executive", "founder", "cofounder", "president", "owner"}
)

func (n *Normalizer) signals(p model.RawProfile, tokens []string, token string, dept model.Department, tier model.SeniorityTier) model.AuthoritySignals {
	var s model.AuthoritySignals

	s.BudgetHolder = p.BudgetOwner ||
		tier >= model.TierVP ||
		(dept == model.DeptFinance && tier >= model.TierDirector) ||
		containsAny(tokens, budgetPhrases)

	reportsTo := strings.Fields(foldTitle(p.ReportsTo))
	isTop := token == "ceo" || token == "founder" || token == "owner" || token == "president"
	s.ReportsToCEO = containsAny(reportsTo, ceoPhrases) || (tier == model.TierCLevel && !isTop)

	s.ExternalFacing = dept == model.DeptSales || containsAny(tokens, externalPhrases)
	s.HighInfluence = p.Connections+p.Followers >= n.influenceThreshold

	return s
}

func trimProfile(p model.RawProfile) model.RawProfile {
	p.SourceID = strings.TrimSpace(p.SourceID)
	p.CompanyID = strings.TrimSpace(p.CompanyID)
	p.FullName = strings.TrimSpace(p.FullName)
	p.Title = strings.TrimSpace(p.Title)
	p.Department = strings.TrimSpace(p.Department)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	return p
}

func skipReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ReasonInvalidRecord
	}
	switch verrs[0].StructField() {
	case "Title":
		return ReasonMissingTitle
	case "CompanyID":
		return ReasonMissingCompany
	default:
		return ReasonInvalidRecord
	}
}

// derivedSourceID builds a stable identifier for profiles the provider did
// not key, so re-runs on identical input yield identical IDs.
func derivedSourceID(p model.RawProfile) string {
	key := strings.Join([]string{p.CompanyID, fold(p.FullName), fold(p.Title), fold(p.Email)}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
