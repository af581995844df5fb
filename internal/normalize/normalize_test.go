package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speedrun-cli/internal/model"
)

func mustValid(t *testing.T, r Result) model.Candidate {
	t.Helper()
	v, ok := r.(Valid)
	require.True(t, ok, "expected Valid, got %#v", r)
	return v.Candidate
}

func TestNormalize_SynonymsShareToken(t *testing.T) {
	t.Parallel()
	n := New()

	long := mustValid(t, n.Normalize(model.RawProfile{SourceID: "1", CompanyID: "acme", Title: "Chief Technology Officer"}))
	short := mustValid(t, n.Normalize(model.RawProfile{SourceID: "2", CompanyID: "acme", Title: "CTO"}))

	assert.Equal(t, "cto", long.NormalizedTitle)
	assert.Equal(t, long.NormalizedTitle, short.NormalizedTitle)
	assert.Equal(t, model.TierCLevel, short.Seniority)
	assert.Equal(t, model.DeptExecutive, short.Department)
}

func TestNormalize_Titles(t *testing.T) {
	t.Parallel()
	n := New()

	tests := []struct {
		name  string
		title string
		dept  string
		token string
		tier  model.SeniorityTier
		want  model.Department
	}{
		{"vp comma", "VP, Engineering", "", "vp engineering", model.TierVP, model.DeptEngineering},
		{"vice president of", "Vice President of Engineering", "", "vp engineering", model.TierVP, model.DeptEngineering},
		{"company mention", "Senior Software Engineer at Acme Inc.", "", "senior software engineer", model.TierIC, model.DeptEngineering},
		{"procurement", "Head of Procurement", "", "head of procurement", model.TierDirector, model.DeptLegal},
		{"diacritics", "Director de Ingeniería", "", "director de ingenieria", model.TierDirector, model.DeptOther},
		{"department field", "Director", "Finance", "director", model.TierDirector, model.DeptFinance},
		{"manager", "Partnerships Manager", "", "partnerships manager", model.TierManager, model.DeptSales},
		{"abbreviation", "Sr. Mgr, Ops", "", "senior manager operations", model.TierManager, model.DeptOperations},
		{"plain ic", "Analyst", "", "analyst", model.TierIC, model.DeptOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := mustValid(t, n.Normalize(model.RawProfile{SourceID: "x", CompanyID: "acme", Title: tt.title, Department: tt.dept}))
			assert.Equal(t, tt.token, c.NormalizedTitle)
			assert.Equal(t, tt.tier, c.Seniority)
			assert.Equal(t, tt.want, c.Department)
			assert.Equal(t, tt.title, c.RawTitle)
		})
	}
}

func TestNormalize_StripsLegalSuffix(t *testing.T) {
	t.Parallel()

	c := mustValid(t, New().Normalize(model.RawProfile{SourceID: "x", CompanyID: "acme", Title: "Founder, Acme Holdings LLC"}))
	assert.Equal(t, "founder acme holdings", c.NormalizedTitle)
	assert.Equal(t, model.TierCLevel, c.Seniority)
}

func TestNormalize_SkipsMissingFields(t *testing.T) {
	t.Parallel()
	n := New()

	r := n.Normalize(model.RawProfile{SourceID: "a", CompanyID: "acme", Title: "   "})
	assert.Equal(t, Skipped{SourceID: "a", Reason: ReasonMissingTitle}, r)

	r = n.Normalize(model.RawProfile{SourceID: "b", Title: "CEO"})
	assert.Equal(t, Skipped{SourceID: "b", Reason: ReasonMissingCompany}, r)

	r = n.Normalize(model.RawProfile{SourceID: "c", CompanyID: "acme", Title: "CEO", Connections: -1})
	assert.Equal(t, Skipped{SourceID: "c", Reason: ReasonInvalidRecord}, r)
}

func TestNormalize_SeniorityHint(t *testing.T) {
	t.Parallel()
	n := New()

	c := mustValid(t, n.Normalize(model.RawProfile{SourceID: "1", CompanyID: "acme", Title: "Platform Specialist", SeniorityHint: "Director"}))
	assert.Equal(t, model.TierDirector, c.Seniority)

	// Synonym tiers are authoritative.
	c = mustValid(t, n.Normalize(model.RawProfile{SourceID: "2", CompanyID: "acme", Title: "Account Executive", SeniorityHint: "vp"}))
	assert.Equal(t, model.TierIC, c.Seniority)
}

func TestNormalize_Signals(t *testing.T) {
	t.Parallel()
	n := New()

	vp := mustValid(t, n.Normalize(model.RawProfile{SourceID: "1", CompanyID: "acme", Title: "VP Sales", ReportsTo: "CEO"}))
	assert.True(t, vp.Signals.BudgetHolder)
	assert.True(t, vp.Signals.ReportsToCEO)
	assert.True(t, vp.Signals.ExternalFacing)

	ceo := mustValid(t, n.Normalize(model.RawProfile{SourceID: "2", CompanyID: "acme", Title: "CEO"}))
	assert.False(t, ceo.Signals.ReportsToCEO)

	cfo := mustValid(t, n.Normalize(model.RawProfile{SourceID: "3", CompanyID: "acme", Title: "CFO"}))
	assert.True(t, cfo.Signals.ReportsToCEO)

	eng := mustValid(t, n.Normalize(model.RawProfile{SourceID: "4", CompanyID: "acme", Title: "Software Engineer", Connections: 1500, Followers: 600}))
	assert.False(t, eng.Signals.BudgetHolder)
	assert.False(t, eng.Signals.ExternalFacing)
	assert.True(t, eng.Signals.HighInfluence)

	owner := mustValid(t, n.Normalize(model.RawProfile{SourceID: "5", CompanyID: "acme", Title: "Analyst", BudgetOwner: true}))
	assert.True(t, owner.Signals.BudgetHolder)
}

func TestNormalize_DropsMalformedEmail(t *testing.T) {
	t.Parallel()
	n := New()

	c := mustValid(t, n.Normalize(model.RawProfile{SourceID: "1", CompanyID: "acme", Title: "CEO", Email: "not-an-email"}))
	assert.Empty(t, c.Email)

	c = mustValid(t, n.Normalize(model.RawProfile{SourceID: "2", CompanyID: "acme", Title: "CEO", Email: "jane@acme.com"}))
	assert.Equal(t, "jane@acme.com", c.Email)
}

func TestNormalize_DerivedSourceIDIsStable(t *testing.T) {
	t.Parallel()
	n := New()
	p := model.RawProfile{CompanyID: "acme", FullName: "Jane Doe", Title: "CFO"}

	a := mustValid(t, n.Normalize(p))
	b := mustValid(t, n.Normalize(p))
	assert.NotEmpty(t, a.SourceID)
	assert.Equal(t, a.SourceID, b.SourceID)
}

func TestNormalizeAll(t *testing.T) {
	t.Parallel()

	cands, skipped := New().NormalizeAll([]model.RawProfile{
		{SourceID: "1", CompanyID: "acme", Title: "CEO"},
		{SourceID: "2", CompanyID: "acme"},
		{SourceID: "1", CompanyID: "acme", Title: "CEO again"},
		{SourceID: "3", CompanyID: "acme", Title: "CFO"},
	})

	require.Len(t, cands, 2)
	assert.Equal(t, "1", cands[0].SourceID)
	assert.Equal(t, "3", cands[1].SourceID)
	assert.Equal(t, []Skipped{
		{SourceID: "2", Reason: ReasonMissingTitle},
		{SourceID: "1", Reason: ReasonDuplicate},
	}, skipped)
}

func TestNormalizeAll_DuplicateWinnerIgnoresOrder(t *testing.T) {
	t.Parallel()

	first := model.RawProfile{SourceID: "7", CompanyID: "acme", Title: "VP Sales", Email: "b@acme.com"}
	second := model.RawProfile{SourceID: "7", CompanyID: "acme", Title: "Account Executive", Email: "a@acme.com"}

	forward, _ := New().NormalizeAll([]model.RawProfile{first, second})
	backward, skipped := New().NormalizeAll([]model.RawProfile{second, first})

	require.Len(t, forward, 1)
	require.Len(t, backward, 1)
	assert.Equal(t, forward[0], backward[0])
	assert.Equal(t, "Account Executive", forward[0].RawTitle)
	assert.Equal(t, []Skipped{{SourceID: "7", Reason: ReasonDuplicate}}, skipped)
}

func TestWithSynonyms(t *testing.T) {
	t.Parallel()

	n := New(WithSynonyms(map[string]Synonym{"Chief Happiness Officer": {Token: "cho", Tier: model.TierDirector}}))
	c := mustValid(t, n.Normalize(model.RawProfile{SourceID: "1", CompanyID: "acme", Title: "chief happiness officer"}))
	assert.Equal(t, "cho", c.NormalizedTitle)
	assert.Equal(t, model.TierDirector, c.Seniority)
}
