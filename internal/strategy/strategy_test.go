package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, p anthropic.Prompt) (*anthropic.Completion, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Completion), args.Error(1)
}

type fakeSource struct {
	companies map[string]*model.Company
	groups    map[string]*model.BuyerGroup
	err       error
}

func (f *fakeSource) GetCompany(_ context.Context, id string) (*model.Company, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.companies[id], nil
}

func (f *fakeSource) GetBuyerGroup(_ context.Context, id string) (*model.BuyerGroup, error) {
	return f.groups[id], nil
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

func acmeGroup() *model.BuyerGroup {
	return &model.BuyerGroup{
		ID:        "g1",
		CompanyID: "acme",
		Members: map[model.Role][]model.Member{
			model.RoleChampion:      {{CandidateID: "c2", FullName: "Sam Ortiz", Title: "Director of IT", Seniority: model.TierDirector, Confidence: 0.8}},
			model.RoleDecisionMaker: {{CandidateID: "c1", FullName: "Dana Reyes", Title: "CFO", Seniority: model.TierCLevel, Confidence: 0.9}},
		},
		TargetSpec:  model.RoleTargetSpec{Bracket: model.BracketMedium},
		Underfilled: []model.RoleShortfall{{Role: model.RoleBlocker, Min: 1, Filled: 0}},
		Undersized:  &model.SizeShortfall{Min: 8, Filled: 2},
	}
}

func newSource() *fakeSource {
	return &fakeSource{
		companies: map[string]*model.Company{
			"acme":   {ID: "acme", Name: "Acme Corp", Domain: "acme.com", EmployeeCount: intPtr(120), Stage: "evaluation"},
			"lonely": {ID: "lonely", Name: "Lonely Inc"},
		},
		groups: map[string]*model.BuyerGroup{"acme": acmeGroup()},
	}
}

func TestPrompt(t *testing.T) {
	src := newSource()
	p := Prompt(src.companies["acme"], acmeGroup())

	assert.Contains(t, p, "Account: Acme Corp")
	assert.Contains(t, p, "Employees: 120")
	assert.Contains(t, p, "(medium bracket)")
	assert.Contains(t, p, "Missing coverage:\n  - blocker: 0 of 1")
	assert.Contains(t, p, "Group size: 2 of minimum 8")

	// Decision makers come before champions regardless of map order.
	dm := strings.Index(p, "decision_maker: Dana Reyes, CFO (c_level, confidence 0.90)")
	ch := strings.Index(p, "champion: Sam Ortiz")
	require.GreaterOrEqual(t, dm, 0)
	require.GreaterOrEqual(t, ch, 0)
	assert.Less(t, dm, ch)

	assert.Equal(t, p, Prompt(src.companies["acme"], acmeGroup()))
}

func TestPrompt_NoGroup(t *testing.T) {
	p := Prompt(&model.Company{ID: "lonely", Name: "Lonely Inc"}, nil)
	assert.Contains(t, p, "Employees: unknown")
	assert.Contains(t, p, "Domain: -")
	assert.Contains(t, p, "no buyer group discovered yet")
}

func TestGenerate(t *testing.T) {
	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(func(p anthropic.Prompt) bool {
		return p.Model == "claude-haiku-4-5-20251001" &&
			p.MaxTokens == 400 &&
			p.CacheTTL == "1h" && p.Instructions != "" &&
			strings.Contains(p.Input, "Acme Corp")
	})).Return(&anthropic.Completion{
		Text:  "  Open with Dana Reyes.  ",
		Usage: anthropic.TokenUsage{InputTokens: 400, OutputTokens: 90},
	}, nil)

	g := New(client, newSource(), WithModel("claude-haiku-4-5-20251001"), WithMaxTokens(400), WithNow(func() time.Time { return fixedNow }))
	report, err := g.Generate(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", report.CompanyID)
	assert.Equal(t, "Open with Dana Reyes.", report.Text)
	assert.Equal(t, "claude-haiku-4-5-20251001", report.Model)
	assert.Equal(t, int64(90), report.Usage.OutputTokens)
	assert.Equal(t, fixedNow, report.GeneratedAt)
	client.AssertExpectations(t)
}

func TestGenerate_Errors(t *testing.T) {
	t.Run("unknown company", func(t *testing.T) {
		client := new(mockClient)
		_, err := New(client, newSource()).Generate(context.Background(), "ghost")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCompanyNotFound))
		client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("store error", func(t *testing.T) {
		src := newSource()
		src.err = errors.New("db down")
		_, err := New(new(mockClient), src).Generate(context.Background(), "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strategy: load company acme")
	})

	t.Run("api error", func(t *testing.T) {
		client := new(mockClient)
		client.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))
		_, err := New(client, newSource()).Generate(context.Background(), "acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strategy: generate for acme")
	})

	t.Run("empty response", func(t *testing.T) {
		client := new(mockClient)
		client.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.Completion{}, nil)
		_, err := New(client, newSource()).Generate(context.Background(), "lonely")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty response")
	})
}
