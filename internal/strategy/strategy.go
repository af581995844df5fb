// Package strategy asks a language model for an account strategy built from
// a company's record and its buyer group. The returned prose is opaque.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/pkg/anthropic"
)

// ErrCompanyNotFound is returned when the company has no stored record.
var ErrCompanyNotFound = eris.New("strategy: company not found")

// Source reads the records a report is built from.
type Source interface {
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	GetBuyerGroup(ctx context.Context, companyID string) (*model.BuyerGroup, error)
}

// Report is a generated account strategy.
type Report struct {
	CompanyID   string               `json:"company_id"`
	Text        string               `json:"text"`
	Model       string               `json:"model"`
	Usage       anthropic.TokenUsage `json:"-"`
	GeneratedAt time.Time            `json:"generated_at"`
}

const systemPrompt = `You are a B2B sales strategist. Given an account and its buyer group,
write a short engagement plan: who to contact first, how to sequence outreach
across roles, and which risks (blockers, missing roles) to address. Be concrete
and refer to people by name and title. Plain text, no more than 300 words.`

const accountPrompt = `Account: %s
Domain: %s
Employees: %s
Stage: %s

Buyer group (%s bracket):
%s
%s`

// Generator builds reports.
type Generator struct {
	client    anthropic.Client
	source    Source
	model     string
	maxTokens int64
	now       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithModel sets the model ID.
func WithModel(m string) Option {
	return func(g *Generator) {
		if m != "" {
			g.model = m
		}
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = int64(n)
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New creates a Generator.
func New(client anthropic.Client, source Source, opts ...Option) *Generator {
	g := &Generator{
		client:    client,
		source:    source,
		model:     "claude-sonnet-4-5-20250929",
		maxTokens: 1024,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate writes a report for one company. A company without a buyer group
// still gets a report that notes the missing discovery.
func (g *Generator) Generate(ctx context.Context, companyID string) (*Report, error) {
	company, err := g.source.GetCompany(ctx, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: load company %s", companyID)
	}
	if company == nil {
		return nil, eris.Wrapf(ErrCompanyNotFound, "company %s", companyID)
	}
	group, err := g.source.GetBuyerGroup(ctx, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: load buyer group %s", companyID)
	}

	resp, err := g.client.Complete(ctx, anthropic.Prompt{
		Model:        g.model,
		MaxTokens:    g.maxTokens,
		Instructions: systemPrompt,
		CacheTTL:     "1h",
		Input:        Prompt(company, group),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: generate for %s", companyID)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, eris.Errorf("strategy: empty response for %s", companyID)
	}
	resp.Usage.LogCost(g.model, companyID)
	zap.L().Info("strategy: report generated",
		zap.String("company_id", companyID),
		zap.Int("chars", len(text)),
	)

	return &Report{
		CompanyID:   companyID,
		Text:        text,
		Model:       g.model,
		Usage:       resp.Usage,
		GeneratedAt: g.now().UTC(),
	}, nil
}

// Prompt renders the account and buyer group as the user message. Roles are
// listed in canonical order so identical inputs give identical prompts.
func Prompt(c *model.Company, g *model.BuyerGroup) string {
	employees := "unknown"
	if c.EmployeeCount != nil {
		employees = fmt.Sprintf("%d", *c.EmployeeCount)
	}

	if g == nil {
		return fmt.Sprintf(accountPrompt, c.Name, orDash(c.Domain), employees, orDash(c.Stage),
			"unknown", "  (no buyer group discovered yet)", "")
	}

	var members strings.Builder
	for _, role := range model.Roles {
		for _, m := range g.Members[role] {
			fmt.Fprintf(&members, "  - %s: %s, %s (%s, confidence %.2f)\n",
				role, orDash(m.FullName), orDash(m.Title), m.Seniority, m.Confidence)
		}
	}
	if members.Len() == 0 {
		members.WriteString("  (no members placed)\n")
	}

	var gaps strings.Builder
	for _, s := range g.Underfilled {
		if gaps.Len() == 0 {
			gaps.WriteString("Missing coverage:\n")
		}
		fmt.Fprintf(&gaps, "  - %s: %d of %d\n", s.Role, s.Filled, s.Min)
	}
	if u := g.Undersized; u != nil {
		fmt.Fprintf(&gaps, "Group size: %d of minimum %d\n", u.Filled, u.Min)
	}

	return fmt.Sprintf(accountPrompt, c.Name, orDash(c.Domain), employees, orDash(c.Stage),
		g.TargetSpec.Bracket, strings.TrimRight(members.String(), "\n"), gaps.String())
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
