package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/speedrun-cli/internal/config"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/normalize"
)

// Exclusion reasons carried on ineligible EntityScores.
const (
	ReasonTerminalStatus   = "terminal_status"
	ReasonMeaningfulAction = "meaningful_action"
	ReasonUncontactable    = "uncontactable"
)

// Scorer computes EntityScores. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	cfg      config.ScoringConfig
	inert    map[string]bool
	terminal map[string]bool
	titles   *normalize.Normalizer
}

// New validates cfg and returns a Scorer.
func New(cfg config.ScoringConfig) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := &Scorer{
		cfg:      cfg,
		inert:    map[string]bool{"": true},
		terminal: make(map[string]bool, len(cfg.TerminalStatuses)),
		titles:   normalize.New(),
	}
	for _, a := range cfg.InertActions {
		s.inert[model.Action{Type: a}.NormalizedType()] = true
	}
	for _, st := range cfg.TerminalStatuses {
		s.terminal[strings.ToLower(strings.TrimSpace(st))] = true
	}
	return s, nil
}

// IsMeaningful reports whether an action counts as real engagement. A nil
// action or an inert system-generated type is not meaningful.
func (s *Scorer) IsMeaningful(a *model.Action) bool {
	if a == nil {
		return false
	}
	return !s.inert[a.NormalizedType()]
}

// eligibility decides the queue state for one entity. A meaningful action
// older than the lookback window has aged out; a zero window never ages out.
func (s *Scorer) eligibility(status string, last *model.Action, now time.Time) (model.QueueState, string) {
	if s.terminal[strings.ToLower(strings.TrimSpace(status))] {
		return model.StateExcluded, ReasonTerminalStatus
	}
	if s.IsMeaningful(last) {
		if s.cfg.LookbackDays <= 0 || last.OccurredAt.IsZero() ||
			now.Sub(last.OccurredAt) <= time.Duration(s.cfg.LookbackDays)*24*time.Hour {
			return model.StateExcluded, ReasonMeaningfulAction
		}
	}
	return model.StatePending, ""
}

// engagement returns the decayed recency of the latest meaningful action
// among the given actions.
func (s *Scorer) engagement(now time.Time, actions ...*model.Action) float64 {
	var latest time.Time
	for _, a := range actions {
		if s.IsMeaningful(a) && a.OccurredAt.After(latest) {
			latest = a.OccurredAt
		}
	}
	return decay(latest, now, s.cfg.HalfLifeDays)
}

// ScoreCompany scores one company. people are the contacts linked to it and
// only feed the recency component.
func (s *Scorer) ScoreCompany(c model.Company, group *model.BuyerGroup, people []model.Person, now time.Time) model.EntityScore {
	actions := []*model.Action{c.LastAction}
	for i := range people {
		actions = append(actions, people[i].LastAction)
	}

	w := s.cfg.Company
	score := weighted([]component{
		{sizeScore(c.EmployeeCount, c.FlaggedLarge), w.Size},
		{revenueScore(c.Revenue), w.Revenue},
		{stageScore(c.Stage), w.Stage},
		{dealValueScore(c.DealValue), w.DealValue},
		{buyerGroupScore(group), w.BuyerGroup},
		{s.engagement(now, actions...), w.Recency},
	})

	state, reason := s.eligibility(c.Status, c.LastAction, now)
	return model.EntityScore{
		EntityID:     c.ID,
		Kind:         model.KindCompany,
		CompanyID:    c.ID,
		Score:        score,
		CompanyScore: score,
		Eligible:     state == model.StatePending,
		State:        state,
		Reason:       reason,
		CreatedAt:    c.CreatedAt,
		ComputedAt:   now,
	}
}

// IndividualScore is the person-level component on its own.
func (s *Scorer) IndividualScore(p model.Person, group *model.BuyerGroup, now time.Time) float64 {
	roleValue, confidence := notInGroup, 0.0
	if role, m, ok := member(group, p.ExternalID); ok {
		roleValue = roleScores[role]
		confidence = m.Confidence
	}

	tier := s.titles.Title(p.Title).Tier

	w := s.cfg.Person
	return weighted([]component{
		{roleValue, w.Role},
		{confidence, w.Confidence},
		{seniorityScores[tier], w.Seniority},
		{contactScore(p), w.Contact},
		{s.engagement(now, p.LastAction), w.Recency},
	})
}

// ScorePerson scores one person. company is nil when the person has no
// company in the workspace, in which case the composite is the individual
// component alone.
func (s *Scorer) ScorePerson(p model.Person, company *model.EntityScore, group *model.BuyerGroup, now time.Time) model.EntityScore {
	individual := s.IndividualScore(p, group, now)

	es := model.EntityScore{
		EntityID:        p.ID,
		Kind:            model.KindPerson,
		CompanyID:       p.CompanyID,
		Score:           individual,
		IndividualScore: individual,
		CreatedAt:       p.CreatedAt,
		ComputedAt:      now,
	}
	if company != nil {
		es.CompanyScore = company.CompanyScore
		es.Score = round2(company.CompanyScore*s.cfg.CompanyBlend + individual*(1-s.cfg.CompanyBlend))
	}

	state, reason := s.eligibility(p.Status, p.LastAction, now)
	if state == model.StatePending && s.cfg.RequireContact && contactScore(p) == 0 {
		state, reason = model.StateExcluded, ReasonUncontactable
	}
	es.State = state
	es.Reason = reason
	es.Eligible = state == model.StatePending
	return es
}

// ScoreSnapshot scores every company and person in the snapshot, eligible
// or not, using the snapshot time as now. Output is ordered companies first
// then people, each by ID, independent of snapshot order.
func (s *Scorer) ScoreSnapshot(snap *model.Snapshot) []model.EntityScore {
	now := snap.TakenAt

	peopleByCompany := make(map[string][]model.Person)
	for _, p := range snap.People {
		if p.CompanyID != "" {
			peopleByCompany[p.CompanyID] = append(peopleByCompany[p.CompanyID], p)
		}
	}

	companies := append([]model.Company(nil), snap.Companies...)
	sort.Slice(companies, func(i, j int) bool { return companies[i].ID < companies[j].ID })
	people := append([]model.Person(nil), snap.People...)
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })

	out := make([]model.EntityScore, 0, len(companies)+len(people))
	byCompany := make(map[string]model.EntityScore, len(companies))
	for _, c := range companies {
		es := s.ScoreCompany(c, snap.BuyerGroups[c.ID], peopleByCompany[c.ID], now)
		byCompany[c.ID] = es
		out = append(out, es)
	}
	for _, p := range people {
		var company *model.EntityScore
		var group *model.BuyerGroup
		if es, ok := byCompany[p.CompanyID]; ok && p.CompanyID != "" {
			company = &es
			group = snap.BuyerGroups[p.CompanyID]
		}
		out = append(out, s.ScorePerson(p, company, group, now))
	}
	return out
}
