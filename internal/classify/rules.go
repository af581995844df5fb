package classify

import "github.com/sells-group/speedrun-cli/internal/model"

// Rule is one weighted indicator. A matching rule adds Weight (which may be
// negative) to the role's raw score.
type Rule struct {
	Tag    string
	Weight float64
	Match  func(c model.Candidate) bool
}

func tierIs(tiers ...model.SeniorityTier) func(model.Candidate) bool {
	return func(c model.Candidate) bool {
		for _, t := range tiers {
			if c.Seniority == t {
				return true
			}
		}
		return false
	}
}

func deptIs(depts ...model.Department) func(model.Candidate) bool {
	return func(c model.Candidate) bool {
		for _, d := range depts {
			if c.Department == d {
				return true
			}
		}
		return false
	}
}

func all(preds ...func(model.Candidate) bool) func(model.Candidate) bool {
	return func(c model.Candidate) bool {
		for _, p := range preds {
			if !p(c) {
				return false
			}
		}
		return true
	}
}

var (
	budgetHolder   = func(c model.Candidate) bool { return c.Signals.BudgetHolder }
	reportsToCEO   = func(c model.Candidate) bool { return c.Signals.ReportsToCEO }
	externalFacing = func(c model.Candidate) bool { return c.Signals.ExternalFacing }
	highInfluence  = func(c model.Candidate) bool { return c.Signals.HighInfluence }
	nonExecutive   = tierIs(model.TierIC, model.TierManager, model.TierDirector)
	functional     = deptIs(model.DeptEngineering, model.DeptOperations, model.DeptFinance)
)

// DefaultRules is the rule table per role.
var DefaultRules = map[model.Role][]Rule{
	model.RoleDecisionMaker: {
		{"c_level", 0.60, tierIs(model.TierCLevel)},
		{"vp", 0.45, tierIs(model.TierVP)},
		{"budget_holder", 0.25, budgetHolder},
		{"director", 0.20, tierIs(model.TierDirector)},
		{"reports_to_ceo", 0.10, reportsToCEO},
		{"executive_dept", 0.05, deptIs(model.DeptExecutive)},
		{"manager", -0.15, tierIs(model.TierManager)},
		{"legal_gatekeeper", -0.20, deptIs(model.DeptLegal)},
		{"ic", -0.40, tierIs(model.TierIC)},
	},
	model.RoleChampion: {
		{"eng_ops_manager_director", 0.55, all(deptIs(model.DeptEngineering, model.DeptOperations), tierIs(model.TierManager, model.TierDirector))},
		{"eng_ops_vp", 0.30, all(deptIs(model.DeptEngineering, model.DeptOperations), tierIs(model.TierVP))},
		{"technical_ic", 0.20, all(deptIs(model.DeptEngineering), tierIs(model.TierIC))},
		{"manager_director", 0.15, tierIs(model.TierManager, model.TierDirector)},
		{"high_influence", 0.10, highInfluence},
		{"legal_gatekeeper", -0.30, deptIs(model.DeptLegal)},
		{"c_level", -0.40, tierIs(model.TierCLevel)},
	},
	model.RoleStakeholder: {
		{"manager_director", 0.35, tierIs(model.TierManager, model.TierDirector)},
		{"functional_ic", 0.35, all(functional, tierIs(model.TierIC))},
		{"functional_dept", 0.20, functional},
		{"vp", 0.15, tierIs(model.TierVP)},
		{"sales_dept", -0.10, deptIs(model.DeptSales)},
		{"c_level", -0.30, tierIs(model.TierCLevel)},
		{"legal_gatekeeper", -0.30, deptIs(model.DeptLegal)},
	},
	model.RoleBlocker: {
		{"legal_procurement", 0.65, deptIs(model.DeptLegal)},
		{"finance_gatekeeper", 0.20, all(deptIs(model.DeptFinance), tierIs(model.TierDirector, model.TierVP))},
		{"senior_legal", 0.10, all(deptIs(model.DeptLegal), tierIs(model.TierDirector, model.TierVP, model.TierCLevel))},
		{"external_facing", -0.10, externalFacing},
		{"sales_dept", -0.30, deptIs(model.DeptSales)},
	},
	model.RoleIntroducer: {
		{"external_non_exec", 0.50, all(externalFacing, nonExecutive)},
		{"sales_dept", 0.15, deptIs(model.DeptSales)},
		{"high_influence", 0.10, highInfluence},
		{"ic_or_manager", 0.05, tierIs(model.TierIC, model.TierManager)},
		{"legal_gatekeeper", -0.30, deptIs(model.DeptLegal)},
		{"c_level", -0.40, tierIs(model.TierCLevel)},
	},
}
