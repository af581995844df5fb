package normalize

import "github.com/sells-group/speedrun-cli/internal/model"

// departmentKeywords holds the keyword phrases per department. Matching is on
// whole words of the folded title plus the provider's department field.
var departmentKeywords = map[model.Department][]string{
	model.DeptExecutive: {
		"ceo", "cto", "cfo", "coo", "cio", "ciso", "cmo", "cro", "cpo", "chief",
		"founder", "cofounder", "president", "owner", "chairman", "chairwoman",
		"managing director", "executive office", "c suite",
	},
	model.DeptLegal: {
		"legal", "counsel", "attorney", "lawyer", "paralegal", "compliance",
		"procurement", "purchasing", "sourcing", "contracts", "contract",
		"privacy", "vendor management", "risk",
	},
	model.DeptFinance: {
		"finance", "financial", "accounting", "accountant", "controller",
		"treasury", "treasurer", "fp and a", "fpa", "audit", "tax", "payroll",
		"billing", "budget",
	},
	model.DeptEngineering: {
		"engineering", "engineer", "software", "developer", "devops", "sre",
		"architect", "infrastructure", "platform", "security", "it", "data",
		"technology", "technical", "product", "qa", "cloud", "systems",
		"network", "machine learning", "ml",
	},
	model.DeptSales: {
		"sales", "account executive", "account manager", "business development",
		"bdr", "sdr", "revenue", "partnerships", "partner", "alliances",
		"marketing", "growth", "customer success", "commercial", "channel",
	},
	model.DeptOperations: {
		"operations", "supply chain", "logistics", "hr", "human resources",
		"people", "talent", "recruiting", "facilities", "program", "project",
		"strategy", "administration", "admin", "enablement", "support",
	},
}

// detectDepartment returns the first department in model.DepartmentPriority
// whose keywords match, or DeptOther.
func detectDepartment(tokens []string) model.Department {
	for _, dept := range model.DepartmentPriority {
		if containsAny(tokens, departmentKeywords[dept]) {
			return dept
		}
	}
	return model.DeptOther
}
