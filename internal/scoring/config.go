// Package scoring computes queue scores and eligibility for workspace entities.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/config"
)

// DefaultConfig returns a config.ScoringConfig with sensible defaults.
// Each weight group sums to 100.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Company: config.CompanyWeights{
			Size:       20,
			Revenue:    15,
			Stage:      25,
			DealValue:  10,
			BuyerGroup: 20,
			Recency:    10,
		},
		Person: config.PersonWeights{
			Role:       35,
			Confidence: 15,
			Seniority:  30,
			Contact:    10,
			Recency:    10,
		},
		CompanyBlend:     0.6,
		HalfLifeDays:     30,
		LookbackDays:     30,
		InertActions:     append([]string(nil), config.DefaultInertActions...),
		TerminalStatuses: append([]string(nil), config.DefaultTerminalStatuses...),
	}
}

// CompanyWeightSum returns the sum of the company component weights.
func CompanyWeightSum(w config.CompanyWeights) float64 {
	return w.Size + w.Revenue + w.Stage + w.DealValue + w.BuyerGroup + w.Recency
}

// PersonWeightSum returns the sum of the individual component weights.
func PersonWeightSum(w config.PersonWeights) float64 {
	return w.Role + w.Confidence + w.Seniority + w.Contact + w.Recency
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := map[string]float64{
		"company.size":        c.Company.Size,
		"company.revenue":     c.Company.Revenue,
		"company.stage":       c.Company.Stage,
		"company.deal_value":  c.Company.DealValue,
		"company.buyer_group": c.Company.BuyerGroup,
		"company.recency":     c.Company.Recency,
		"person.role":         c.Person.Role,
		"person.confidence":   c.Person.Confidence,
		"person.seniority":    c.Person.Seniority,
		"person.contact":      c.Person.Contact,
		"person.recency":      c.Person.Recency,
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if weights[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	// Weights should be close to 100 (allow tolerance for floating-point).
	if sum := CompanyWeightSum(c.Company); math.Abs(sum-100) > 1 {
		errs = append(errs, fmt.Sprintf("company weights should sum to 100, got %.1f", sum))
	}
	if sum := PersonWeightSum(c.Person); math.Abs(sum-100) > 1 {
		errs = append(errs, fmt.Sprintf("person weights should sum to 100, got %.1f", sum))
	}

	if c.CompanyBlend < 0 || c.CompanyBlend > 1 {
		errs = append(errs, "company_blend must be between 0 and 1")
	}
	if c.HalfLifeDays < 0 {
		errs = append(errs, "half_life_days must be >= 0")
	}
	if c.LookbackDays < 0 {
		errs = append(errs, "lookback_days must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
