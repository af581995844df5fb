// Package targets resolves per-role buyer-group size targets from an
// organization's employee count.
package targets

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// Bracket thresholds by employee count.
const (
	MediumFloor     = 50
	LargeFloor      = 500
	EnterpriseAbove = 5000
)

// Table maps each bracket to its target spec. It is the only tunable input
// of the balancer.
type Table map[model.Bracket]model.RoleTargetSpec

func spec(b model.Bracket, totalMin, totalMax int, dm, ch, st, bl, in [2]int) model.RoleTargetSpec {
	return model.RoleTargetSpec{
		Bracket:  b,
		TotalMin: totalMin,
		TotalMax: totalMax,
		Roles: map[model.Role]model.RoleTarget{
			model.RoleDecisionMaker: {Min: dm[0], Max: dm[1]},
			model.RoleChampion:      {Min: ch[0], Max: ch[1]},
			model.RoleStakeholder:   {Min: st[0], Max: st[1]},
			model.RoleBlocker:       {Min: bl[0], Max: bl[1]},
			model.RoleIntroducer:    {Min: in[0], Max: in[1]},
		},
	}
}

// DefaultTable returns the built-in bracket table.
func DefaultTable() Table {
	return Table{
		model.BracketSmall:      spec(model.BracketSmall, 5, 8, [2]int{1, 1}, [2]int{1, 2}, [2]int{1, 3}, [2]int{0, 1}, [2]int{1, 2}),
		model.BracketMedium:     spec(model.BracketMedium, 8, 12, [2]int{1, 2}, [2]int{1, 3}, [2]int{2, 4}, [2]int{0, 1}, [2]int{1, 2}),
		model.BracketLarge:      spec(model.BracketLarge, 12, 18, [2]int{1, 3}, [2]int{2, 4}, [2]int{4, 6}, [2]int{1, 2}, [2]int{2, 3}),
		model.BracketEnterprise: spec(model.BracketEnterprise, 15, 25, [2]int{2, 3}, [2]int{3, 4}, [2]int{5, 6}, [2]int{1, 2}, [2]int{2, 3}),
	}
}

// BracketFor maps an employee count to a bracket. An unknown count is medium
// unless the company is flagged large, which means enterprise. A known count
// always wins over the flag.
func BracketFor(employees *int, flaggedLarge bool) model.Bracket {
	if employees == nil {
		if flaggedLarge {
			return model.BracketEnterprise
		}
		return model.BracketMedium
	}
	n := *employees
	switch {
	case n < MediumFloor:
		return model.BracketSmall
	case n < LargeFloor:
		return model.BracketMedium
	case n <= EnterpriseAbove:
		return model.BracketLarge
	default:
		return model.BracketEnterprise
	}
}

// Resolver hands out target specs from a validated table.
type Resolver struct {
	table Table
}

// NewResolver validates table and wraps it. A nil table uses DefaultTable.
func NewResolver(table Table) (*Resolver, error) {
	if table == nil {
		table = DefaultTable()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{table: table}, nil
}

// Resolve returns the target spec for an organization. The returned spec is a copy
// and may be modified by the caller.
func (r *Resolver) Resolve(employees *int, flaggedLarge bool) model.RoleTargetSpec {
	return r.table.Spec(BracketFor(employees, flaggedLarge))
}

// Spec returns a copy of one bracket's spec.
func (t Table) Spec(b model.Bracket) model.RoleTargetSpec {
	s := t[b]
	roles := make(map[model.Role]model.RoleTarget, len(s.Roles))
	for k, v := range s.Roles {
		roles[k] = v
	}
	s.Roles = roles
	s.Bracket = b
	return s
}

// Validate checks every bracket is present and every band is well formed.
// Totals are not required to agree with the per-role sums.
func (t Table) Validate() error {
	var errs []string
	for _, b := range model.Brackets {
		s, ok := t[b]
		if !ok {
			errs = append(errs, string(b)+": missing bracket")
			continue
		}
		if s.TotalMin < 0 || s.TotalMax <= 0 || s.TotalMin > s.TotalMax {
			errs = append(errs, string(b)+": total band must satisfy 0 <= total_min <= total_max, total_max > 0")
		}
		for role := range s.Roles {
			if !role.Valid() {
				errs = append(errs, string(b)+": unknown role "+string(role))
			}
		}
		for _, role := range model.Roles {
			rt, ok := s.Roles[role]
			if !ok {
				errs = append(errs, string(b)+": missing role "+string(role))
				continue
			}
			if rt.Min < 0 || rt.Min > rt.Max {
				errs = append(errs, string(b)+"."+string(role)+": band must satisfy 0 <= min <= max")
			}
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("targets: invalid table: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadFile reads a target table from YAML. Brackets missing from the file
// keep their defaults. The file has a top-level "targets" key:
//
//	targets:
//	  small:
//	    total_min: 5
//	    total_max: 8
//	    roles:
//	      decision_maker: {min: 1, max: 1}
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "targets: read %s", path)
	}

	var wrapper struct {
		Targets map[model.Bracket]model.RoleTargetSpec `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "targets: parse")
	}

	table := DefaultTable()
	for b, s := range wrapper.Targets {
		known := false
		for _, kb := range model.Brackets {
			known = known || kb == b
		}
		if !known {
			return nil, eris.Errorf("targets: unknown bracket %q", b)
		}
		s.Bracket = b
		table[b] = s
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
