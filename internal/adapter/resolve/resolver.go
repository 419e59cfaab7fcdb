package resolve

import (
	"fmt"

	"go.ngs.io/disp-cog/internal/adapter/store"
	"go.ngs.io/disp-cog/internal/domain"
)

// Resolution is the outcome of evaluating a rule table against a dataset.
type Resolution struct {
	Vars       map[domain.Role]string
	Candidates []string
}

// Name returns the variable bound to role.
func (r Resolution) Name(role domain.Role) (string, bool) {
	name, ok := r.Vars[role]
	return name, ok
}

// Resolver evaluates a rule table.
type Resolver struct {
	Rules Table
}

// New creates a resolver for the given table.
func New(rules Table) *Resolver {
	return &Resolver{Rules: rules}
}

// Resolve binds each role in the table to at most one variable.
// Roles without a match are omitted; a missing primary role is an error.
func (r *Resolver) Resolve(ds store.Dataset) (Resolution, error) {
	candidates, err := Candidates(ds)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Vars: map[domain.Role]string{}, Candidates: candidates}
	used := map[string]bool{}
	for _, rule := range r.Rules {
		if _, bound := res.Vars[rule.Role]; bound {
			continue
		}
		if name, ok := pick(candidates, used, rule.matchExact); ok {
			res.Vars[rule.Role] = name
			used[name] = true
			continue
		}
		if name, ok := pick(candidates, used, rule.matchSubstring); ok {
			res.Vars[rule.Role] = name
			used[name] = true
		}
	}

	if _, ok := res.Vars[domain.RolePrimary]; !ok {
		return res, &domain.MissingPrimaryVariableError{Candidates: candidates}
	}
	return res, nil
}

func pick(candidates []string, used map[string]bool, match func(string) bool) (string, bool) {
	for _, name := range candidates {
		if !used[name] && match(name) {
			return name, true
		}
	}
	return "", false
}

// Candidates lists data variables in declaration order. Coordinate variables
// (1-D, named after their own dimension) and dimensionless variables such
// as grid mappings are skipped.
func Candidates(ds store.Dataset) ([]string, error) {
	var out []string
	for _, name := range ds.Variables() {
		info, err := ds.Variable(name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect variable %s: %w", name, err)
		}
		if len(info.Dims) == 0 {
			continue
		}
		if len(info.Dims) == 1 && info.Dims[0] == name {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
