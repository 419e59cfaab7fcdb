// Package resolve maps semantic roles to granule variables and normalizes
// their dimension layout to a 2D (y, x) raster.
package resolve

import (
	"strings"

	"go.ngs.io/disp-cog/internal/domain"
)

// Rule selects the variable bound to a role.
// Exact names are tried first over every candidate, then the substring test.
type Rule struct {
	Role    domain.Role
	Exact   []string // case-insensitive exact names
	Include []string // all must occur in the lower-cased name
	Exclude []string // none may occur
}

// Table is an ordered list of rules, evaluated top to bottom.
type Table []Rule

// DisplacementRules binds the layers of an OPERA DISP granule.
var DisplacementRules = Table{
	{Role: domain.RolePrimary, Exact: []string{"displacement"}, Include: []string{"disp"}, Exclude: []string{"uncert"}},
	{Role: domain.RoleQuality, Exact: []string{"temporal_coherence"}, Include: []string{"coherence"}},
	{Role: domain.RoleUncertainty, Exact: []string{"displacement_uncertainty"}, Include: []string{"uncert"}},
	{Role: domain.RoleValidity, Exact: []string{"layover_shadow_mask"}, Include: []string{"layover", "shadow", "mask"}},
}

// WaterMaskRules binds the water mask layer.
var WaterMaskRules = Table{
	{Role: domain.RolePrimary, Exact: []string{"water_mask"}, Include: []string{"water"}},
}

func (r Rule) matchExact(name string) bool {
	for _, e := range r.Exact {
		if strings.EqualFold(name, e) {
			return true
		}
	}
	return false
}

func (r Rule) matchSubstring(name string) bool {
	if len(r.Include) == 0 {
		return false
	}
	lower := strings.ToLower(name)
	for _, s := range r.Include {
		if !strings.Contains(lower, s) {
			return false
		}
	}
	for _, s := range r.Exclude {
		if strings.Contains(lower, s) {
			return false
		}
	}
	return true
}
