// Package models holds the preset catalog: named, ordered component stacks
// reproducing the classic model variants. A preset fixes which processes run
// and in what order; parameter values still come from the run configuration's
// shared parameter map.
package models

import (
	"fmt"
	"sort"

	"github.com/orogenlabs/terramorph/components"
	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Stage is one component slot in a preset: the registry kind, the parameter
// keys the stage insists on seeing in the shared map, and values the preset
// pins regardless of what the map says.
type Stage struct {
	Kind     string
	Required []string
	Pinned   core.Params
}

// Preset is a named, ordered component stack.
type Preset struct {
	Name        string
	Description string
	Stages      []Stage
}

var catalog = map[string]Preset{
	"basic": {
		Name:        "basic",
		Description: "stream-power incision plus linear hillslope diffusion",
		Stages: []Stage{
			{Kind: "flow_accumulator"},
			{Kind: "stream_power", Required: []string{"water_erodibility"}},
			{Kind: "linear_diffuser", Required: []string{"regolith_transport_parameter"}},
		},
	},
	"basic_th": {
		Name:        "basic_th",
		Description: "stream power with a smoothed erosion threshold",
		Stages: []Stage{
			{Kind: "flow_accumulator"},
			{Kind: "stream_power", Required: []string{"water_erodibility", "water_erosion_rule__threshold"}},
			{Kind: "linear_diffuser", Required: []string{"regolith_transport_parameter"}},
		},
	},
	"basic_dd": {
		Name:        "basic_dd",
		Description: "stream power with a threshold that grows with incision depth",
		Stages: []Stage{
			{Kind: "flow_accumulator"},
			{Kind: "stream_power", Required: []string{
				"water_erodibility",
				"water_erosion_rule__threshold",
				"water_erosion_rule__thresh_depth_derivative",
			}},
			{Kind: "linear_diffuser", Required: []string{"regolith_transport_parameter"}},
		},
	},
	"basic_ch": {
		Name:        "basic_ch",
		Description: "stream power plus nonlinear (Taylor) hillslope diffusion",
		Stages: []Stage{
			{Kind: "flow_accumulator"},
			{Kind: "stream_power", Required: []string{"water_erodibility"}},
			{Kind: "taylor_diffuser", Required: []string{"regolith_transport_parameter"}},
		},
	},
	"basic_rt": {
		Name:        "basic_rt",
		Description: "stream power over two lithologies split by a contact surface",
		Stages: []Stage{
			{Kind: "flow_accumulator"},
			{Kind: "stream_power", Required: []string{
				"water_erodibility_upper",
				"water_erodibility_lower",
			}},
			{Kind: "linear_diffuser", Required: []string{"regolith_transport_parameter"}},
		},
	},
	"basic_st": {
		Name:        "basic_st",
		Description: "stochastic storm forcing driving discharge-based stream power",
		Stages: []Stage{
			{
				Kind:     "precipitator",
				Required: []string{"mean_storm__intensity", "intermittency_factor"},
				Pinned:   core.Params{"mode": "stochastic"},
			},
			{Kind: "flow_accumulator"},
			{Kind: "stream_power", Required: []string{"water_erodibility"}},
			{Kind: "linear_diffuser", Required: []string{"regolith_transport_parameter"}},
		},
	},
}

// Catalog returns the preset map keyed by name.
func Catalog() map[string]Preset {
	out := make(map[string]Preset, len(catalog))
	for name, p := range catalog {
		out[name] = p
	}
	return out
}

// Names lists the preset names, sorted.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup finds a preset by name.
func Lookup(name string) (Preset, bool) {
	p, ok := catalog[name]
	return p, ok
}

// Kinds lists the preset's component kinds in pipeline order.
func (p Preset) Kinds() []string {
	out := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		out[i] = st.Kind
	}
	return out
}

// Build constructs the preset's components in order against the given grid
// and fieldset, drawing parameters from the shared map. Missing required
// parameters fail fast with the preset named; a key counts as present in
// either its literal or its _exp exponent form.
func (p Preset) Build(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, params core.Params) ([]core.Component, error) {
	comps := make([]core.Component, 0, len(p.Stages))
	for _, st := range p.Stages {
		for _, req := range st.Required {
			if !hasKey(params, req) {
				return nil, fmt.Errorf("%w: preset %q needs parameter %q", core.ErrInvalidParameter, p.Name, req)
			}
		}
		merged := make(core.Params, len(params)+len(st.Pinned))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range st.Pinned {
			merged[k] = v
		}
		c, err := components.Build(st.Kind, g, fs, bc, merged)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		comps = append(comps, c)
	}
	return comps, nil
}

func hasKey(p core.Params, name string) bool {
	if _, ok := p[name]; ok {
		return true
	}
	_, ok := p[name+"_exp"]
	return ok
}
