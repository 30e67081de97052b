// Package components implements the process components a model pipeline is
// assembled from: tectonic uplift, hillslope diffusion (linear and
// nonlinear), flow routing and accumulation, detachment-limited stream-power
// erosion, and rainfall/runoff generation. Each component is constructed
// against a grid and fieldset, declares its field dependencies, and advances
// one timestep at a time under the driver's control.
package components

import (
	"fmt"
	"sort"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Factory builds a component instance. Constructors create the fields the
// component produces, so the assembled fieldset is complete before the first
// iteration.
type Factory func(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error)

var registry = map[string]Factory{
	"uplift":           NewUplifter,
	"linear_diffuser":  NewLinearDiffuser,
	"taylor_diffuser":  NewTaylorDiffuser,
	"flow_accumulator": NewFlowAccumulator,
	"stream_power":     NewStreamPowerEroder,
	"precipitator":     NewPrecipitator,
}

// Register adds a factory under a new kind, letting callers plug their own
// process components into configuration-driven assembly.
func Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("%w: empty component kind or nil factory", core.ErrInvalidParameter)
	}
	if _, dup := registry[kind]; dup {
		return fmt.Errorf("%w: component kind %q already registered", core.ErrInvalidParameter, kind)
	}
	registry[kind] = f
	return nil
}

// Build constructs a registered component kind.
func Build(kind string, g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownComponent, kind)
	}
	c, err := f(g, fs, bc, p)
	if err != nil {
		return nil, fmt.Errorf("build component %q: %w", kind, err)
	}
	return c, nil
}

// Kinds lists the registered component kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for kind := range registry {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}
