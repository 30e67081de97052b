// Package bmi adapts a terramorph run to Basic Model Interface conventions:
// initialize from a configuration file, advance with Update or UpdateUntil,
// exchange per-node values by field name, and interrogate model time and
// grid geometry. Frameworks that couple models through the BMI drive the
// engine without knowing anything about components or presets.
package bmi

import (
	"context"
	"fmt"
	"math"

	"github.com/orogenlabs/terramorph/config"
	"github.com/orogenlabs/terramorph/core"
)

// TimeUnits is the unit of every time value the adapter reports.
const TimeUnits = "yr"

// Adapter owns one assembled run and drives it iteration by iteration.
type Adapter struct {
	run       *config.Run
	finalized bool
}

// Initialize loads a YAML configuration file, assembles the run and
// validates the pipeline.
func Initialize(path string, opts ...config.AssembleOption) (*Adapter, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return InitializeFrom(cfg, opts...)
}

// InitializeFrom assembles and validates an already loaded configuration.
func InitializeFrom(cfg *config.Config, opts ...config.AssembleOption) (*Adapter, error) {
	run, err := config.Assemble(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := run.Model.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{run: run}, nil
}

// ComponentName identifies the wrapped model.
func (a *Adapter) ComponentName() string {
	if a.run.Config.Model != "" {
		return "terramorph " + a.run.Config.Model
	}
	return "terramorph"
}

// InputVarNames lists the fields that existed before any component was
// constructed; a coupler may overwrite these before the first Update.
func (a *Adapter) InputVarNames() []string {
	return append([]string(nil), a.run.InitialFields...)
}

// OutputVarNames lists every field the run carries, scalar and index kinds.
func (a *Adapter) OutputVarNames() []string {
	fs := a.run.Fields
	return append(fs.Names(), fs.IntNames()...)
}

func (a *Adapter) StartTime() float64   { return a.run.Clock.Start() }
func (a *Adapter) CurrentTime() float64 { return a.run.Clock.Now() }
func (a *Adapter) EndTime() float64     { return a.run.Clock.Stop() }
func (a *Adapter) TimeStep() float64    { return a.run.Clock.Step() }

// GridShape reports rows and columns; GridSpacing the node spacing in
// meters; NodeCount the per-field array length.
func (a *Adapter) GridShape() (rows, cols int) { return a.run.Grid.Rows(), a.run.Grid.Cols() }
func (a *Adapter) GridSpacing() float64        { return a.run.Grid.Spacing() }
func (a *Adapter) NodeCount() int              { return a.run.Grid.NodeCount() }

// Update advances the model by one iteration.
func (a *Adapter) Update(ctx context.Context) error {
	if a.finalized {
		return fmt.Errorf("%w: update after finalize", core.ErrInvalidRunState)
	}
	return a.run.Model.Step(ctx)
}

// UpdateUntil advances whole iterations until model time reaches t (clamped
// to the stop time). Iterations are never subdivided, so the clock may
// overshoot t by less than one timestep. A target behind the current time is
// an error.
func (a *Adapter) UpdateUntil(ctx context.Context, t float64) error {
	if a.finalized {
		return fmt.Errorf("%w: update after finalize", core.ErrInvalidRunState)
	}
	clock := a.run.Clock
	if math.IsNaN(t) || t < clock.Now() {
		return fmt.Errorf("%w: target time %v behind current time %v", core.ErrInvalidParameter, t, clock.Now())
	}
	target := math.Min(t, clock.Stop())
	for clock.Now() < target && a.run.Model.State() != core.StateFinished {
		if err := a.run.Model.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Finalize marks the adapter done. Writers flush per emission, so there is
// nothing to release; further updates are rejected. Idempotent.
func (a *Adapter) Finalize() error {
	a.finalized = true
	return nil
}

// Value returns a copy of a scalar field.
func (a *Adapter) Value(name string) ([]float64, error) {
	v, err := a.run.Fields.Field(name)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), v...), nil
}

// ValueRef returns the live scalar field array; writes through it are seen
// by the model on its next iteration.
func (a *Adapter) ValueRef(name string) ([]float64, error) {
	return a.run.Fields.Field(name)
}

// IntValue returns a copy of an index field (flow receiver ids).
func (a *Adapter) IntValue(name string) ([]int, error) {
	v, err := a.run.Fields.IntField(name)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), v...), nil
}

// SetValue overwrites a scalar field from the given values.
func (a *Adapter) SetValue(name string, values []float64) error {
	return a.run.Fields.SetField(name, values)
}

// State exposes the underlying run state for callers that poll.
func (a *Adapter) State() core.RunState { return a.run.Model.State() }

// RunID names the wrapped run.
func (a *Adapter) RunID() string { return a.run.Model.RunID() }
