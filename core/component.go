// Package core holds the model-composition engine: the process-component
// contract, pipeline dependency validation, the run-state machine, the
// bounded retry policy, and the error taxonomy. Everything physical lives in
// the components and boundary packages; core only sequences them.
package core

import (
	"fmt"

	"github.com/orogenlabs/terramorph/grid"
)

// Component is one process in a model pipeline. A component is constructed
// against a grid and fieldset, declares the fields it reads and writes, and
// advances the fields it produces by one timestep on demand.
//
// RunOneStep must be a pure function of the current field state, dt, and the
// component's own parameters: stepping identical state twice yields bitwise
// identical fields. Components with an internal random stream seed it
// explicitly and implement Rewinder so a retried iteration replays the same
// draws.
type Component interface {
	// Name identifies the component instance in errors, logs and metrics.
	Name() string
	// Requires lists fields that must exist before this component steps.
	Requires() []string
	// Produces lists fields this component writes. A produced field that is
	// not also required is created by the constructor.
	Produces() []string
	// RunOneStep advances the produced fields across one timestep of dt
	// model years. A violated stability constraint is reported as
	// ErrNumericalInstability so the driver can halve dt and retry.
	RunOneStep(dt float64) error
}

// Accumulator is implemented by components that advance a produced field in
// place by increments instead of owning it outright. Elevation is the usual
// case: uplift, diffusion and incision all write it within one step. Several
// components may produce the same field only when every one of them reports
// it accumulated.
type Accumulator interface {
	Accumulates(field string) bool
}

// Rewinder is implemented by components that carry state the fieldset
// snapshot cannot capture (random streams, mostly). The driver calls Mark
// before an iteration's first attempt and Rewind before each retry.
type Rewinder interface {
	Mark()
	Rewind()
}

// StateSaver is implemented by components whose extra state must survive a
// checkpoint/resume cycle.
type StateSaver interface {
	SaveState() ([]byte, error)
	LoadState([]byte) error
}

// BoundaryConditioner is the driver's view of the boundary-condition
// manager: classification at validation time, then per-iteration forcing and
// enforcement.
type BoundaryConditioner interface {
	// Classify derives every node's status from the boundary configuration
	// and writes it to the grid. Idempotent.
	Classify() error
	// AdvanceHandlers recomputes time-dependent forcing for the iteration
	// ending at the current clock time plus dt.
	AdvanceHandlers(fs *grid.FieldSet, dt float64) error
	// Enforce re-asserts boundary values on the fieldset. Idempotent:
	// enforcing twice in a row changes nothing the second time.
	Enforce(fs *grid.FieldSet) error
}

// BoundaryView is the component-facing read surface of the boundary
// manager. Components receive it at construction.
type BoundaryView interface {
	// ErodibilityFactor is the multiplier rainfall-regime handlers apply to
	// stream-power erodibility; 1 when no such handler is configured.
	ErodibilityFactor() float64
}

// OutputSink receives the (prev, now] window after every successful
// iteration and decides whether scheduled output falls inside it.
type OutputSink interface {
	MaybeEmit(prev, now float64, fs *grid.FieldSet) error
}

// ValidatePipeline checks the declared field flow of an ordered pipeline:
// every component's required fields must be covered by the initial fields or
// by the produces of components earlier in the pipeline, and no field may
// have two producers unless all of them accumulate it in place. The first
// violation is reported with the components and field named.
func ValidatePipeline(initial []string, comps []Component) error {
	available := make(map[string]struct{}, len(initial))
	for _, f := range initial {
		available[f] = struct{}{}
	}
	producers := make(map[string]Component)
	for _, c := range comps {
		for _, f := range c.Requires() {
			if _, ok := available[f]; !ok {
				return fmt.Errorf("%w: component %q requires %q", ErrUnsatisfiedDependency, c.Name(), f)
			}
		}
		for _, f := range c.Produces() {
			if prev, ok := producers[f]; ok {
				if !accumulates(prev, f) || !accumulates(c, f) {
					return fmt.Errorf("%w: %q produced by both %q and %q",
						ErrConflictingProducers, f, prev.Name(), c.Name())
				}
			}
			producers[f] = c
			available[f] = struct{}{}
		}
	}
	return nil
}

func accumulates(c Component, field string) bool {
	a, ok := c.(Accumulator)
	return ok && a.Accumulates(field)
}
