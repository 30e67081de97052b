package core

import (
	"errors"
	"fmt"

	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/timectrl"
)

// Sentinel errors for the whole engine, matched with errors.Is. Grid and
// clock sentinels are re-exported so callers can depend on core.* without
// importing the owning package.
var (
	// ErrInvalidTimestep covers zero/negative steps, overshoot past stop,
	// and bad clock construction.
	ErrInvalidTimestep = timectrl.ErrInvalidTimestep
	// ErrUnknownField indicates a fieldset lookup miss.
	ErrUnknownField = grid.ErrUnknownField
	// ErrBadGridShape indicates an unusable raster shape.
	ErrBadGridShape = grid.ErrBadGridShape

	// ErrInconsistentBoundary indicates a contradictory node-status
	// configuration (e.g. a grid with no open boundary node at all).
	ErrInconsistentBoundary = errors.New("inconsistent boundary configuration")
	// ErrUnsatisfiedDependency indicates a component requires a field that
	// neither the initial fields nor any earlier component provides.
	ErrUnsatisfiedDependency = errors.New("unsatisfied field dependency")
	// ErrConflictingProducers indicates two pipeline components both claim
	// exclusive ownership of one produced field.
	ErrConflictingProducers = errors.New("conflicting field producers")
	// ErrNumericalInstability indicates a component's stability constraint
	// was violated at the current timestep; the driver may retry with a
	// smaller one.
	ErrNumericalInstability = errors.New("numerical instability")
	// ErrStepFailure indicates an iteration failed terminally and the run
	// aborted; it always wraps the underlying cause.
	ErrStepFailure = errors.New("step failure")
	// ErrInvalidParameter indicates a malformed component or run parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnknownComponent indicates a registry lookup miss.
	ErrUnknownComponent = errors.New("unknown component")
	// ErrInvalidRunState indicates a driver method was called from the
	// wrong lifecycle state.
	ErrInvalidRunState = errors.New("invalid run state")
)

// StepError carries the context of a terminally failed iteration: which
// iteration, at what model time, with what timestep, after how many retry
// attempts, and inside which component. errors.Is matches both
// ErrStepFailure and the wrapped cause.
type StepError struct {
	Iteration int
	Time      float64
	Dt        float64
	Retries   int
	Component string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step failure: iteration %d at t=%v (dt=%v, retries=%d, component %q): %v",
		e.Iteration, e.Time, e.Dt, e.Retries, e.Component, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStepFailure) match without breaking the chain
// to the wrapped cause.
func (e *StepError) Is(target error) bool { return target == ErrStepFailure }
