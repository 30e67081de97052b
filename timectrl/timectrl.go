// Package timectrl provides the simulation clock that drives a model run.
// Model time is a float64 in years; the clock owns the start/stop window,
// the configured step, and the final-step clipping that makes every run end
// exactly on its stop time.
package timectrl

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidTimestep = errors.New("invalid timestep")

// Clock tracks current model time between start and stop. It belongs to a
// single run and is only touched from that run's goroutine; the driver is
// the only writer.
type Clock struct {
	start float64
	stop  float64
	step  float64

	now float64
	eps float64
}

// NewClock constructs a clock covering [start, stop] with a default step.
func NewClock(start, stop, step float64) (*Clock, error) {
	switch {
	case math.IsNaN(start) || math.IsInf(start, 0) ||
		math.IsNaN(stop) || math.IsInf(stop, 0) ||
		math.IsNaN(step) || math.IsInf(step, 0):
		return nil, fmt.Errorf("%w: non-finite clock parameters", ErrInvalidTimestep)
	case stop <= start:
		return nil, fmt.Errorf("%w: stop %v not after start %v", ErrInvalidTimestep, stop, start)
	case step <= 0:
		return nil, fmt.Errorf("%w: step %v", ErrInvalidTimestep, step)
	}
	return &Clock{
		start: start,
		stop:  stop,
		step:  step,
		now:   start,
		eps:   1e-9 * math.Max(1, math.Abs(stop)),
	}, nil
}

// Now returns the current model time.
func (c *Clock) Now() float64 { return c.now }

// Start returns the model time the run began at.
func (c *Clock) Start() float64 { return c.start }

// Stop returns the model time the run ends at.
func (c *Clock) Stop() float64 { return c.stop }

// Step returns the configured (unclipped) timestep.
func (c *Clock) Step() float64 { return c.step }

// Remaining returns the model time left before stop, never negative.
func (c *Clock) Remaining() float64 { return math.Max(0, c.stop-c.now) }

// IsFinished reports whether the clock has reached stop, within epsilon.
func (c *Clock) IsFinished() bool { return c.now >= c.stop-c.eps }

// NextDt validates a proposed timestep and clips it so the step cannot
// overshoot stop: the final iteration of a run lands exactly on the stop
// time no matter how the step divides the window.
func (c *Clock) NextDt(proposed float64) (float64, error) {
	if proposed <= 0 || math.IsNaN(proposed) || math.IsInf(proposed, 0) {
		return 0, fmt.Errorf("%w: proposed dt %v", ErrInvalidTimestep, proposed)
	}
	if c.IsFinished() {
		return 0, fmt.Errorf("%w: clock already at stop time %v", ErrInvalidTimestep, c.stop)
	}
	if remaining := c.stop - c.now; proposed > remaining {
		return remaining, nil
	}
	return proposed, nil
}

// Advance moves model time forward by dt. Zero or negative steps and steps
// that overshoot stop beyond epsilon are rejected; a step landing within
// epsilon of stop snaps to stop exactly.
func (c *Clock) Advance(dt float64) error {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: dt %v", ErrInvalidTimestep, dt)
	}
	next := c.now + dt
	if next > c.stop+c.eps {
		return fmt.Errorf("%w: advancing by %v overshoots stop %v from %v", ErrInvalidTimestep, dt, c.stop, c.now)
	}
	if next > c.stop-c.eps {
		next = c.stop
	}
	c.now = next
	return nil
}

// SetNow repositions the clock inside its window. Checkpoint resume uses
// this to continue a half-finished run.
func (c *Clock) SetNow(t float64) error {
	if t < c.start-c.eps || t > c.stop+c.eps || math.IsNaN(t) {
		return fmt.Errorf("%w: time %v outside [%v, %v]", ErrInvalidTimestep, t, c.start, c.stop)
	}
	c.now = math.Min(math.Max(t, c.start), c.stop)
	return nil
}
