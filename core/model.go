package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/internal/logging"
	"github.com/orogenlabs/terramorph/timectrl"
)

// RunState is the driver's lifecycle position.
type RunState int

const (
	StateConstructed RunState = iota
	StateValidated
	StateRunning
	StateFinished
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateValidated:
		return "validated"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepPolicy bounds the retry loop for numerically unstable iterations.
type StepPolicy struct {
	// MaxRetries is the number of halved re-attempts per iteration after
	// the first try.
	MaxRetries int
	// HalvingFactor scales dt on every retry; must lie in (0, 1).
	HalvingFactor float64
}

// DefaultStepPolicy matches the configuration surface's defaults.
var DefaultStepPolicy = StepPolicy{MaxRetries: 3, HalvingFactor: 0.5}

func (p StepPolicy) validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries %d", ErrInvalidParameter, p.MaxRetries)
	}
	if p.HalvingFactor <= 0 || p.HalvingFactor >= 1 {
		return fmt.Errorf("%w: halving_factor %v not in (0, 1)", ErrInvalidParameter, p.HalvingFactor)
	}
	return nil
}

// RunMetricsRecorder receives per-iteration measurements. The observability
// package provides the Prometheus-backed implementation.
type RunMetricsRecorder interface {
	ObserveIteration(dt, seconds float64)
	ObserveComponentStep(component string, seconds float64)
	AddRetry()
	AddAbort()
	SetSimTime(t float64)
}

type noopRunMetrics struct{}

func (noopRunMetrics) ObserveIteration(float64, float64)    {}
func (noopRunMetrics) ObserveComponentStep(string, float64) {}
func (noopRunMetrics) AddRetry()                            {}
func (noopRunMetrics) AddAbort()                            {}
func (noopRunMetrics) SetSimTime(float64)                   {}

// Model sequences one run: it validates the pipeline against the declared
// field flow, then advances the clock iteration by iteration, enforcing
// boundary conditions before the components, retrying unstable iterations
// with a halved timestep, and handing every completed window to the output
// sink. A Model belongs to a single goroutine.
type Model struct {
	clock    *timectrl.Clock
	grid     *grid.RasterGrid
	fields   *grid.FieldSet
	boundary BoundaryConditioner
	comps    []Component
	initial  []string

	sink    OutputSink
	policy  StepPolicy
	log     logging.Logger
	metrics RunMetricsRecorder
	tracer  oteltrace.Tracer
	runID   string

	state      RunState
	iterations int
	retries    int
}

// Option customises Model construction.
type Option func(*Model)

// WithLogger attaches a structured logger; Noop when omitted.
func WithLogger(l logging.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

// WithOutputSink attaches the output scheduler; without one the run emits
// nothing.
func WithOutputSink(s OutputSink) Option {
	return func(m *Model) { m.sink = s }
}

// WithStepPolicy overrides the default retry policy.
func WithStepPolicy(p StepPolicy) Option {
	return func(m *Model) { m.policy = p }
}

// WithMetrics attaches a metrics recorder; discarded when omitted.
func WithMetrics(r RunMetricsRecorder) Option {
	return func(m *Model) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithRunID names the run in logs, traces and checkpoints.
func WithRunID(id string) Option {
	return func(m *Model) {
		if id != "" {
			m.runID = id
		}
	}
}

// WithResumedIterations seeds the iteration counter when a run continues
// from a checkpoint, so summaries and checkpoints keep absolute counts.
func WithResumedIterations(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.iterations = n
		}
	}
}

// NewModel wires a run together. The initial field names are the fields
// that existed before any component was constructed; validation checks the
// declared requires/produces flow against them.
func NewModel(clock *timectrl.Clock, g *grid.RasterGrid, fs *grid.FieldSet, bc BoundaryConditioner, initialFields []string, comps []Component, opts ...Option) (*Model, error) {
	switch {
	case clock == nil:
		return nil, fmt.Errorf("%w: nil clock", ErrInvalidParameter)
	case g == nil:
		return nil, fmt.Errorf("%w: nil grid", ErrInvalidParameter)
	case fs == nil:
		return nil, fmt.Errorf("%w: nil fieldset", ErrInvalidParameter)
	case bc == nil:
		return nil, fmt.Errorf("%w: nil boundary manager", ErrInvalidParameter)
	case len(comps) == 0:
		return nil, fmt.Errorf("%w: a model needs at least one component", ErrInvalidParameter)
	}
	seen := make(map[string]struct{}, len(comps))
	for _, c := range comps {
		if c == nil || c.Name() == "" {
			return nil, fmt.Errorf("%w: nil or unnamed component", ErrInvalidParameter)
		}
		if _, dup := seen[c.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate component name %q", ErrInvalidParameter, c.Name())
		}
		seen[c.Name()] = struct{}{}
	}

	m := &Model{
		clock:    clock,
		grid:     g,
		fields:   fs,
		boundary: bc,
		comps:    comps,
		initial:  append([]string(nil), initialFields...),
		policy:   DefaultStepPolicy,
		log:      logging.Noop(),
		metrics:  noopRunMetrics{},
		tracer:   otel.Tracer("terramorph/core"),
		state:    StateConstructed,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.policy.validate(); err != nil {
		return nil, err
	}
	if m.runID == "" {
		_, m.runID = logging.EnsureRunID(context.Background())
	}
	return m, nil
}

func (m *Model) State() RunState         { return m.state }
func (m *Model) Iterations() int         { return m.iterations }
func (m *Model) Retries() int            { return m.retries }
func (m *Model) RunID() string           { return m.runID }
func (m *Model) Clock() *timectrl.Clock  { return m.clock }
func (m *Model) Grid() *grid.RasterGrid  { return m.grid }
func (m *Model) Fields() *grid.FieldSet  { return m.fields }
func (m *Model) Components() []Component { return m.comps }

// Validate classifies the boundary configuration and checks the pipeline's
// field flow. On success the model moves to the validated state; on failure
// it stays constructed so the problem can be fixed and validation retried.
func (m *Model) Validate() error {
	if m.state != StateConstructed {
		return fmt.Errorf("%w: validate from %v", ErrInvalidRunState, m.state)
	}
	if err := m.boundary.Classify(); err != nil {
		return fmt.Errorf("classify boundary conditions: %w", err)
	}
	if err := ValidatePipeline(m.initial, m.comps); err != nil {
		return err
	}
	m.state = StateValidated
	return nil
}

// Run advances the model from the clock's current position to its stop
// time. Cancellation is honored between iterations only; a cancelled or
// failed run leaves the fieldset exactly as the last successful iteration
// left it.
func (m *Model) Run(ctx context.Context) error {
	if m.state != StateValidated {
		return fmt.Errorf("%w: run from %v", ErrInvalidRunState, m.state)
	}
	m.state = StateRunning

	ctx = logging.ContextWithRunID(ctx, m.runID)
	ctx, span := m.tracer.Start(ctx, "model.run", oteltrace.WithAttributes(
		attribute.String("run_id", m.runID),
		attribute.Int("components", len(m.comps)),
		attribute.Float64("stop", m.clock.Stop()),
	))
	defer span.End()

	started := time.Now()
	m.log.Info(ctx, "run starting",
		logging.String("run_id", m.runID),
		logging.Any("start", m.clock.Now()),
		logging.Any("stop", m.clock.Stop()),
		logging.Int("components", len(m.comps)),
	)

	for !m.clock.IsFinished() {
		if err := ctx.Err(); err != nil {
			m.state = StateAborted
			m.metrics.AddAbort()
			span.AddEvent("cancelled")
			m.log.Warn(ctx, "run cancelled",
				logging.Int("iterations", m.iterations),
				logging.Any("model_time", m.clock.Now()),
			)
			return fmt.Errorf("run cancelled at t=%v: %w", m.clock.Now(), err)
		}
		if err := m.runIteration(ctx); err != nil {
			m.state = StateAborted
			m.metrics.AddAbort()
			m.log.Error(ctx, "run aborted", logging.String("error", err.Error()))
			return err
		}
	}

	m.state = StateFinished
	span.SetAttributes(attribute.Int("iterations", m.iterations), attribute.Int("retries", m.retries))
	m.log.Info(ctx, "run finished",
		logging.String("run_id", m.runID),
		logging.Int("iterations", m.iterations),
		logging.Int("retries", m.retries),
		logging.Any("model_time", m.clock.Now()),
		logging.String("wall_time", time.Since(started).String()),
	)
	return nil
}

// Step advances the model by exactly one iteration. The first call moves a
// validated model into the running state; when the clock reaches stop the
// model finishes. External drivers use this instead of Run to interleave
// their own work between iterations; the two must not be mixed on one model.
func (m *Model) Step(ctx context.Context) error {
	switch m.state {
	case StateValidated:
		m.state = StateRunning
	case StateRunning:
	default:
		return fmt.Errorf("%w: step from %v", ErrInvalidRunState, m.state)
	}
	if m.clock.IsFinished() {
		m.state = StateFinished
		return nil
	}

	ctx = logging.ContextWithRunID(ctx, m.runID)
	if err := ctx.Err(); err != nil {
		m.state = StateAborted
		m.metrics.AddAbort()
		return fmt.Errorf("step cancelled at t=%v: %w", m.clock.Now(), err)
	}
	if err := m.runIteration(ctx); err != nil {
		m.state = StateAborted
		m.metrics.AddAbort()
		m.log.Error(ctx, "run aborted", logging.String("error", err.Error()))
		return err
	}
	if m.clock.IsFinished() {
		m.state = StateFinished
	}
	return nil
}

// runIteration executes one full iteration: timestep selection, snapshot,
// forcing + enforcement + pipeline, bounded retries on instability, clock
// advance and output emission. Any error returned here aborts the run.
func (m *Model) runIteration(ctx context.Context) error {
	prev := m.clock.Now()
	dt, err := m.clock.NextDt(m.clock.Step())
	if err != nil {
		return &StepError{Iteration: m.iterations, Time: prev, Retries: 0, Component: "clock", Err: err}
	}

	ctx, span := m.tracer.Start(ctx, "model.iteration", oteltrace.WithAttributes(
		attribute.Int("iteration", m.iterations),
		attribute.Float64("t", prev),
		attribute.Float64("dt", dt),
	))
	defer span.End()

	snap := m.fields.Snapshot()
	for _, c := range m.comps {
		if r, ok := c.(Rewinder); ok {
			r.Mark()
		}
	}

	iterStart := time.Now()
	retries := 0
	for {
		failed, err := m.attempt(dt)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNumericalInstability) || retries >= m.policy.MaxRetries {
			if restoreErr := m.fields.Restore(snap); restoreErr != nil {
				m.log.Error(ctx, "snapshot restore failed after abort", logging.String("error", restoreErr.Error()))
			}
			span.SetAttributes(attribute.Int("retries", retries))
			return &StepError{Iteration: m.iterations, Time: prev, Dt: dt, Retries: retries, Component: failed, Err: err}
		}
		if restoreErr := m.fields.Restore(snap); restoreErr != nil {
			return &StepError{Iteration: m.iterations, Time: prev, Dt: dt, Retries: retries, Component: failed, Err: restoreErr}
		}
		for _, c := range m.comps {
			if r, ok := c.(Rewinder); ok {
				r.Rewind()
			}
		}
		retries++
		m.retries++
		m.metrics.AddRetry()
		next := dt * m.policy.HalvingFactor
		m.log.Warn(ctx, "iteration unstable, retrying with reduced timestep",
			logging.Int("iteration", m.iterations),
			logging.String("component", failed),
			logging.Any("dt", dt),
			logging.Any("dt_next", next),
			logging.Int("attempt", retries),
		)
		span.AddEvent("retry", oteltrace.WithAttributes(
			attribute.String("component", failed),
			attribute.Float64("dt_next", next),
		))
		dt = next
	}

	if err := m.clock.Advance(dt); err != nil {
		return &StepError{Iteration: m.iterations, Time: prev, Dt: dt, Retries: retries, Component: "clock", Err: err}
	}
	m.iterations++
	m.metrics.ObserveIteration(dt, time.Since(iterStart).Seconds())
	m.metrics.SetSimTime(m.clock.Now())
	span.SetAttributes(attribute.Int("retries", retries))

	m.log.Debug(ctx, "iteration complete",
		logging.Int("iteration", m.iterations),
		logging.Any("model_time", m.clock.Now()),
		logging.Any("dt", dt),
	)

	if m.sink != nil {
		if err := m.sink.MaybeEmit(prev, m.clock.Now(), m.fields); err != nil {
			return &StepError{Iteration: m.iterations, Time: m.clock.Now(), Dt: dt, Retries: retries, Component: "output", Err: err}
		}
	}
	return nil
}

// attempt runs boundary forcing, enforcement and every component once with
// the given dt. It reports which stage failed.
func (m *Model) attempt(dt float64) (string, error) {
	if err := m.boundary.AdvanceHandlers(m.fields, dt); err != nil {
		return "boundary", err
	}
	if err := m.boundary.Enforce(m.fields); err != nil {
		return "boundary", err
	}
	for _, c := range m.comps {
		compStart := time.Now()
		if err := c.RunOneStep(dt); err != nil {
			return c.Name(), fmt.Errorf("component %q: %w", c.Name(), err)
		}
		m.metrics.ObserveComponentStep(c.Name(), time.Since(compStart).Seconds())
	}
	return "", nil
}
