package output

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/internal/logging"
)

// Run is the view of a live run the manager draws emission metadata from.
// core.Model satisfies it.
type Run interface {
	RunID() string
	Iterations() int
	Components() []core.Component
}

// EmitRecorder receives emission measurements. The observability package
// provides the Prometheus-backed implementation.
type EmitRecorder interface {
	AddEmittedOutput()
	SetMeanElevation(m float64)
}

// Manager is the driver's output sink: when the schedule declares a window
// due it runs every configured writer, in order. A writer error aborts the
// run; output is part of the run's contract, not advisory.
type Manager struct {
	grid    *grid.RasterGrid
	sched   *Schedule
	writers []Writer
	log     logging.Logger
	rec     EmitRecorder
	run     Run

	emissions int
}

// ManagerOption customises Manager construction.
type ManagerOption func(*Manager)

// WithLogger attaches a structured logger; Noop when omitted.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithRecorder attaches an emission metrics recorder.
func WithRecorder(r EmitRecorder) ManagerOption {
	return func(m *Manager) { m.rec = r }
}

// NewManager builds an output manager over a schedule and writer list. A nil
// schedule is rejected; an empty writer list is legal and emits nothing but
// still advances the schedule cursor.
func NewManager(g *grid.RasterGrid, sched *Schedule, writers []Writer, opts ...ManagerOption) (*Manager, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", core.ErrInvalidParameter)
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: nil output schedule", core.ErrInvalidParameter)
	}
	m := &Manager{
		grid:    g,
		sched:   sched,
		writers: writers,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// BindRun attaches the run whose identity and iteration counter stamp each
// emission. The model is constructed with the manager as its sink, so the
// binding necessarily happens after NewManager.
func (m *Manager) BindRun(run Run) { m.run = run }

// Emissions reports how many output windows have fired.
func (m *Manager) Emissions() int { return m.emissions }

// Writers lists the configured writer names, in emission order.
func (m *Manager) Writers() []string {
	names := make([]string, len(m.writers))
	for i, w := range m.writers {
		names[i] = w.Name()
	}
	return names
}

// MaybeEmit fires every writer when a trigger lies in (prev, now].
func (m *Manager) MaybeEmit(prev, now float64, fs *grid.FieldSet) error {
	if !m.sched.Due(prev, now) {
		return nil
	}
	e := Emission{Time: now, Fields: fs}
	if m.run != nil {
		e.RunID = m.run.RunID()
		e.Iteration = m.run.Iterations()
		e.Components = m.run.Components()
	}
	for _, w := range m.writers {
		if err := w.Write(e); err != nil {
			return fmt.Errorf("output writer %q: %w", w.Name(), err)
		}
	}
	m.emissions++

	if m.rec != nil {
		m.rec.AddEmittedOutput()
		if z, err := fs.Field(grid.FieldTopographicElevation); err == nil {
			m.rec.SetMeanElevation(coreMean(m.grid, z))
		}
	}
	m.log.Debug(context.Background(), "output emitted",
		logging.Any("model_time", now),
		logging.Int("emission", m.emissions),
		logging.Int("writers", len(m.writers)),
	)
	return nil
}

// coreMean averages values over core nodes, falling back to all nodes when
// the grid has no core nodes classified yet.
func coreMean(g *grid.RasterGrid, values []float64) float64 {
	sum, n := 0.0, 0
	for id := 0; id < g.NodeCount() && id < len(values); id++ {
		if g.IsCore(id) {
			sum += values[id]
			n++
		}
	}
	if n == 0 {
		if len(values) == 0 {
			return 0
		}
		return floats.Sum(values) / float64(len(values))
	}
	return sum / float64(n)
}
