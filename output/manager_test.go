package output

import (
	"errors"
	"strings"
	"testing"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

type captureWriter struct {
	name      string
	err       error
	emissions []Emission
}

func (w *captureWriter) Name() string { return w.name }

func (w *captureWriter) Write(e Emission) error {
	if w.err != nil {
		return w.err
	}
	w.emissions = append(w.emissions, e)
	return nil
}

type fakeRun struct {
	id    string
	iters int
	comps []core.Component
}

func (r *fakeRun) RunID() string                { return r.id }
func (r *fakeRun) Iterations() int              { return r.iters }
func (r *fakeRun) Components() []core.Component { return r.comps }

type fakeRecorder struct {
	outputs int
	mean    float64
}

func (r *fakeRecorder) AddEmittedOutput()          { r.outputs++ }
func (r *fakeRecorder) SetMeanElevation(m float64) { r.mean = m }

func managerGrid(t *testing.T) (*grid.RasterGrid, *grid.FieldSet) {
	t.Helper()
	g, err := grid.NewRasterGrid(3, 3, 1)
	if err != nil {
		t.Fatalf("NewRasterGrid: %v", err)
	}
	fs := grid.NewFieldSet(g.NodeCount())
	if _, err := fs.AddField(grid.FieldTopographicElevation, 2.0); err != nil {
		t.Fatalf("AddField: %v", err)
	}
	return g, fs
}

func TestManagerEmitsOnlyWhenDue(t *testing.T) {
	g, fs := managerGrid(t)
	sched, err := NewIntervalSchedule(10)
	if err != nil {
		t.Fatalf("NewIntervalSchedule: %v", err)
	}
	w := &captureWriter{name: "capture"}
	mgr, err := NewManager(g, sched, []Writer{w})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.BindRun(&fakeRun{id: "ridge-01", iters: 4})

	if err := mgr.MaybeEmit(0, 5, fs); err != nil {
		t.Fatalf("MaybeEmit(0, 5): %v", err)
	}
	if len(w.emissions) != 0 {
		t.Fatalf("window (0, 5] emitted %d times, want 0", len(w.emissions))
	}

	if err := mgr.MaybeEmit(5, 10, fs); err != nil {
		t.Fatalf("MaybeEmit(5, 10): %v", err)
	}
	if len(w.emissions) != 1 {
		t.Fatalf("window (5, 10] emitted %d times, want 1", len(w.emissions))
	}
	e := w.emissions[0]
	if e.RunID != "ridge-01" || e.Iteration != 4 || e.Time != 10 {
		t.Fatalf("emission = %+v, want run ridge-01 iteration 4 at t=10", e)
	}
	if mgr.Emissions() != 1 {
		t.Fatalf("Emissions() = %d, want 1", mgr.Emissions())
	}
}

func TestManagerWrapsWriterFailure(t *testing.T) {
	g, fs := managerGrid(t)
	sched, err := NewIntervalSchedule(10)
	if err != nil {
		t.Fatalf("NewIntervalSchedule: %v", err)
	}
	boom := errors.New("disk full")
	mgr, err := NewManager(g, sched, []Writer{&captureWriter{name: "asc", err: boom}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	err = mgr.MaybeEmit(0, 10, fs)
	if !errors.Is(err, boom) {
		t.Fatalf("MaybeEmit error = %v, want wrapped disk full", err)
	}
	if !strings.Contains(err.Error(), `"asc"`) {
		t.Fatalf("error %q does not name the failing writer", err)
	}
}

func TestManagerRecordsEmissionMetrics(t *testing.T) {
	g, fs := managerGrid(t)
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	for i := range z {
		z[i] = float64(i)
	}

	sched, err := NewIntervalSchedule(10)
	if err != nil {
		t.Fatalf("NewIntervalSchedule: %v", err)
	}
	rec := &fakeRecorder{}
	mgr, err := NewManager(g, sched, nil, WithRecorder(rec))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := mgr.MaybeEmit(0, 10, fs); err != nil {
		t.Fatalf("MaybeEmit: %v", err)
	}
	if rec.outputs != 1 {
		t.Fatalf("recorded outputs = %d, want 1", rec.outputs)
	}
	// All nine nodes are core on a fresh grid: mean of 0..8 is 4.
	if rec.mean != 4 {
		t.Fatalf("recorded mean elevation = %v, want 4", rec.mean)
	}
}

func TestManagerWriterNames(t *testing.T) {
	g, _ := managerGrid(t)
	sched, err := NewIntervalSchedule(10)
	if err != nil {
		t.Fatalf("NewIntervalSchedule: %v", err)
	}
	mgr, err := NewManager(g, sched, []Writer{
		&captureWriter{name: "esri_ascii"},
		&captureWriter{name: "summary_csv"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	names := mgr.Writers()
	if len(names) != 2 || names[0] != "esri_ascii" || names[1] != "summary_csv" {
		t.Fatalf("Writers() = %v, want [esri_ascii summary_csv]", names)
	}
}

func TestManagerRejectsNilSchedule(t *testing.T) {
	g, _ := managerGrid(t)
	if _, err := NewManager(g, nil, nil); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("nil schedule: got %v, want ErrInvalidParameter", err)
	}
	if _, err := NewManager(nil, &Schedule{interval: 1}, nil); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("nil grid: got %v, want ErrInvalidParameter", err)
	}
}
