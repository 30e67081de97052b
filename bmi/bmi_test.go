package bmi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/orogenlabs/terramorph/config"
	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

func basicConfig(stop float64) *config.Config {
	return &config.Config{
		RunID:      "bmi-test",
		Clock:      config.Clock{Start: 0, Stop: stop, Step: 10},
		StepPolicy: core.DefaultStepPolicy,
		Grid: config.Grid{
			Rows: 5, Cols: 5, Spacing: 10,
			InitialElevation: 50, NoiseStd: 1.0, RandomSeed: 42,
		},
		Model: "basic",
		Parameters: core.Params{
			"water_erodibility":            0.0001,
			"regolith_transport_parameter": 0.01,
		},
	}
}

func TestInitializeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
run_id: from-file
clock: {start: 0, stop: 30, step: 10}
grid: {rows: 5, cols: 5, spacing: 10.0, initial_elevation: 50.0, noise_std: 1.0, random_seed: 42}
model: basic
parameters:
  water_erodibility: 0.0001
  regolith_transport_parameter: 0.01
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := Initialize(path)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := a.ComponentName(); got != "terramorph basic" {
		t.Fatalf("ComponentName = %q, want %q", got, "terramorph basic")
	}
	if a.RunID() != "from-file" {
		t.Fatalf("RunID = %q, want %q", a.RunID(), "from-file")
	}
	if a.StartTime() != 0 || a.EndTime() != 30 || a.TimeStep() != 10 {
		t.Fatalf("time window = (%v, %v, %v), want (0, 30, 10)",
			a.StartTime(), a.EndTime(), a.TimeStep())
	}
	rows, cols := a.GridShape()
	if rows != 5 || cols != 5 || a.GridSpacing() != 10 || a.NodeCount() != 25 {
		t.Fatalf("grid = %dx%d spacing %v nodes %d, want 5x5 spacing 10 nodes 25",
			rows, cols, a.GridSpacing(), a.NodeCount())
	}
}

func TestInitializeRejectsBadFile(t *testing.T) {
	if _, err := Initialize(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing configuration file")
	}
}

func TestUpdateAdvancesOneIteration(t *testing.T) {
	a, err := InitializeFrom(basicConfig(30))
	if err != nil {
		t.Fatalf("InitializeFrom failed: %v", err)
	}
	ctx := context.Background()
	for i, want := range []float64{10, 20, 30} {
		if err := a.Update(ctx); err != nil {
			t.Fatalf("Update %d failed: %v", i+1, err)
		}
		if a.CurrentTime() != want {
			t.Fatalf("after update %d time = %v, want %v", i+1, a.CurrentTime(), want)
		}
	}
	if a.State() != core.StateFinished {
		t.Fatalf("state = %v, want %v", a.State(), core.StateFinished)
	}
	if err := a.Update(ctx); !errors.Is(err, core.ErrInvalidRunState) {
		t.Fatalf("Update past stop = %v, want ErrInvalidRunState", err)
	}
}

func TestUpdateUntil(t *testing.T) {
	a, err := InitializeFrom(basicConfig(100))
	if err != nil {
		t.Fatalf("InitializeFrom failed: %v", err)
	}
	ctx := context.Background()

	if err := a.UpdateUntil(ctx, 35); err != nil {
		t.Fatalf("UpdateUntil(35) failed: %v", err)
	}
	if a.CurrentTime() != 40 {
		t.Fatalf("time = %v, want 40 (whole iterations only)", a.CurrentTime())
	}
	if err := a.UpdateUntil(ctx, 40); err != nil {
		t.Fatalf("UpdateUntil(40) failed: %v", err)
	}
	if a.CurrentTime() != 40 {
		t.Fatalf("reaching the current time must not advance, got %v", a.CurrentTime())
	}
	if err := a.UpdateUntil(ctx, 10); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("UpdateUntil behind now = %v, want ErrInvalidParameter", err)
	}
	if err := a.UpdateUntil(ctx, 1e6); err != nil {
		t.Fatalf("UpdateUntil past stop failed: %v", err)
	}
	if a.CurrentTime() != 100 || a.State() != core.StateFinished {
		t.Fatalf("time = %v state = %v, want 100 finished", a.CurrentTime(), a.State())
	}
}

func TestValueAccessors(t *testing.T) {
	a, err := InitializeFrom(basicConfig(30))
	if err != nil {
		t.Fatalf("InitializeFrom failed: %v", err)
	}

	z, err := a.Value(grid.FieldTopographicElevation)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	z[0] = -1234
	fresh, err := a.Value(grid.FieldTopographicElevation)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if fresh[0] == -1234 {
		t.Fatal("Value must return a copy")
	}

	ref, err := a.ValueRef(grid.FieldTopographicElevation)
	if err != nil {
		t.Fatalf("ValueRef failed: %v", err)
	}
	ref[0] = 999
	seen, _ := a.Value(grid.FieldTopographicElevation)
	if seen[0] != 999 {
		t.Fatal("ValueRef must alias the live array")
	}

	values := make([]float64, a.NodeCount())
	for i := range values {
		values[i] = 5
	}
	if err := a.SetValue(grid.FieldTopographicElevation, values); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if ref[0] != 5 {
		t.Fatalf("SetValue not visible through the live array, got %v", ref[0])
	}
	if err := a.SetValue(grid.FieldTopographicElevation, values[:3]); !errors.Is(err, grid.ErrLengthMismatch) {
		t.Fatalf("short SetValue = %v, want ErrLengthMismatch", err)
	}

	if _, err := a.Value("no_such__field"); !errors.Is(err, grid.ErrUnknownField) {
		t.Fatalf("unknown Value = %v, want ErrUnknownField", err)
	}
	receivers, err := a.IntValue(grid.FieldFlowReceiverNode)
	if err != nil {
		t.Fatalf("IntValue failed: %v", err)
	}
	if len(receivers) != a.NodeCount() {
		t.Fatalf("receiver array length = %d, want %d", len(receivers), a.NodeCount())
	}
}

func TestVarNames(t *testing.T) {
	a, err := InitializeFrom(basicConfig(30))
	if err != nil {
		t.Fatalf("InitializeFrom failed: %v", err)
	}
	in := a.InputVarNames()
	if len(in) != 2 || in[0] != grid.FieldInitialTopographicElevation || in[1] != grid.FieldTopographicElevation {
		t.Fatalf("input vars = %v", in)
	}
	out := a.OutputVarNames()
	has := func(name string) bool {
		for _, n := range out {
			if n == name {
				return true
			}
		}
		return false
	}
	for _, name := range []string{grid.FieldDrainageArea, grid.FieldSurfaceWaterDischarge, grid.FieldFlowReceiverNode} {
		if !has(name) {
			t.Fatalf("output vars missing %q: %v", name, out)
		}
	}
}

func TestFinalizeBlocksUpdates(t *testing.T) {
	a, err := InitializeFrom(basicConfig(30))
	if err != nil {
		t.Fatalf("InitializeFrom failed: %v", err)
	}
	if err := a.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := a.Finalize(); err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}
	if err := a.Update(context.Background()); !errors.Is(err, core.ErrInvalidRunState) {
		t.Fatalf("Update after Finalize = %v, want ErrInvalidRunState", err)
	}
	if err := a.UpdateUntil(context.Background(), 30); !errors.Is(err, core.ErrInvalidRunState) {
		t.Fatalf("UpdateUntil after Finalize = %v, want ErrInvalidRunState", err)
	}
	if _, err := a.Value(grid.FieldTopographicElevation); err != nil {
		t.Fatalf("reads after Finalize should still work: %v", err)
	}
}
