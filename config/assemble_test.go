package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/output"
	"github.com/orogenlabs/terramorph/timectrl"
)

func TestLoadAndAssembleRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	doc := fmt.Sprintf(`
run_id: smoke-01
clock: {start: 0, stop: 30, step: 10}
grid:
  rows: 5
  cols: 5
  spacing: 10.0
  initial_elevation: 50.0
  noise_std: 1.0
  random_seed: 42
model: basic
parameters:
  water_erodibility: 0.0001
  regolith_transport_parameter: 0.01
output:
  interval: 10.0
  directory: "%s"
  fields: [topographic__elevation]
  writers: [summary_csv]
`, dir)

	cfg, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	run, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if err := run.Model.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := run.Model.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if run.Model.State() != core.StateFinished {
		t.Fatalf("state = %v, want %v", run.Model.State(), core.StateFinished)
	}
	if run.Model.Iterations() != 3 {
		t.Fatalf("iterations = %d, want 3", run.Model.Iterations())
	}
	if run.Output.Emissions() != 3 {
		t.Fatalf("emissions = %d, want 3", run.Output.Emissions())
	}

	data, err := os.ReadFile(filepath.Join(dir, "smoke-01_summary.csv"))
	if err != nil {
		t.Fatalf("summary file missing: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 4 {
		t.Fatalf("summary has %d lines, want header plus 3 rows", lines)
	}
}

func TestAssembleClassifiesBeforeTopography(t *testing.T) {
	cfg := &Config{
		Clock: Clock{Start: 0, Stop: 10, Step: 1},
		Grid: Grid{
			Rows: 5, Cols: 5, Spacing: 10,
			InitialElevation: 50, NoiseStd: 1.0, RandomSeed: 7,
		},
		StepPolicy: core.DefaultStepPolicy,
		Components: []Component{
			{Kind: "linear_diffuser", Params: core.Params{"regolith_transport_parameter": 0.01}},
		},
	}
	run, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	z, err := run.Fields.Field(grid.FieldTopographicElevation)
	if err != nil {
		t.Fatalf("Field failed: %v", err)
	}
	perturbed := false
	for id := 0; id < run.Grid.NodeCount(); id++ {
		if run.Grid.IsPerimeter(id) {
			if z[id] != 50 {
				t.Fatalf("perimeter node %d carries noise: %v", id, z[id])
			}
		} else if z[id] != 50 {
			perturbed = true
		}
	}
	if !perturbed {
		t.Fatal("no core node was perturbed")
	}

	want := []string{grid.FieldInitialTopographicElevation, grid.FieldTopographicElevation}
	if diff := cmp.Diff(want, run.InitialFields); diff != "" {
		t.Fatalf("initial fields mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleContactFieldFromGridSection(t *testing.T) {
	contact := 40.0
	cfg := &Config{
		Clock: Clock{Start: 0, Stop: 10, Step: 1},
		Grid: Grid{
			Rows: 5, Cols: 5, Spacing: 10,
			InitialElevation: 50, ContactElevation: &contact,
		},
		StepPolicy: core.DefaultStepPolicy,
		Model:      "basic_rt",
		Parameters: core.Params{
			"water_erodibility_upper":      0.0001,
			"water_erodibility_lower":      0.00001,
			"regolith_transport_parameter": 0.01,
		},
	}
	run, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	zc, err := run.Fields.Field(grid.FieldLithologyContactElevation)
	if err != nil {
		t.Fatalf("contact field missing: %v", err)
	}
	if zc[0] != 40 {
		t.Fatalf("contact elevation = %v, want 40", zc[0])
	}
	if err := run.Model.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestAssembleRejectsUnknownHandler(t *testing.T) {
	cfg := &Config{
		Clock:      Clock{Start: 0, Stop: 10, Step: 1},
		Grid:       Grid{Rows: 5, Cols: 5, Spacing: 10},
		StepPolicy: core.DefaultStepPolicy,
		Boundary: Boundary{
			Handlers: []Handler{{Kind: "tectonic_saw"}},
		},
		Components: []Component{
			{Kind: "linear_diffuser", Params: core.Params{"regolith_transport_parameter": 0.01}},
		},
	}
	if _, err := Assemble(cfg); !errors.Is(err, core.ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestAssembleNilConfig(t *testing.T) {
	if _, err := Assemble(nil); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestAssembleResumeRunIDMismatch(t *testing.T) {
	cfg := &Config{
		RunID:      "mine",
		Clock:      Clock{Start: 0, Stop: 10, Step: 1},
		Grid:       Grid{Rows: 5, Cols: 5, Spacing: 10},
		StepPolicy: core.DefaultStepPolicy,
		Components: []Component{
			{Kind: "linear_diffuser", Params: core.Params{"regolith_transport_parameter": 0.01}},
		},
	}
	ck := &output.Checkpoint{RunID: "other"}
	if _, err := Assemble(cfg, WithCheckpoint(ck)); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestAssembleResumeTimeOutsideClock(t *testing.T) {
	cfg := &Config{
		Clock:      Clock{Start: 0, Stop: 100, Step: 10},
		Grid:       Grid{Rows: 5, Cols: 5, Spacing: 10},
		StepPolicy: core.DefaultStepPolicy,
		Components: []Component{
			{Kind: "linear_diffuser", Params: core.Params{"regolith_transport_parameter": 0.01}},
		},
	}
	ck := &output.Checkpoint{RunID: "late", Time: 500}
	if _, err := Assemble(cfg, WithCheckpoint(ck)); !errors.Is(err, timectrl.ErrInvalidTimestep) {
		t.Fatalf("expected ErrInvalidTimestep, got %v", err)
	}
}

// stochasticConfig builds a basic_st configuration whose every random draw
// is pinned by explicit seeds, so two assemblies replay identically.
func stochasticConfig(runID string, stop float64) *Config {
	return &Config{
		RunID:      runID,
		Clock:      Clock{Start: 0, Stop: stop, Step: 10},
		StepPolicy: core.DefaultStepPolicy,
		Grid: Grid{
			Rows: 6, Cols: 6, Spacing: 10,
			InitialElevation: 100, NoiseStd: 1.0, RandomSeed: 42,
		},
		Model: "basic_st",
		Parameters: core.Params{
			"mean_storm__intensity":        5.0,
			"intermittency_factor":         0.3,
			"seed":                         11,
			"water_erodibility":            0.0001,
			"regolith_transport_parameter": 0.01,
		},
	}
}

func runToCompletion(t *testing.T, run *Run) {
	t.Helper()
	if err := run.Model.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := run.Model.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

// Two assemblies of the same configuration replay the same noise and storm
// draws and land on bitwise-identical fields; the run id plays no part in
// the physics.
func TestAssembleSameSeedRunsIdentically(t *testing.T) {
	first, err := Assemble(stochasticConfig("twin-a", 100))
	if err != nil {
		t.Fatalf("Assemble first run failed: %v", err)
	}
	runToCompletion(t, first)

	second, err := Assemble(stochasticConfig("twin-b", 100))
	if err != nil {
		t.Fatalf("Assemble second run failed: %v", err)
	}
	runToCompletion(t, second)

	if first.Model.Iterations() != second.Model.Iterations() {
		t.Fatalf("iterations diverged: %d vs %d", first.Model.Iterations(), second.Model.Iterations())
	}
	for _, field := range []string{
		grid.FieldTopographicElevation,
		grid.FieldDrainageArea,
		grid.FieldRainfallFlux,
	} {
		want, err := first.Fields.Field(field)
		if err != nil {
			t.Fatalf("first run missing %q: %v", field, err)
		}
		got, err := second.Fields.Field(field)
		if err != nil {
			t.Fatalf("second run missing %q: %v", field, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s diverged between identical runs (-first +second):\n%s", field, diff)
		}
	}
}

// A run checkpointed at t=60 and resumed to t=100 must land on exactly the
// surface a straight 0..100 run produces, storm sequence included.
func TestAssembleResumeMatchesStraightRun(t *testing.T) {
	straight, err := Assemble(stochasticConfig("resume-eq", 100))
	if err != nil {
		t.Fatalf("Assemble straight run failed: %v", err)
	}
	runToCompletion(t, straight)

	dir := t.TempDir()
	cfg := stochasticConfig("resume-eq", 60)
	cfg.Output = &Output{Interval: 60, Directory: dir, Checkpoint: true}
	leg1, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble first leg failed: %v", err)
	}
	runToCompletion(t, leg1)
	if leg1.Output.Emissions() != 1 {
		t.Fatalf("first leg emissions = %d, want 1", leg1.Output.Emissions())
	}

	ck, err := output.LoadCheckpoint(filepath.Join(dir, "resume-eq_checkpoint.gob"))
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if ck.Time != 60 || ck.Iteration != 6 {
		t.Fatalf("checkpoint at t=%v iteration=%d, want t=60 iteration=6", ck.Time, ck.Iteration)
	}

	leg2, err := Assemble(stochasticConfig("", 100), WithCheckpoint(ck))
	if err != nil {
		t.Fatalf("Assemble resumed run failed: %v", err)
	}
	if got := leg2.Model.RunID(); got != "resume-eq" {
		t.Fatalf("resumed run adopted run id %q, want %q", got, "resume-eq")
	}
	if now := leg2.Clock.Now(); now != 60 {
		t.Fatalf("resumed clock at %v, want 60", now)
	}
	runToCompletion(t, leg2)

	if leg2.Model.Iterations() != straight.Model.Iterations() {
		t.Fatalf("iterations = %d, want %d", leg2.Model.Iterations(), straight.Model.Iterations())
	}
	for _, field := range []string{grid.FieldTopographicElevation, grid.FieldDrainageArea} {
		want, err := straight.Fields.Field(field)
		if err != nil {
			t.Fatalf("straight run missing %q: %v", field, err)
		}
		got, err := leg2.Fields.Field(field)
		if err != nil {
			t.Fatalf("resumed run missing %q: %v", field, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s diverged after resume (-straight +resumed):\n%s", field, diff)
		}
	}
}
