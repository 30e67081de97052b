package config

import (
	"fmt"

	"github.com/orogenlabs/terramorph/boundary"
	"github.com/orogenlabs/terramorph/components"
	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/internal/logging"
	"github.com/orogenlabs/terramorph/models"
	"github.com/orogenlabs/terramorph/output"
	"github.com/orogenlabs/terramorph/timectrl"
)

// Run bundles everything Assemble wires together for one simulation. The
// Model drives the run; the rest is exposed so callers can inspect fields,
// reposition the clock in tests, or read emission counts afterwards.
type Run struct {
	Config        *Config
	Clock         *timectrl.Clock
	Grid          *grid.RasterGrid
	Fields        *grid.FieldSet
	Boundary      *boundary.Manager
	Components    []core.Component
	InitialFields []string
	Output        *output.Manager // nil when the configuration has no output section
	Model         *core.Model
}

type assembleOptions struct {
	log     logging.Logger
	metrics core.RunMetricsRecorder
	emitRec output.EmitRecorder
	ck      *output.Checkpoint
}

// AssembleOption customises assembly.
type AssembleOption func(*assembleOptions)

// WithLogger attaches a structured logger to the model and output manager.
func WithLogger(l logging.Logger) AssembleOption {
	return func(o *assembleOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRunMetrics attaches a driver metrics recorder.
func WithRunMetrics(r core.RunMetricsRecorder) AssembleOption {
	return func(o *assembleOptions) { o.metrics = r }
}

// WithEmitRecorder attaches an output emission recorder.
func WithEmitRecorder(r output.EmitRecorder) AssembleOption {
	return func(o *assembleOptions) { o.emitRec = r }
}

// WithCheckpoint resumes the assembled run from a saved checkpoint: the
// clock is repositioned, field values and component state are restored, and
// the iteration counter continues from where the checkpointed run stopped.
func WithCheckpoint(ck *output.Checkpoint) AssembleOption {
	return func(o *assembleOptions) { o.ck = ck }
}

// Assemble turns a validated configuration into a runnable model. Pieces are
// built in dependency order; notably the boundary manager classifies node
// statuses before the synthetic topography is generated, so perimeter nodes
// keep their exact base elevation and only core nodes carry noise.
func Assemble(cfg *Config, opts ...AssembleOption) (*Run, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", core.ErrInvalidParameter)
	}
	o := assembleOptions{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}

	runID := cfg.RunID
	if o.ck != nil {
		switch {
		case runID == "":
			runID = o.ck.RunID
		case o.ck.RunID != "" && o.ck.RunID != runID:
			return nil, fmt.Errorf("%w: run_id %q does not match checkpoint run %q",
				core.ErrInvalidParameter, runID, o.ck.RunID)
		}
	}

	clock, err := timectrl.NewClock(cfg.Clock.Start, cfg.Clock.Stop, cfg.Clock.Step)
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}
	if o.ck != nil {
		if err := clock.SetNow(o.ck.Time); err != nil {
			return nil, fmt.Errorf("resume at checkpoint time: %w", err)
		}
	}

	g, err := grid.NewRasterGrid(cfg.Grid.Rows, cfg.Grid.Cols, cfg.Grid.Spacing)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	fs := grid.NewFieldSet(g.NodeCount())

	bc, err := boundary.NewManager(g, clock, boundary.Config{
		ClosedEdges:        cfg.Grid.ClosedEdges,
		FixedGradientEdges: cfg.Boundary.FixedGradientEdges,
		FixedGradient:      cfg.Boundary.FixedGradient,
		Watershed:          cfg.Grid.Watershed,
		Outlet:             cfg.Grid.Outlet,
	})
	if err != nil {
		return nil, fmt.Errorf("boundary manager: %w", err)
	}
	// Classify now so the synthetic surface perturbs core nodes only. The
	// model validates (and re-classifies) before running; Classify recomputes
	// from scratch, so the second pass lands on the same statuses.
	if err := bc.Classify(); err != nil {
		return nil, fmt.Errorf("classify boundary conditions: %w", err)
	}
	if err := g.AddSyntheticTopography(fs, cfg.Grid.InitialElevation, cfg.Grid.NoiseStd, cfg.Grid.RandomSeed); err != nil {
		return nil, fmt.Errorf("synthetic topography: %w", err)
	}
	if cfg.Grid.ContactElevation != nil {
		if _, err := fs.AddField(grid.FieldLithologyContactElevation, *cfg.Grid.ContactElevation); err != nil {
			return nil, fmt.Errorf("contact elevation field: %w", err)
		}
	}

	for _, h := range cfg.Boundary.Handlers {
		built, err := boundary.BuildHandler(h.Kind, bc, h.Params)
		if err != nil {
			return nil, fmt.Errorf("boundary handler %q: %w", h.Kind, err)
		}
		bc.AddHandler(built)
	}

	// The pipeline is validated against the fields that exist before any
	// component constructor runs.
	initialFields := append(fs.Names(), fs.IntNames()...)

	var comps []core.Component
	if cfg.Model != "" {
		preset, ok := models.Lookup(cfg.Model)
		if !ok {
			return nil, fmt.Errorf("%w: model preset %q", core.ErrUnknownComponent, cfg.Model)
		}
		comps, err = preset.Build(g, fs, bc, cfg.Parameters)
		if err != nil {
			return nil, err
		}
	} else {
		for _, c := range cfg.Components {
			built, err := components.Build(c.Kind, g, fs, bc, c.Params)
			if err != nil {
				return nil, fmt.Errorf("component %q: %w", c.Kind, err)
			}
			comps = append(comps, built)
		}
	}

	if o.ck != nil {
		if err := o.ck.Apply(fs, comps); err != nil {
			return nil, fmt.Errorf("apply checkpoint: %w", err)
		}
	}

	var mgr *output.Manager
	if cfg.Output != nil {
		mgr, err = buildOutput(cfg.Output, g, o)
		if err != nil {
			return nil, err
		}
	}

	mopts := []core.Option{
		core.WithLogger(o.log),
		core.WithStepPolicy(cfg.StepPolicy),
		core.WithRunID(runID),
	}
	if o.metrics != nil {
		mopts = append(mopts, core.WithMetrics(o.metrics))
	}
	if mgr != nil {
		mopts = append(mopts, core.WithOutputSink(mgr))
	}
	if o.ck != nil {
		mopts = append(mopts, core.WithResumedIterations(o.ck.Iteration))
	}

	model, err := core.NewModel(clock, g, fs, bc, initialFields, comps, mopts...)
	if err != nil {
		return nil, err
	}
	if mgr != nil {
		mgr.BindRun(model)
	}

	return &Run{
		Config:        cfg,
		Clock:         clock,
		Grid:          g,
		Fields:        fs,
		Boundary:      bc,
		Components:    comps,
		InitialFields: initialFields,
		Output:        mgr,
		Model:         model,
	}, nil
}

func buildOutput(out *Output, g *grid.RasterGrid, o assembleOptions) (*output.Manager, error) {
	var sched *output.Schedule
	var err error
	if len(out.Times) > 0 {
		sched, err = output.NewTimesSchedule(out.Times)
	} else {
		sched, err = output.NewIntervalSchedule(out.Interval)
	}
	if err != nil {
		return nil, fmt.Errorf("output schedule: %w", err)
	}

	var writers []output.Writer
	haveCheckpoint := false
	for _, name := range out.Writers {
		switch name {
		case "esri_ascii":
			w, err := output.NewEsriAsciiWriter(out.Directory, g, out.Fields)
			if err != nil {
				return nil, fmt.Errorf("output writer %q: %w", name, err)
			}
			writers = append(writers, w)
		case "summary_csv":
			w, err := output.NewSummaryWriter(out.Directory, out.Fields)
			if err != nil {
				return nil, fmt.Errorf("output writer %q: %w", name, err)
			}
			writers = append(writers, w)
		case "checkpoint":
			writers = append(writers, output.NewCheckpointWriter(out.Directory))
			haveCheckpoint = true
		default:
			return nil, fmt.Errorf("%w: output writer %q", core.ErrUnknownComponent, name)
		}
	}
	if out.Checkpoint && !haveCheckpoint {
		writers = append(writers, output.NewCheckpointWriter(out.Directory))
	}

	mopts := []output.ManagerOption{output.WithLogger(o.log)}
	if o.emitRec != nil {
		mopts = append(mopts, output.WithRecorder(o.emitRec))
	}
	return output.NewManager(g, sched, writers, mopts...)
}
