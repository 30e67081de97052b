// Package config loads, validates and assembles run configurations. The
// YAML surface is decoded strictly (unknown keys are errors) into unexported
// wire structs, validated, and mapped onto typed configuration the assembly
// step turns into a runnable model.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orogenlabs/terramorph/boundary"
	"github.com/orogenlabs/terramorph/components"
	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/models"
)

//
// ---------- wire structs ----------
//

type configFile struct {
	RunID      string         `yaml:"run_id"`
	Clock      *clockDef      `yaml:"clock"`
	StepPolicy *stepPolicyDef `yaml:"step_policy"`
	Grid       *gridDef       `yaml:"grid"`
	Boundary   *boundaryDef   `yaml:"boundary"`
	Model      string         `yaml:"model"`
	Parameters map[string]any `yaml:"parameters"`
	Components []componentDef `yaml:"components"`
	Output     *outputDef     `yaml:"output"`
}

type clockDef struct {
	Start float64 `yaml:"start"`
	Stop  float64 `yaml:"stop"`
	Step  float64 `yaml:"step"`
}

type stepPolicyDef struct {
	MaxRetries    *int     `yaml:"max_retries"`
	HalvingFactor *float64 `yaml:"halving_factor"`
}

type gridDef struct {
	Rows             int      `yaml:"rows"`
	Cols             int      `yaml:"cols"`
	Spacing          float64  `yaml:"spacing"`
	InitialElevation float64  `yaml:"initial_elevation"`
	NoiseStd         float64  `yaml:"noise_std"`
	RandomSeed       uint64   `yaml:"random_seed"`
	ClosedEdges      []string `yaml:"closed_edges"`
	WatershedOutlet  *int     `yaml:"watershed_outlet"`
	ContactElevation *float64 `yaml:"contact_elevation"`
}

type boundaryDef struct {
	FixedGradient      float64      `yaml:"fixed_gradient"`
	FixedGradientEdges []string     `yaml:"fixed_gradient_edges"`
	Handlers           []handlerDef `yaml:"handlers"`
}

type handlerDef struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

type componentDef struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

type outputDef struct {
	Interval   *float64  `yaml:"interval"`
	Times      []float64 `yaml:"times"`
	Directory  string    `yaml:"directory"`
	Fields     []string  `yaml:"fields"`
	Writers    []string  `yaml:"writers"`
	Checkpoint bool      `yaml:"checkpoint"`
}

//
// ---------- public configuration ----------
//

// Config is a validated run configuration.
type Config struct {
	RunID      string
	Clock      Clock
	StepPolicy core.StepPolicy
	Grid       Grid
	Boundary   Boundary
	Model      string
	Parameters core.Params
	Components []Component
	Output     *Output
}

// Clock bounds model time.
type Clock struct {
	Start float64
	Stop  float64
	Step  float64
}

// Grid describes the raster and its synthetic initial surface.
type Grid struct {
	Rows             int
	Cols             int
	Spacing          float64
	InitialElevation float64
	NoiseStd         float64
	RandomSeed       uint64
	ClosedEdges      []grid.Edge
	Watershed        bool
	Outlet           int
	ContactElevation *float64
}

// Boundary configures classification overrides and forcing handlers.
type Boundary struct {
	FixedGradient      float64
	FixedGradientEdges []grid.Edge
	Handlers           []Handler
}

// Handler names one boundary forcing handler and its parameters.
type Handler struct {
	Kind   string
	Params core.Params
}

// Component names one process component and its parameters.
type Component struct {
	Kind   string
	Params core.Params
}

// Output configures the emission schedule and writers. A nil Output on the
// Config means the run emits nothing.
type Output struct {
	Interval   float64
	Times      []float64
	Directory  string
	Fields     []string
	Writers    []string
	Checkpoint bool
}

// writerNames are the writer kinds the output section accepts.
var writerNames = map[string]bool{
	"esri_ascii":  true,
	"summary_csv": true,
	"checkpoint":  true,
}

// Clone deep-copies the configuration so a caller can derive variants (the
// ensemble runner reseeds each member) without touching the original.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Parameters = cloneParams(c.Parameters)
	out.Grid.ClosedEdges = append([]grid.Edge(nil), c.Grid.ClosedEdges...)
	if c.Grid.ContactElevation != nil {
		v := *c.Grid.ContactElevation
		out.Grid.ContactElevation = &v
	}
	out.Boundary.FixedGradientEdges = append([]grid.Edge(nil), c.Boundary.FixedGradientEdges...)
	out.Boundary.Handlers = nil
	for _, h := range c.Boundary.Handlers {
		out.Boundary.Handlers = append(out.Boundary.Handlers, Handler{Kind: h.Kind, Params: cloneParams(h.Params)})
	}
	out.Components = nil
	for _, comp := range c.Components {
		out.Components = append(out.Components, Component{Kind: comp.Kind, Params: cloneParams(comp.Params)})
	}
	if c.Output != nil {
		o := *c.Output
		o.Times = append([]float64(nil), c.Output.Times...)
		o.Fields = append([]string(nil), c.Output.Fields...)
		o.Writers = append([]string(nil), c.Output.Writers...)
		out.Output = &o
	}
	return &out
}

func cloneParams(p core.Params) core.Params {
	if p == nil {
		return nil
	}
	out := make(core.Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Load decodes and validates a YAML run configuration.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var w configFile
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty configuration", core.ErrInvalidParameter)
		}
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return w.toConfig()
}

// LoadFile reads a YAML run configuration from disk.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("configuration %s: %w", path, err)
	}
	return cfg, nil
}

// toConfig validates the wire form and maps it onto typed configuration.
// Structural mistakes (missing sections, unknown names, contradictory
// choices) fail here; numeric domain checks stay with the constructors that
// own them.
func (w *configFile) toConfig() (*Config, error) {
	if w.Clock == nil {
		return nil, fmt.Errorf("%w: missing clock section", core.ErrInvalidParameter)
	}
	if w.Grid == nil {
		return nil, fmt.Errorf("%w: missing grid section", core.ErrInvalidParameter)
	}

	hasModel := w.Model != ""
	hasComponents := len(w.Components) > 0
	if hasModel == hasComponents {
		return nil, fmt.Errorf("%w: exactly one of model and components must be set", core.ErrInvalidParameter)
	}
	if hasModel {
		if _, ok := models.Lookup(w.Model); !ok {
			return nil, fmt.Errorf("%w: model preset %q (have %v)", core.ErrUnknownComponent, w.Model, models.Names())
		}
	}
	if hasComponents && len(w.Parameters) > 0 {
		return nil, fmt.Errorf("%w: parameters is a preset-mode map; explicit components carry their own params", core.ErrInvalidParameter)
	}

	cfg := &Config{
		RunID:      w.RunID,
		Clock:      Clock{Start: w.Clock.Start, Stop: w.Clock.Stop, Step: w.Clock.Step},
		StepPolicy: core.DefaultStepPolicy,
		Model:      w.Model,
		Parameters: core.Params(w.Parameters),
	}
	if w.StepPolicy != nil {
		if w.StepPolicy.MaxRetries != nil {
			cfg.StepPolicy.MaxRetries = *w.StepPolicy.MaxRetries
		}
		if w.StepPolicy.HalvingFactor != nil {
			cfg.StepPolicy.HalvingFactor = *w.StepPolicy.HalvingFactor
		}
	}

	g := Grid{
		Rows:             w.Grid.Rows,
		Cols:             w.Grid.Cols,
		Spacing:          w.Grid.Spacing,
		InitialElevation: w.Grid.InitialElevation,
		NoiseStd:         w.Grid.NoiseStd,
		RandomSeed:       w.Grid.RandomSeed,
		ContactElevation: w.Grid.ContactElevation,
	}
	if w.Grid.NoiseStd < 0 {
		return nil, fmt.Errorf("%w: noise_std %v must be non-negative", core.ErrInvalidParameter, w.Grid.NoiseStd)
	}
	for _, s := range w.Grid.ClosedEdges {
		e, err := grid.ParseEdge(s)
		if err != nil {
			return nil, fmt.Errorf("closed_edges: %w", err)
		}
		g.ClosedEdges = append(g.ClosedEdges, e)
	}
	if w.Grid.WatershedOutlet != nil {
		g.Watershed = true
		g.Outlet = *w.Grid.WatershedOutlet
	}
	cfg.Grid = g

	if w.Boundary != nil {
		b := Boundary{FixedGradient: w.Boundary.FixedGradient}
		for _, s := range w.Boundary.FixedGradientEdges {
			e, err := grid.ParseEdge(s)
			if err != nil {
				return nil, fmt.Errorf("fixed_gradient_edges: %w", err)
			}
			b.FixedGradientEdges = append(b.FixedGradientEdges, e)
		}
		known := handlerKindSet()
		for _, h := range w.Boundary.Handlers {
			if !known[h.Kind] {
				return nil, fmt.Errorf("%w: boundary handler %q (have %v)",
					core.ErrUnknownComponent, h.Kind, boundary.HandlerKinds())
			}
			b.Handlers = append(b.Handlers, Handler{Kind: h.Kind, Params: core.Params(h.Params)})
		}
		cfg.Boundary = b
	}

	known := componentKindSet()
	for _, c := range w.Components {
		if !known[c.Kind] {
			return nil, fmt.Errorf("%w: component %q (have %v)", core.ErrUnknownComponent, c.Kind, components.Kinds())
		}
		cfg.Components = append(cfg.Components, Component{Kind: c.Kind, Params: core.Params(c.Params)})
	}

	if w.Output != nil {
		out := &Output{
			Directory:  w.Output.Directory,
			Fields:     append([]string(nil), w.Output.Fields...),
			Writers:    append([]string(nil), w.Output.Writers...),
			Checkpoint: w.Output.Checkpoint,
			Times:      append([]float64(nil), w.Output.Times...),
		}
		if out.Directory == "" {
			out.Directory = "."
		}
		hasInterval := w.Output.Interval != nil
		hasTimes := len(w.Output.Times) > 0
		if hasInterval == hasTimes {
			return nil, fmt.Errorf("%w: output needs exactly one of interval and times", core.ErrInvalidParameter)
		}
		if hasInterval {
			out.Interval = *w.Output.Interval
		}
		for _, name := range out.Writers {
			if !writerNames[name] {
				return nil, fmt.Errorf("%w: output writer %q", core.ErrUnknownComponent, name)
			}
		}
		if len(out.Writers) == 0 && !out.Checkpoint {
			return nil, fmt.Errorf("%w: output section without writers or checkpoint", core.ErrInvalidParameter)
		}
		cfg.Output = out
	}

	return cfg, nil
}

func handlerKindSet() map[string]bool {
	out := make(map[string]bool)
	for _, k := range boundary.HandlerKinds() {
		out[k] = true
	}
	return out
}

func componentKindSet() map[string]bool {
	out := make(map[string]bool)
	for _, k := range components.Kinds() {
		out[k] = true
	}
	return out
}
