package components

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Precipitator supplies the runoff that drives discharge. In steady mode it
// writes a constant rate. In stochastic mode each iteration draws one storm
// intensity from a gamma distribution, converts it to Hortonian runoff
// through an infiltration capacity, and scales by the fraction of time it
// actually rains:
//
//	R = F * (P - I*(1 - exp(-P/I)))
//
// The random stream is seeded explicitly, so runs reproduce bit for bit. A
// retried iteration rewinds the stream and replays the same storm, and
// checkpoints carry the stream state across resume.
type Precipitator struct {
	g    *grid.RasterGrid
	rain []float64
	flux []float64

	steady bool
	rate   float64

	intermittency float64
	infiltration  float64
	storm         distuv.Gamma
	src           *rand.PCGSource
	mark          []byte
}

// NewPrecipitator reads mode ("steady" or "stochastic", default "steady").
// Steady mode takes rainfall_rate (m/yr, default 1). Stochastic mode takes
// mean_storm__intensity (m/yr, required), shape_factor (default 0.65),
// intermittency_factor (required, in (0, 1]), infiltration_capacity (m/yr,
// default 0 meaning all rain runs off) and seed (default 0).
func NewPrecipitator(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	mode, err := p.StringDefault("mode", "steady")
	if err != nil {
		return nil, err
	}
	pc := &Precipitator{g: g}
	if pc.rain, err = fs.EnsureField(grid.FieldRainfallFlux, 0); err != nil {
		return nil, err
	}
	if pc.flux, err = fs.EnsureField(grid.FieldWaterUnitFluxIn, 0); err != nil {
		return nil, err
	}

	switch mode {
	case "steady":
		pc.steady = true
		if pc.rate, err = p.FloatDefault("rainfall_rate", 1.0); err != nil {
			return nil, err
		}
		if pc.rate < 0 {
			return nil, fmt.Errorf("%w: rainfall_rate %v must be non-negative", core.ErrInvalidParameter, pc.rate)
		}
		return pc, nil

	case "stochastic":
		mean, err := p.Float("mean_storm__intensity")
		if err != nil {
			return nil, err
		}
		if mean <= 0 {
			return nil, fmt.Errorf("%w: mean_storm__intensity %v must be positive", core.ErrInvalidParameter, mean)
		}
		shape, err := p.FloatDefault("shape_factor", 0.65)
		if err != nil {
			return nil, err
		}
		if shape <= 0 {
			return nil, fmt.Errorf("%w: shape_factor %v must be positive", core.ErrInvalidParameter, shape)
		}
		if pc.intermittency, err = p.Float("intermittency_factor"); err != nil {
			return nil, err
		}
		if pc.intermittency <= 0 || pc.intermittency > 1 {
			return nil, fmt.Errorf("%w: intermittency_factor %v not in (0, 1]", core.ErrInvalidParameter, pc.intermittency)
		}
		if pc.infiltration, err = p.FloatDefault("infiltration_capacity", 0); err != nil {
			return nil, err
		}
		if pc.infiltration < 0 {
			return nil, fmt.Errorf("%w: infiltration_capacity %v must be non-negative", core.ErrInvalidParameter, pc.infiltration)
		}
		seed, err := p.Uint64Default("seed", 0)
		if err != nil {
			return nil, err
		}
		pc.src = &rand.PCGSource{}
		pc.src.Seed(seed)
		// Gamma with mean = shape/rate; solve the rate for the given mean.
		pc.storm = distuv.Gamma{Alpha: shape, Beta: shape / mean, Src: pc.src}
		return pc, nil

	default:
		return nil, fmt.Errorf("%w: mode %q (want steady or stochastic)", core.ErrInvalidParameter, mode)
	}
}

func (pc *Precipitator) Name() string       { return "precipitator" }
func (pc *Precipitator) Requires() []string { return nil }

func (pc *Precipitator) Produces() []string {
	return []string{grid.FieldRainfallFlux, grid.FieldWaterUnitFluxIn}
}

func (pc *Precipitator) RunOneStep(dt float64) error {
	if pc.steady {
		fill(pc.rain, pc.rate)
		fill(pc.flux, pc.rate)
		return nil
	}

	intensity := pc.storm.Rand()
	runoff := pc.intermittency * hortonianRunoff(intensity, pc.infiltration)
	fill(pc.rain, intensity)
	fill(pc.flux, runoff)
	return nil
}

// Mark and Rewind bracket the driver's retry loop: a replayed iteration
// draws the same storm again.
func (pc *Precipitator) Mark() {
	if pc.src == nil {
		return
	}
	pc.mark, _ = pc.src.MarshalBinary()
}

func (pc *Precipitator) Rewind() {
	if pc.src == nil || pc.mark == nil {
		return
	}
	// PCGSource state always unmarshals from its own marshaled form.
	_ = pc.src.UnmarshalBinary(pc.mark)
}

// SaveState serialises the random stream for checkpoints.
func (pc *Precipitator) SaveState() ([]byte, error) {
	if pc.src == nil {
		return nil, nil
	}
	return pc.src.MarshalBinary()
}

// LoadState restores the random stream from a checkpoint.
func (pc *Precipitator) LoadState(state []byte) error {
	if pc.src == nil || len(state) == 0 {
		return nil
	}
	return pc.src.UnmarshalBinary(state)
}

// hortonianRunoff is rainfall minus what the soil swallows. A zero capacity
// passes everything through.
func hortonianRunoff(intensity, capacity float64) float64 {
	if capacity <= 0 {
		return intensity
	}
	return intensity - capacity*(1-math.Exp(-intensity/capacity))
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
