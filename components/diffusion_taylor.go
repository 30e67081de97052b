package components

import (
	"fmt"
	"math"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// TaylorDiffuser transports regolith with a slope-dependent diffusivity: the
// flux law is a truncated Taylor expansion of the nonlinear hillslope flux,
// q = -D*S*(1 + (S/Sc)^2 + (S/Sc)^4 + ...), so transport steepens sharply as
// slopes approach the critical slope Sc. Each call subdivides dt internally
// to satisfy a Courant condition on the instantaneous effective diffusivity;
// an iteration that would need more than max_substeps is refused as a
// numerical instability.
type TaylorDiffuser struct {
	g  *grid.RasterGrid
	z  []float64
	d  float64
	sc float64
	// nterms counts the series terms; 2 gives the classic cubic flux law.
	nterms      int
	courant     float64
	maxSubsteps int
	dzdt        []float64
}

// NewTaylorDiffuser reads regolith_transport_parameter (m^2/yr, or
// regolith_transport_parameter_exp), critical_slope (default 1.0), nterms
// (default 2), courant_factor (default 0.1) and max_substeps (default 50).
func NewTaylorDiffuser(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	d, err := p.FloatFromExponent("regolith_transport_parameter")
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, fmt.Errorf("%w: regolith_transport_parameter %v must be non-negative", core.ErrInvalidParameter, d)
	}
	sc, err := p.FloatDefault("critical_slope", 1.0)
	if err != nil {
		return nil, err
	}
	if sc <= 0 {
		return nil, fmt.Errorf("%w: critical_slope %v must be positive", core.ErrInvalidParameter, sc)
	}
	nterms, err := p.IntDefault("nterms", 2)
	if err != nil {
		return nil, err
	}
	if nterms < 1 {
		return nil, fmt.Errorf("%w: nterms %d must be at least 1", core.ErrInvalidParameter, nterms)
	}
	courant, err := p.FloatDefault("courant_factor", 0.1)
	if err != nil {
		return nil, err
	}
	if courant <= 0 || courant > 1 {
		return nil, fmt.Errorf("%w: courant_factor %v not in (0, 1]", core.ErrInvalidParameter, courant)
	}
	maxSubsteps, err := p.IntDefault("max_substeps", 50)
	if err != nil {
		return nil, err
	}
	if maxSubsteps < 1 {
		return nil, fmt.Errorf("%w: max_substeps %d must be at least 1", core.ErrInvalidParameter, maxSubsteps)
	}
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		return nil, err
	}
	return &TaylorDiffuser{
		g:           g,
		z:           z,
		d:           d,
		sc:          sc,
		nterms:      nterms,
		courant:     courant,
		maxSubsteps: maxSubsteps,
		dzdt:        make([]float64, g.NodeCount()),
	}, nil
}

func (td *TaylorDiffuser) Name() string       { return "taylor_diffuser" }
func (td *TaylorDiffuser) Requires() []string { return []string{grid.FieldTopographicElevation} }
func (td *TaylorDiffuser) Produces() []string { return []string{grid.FieldTopographicElevation} }

func (td *TaylorDiffuser) Accumulates(field string) bool {
	return field == grid.FieldTopographicElevation
}

func (td *TaylorDiffuser) RunOneStep(dt float64) error {
	if td.d == 0 {
		return nil
	}
	dx := td.g.Spacing()
	dx2 := dx * dx

	remaining := dt
	steps := 0
	var nbrs []grid.Neighbor
	for remaining > 1e-12*dt {
		steps++
		if steps > td.maxSubsteps {
			return fmt.Errorf("%w: dt %v needs more than %d diffusion substeps", core.ErrNumericalInstability, dt, td.maxSubsteps)
		}

		maxDeff := 0.0
		for id := 0; id < td.g.NodeCount(); id++ {
			td.dzdt[id] = 0
			if !td.g.IsCore(id) {
				continue
			}
			nbrs = td.g.Neighbors(nbrs[:0], id, grid.Conn4)
			for _, nb := range nbrs {
				if td.g.IsClosed(nb.ID) {
					continue
				}
				slope := (td.z[nb.ID] - td.z[id]) / dx
				deff := td.d * td.fluxFactor(slope)
				if deff > maxDeff {
					maxDeff = deff
				}
				td.dzdt[id] += deff * (td.z[nb.ID] - td.z[id]) / dx2
			}
		}
		if math.IsNaN(maxDeff) || math.IsInf(maxDeff, 0) {
			return fmt.Errorf("%w: effective diffusivity diverged", core.ErrNumericalInstability)
		}

		sub := remaining
		if maxDeff > 0 {
			if stable := td.courant * dx2 / (4 * maxDeff); stable < sub {
				sub = stable
			}
		}
		for id := 0; id < td.g.NodeCount(); id++ {
			td.z[id] += td.dzdt[id] * sub
		}
		remaining -= sub
	}
	return nil
}

// fluxFactor evaluates the truncated series 1 + (S/Sc)^2 + (S/Sc)^4 + ...
func (td *TaylorDiffuser) fluxFactor(slope float64) float64 {
	ratio2 := (slope / td.sc) * (slope / td.sc)
	factor := 1.0
	term := 1.0
	for k := 1; k < td.nterms; k++ {
		term *= ratio2
		factor += term
	}
	return factor
}
