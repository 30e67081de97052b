package components

import (
	"fmt"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// LinearDiffuser moves regolith downslope with a flux linear in slope,
// integrated with a forward-time centered-space scheme. The explicit scheme
// is only stable while dt <= dx^2/(4D); a longer step is refused as a
// numerical instability so the driver can halve dt and retry.
type LinearDiffuser struct {
	g    *grid.RasterGrid
	z    []float64
	d    float64 // regolith transport parameter, m^2/yr
	dzdt []float64
}

// NewLinearDiffuser reads regolith_transport_parameter (m^2/yr, also
// accepted as regolith_transport_parameter_exp = 10^value).
func NewLinearDiffuser(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	d, err := p.FloatFromExponent("regolith_transport_parameter")
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, fmt.Errorf("%w: regolith_transport_parameter %v must be non-negative", core.ErrInvalidParameter, d)
	}
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		return nil, err
	}
	return &LinearDiffuser{g: g, z: z, d: d, dzdt: make([]float64, g.NodeCount())}, nil
}

func (ld *LinearDiffuser) Name() string       { return "linear_diffuser" }
func (ld *LinearDiffuser) Requires() []string { return []string{grid.FieldTopographicElevation} }
func (ld *LinearDiffuser) Produces() []string { return []string{grid.FieldTopographicElevation} }

func (ld *LinearDiffuser) Accumulates(field string) bool {
	return field == grid.FieldTopographicElevation
}

// StableDt returns the longest timestep the scheme tolerates on this grid.
func (ld *LinearDiffuser) StableDt() float64 {
	if ld.d == 0 {
		return 0
	}
	dx := ld.g.Spacing()
	return dx * dx / (4 * ld.d)
}

func (ld *LinearDiffuser) RunOneStep(dt float64) error {
	if ld.d == 0 {
		return nil
	}
	if limit := ld.StableDt(); dt > limit {
		return fmt.Errorf("%w: dt %v exceeds diffusive limit %v", core.ErrNumericalInstability, dt, limit)
	}

	dx2 := ld.g.Spacing() * ld.g.Spacing()
	var nbrs []grid.Neighbor
	for id := 0; id < ld.g.NodeCount(); id++ {
		ld.dzdt[id] = 0
		if !ld.g.IsCore(id) {
			continue
		}
		nbrs = ld.g.Neighbors(nbrs[:0], id, grid.Conn4)
		for _, nb := range nbrs {
			if ld.g.IsClosed(nb.ID) {
				continue // no flux across a closed boundary
			}
			ld.dzdt[id] += ld.d * (ld.z[nb.ID] - ld.z[id]) / dx2
		}
	}
	for id := 0; id < ld.g.NodeCount(); id++ {
		ld.z[id] += ld.dzdt[id] * dt
	}
	return nil
}
