package components

import (
	"fmt"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Uplifter raises every core node at a constant rock-uplift rate. Boundary
// nodes stay put, which is what makes the rate tectonically meaningful:
// relief grows relative to baselevel.
type Uplifter struct {
	g    *grid.RasterGrid
	z    []float64
	rate float64
}

// NewUplifter reads uplift_rate (m/yr, required, non-negative).
func NewUplifter(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	rate, err := p.Float("uplift_rate")
	if err != nil {
		return nil, err
	}
	if rate < 0 {
		return nil, fmt.Errorf("%w: uplift_rate %v must be non-negative", core.ErrInvalidParameter, rate)
	}
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		return nil, err
	}
	return &Uplifter{g: g, z: z, rate: rate}, nil
}

func (u *Uplifter) Name() string       { return "uplift" }
func (u *Uplifter) Requires() []string { return []string{grid.FieldTopographicElevation} }
func (u *Uplifter) Produces() []string { return []string{grid.FieldTopographicElevation} }

func (u *Uplifter) Accumulates(field string) bool {
	return field == grid.FieldTopographicElevation
}

func (u *Uplifter) RunOneStep(dt float64) error {
	dz := u.rate * dt
	for id := 0; id < u.g.NodeCount(); id++ {
		if u.g.IsCore(id) {
			u.z[id] += dz
		}
	}
	return nil
}
