package components

import (
	"fmt"
	"sort"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// FlowAccumulator routes flow down the steepest descent direction and
// accumulates drainage area and surface-water discharge. Every core node
// drains to its lowest neighbour under the configured stencil; nodes with no
// downhill neighbour keep their water and are flagged as sinks. Open
// boundary nodes receive flow and pass it out of the grid.
//
// Discharge is the accumulated product of cell area and runoff rate. When
// the fieldset carries water__unit_flux_in (a rainfall/runoff component is
// in the pipeline) that field supplies the per-node rate; otherwise a
// uniform runoff_rate parameter applies, so with the default of 1 the
// discharge equals drainage area.
type FlowAccumulator struct {
	g      *grid.RasterGrid
	conn   grid.Connectivity
	runoff float64

	z     []float64
	flux  []float64 // nil when the run has no runoff field
	area  []float64
	q     []float64
	slope []float64
	recv  []int
	sink  []int

	requires []string
	order    []int
}

// NewFlowAccumulator reads connectivity ("d4" or "d8", default "d4") and
// runoff_rate (m/yr, default 1, used only without a runoff field).
func NewFlowAccumulator(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	connName, err := p.StringDefault("connectivity", "d4")
	if err != nil {
		return nil, err
	}
	var conn grid.Connectivity
	switch connName {
	case "d4":
		conn = grid.Conn4
	case "d8":
		conn = grid.Conn8
	default:
		return nil, fmt.Errorf("%w: connectivity %q (want d4 or d8)", core.ErrInvalidParameter, connName)
	}
	runoff, err := p.FloatDefault("runoff_rate", 1.0)
	if err != nil {
		return nil, err
	}
	if runoff < 0 {
		return nil, fmt.Errorf("%w: runoff_rate %v must be non-negative", core.ErrInvalidParameter, runoff)
	}

	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		return nil, err
	}
	fa := &FlowAccumulator{
		g:        g,
		conn:     conn,
		runoff:   runoff,
		z:        z,
		requires: []string{grid.FieldTopographicElevation},
		order:    make([]int, g.NodeCount()),
	}
	if fs.Has(grid.FieldWaterUnitFluxIn) {
		fa.flux, _ = fs.Field(grid.FieldWaterUnitFluxIn)
		fa.requires = append(fa.requires, grid.FieldWaterUnitFluxIn)
	}
	if fa.area, err = fs.EnsureField(grid.FieldDrainageArea, 0); err != nil {
		return nil, err
	}
	if fa.q, err = fs.EnsureField(grid.FieldSurfaceWaterDischarge, 0); err != nil {
		return nil, err
	}
	if fa.slope, err = fs.EnsureField(grid.FieldSteepestSlope, 0); err != nil {
		return nil, err
	}
	if fa.recv, err = fs.EnsureIntField(grid.FieldFlowReceiverNode, 0); err != nil {
		return nil, err
	}
	if fa.sink, err = fs.EnsureIntField(grid.FieldFlowSinkFlag, 0); err != nil {
		return nil, err
	}
	return fa, nil
}

func (fa *FlowAccumulator) Name() string       { return "flow_accumulator" }
func (fa *FlowAccumulator) Requires() []string { return fa.requires }

func (fa *FlowAccumulator) Produces() []string {
	return []string{
		grid.FieldDrainageArea,
		grid.FieldSurfaceWaterDischarge,
		grid.FieldSteepestSlope,
		grid.FieldFlowReceiverNode,
		grid.FieldFlowSinkFlag,
	}
}

func (fa *FlowAccumulator) RunOneStep(dt float64) error {
	fa.direct()
	fa.accumulate()
	return nil
}

// direct assigns every node its steepest-descent receiver. Ties break toward
// the lower node id so routing is deterministic.
func (fa *FlowAccumulator) direct() {
	var nbrs []grid.Neighbor
	for id := 0; id < fa.g.NodeCount(); id++ {
		fa.recv[id] = id
		fa.slope[id] = 0
		fa.sink[id] = 0
		if !fa.g.IsCore(id) {
			continue // boundary nodes drain out of the grid
		}

		best, bestGrad := id, 0.0
		nbrs = fa.g.Neighbors(nbrs[:0], id, fa.conn)
		for _, nb := range nbrs {
			if fa.g.IsClosed(nb.ID) {
				continue
			}
			grad := (fa.z[id] - fa.z[nb.ID]) / nb.Dist
			if grad > bestGrad || (grad == bestGrad && grad > 0 && nb.ID < best) {
				best, bestGrad = nb.ID, grad
			}
		}
		fa.recv[id] = best
		fa.slope[id] = bestGrad
		if best == id {
			fa.sink[id] = 1
		}
	}
}

// accumulate sums cell area and local runoff downstream, visiting nodes from
// highest to lowest so every donor is settled before its receiver.
func (fa *FlowAccumulator) accumulate() {
	cell := fa.g.CellArea()
	for id := 0; id < fa.g.NodeCount(); id++ {
		if fa.g.IsCore(id) {
			fa.area[id] = cell
			fa.q[id] = cell * fa.rateAt(id)
		} else {
			fa.area[id] = 0
			fa.q[id] = 0
		}
		fa.order[id] = id
	}

	sort.Slice(fa.order, func(i, j int) bool {
		a, b := fa.order[i], fa.order[j]
		if fa.z[a] != fa.z[b] {
			return fa.z[a] > fa.z[b]
		}
		return a < b
	})

	for _, id := range fa.order {
		r := fa.recv[id]
		if r == id {
			continue
		}
		fa.area[r] += fa.area[id]
		fa.q[r] += fa.q[id]
	}
}

func (fa *FlowAccumulator) rateAt(id int) float64 {
	if fa.flux != nil {
		return fa.flux[id]
	}
	return fa.runoff
}
