package components

import (
	"fmt"
	"math"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// StreamPowerEroder lowers channel nodes by detachment-limited stream power,
// E = K * Q^m * S^n, with three optional refinements controlled entirely by
// parameters:
//
//   - a smoothed erosion threshold, E = w - wc*(1 - exp(-w/wc)), which goes
//     to zero gracefully as stream power w drops below the threshold wc;
//   - a threshold that grows with cumulative incision depth, so channels
//     armour as they cut below the initial surface;
//   - two lithologies separated by a contact surface, blending an upper and
//     a lower erodibility with a logistic weight across the contact zone.
//
// The effective erodibility is additionally scaled by the boundary manager's
// erodibility factor, which rainfall-regime handlers drift over time.
//
// The explicit update refuses any step that would cut a node below its flow
// receiver, reporting it as a numerical instability for the driver to retry
// with a halved dt.
type StreamPowerEroder struct {
	g  *grid.RasterGrid
	bc core.BoundaryView

	z       []float64
	q       []float64
	slope   []float64
	cum     []float64
	initial []float64 // only with a depth-dependent threshold
	contact []float64 // only with two lithologies
	recv    []int

	mSP       float64
	nSP       float64
	k         float64
	kUpper    float64
	kLower    float64
	twoLith   bool
	width     float64
	threshold float64
	threshDz  float64

	requires []string
	erosion  []float64
}

// NewStreamPowerEroder reads m_sp (default 0.5), n_sp (default 1),
// water_erosion_rule__threshold (default 0, meaning no threshold) and
// water_erosion_rule__thresh_depth_derivative (default 0). Erodibility comes
// either as water_erodibility for a single lithology or as the pair
// water_erodibility_upper / water_erodibility_lower plus contact_zone__width
// for two; each accepts an _exp companion giving the base-ten exponent.
func NewStreamPowerEroder(g *grid.RasterGrid, fs *grid.FieldSet, bc core.BoundaryView, p core.Params) (core.Component, error) {
	mSP, err := p.FloatDefault("m_sp", 0.5)
	if err != nil {
		return nil, err
	}
	nSP, err := p.FloatDefault("n_sp", 1.0)
	if err != nil {
		return nil, err
	}
	if mSP <= 0 || nSP <= 0 {
		return nil, fmt.Errorf("%w: m_sp %v and n_sp %v must be positive", core.ErrInvalidParameter, mSP, nSP)
	}
	threshold, err := p.FloatDefault("water_erosion_rule__threshold", 0)
	if err != nil {
		return nil, err
	}
	if threshold < 0 {
		return nil, fmt.Errorf("%w: water_erosion_rule__threshold %v must be non-negative", core.ErrInvalidParameter, threshold)
	}
	threshDz, err := p.FloatDefault("water_erosion_rule__thresh_depth_derivative", 0)
	if err != nil {
		return nil, err
	}
	if threshDz < 0 {
		return nil, fmt.Errorf("%w: water_erosion_rule__thresh_depth_derivative %v must be non-negative", core.ErrInvalidParameter, threshDz)
	}
	if threshDz > 0 && threshold == 0 {
		return nil, fmt.Errorf("%w: a depth-dependent threshold needs a non-zero water_erosion_rule__threshold", core.ErrInvalidParameter)
	}

	sp := &StreamPowerEroder{
		g:         g,
		bc:        bc,
		mSP:       mSP,
		nSP:       nSP,
		threshold: threshold,
		threshDz:  threshDz,
		erosion:   make([]float64, g.NodeCount()),
	}

	_, hasUpper := p["water_erodibility_upper"]
	_, hasUpperExp := p["water_erodibility_upper_exp"]
	_, hasLower := p["water_erodibility_lower"]
	_, hasLowerExp := p["water_erodibility_lower_exp"]
	sp.twoLith = hasUpper || hasUpperExp || hasLower || hasLowerExp
	if sp.twoLith {
		if sp.kUpper, err = p.FloatFromExponent("water_erodibility_upper"); err != nil {
			return nil, err
		}
		if sp.kLower, err = p.FloatFromExponent("water_erodibility_lower"); err != nil {
			return nil, err
		}
		if sp.width, err = p.FloatDefault("contact_zone__width", 1.0); err != nil {
			return nil, err
		}
		if sp.width <= 0 {
			return nil, fmt.Errorf("%w: contact_zone__width %v must be positive", core.ErrInvalidParameter, sp.width)
		}
		if sp.contact, err = fs.Field(grid.FieldLithologyContactElevation); err != nil {
			return nil, fmt.Errorf("two lithologies need %q: %w", grid.FieldLithologyContactElevation, err)
		}
	} else {
		if sp.k, err = p.FloatFromExponent("water_erodibility"); err != nil {
			return nil, err
		}
	}

	if sp.z, err = fs.Field(grid.FieldTopographicElevation); err != nil {
		return nil, err
	}
	if sp.q, err = fs.Field(grid.FieldSurfaceWaterDischarge); err != nil {
		return nil, err
	}
	if sp.slope, err = fs.Field(grid.FieldSteepestSlope); err != nil {
		return nil, err
	}
	if sp.recv, err = fs.IntField(grid.FieldFlowReceiverNode); err != nil {
		return nil, err
	}
	if sp.threshDz > 0 {
		if sp.initial, err = fs.Field(grid.FieldInitialTopographicElevation); err != nil {
			return nil, fmt.Errorf("depth-dependent threshold needs %q: %w", grid.FieldInitialTopographicElevation, err)
		}
	}
	if sp.cum, err = fs.EnsureField(grid.FieldCumulativeErosionDepth, 0); err != nil {
		return nil, err
	}

	sp.requires = []string{
		grid.FieldTopographicElevation,
		grid.FieldSurfaceWaterDischarge,
		grid.FieldSteepestSlope,
		grid.FieldFlowReceiverNode,
	}
	if sp.twoLith {
		sp.requires = append(sp.requires, grid.FieldLithologyContactElevation)
	}
	if sp.threshDz > 0 {
		sp.requires = append(sp.requires, grid.FieldInitialTopographicElevation)
	}
	return sp, nil
}

func (sp *StreamPowerEroder) Name() string       { return "stream_power" }
func (sp *StreamPowerEroder) Requires() []string { return sp.requires }

func (sp *StreamPowerEroder) Produces() []string {
	return []string{grid.FieldTopographicElevation, grid.FieldCumulativeErosionDepth}
}

// Accumulates covers both outputs: elevation is lowered in place and the
// erosion depth accrues across steps.
func (sp *StreamPowerEroder) Accumulates(string) bool { return true }

func (sp *StreamPowerEroder) RunOneStep(dt float64) error {
	factor := sp.bc.ErodibilityFactor()

	// Rates and the incision guard both use the pre-step state, so the
	// update is order-independent across nodes.
	for id := 0; id < sp.g.NodeCount(); id++ {
		sp.erosion[id] = 0
		if !sp.g.IsCore(id) || sp.slope[id] <= 0 {
			continue
		}
		omega := sp.erodibilityAt(id) * factor * math.Pow(sp.q[id], sp.mSP) * math.Pow(sp.slope[id], sp.nSP)
		e := sp.applyThreshold(id, omega)
		if r := sp.recv[id]; r != id && sp.z[id]-e*dt < sp.z[r] {
			return fmt.Errorf("%w: node %d would incise below its receiver at dt=%v", core.ErrNumericalInstability, id, dt)
		}
		sp.erosion[id] = e
	}

	for id := 0; id < sp.g.NodeCount(); id++ {
		if sp.erosion[id] == 0 {
			continue
		}
		drop := sp.erosion[id] * dt
		sp.z[id] -= drop
		sp.cum[id] += drop
	}
	return nil
}

// erodibilityAt blends the two lithologies with a logistic weight of the
// node's height above the contact, or returns the single K.
func (sp *StreamPowerEroder) erodibilityAt(id int) float64 {
	if !sp.twoLith {
		return sp.k
	}
	w := 1 / (1 + math.Exp(-(sp.z[id]-sp.contact[id])/sp.width))
	return w*sp.kUpper + (1-w)*sp.kLower
}

// applyThreshold converts stream power omega into an erosion rate under the
// smoothed threshold rule. The threshold itself grows with incision depth
// below the initial surface when a depth derivative is configured.
func (sp *StreamPowerEroder) applyThreshold(id int, omega float64) float64 {
	wc := sp.threshold
	if wc == 0 {
		return omega
	}
	if sp.threshDz > 0 {
		if depth := sp.initial[id] - sp.z[id]; depth > 0 {
			wc += sp.threshDz * depth
		}
	}
	return omega - wc*(1-math.Exp(-omega/wc))
}
