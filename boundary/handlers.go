package boundary

import (
	"fmt"
	"math"
	"sort"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Handler is a time-dependent boundary forcing. Step recomputes the
// handler's effect for the iteration ending at tEnd (duration dt); the
// effect must be a pure function of model time so retried iterations can
// recompute with a smaller dt.
type Handler interface {
	Name() string
	Step(fs *grid.FieldSet, tEnd, dt float64) error
}

// erodibilityScaler is implemented by handlers that scale stream-power
// erodibility as the rainfall regime drifts.
type erodibilityScaler interface {
	erodibilityFactor() float64
}

// HandlerFactory builds a handler against the manager it will force.
type HandlerFactory func(m *Manager, p core.Params) (Handler, error)

var handlerRegistry = map[string]HandlerFactory{
	"not_core_node_baselevel": NewNotCoreNodeBaselevelHandler,
	"single_node_baselevel":   NewSingleNodeBaselevelHandler,
	"capture_node_baselevel":  NewCaptureNodeBaselevelHandler,
	"precip_changer":          NewPrecipChanger,
}

// BuildHandler constructs a registered handler kind.
func BuildHandler(kind string, m *Manager, p core.Params) (Handler, error) {
	factory, ok := handlerRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: boundary handler %q", core.ErrUnknownComponent, kind)
	}
	return factory(m, p)
}

// HandlerKinds lists the registered handler kinds, sorted.
func HandlerKinds() []string {
	out := make([]string, 0, len(handlerRegistry))
	for kind := range handlerRegistry {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

//
// ---------- Baselevel handlers ----------
//

// NotCoreNodeBaselevelHandler moves every open boundary node's anchor at a
// fixed rate (negative rates lower the boundary). With modify_core_nodes it
// instead moves the core nodes in the opposite direction, which expresses
// relative uplift without touching the boundary.
type NotCoreNodeBaselevelHandler struct {
	mgr        *Manager
	rate       float64
	modifyCore bool
}

// NewNotCoreNodeBaselevelHandler reads lowering_rate (required, negative to
// lower) and modify_core_nodes (default false).
func NewNotCoreNodeBaselevelHandler(m *Manager, p core.Params) (Handler, error) {
	rate, err := p.Float("lowering_rate")
	if err != nil {
		return nil, err
	}
	modify, err := p.BoolDefault("modify_core_nodes", false)
	if err != nil {
		return nil, err
	}
	return &NotCoreNodeBaselevelHandler{mgr: m, rate: rate, modifyCore: modify}, nil
}

func (h *NotCoreNodeBaselevelHandler) Name() string { return "not_core_node_baselevel" }

func (h *NotCoreNodeBaselevelHandler) Step(fs *grid.FieldSet, tEnd, dt float64) error {
	if h.modifyCore {
		z, err := fs.Field(grid.FieldTopographicElevation)
		if err != nil {
			return err
		}
		for id := 0; id < h.mgr.g.NodeCount(); id++ {
			if h.mgr.g.IsCore(id) {
				z[id] += -h.rate * dt
			}
		}
		return nil
	}
	elapsed := tEnd - h.mgr.baseTime
	for id := 0; id < h.mgr.g.NodeCount(); id++ {
		if h.mgr.g.Status(id) != grid.StatusFixedValue {
			continue
		}
		base, ok := h.mgr.anchorBase(id)
		if !ok {
			continue
		}
		h.mgr.setAnchor(id, base+h.rate*elapsed)
	}
	return nil
}

// SingleNodeBaselevelHandler moves one outlet node's anchor at a fixed
// rate, leaving the rest of the boundary alone.
type SingleNodeBaselevelHandler struct {
	mgr  *Manager
	node int
	rate float64
}

// NewSingleNodeBaselevelHandler reads node (required) and lowering_rate
// (required, negative to lower).
func NewSingleNodeBaselevelHandler(m *Manager, p core.Params) (Handler, error) {
	node, err := p.Int("node")
	if err != nil {
		return nil, err
	}
	if !m.g.InRange(node) {
		return nil, fmt.Errorf("%w: node %d out of range", core.ErrInvalidParameter, node)
	}
	rate, err := p.Float("lowering_rate")
	if err != nil {
		return nil, err
	}
	return &SingleNodeBaselevelHandler{mgr: m, node: node, rate: rate}, nil
}

func (h *SingleNodeBaselevelHandler) Name() string { return "single_node_baselevel" }

func (h *SingleNodeBaselevelHandler) Step(fs *grid.FieldSet, tEnd, dt float64) error {
	if h.mgr.g.Status(h.node) != grid.StatusFixedValue {
		return fmt.Errorf("%w: baselevel node %d is %v, want fixed_value",
			core.ErrInconsistentBoundary, h.node, h.mgr.g.Status(h.node))
	}
	base, ok := h.mgr.anchorBase(h.node)
	if !ok {
		return fmt.Errorf("%w: baselevel node %d has no captured anchor", core.ErrInconsistentBoundary, h.node)
	}
	h.mgr.setAnchor(h.node, base+h.rate*(tEnd-h.mgr.baseTime))
	return nil
}

// CaptureNodeBaselevelHandler models river capture: a node incises at
// capture_rate inside [capture_start, capture_stop] and at
// post_capture_rate afterwards.
type CaptureNodeBaselevelHandler struct {
	mgr      *Manager
	node     int
	start    float64
	stop     float64
	rate     float64
	postRate float64
}

// NewCaptureNodeBaselevelHandler reads node, capture_start, capture_stop,
// capture_rate (all required) and post_capture_rate (default 0).
func NewCaptureNodeBaselevelHandler(m *Manager, p core.Params) (Handler, error) {
	node, err := p.Int("node")
	if err != nil {
		return nil, err
	}
	if !m.g.InRange(node) {
		return nil, fmt.Errorf("%w: node %d out of range", core.ErrInvalidParameter, node)
	}
	start, err := p.Float("capture_start")
	if err != nil {
		return nil, err
	}
	stop, err := p.Float("capture_stop")
	if err != nil {
		return nil, err
	}
	if stop < start {
		return nil, fmt.Errorf("%w: capture_stop %v before capture_start %v", core.ErrInvalidParameter, stop, start)
	}
	rate, err := p.Float("capture_rate")
	if err != nil {
		return nil, err
	}
	postRate, err := p.FloatDefault("post_capture_rate", 0)
	if err != nil {
		return nil, err
	}
	return &CaptureNodeBaselevelHandler{mgr: m, node: node, start: start, stop: stop, rate: rate, postRate: postRate}, nil
}

func (h *CaptureNodeBaselevelHandler) Name() string { return "capture_node_baselevel" }

func (h *CaptureNodeBaselevelHandler) Step(fs *grid.FieldSet, tEnd, dt float64) error {
	if h.mgr.g.Status(h.node) != grid.StatusFixedValue {
		return fmt.Errorf("%w: capture node %d is %v, want fixed_value",
			core.ErrInconsistentBoundary, h.node, h.mgr.g.Status(h.node))
	}
	base, ok := h.mgr.anchorBase(h.node)
	if !ok {
		return fmt.Errorf("%w: capture node %d has no captured anchor", core.ErrInconsistentBoundary, h.node)
	}
	var offset float64
	switch {
	case tEnd <= h.start:
		offset = 0
	case tEnd <= h.stop:
		offset = h.rate * (tEnd - h.start)
	default:
		offset = h.rate*(h.stop-h.start) + h.postRate*(tEnd-h.stop)
	}
	h.mgr.setAnchor(h.node, base+offset)
	return nil
}

//
// ---------- Rainfall-regime drift ----------
//

// PrecipChanger ramps rainfall intermittency and mean intensity linearly
// until stop_time and exposes the resulting stream-power erodibility factor
// (current erosive power over its value at run start, with storm depths
// gamma-distributed and discharge entering erosion at exponent m).
type PrecipChanger struct {
	mgr *Manager

	f0     float64 // starting intermittency factor
	df     float64 // intermittency change per year
	p0     float64 // starting mean intensity
	dp     float64 // intensity change per year
	stop   float64 // model time the ramp freezes at
	mSP    float64 // discharge exponent in the stream-power law
	factor float64
}

// NewPrecipChanger reads intermittency_factor, mean_intensity (both
// required and positive) with their _rate_of_change companions (default 0),
// stop_time (default: never stops) and m (default 0.5).
func NewPrecipChanger(m *Manager, p core.Params) (Handler, error) {
	f0, err := p.Float("intermittency_factor")
	if err != nil {
		return nil, err
	}
	if f0 <= 0 || f0 > 1 {
		return nil, fmt.Errorf("%w: intermittency_factor %v not in (0, 1]", core.ErrInvalidParameter, f0)
	}
	df, err := p.FloatDefault("intermittency_rate_of_change", 0)
	if err != nil {
		return nil, err
	}
	p0, err := p.Float("mean_intensity")
	if err != nil {
		return nil, err
	}
	if p0 <= 0 {
		return nil, fmt.Errorf("%w: mean_intensity %v must be positive", core.ErrInvalidParameter, p0)
	}
	dp, err := p.FloatDefault("mean_intensity_rate_of_change", 0)
	if err != nil {
		return nil, err
	}
	stop, err := p.FloatDefault("stop_time", math.Inf(1))
	if err != nil {
		return nil, err
	}
	mSP, err := p.FloatDefault("m", 0.5)
	if err != nil {
		return nil, err
	}
	return &PrecipChanger{mgr: m, f0: f0, df: df, p0: p0, dp: dp, stop: stop, mSP: mSP, factor: 1}, nil
}

func (h *PrecipChanger) Name() string { return "precip_changer" }

func (h *PrecipChanger) Step(fs *grid.FieldSet, tEnd, dt float64) error {
	capped := math.Min(tEnd, h.stop)
	elapsed := capped - h.mgr.clock.Start()
	if elapsed < 0 {
		elapsed = 0
	}
	f := h.f0 + h.df*elapsed
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	p := h.p0 + h.dp*elapsed
	if p < 0 {
		p = 0
	}
	// With a fixed storm shape factor the gamma moments cancel in the
	// before/after ratio, leaving the intermittency and intensity ratios.
	h.factor = (f / h.f0) * math.Pow(p/h.p0, h.mSP)
	return nil
}

func (h *PrecipChanger) erodibilityFactor() float64 { return h.factor }
