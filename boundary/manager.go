// Package boundary owns node-status classification and the per-iteration
// enforcement of boundary conditions: Dirichlet anchors on fixed-value
// nodes, mirrored gradients on fixed-gradient nodes, zeroed flux on closed
// nodes, and the time-dependent forcing handlers (baselevel lowering, river
// capture, rainfall-regime drift).
package boundary

import (
	"fmt"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
	"github.com/orogenlabs/terramorph/timectrl"
)

// Config describes how the grid's perimeter (plus any explicit node lists)
// is classified. Perimeter nodes default to fixed-value anchors; closed and
// fixed-gradient edges override that, and a watershed outlet closes the
// whole perimeter except the outlet node.
type Config struct {
	ClosedEdges        []grid.Edge
	FixedGradientEdges []grid.Edge
	// FixedGradient is the outward downslope applied at fixed-gradient
	// nodes (z drops by gradient times spacing from the reference
	// neighbour).
	FixedGradient float64
	// Watershed closes the whole perimeter except the Outlet node, which
	// becomes the sole open (fixed-value) boundary.
	Watershed bool
	Outlet    int
	// ClosedNodes and FixedValueNodes add explicit classifications on top
	// of the edge rules, e.g. NODATA cells from a DEM or a capture node.
	ClosedNodes     []int
	FixedValueNodes []int
	// FluxFields are zeroed on closed nodes at every enforcement.
	FluxFields []string
}

// DefaultFluxFields are the flux-like fields zeroed on closed nodes when
// the configuration does not name its own set.
var DefaultFluxFields = []string{grid.FieldWaterUnitFluxIn, grid.FieldSurfaceWaterDischarge}

// Manager implements core.BoundaryConditioner and core.BoundaryView. It is
// built against one grid and one clock and, like the rest of a run, is only
// touched from the run's goroutine.
type Manager struct {
	g     *grid.RasterGrid
	clock *timectrl.Clock
	cfg   Config

	handlers []Handler

	// anchors hold the current target elevation per fixed-value node;
	// bases are the elevations captured when forcing began, so handler
	// offsets stay correct across checkpoint resume.
	anchors    map[int]float64
	bases      map[int]float64
	baseTime   float64
	captured   bool
	classified bool

	factor float64
}

// NewManager builds a manager for the grid. Handlers are attached
// afterwards with AddHandler.
func NewManager(g *grid.RasterGrid, clock *timectrl.Clock, cfg Config) (*Manager, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", core.ErrInvalidParameter)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: nil clock", core.ErrInvalidParameter)
	}
	if cfg.FluxFields == nil {
		cfg.FluxFields = DefaultFluxFields
	}
	return &Manager{
		g:       g,
		clock:   clock,
		cfg:     cfg,
		anchors: make(map[int]float64),
		bases:   make(map[int]float64),
		factor:  1,
	}, nil
}

// AddHandler appends a forcing handler; handlers step in attachment order.
func (m *Manager) AddHandler(h Handler) {
	if h != nil {
		m.handlers = append(m.handlers, h)
	}
}

// Handlers returns the attached handlers in step order.
func (m *Manager) Handlers() []Handler { return m.handlers }

// Grid returns the grid this manager classifies.
func (m *Manager) Grid() *grid.RasterGrid { return m.g }

// ErodibilityFactor implements core.BoundaryView: the product of all
// rainfall-regime handler factors, 1 when none are attached.
func (m *Manager) ErodibilityFactor() float64 { return m.factor }

//
// ---------- Classification ----------
//

// Classify derives every node's status from the configuration. It
// recomputes from scratch, so calling it again after a configuration fix is
// safe. Contradictions are reported as ErrInconsistentBoundary.
func (m *Manager) Classify() error {
	for _, ce := range m.cfg.ClosedEdges {
		for _, fe := range m.cfg.FixedGradientEdges {
			if ce == fe {
				return fmt.Errorf("%w: edge %q is both closed and fixed-gradient", core.ErrInconsistentBoundary, ce)
			}
		}
	}
	if m.cfg.Watershed && !m.g.InRange(m.cfg.Outlet) {
		return fmt.Errorf("%w: outlet node %d out of range", core.ErrInconsistentBoundary, m.cfg.Outlet)
	}

	// Perimeter defaults to open fixed-value boundaries; interior is core.
	for id := 0; id < m.g.NodeCount(); id++ {
		if m.g.IsPerimeter(id) {
			m.g.SetStatus(id, grid.StatusFixedValue)
		} else {
			m.g.SetStatus(id, grid.StatusCore)
		}
	}

	if m.cfg.Watershed {
		for id := 0; id < m.g.NodeCount(); id++ {
			if m.g.IsPerimeter(id) {
				m.g.SetStatus(id, grid.StatusClosed)
			}
		}
	} else {
		for _, e := range m.cfg.FixedGradientEdges {
			for _, id := range m.g.EdgeNodes(e) {
				if m.isCorner(id) {
					continue
				}
				m.g.SetStatus(id, grid.StatusFixedGradient)
			}
		}
		for _, e := range m.cfg.ClosedEdges {
			for _, id := range m.g.EdgeNodes(e) {
				m.g.SetStatus(id, grid.StatusClosed)
			}
		}
	}

	for _, id := range m.cfg.ClosedNodes {
		if !m.g.InRange(id) {
			return fmt.Errorf("%w: closed node %d out of range", core.ErrInconsistentBoundary, id)
		}
		m.g.SetStatus(id, grid.StatusClosed)
	}
	for _, id := range m.cfg.FixedValueNodes {
		if !m.g.InRange(id) {
			return fmt.Errorf("%w: fixed-value node %d out of range", core.ErrInconsistentBoundary, id)
		}
		m.g.SetStatus(id, grid.StatusFixedValue)
	}
	if m.cfg.Watershed {
		m.g.SetStatus(m.cfg.Outlet, grid.StatusFixedValue)
	}

	// Every fixed-gradient node needs a core reference neighbour.
	for id := 0; id < m.g.NodeCount(); id++ {
		if m.g.Status(id) != grid.StatusFixedGradient {
			continue
		}
		ref, ok := m.inwardNeighbor(id)
		if !ok || !m.g.IsCore(ref) {
			return fmt.Errorf("%w: fixed-gradient node %d has no core reference neighbour", core.ErrInconsistentBoundary, id)
		}
	}

	// A run with no open boundary has no baselevel and cannot drain.
	counts := m.g.StatusCounts()
	if counts[grid.StatusFixedValue] == 0 && counts[grid.StatusFixedGradient] == 0 {
		return fmt.Errorf("%w: every boundary node is closed", core.ErrInconsistentBoundary)
	}

	m.classified = true
	return nil
}

// isCorner reports whether the node sits on two perimeter edges at once.
func (m *Manager) isCorner(id int) bool {
	row, col := id/m.g.Cols(), id%m.g.Cols()
	onRow := row == 0 || row == m.g.Rows()-1
	onCol := col == 0 || col == m.g.Cols()-1
	return onRow && onCol
}

// inwardNeighbor returns the orthogonal neighbour toward the grid interior
// for a non-corner perimeter node.
func (m *Manager) inwardNeighbor(id int) (int, bool) {
	row, col := id/m.g.Cols(), id%m.g.Cols()
	switch {
	case row == 0:
		return m.g.NodeAt(row+1, col), true
	case row == m.g.Rows()-1:
		return m.g.NodeAt(row-1, col), true
	case col == 0:
		return m.g.NodeAt(row, col+1), true
	case col == m.g.Cols()-1:
		return m.g.NodeAt(row, col-1), true
	default:
		return 0, false
	}
}

//
// ---------- Forcing and enforcement ----------
//

// AdvanceHandlers recomputes forcing for the iteration ending at the
// clock's current time plus dt. Handler state is a pure function of model
// time, so a retried iteration with a halved dt simply recomputes.
func (m *Manager) AdvanceHandlers(fs *grid.FieldSet, dt float64) error {
	if !m.classified {
		return fmt.Errorf("%w: classify before advancing handlers", core.ErrInconsistentBoundary)
	}
	if err := m.ensureBases(fs); err != nil {
		return err
	}
	tEnd := m.clock.Now() + dt
	factor := 1.0
	for _, h := range m.handlers {
		if err := h.Step(fs, tEnd, dt); err != nil {
			return fmt.Errorf("boundary handler %q: %w", h.Name(), err)
		}
		if s, ok := h.(erodibilityScaler); ok {
			factor *= s.erodibilityFactor()
		}
	}
	m.factor = factor
	return nil
}

// Enforce re-asserts boundary values on the fieldset: anchor elevations on
// fixed-value nodes, mirrored gradients on fixed-gradient nodes, zeroed
// flux fields on closed nodes. Enforcing twice in a row changes nothing the
// second time.
func (m *Manager) Enforce(fs *grid.FieldSet) error {
	if !m.classified {
		return fmt.Errorf("%w: classify before enforcing", core.ErrInconsistentBoundary)
	}
	if err := m.ensureBases(fs); err != nil {
		return err
	}
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		return err
	}

	for id, target := range m.anchors {
		if m.g.Status(id) == grid.StatusFixedValue {
			z[id] = target
		}
	}
	for id := 0; id < m.g.NodeCount(); id++ {
		if m.g.Status(id) != grid.StatusFixedGradient {
			continue
		}
		ref, ok := m.inwardNeighbor(id)
		if !ok {
			return fmt.Errorf("%w: fixed-gradient node %d lost its reference neighbour", core.ErrInconsistentBoundary, id)
		}
		z[id] = z[ref] - m.cfg.FixedGradient*m.g.Spacing()
	}
	for _, name := range m.cfg.FluxFields {
		f, err := fs.Field(name)
		if err != nil {
			continue // flux field not part of this run
		}
		for id := 0; id < m.g.NodeCount(); id++ {
			if m.g.IsClosed(id) {
				f[id] = 0
			}
		}
	}
	return nil
}

// ensureBases captures anchor elevations the first time forcing or
// enforcement touches the fieldset. Handler offsets are measured from this
// capture time, which keeps a resumed run from re-applying old forcing.
func (m *Manager) ensureBases(fs *grid.FieldSet) error {
	if m.captured {
		return nil
	}
	z, err := fs.Field(grid.FieldTopographicElevation)
	if err != nil {
		return err
	}
	for id := 0; id < m.g.NodeCount(); id++ {
		if m.g.Status(id) == grid.StatusFixedValue {
			m.bases[id] = z[id]
			m.anchors[id] = z[id]
		}
	}
	m.baseTime = m.clock.Now()
	m.captured = true
	return nil
}

// anchorBase returns the captured elevation for a fixed-value node.
func (m *Manager) anchorBase(id int) (float64, bool) {
	v, ok := m.bases[id]
	return v, ok
}

// setAnchor sets the target elevation a fixed-value node is held at.
func (m *Manager) setAnchor(id int, target float64) {
	m.anchors[id] = target
}
