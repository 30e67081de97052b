// Package grid provides the raster grid topology and the named per-node
// field store that every process component reads and writes. The grid is
// built once, classified by the boundary-condition manager, and then treated
// as read-only topology for the rest of the run.
package grid

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

var (
	ErrBadGridShape   = errors.New("invalid grid shape")
	ErrNodeOutOfRange = errors.New("node id out of range")
	ErrUnknownEdge    = errors.New("unknown grid edge")
)

// NodeStatus classifies how a node participates in the simulation.
type NodeStatus uint8

const (
	// StatusCore marks an interior node that is fully evolved by components.
	StatusCore NodeStatus = iota
	// StatusFixedValue marks a Dirichlet anchor whose value is re-asserted
	// by the boundary-condition manager every iteration.
	StatusFixedValue
	// StatusFixedGradient marks a node mirroring a core neighbour plus a
	// configured gradient.
	StatusFixedGradient
	// StatusClosed marks an inert node: no flux in or out, excluded from
	// every stencil.
	StatusClosed
)

func (s NodeStatus) String() string {
	switch s {
	case StatusCore:
		return "core"
	case StatusFixedValue:
		return "fixed_value"
	case StatusFixedGradient:
		return "fixed_gradient"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Edge names one side of the raster. Row 0 is the south edge and column 0
// is the west edge; y grows northward.
type Edge string

const (
	EdgeNorth Edge = "north"
	EdgeSouth Edge = "south"
	EdgeEast  Edge = "east"
	EdgeWest  Edge = "west"
)

// ParseEdge validates an edge name from configuration.
func ParseEdge(s string) (Edge, error) {
	switch Edge(s) {
	case EdgeNorth, EdgeSouth, EdgeEast, EdgeWest:
		return Edge(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEdge, s)
	}
}

// Connectivity selects the neighbourhood stencil.
type Connectivity int

const (
	// Conn4 uses the four orthogonal neighbours.
	Conn4 Connectivity = iota
	// Conn8 adds the four diagonals.
	Conn8
)

// offsets are (dRow, dCol) pairs; the first four are orthogonal, the rest
// diagonal. Conn4 uses the prefix, Conn8 the whole slice.
var neighborOffsets = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

// Neighbor is an adjacent node together with the link length to it.
type Neighbor struct {
	ID   int
	Dist float64
}

// RasterGrid is a uniform rectangular grid with row-major node ids
// (id = row*cols + col), node spacing in meters, and a status per node.
type RasterGrid struct {
	rows    int
	cols    int
	spacing float64

	status []NodeStatus
}

// NewRasterGrid constructs a grid. At least three rows and columns are
// required so that at least one core node exists inside the perimeter.
// Every node starts as StatusCore; classification is the boundary-condition
// manager's job.
func NewRasterGrid(rows, cols int, spacing float64) (*RasterGrid, error) {
	if rows < 3 || cols < 3 {
		return nil, fmt.Errorf("%w: %dx%d (need at least 3x3)", ErrBadGridShape, rows, cols)
	}
	if spacing <= 0 || math.IsNaN(spacing) || math.IsInf(spacing, 0) {
		return nil, fmt.Errorf("%w: spacing %v", ErrBadGridShape, spacing)
	}
	return &RasterGrid{
		rows:    rows,
		cols:    cols,
		spacing: spacing,
		status:  make([]NodeStatus, rows*cols),
	}, nil
}

func (g *RasterGrid) Rows() int         { return g.rows }
func (g *RasterGrid) Cols() int         { return g.cols }
func (g *RasterGrid) Spacing() float64  { return g.spacing }
func (g *RasterGrid) NodeCount() int    { return g.rows * g.cols }
func (g *RasterGrid) CellArea() float64 { return g.spacing * g.spacing }

// NodeXY returns the node's coordinates in meters, origin at the
// south-west corner.
func (g *RasterGrid) NodeXY(id int) (x, y float64) {
	row, col := id/g.cols, id%g.cols
	return float64(col) * g.spacing, float64(row) * g.spacing
}

// NodeAt returns the id of the node at (row, col).
func (g *RasterGrid) NodeAt(row, col int) int { return row*g.cols + col }

// InRange reports whether id names a node on this grid.
func (g *RasterGrid) InRange(id int) bool { return id >= 0 && id < g.rows*g.cols }

// IsPerimeter reports whether the node lies on the outer ring.
func (g *RasterGrid) IsPerimeter(id int) bool {
	row, col := id/g.cols, id%g.cols
	return row == 0 || row == g.rows-1 || col == 0 || col == g.cols-1
}

// EdgeNodes returns the node ids along one edge, ascending.
func (g *RasterGrid) EdgeNodes(e Edge) []int {
	var out []int
	switch e {
	case EdgeSouth:
		for c := 0; c < g.cols; c++ {
			out = append(out, g.NodeAt(0, c))
		}
	case EdgeNorth:
		for c := 0; c < g.cols; c++ {
			out = append(out, g.NodeAt(g.rows-1, c))
		}
	case EdgeWest:
		for r := 0; r < g.rows; r++ {
			out = append(out, g.NodeAt(r, 0))
		}
	case EdgeEast:
		for r := 0; r < g.rows; r++ {
			out = append(out, g.NodeAt(r, g.cols-1))
		}
	}
	return out
}

// Neighbors appends the in-grid neighbours of id under the given stencil to
// dst and returns it. Closed neighbours are included; callers that need an
// active stencil filter on status themselves.
func (g *RasterGrid) Neighbors(dst []Neighbor, id int, conn Connectivity) []Neighbor {
	row, col := id/g.cols, id%g.cols
	n := 4
	if conn == Conn8 {
		n = 8
	}
	diag := g.spacing * math.Sqrt2
	for i := 0; i < n; i++ {
		r := row + neighborOffsets[i][0]
		c := col + neighborOffsets[i][1]
		if r < 0 || r >= g.rows || c < 0 || c >= g.cols {
			continue
		}
		d := g.spacing
		if i >= 4 {
			d = diag
		}
		dst = append(dst, Neighbor{ID: r*g.cols + c, Dist: d})
	}
	return dst
}

//
// ---------- Node status ----------
//

// Status returns the node's current classification.
func (g *RasterGrid) Status(id int) NodeStatus { return g.status[id] }

// SetStatus assigns a node's classification.
func (g *RasterGrid) SetStatus(id int, s NodeStatus) error {
	if !g.InRange(id) {
		return fmt.Errorf("%w: %d", ErrNodeOutOfRange, id)
	}
	g.status[id] = s
	return nil
}

// IsCore reports whether the node is fully evolved.
func (g *RasterGrid) IsCore(id int) bool { return g.status[id] == StatusCore }

// IsClosed reports whether the node is excluded from all stencils.
func (g *RasterGrid) IsClosed(id int) bool { return g.status[id] == StatusClosed }

// CoreNodes returns the ids of all core nodes, ascending.
func (g *RasterGrid) CoreNodes() []int {
	out := make([]int, 0, g.rows*g.cols)
	for id, s := range g.status {
		if s == StatusCore {
			out = append(out, id)
		}
	}
	return out
}

// StatusCounts tallies nodes per status, indexed by NodeStatus.
func (g *RasterGrid) StatusCounts() [4]int {
	var counts [4]int
	for _, s := range g.status {
		counts[s]++
	}
	return counts
}

//
// ---------- Synthetic topography ----------
//

// AddSyntheticTopography creates the elevation fields and perturbs core
// nodes with seeded Gaussian noise so that two runs with the same seed start
// from identical surfaces. Boundary nodes keep the base elevation. Both
// topographic__elevation and initial_topographic__elevation are written;
// call after the boundary-condition manager has classified node statuses.
func (g *RasterGrid) AddSyntheticTopography(fs *FieldSet, base, noiseStd float64, seed uint64) error {
	z, err := fs.EnsureField(FieldTopographicElevation, base)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(seed))
	for id := 0; id < g.NodeCount(); id++ {
		z[id] = base
		if g.status[id] == StatusCore && noiseStd > 0 {
			z[id] += noiseStd * rng.NormFloat64()
		}
	}
	z0, err := fs.EnsureField(FieldInitialTopographicElevation, 0)
	if err != nil {
		return err
	}
	copy(z0, z)
	return nil
}
