package components

import (
	"errors"
	"math"
	"testing"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// rampGrid builds a 4x4 grid sloping down toward the southern boundary:
// every node sits at z = row, so the two interior columns drain straight
// south into nodes 1 and 2.
func rampGrid(t *testing.T) (*grid.RasterGrid, *grid.FieldSet) {
	t.Helper()
	g := testGrid(t, 4, 4, 10)
	fs, z := testFields(t, g, 0)
	for id := 0; id < g.NodeCount(); id++ {
		z[id] = float64(id / 4)
	}
	return g, fs
}

func TestFlowAccumulatorRoutesRampSouth(t *testing.T) {
	g, fs := rampGrid(t)
	c, err := NewFlowAccumulator(g, fs, staticBoundary{1}, nil)
	if err != nil {
		t.Fatalf("NewFlowAccumulator = %v", err)
	}
	if err := c.RunOneStep(10); err != nil {
		t.Fatalf("RunOneStep = %v", err)
	}

	recv, err := fs.IntField(grid.FieldFlowReceiverNode)
	if err != nil {
		t.Fatalf("IntField(receiver) = %v", err)
	}
	wantRecv := map[int]int{5: 1, 6: 2, 9: 5, 10: 6}
	for id, want := range wantRecv {
		if recv[id] != want {
			t.Errorf("recv[%d] = %d, want %d", id, recv[id], want)
		}
	}
	if recv[1] != 1 {
		t.Errorf("boundary recv[1] = %d, want itself", recv[1])
	}

	area, err := fs.Field(grid.FieldDrainageArea)
	if err != nil {
		t.Fatalf("Field(area) = %v", err)
	}
	wantArea := map[int]float64{9: 100, 10: 100, 5: 200, 6: 200, 1: 200, 2: 200, 0: 0}
	for id, want := range wantArea {
		if area[id] != want {
			t.Errorf("area[%d] = %v, want %v", id, area[id], want)
		}
	}

	// Default runoff rate is 1, so discharge mirrors drainage area.
	q, err := fs.Field(grid.FieldSurfaceWaterDischarge)
	if err != nil {
		t.Fatalf("Field(discharge) = %v", err)
	}
	for id := range q {
		if q[id] != area[id] {
			t.Errorf("q[%d] = %v, want area %v", id, q[id], area[id])
		}
	}

	slope, err := fs.Field(grid.FieldSteepestSlope)
	if err != nil {
		t.Fatalf("Field(slope) = %v", err)
	}
	for _, id := range []int{5, 6, 9, 10} {
		if slope[id] != 0.1 {
			t.Errorf("slope[%d] = %v, want 0.1", id, slope[id])
		}
	}
}

func TestFlowAccumulatorFlagsPits(t *testing.T) {
	g := testGrid(t, 3, 3, 10)
	fs, z := testFields(t, g, 0)
	z[4] = -5 // bowl: every neighbour is uphill

	c, err := NewFlowAccumulator(g, fs, staticBoundary{1}, nil)
	if err != nil {
		t.Fatalf("NewFlowAccumulator = %v", err)
	}
	if err := c.RunOneStep(10); err != nil {
		t.Fatalf("RunOneStep = %v", err)
	}

	recv, _ := fs.IntField(grid.FieldFlowReceiverNode)
	sink, _ := fs.IntField(grid.FieldFlowSinkFlag)
	area, _ := fs.Field(grid.FieldDrainageArea)
	if recv[4] != 4 {
		t.Errorf("recv[4] = %d, want 4 (self)", recv[4])
	}
	if sink[4] != 1 {
		t.Errorf("sink[4] = %d, want 1", sink[4])
	}
	if area[4] != 100 {
		t.Errorf("area[4] = %v, want 100 (nothing leaves a pit)", area[4])
	}
	for _, id := range []int{0, 1, 2, 3, 5, 6, 7, 8} {
		if area[id] != 0 {
			t.Errorf("boundary area[%d] = %v, want 0", id, area[id])
		}
	}
}

func TestFlowAccumulatorBreaksTiesTowardLowerID(t *testing.T) {
	g := testGrid(t, 3, 3, 10)
	fs, z := testFields(t, g, 0)
	z[4] = 1 // all four orthogonal neighbours equally steep

	c, err := NewFlowAccumulator(g, fs, staticBoundary{1}, nil)
	if err != nil {
		t.Fatalf("NewFlowAccumulator = %v", err)
	}
	if err := c.RunOneStep(10); err != nil {
		t.Fatalf("RunOneStep = %v", err)
	}

	recv, _ := fs.IntField(grid.FieldFlowReceiverNode)
	if recv[4] != 1 {
		t.Errorf("recv[4] = %d, want 1 (lowest tied id)", recv[4])
	}
}

func TestFlowAccumulatorD8ReachesDiagonals(t *testing.T) {
	g := testGrid(t, 3, 3, 10)
	fs, z := testFields(t, g, 0)
	z[0] = -10
	z[4] = 1

	d4, err := NewFlowAccumulator(g, fs, staticBoundary{1}, core.Params{"connectivity": "d4"})
	if err != nil {
		t.Fatalf("NewFlowAccumulator(d4) = %v", err)
	}
	if err := d4.RunOneStep(10); err != nil {
		t.Fatalf("d4 RunOneStep = %v", err)
	}
	recv, _ := fs.IntField(grid.FieldFlowReceiverNode)
	if recv[4] != 1 {
		t.Errorf("d4 recv[4] = %d, want 1 (diagonal invisible)", recv[4])
	}

	d8, err := NewFlowAccumulator(g, fs, staticBoundary{1}, core.Params{"connectivity": "d8"})
	if err != nil {
		t.Fatalf("NewFlowAccumulator(d8) = %v", err)
	}
	if err := d8.RunOneStep(10); err != nil {
		t.Fatalf("d8 RunOneStep = %v", err)
	}
	recv, _ = fs.IntField(grid.FieldFlowReceiverNode)
	if recv[4] != 0 {
		t.Errorf("d8 recv[4] = %d, want 0 (steepest diagonal)", recv[4])
	}
	slope, _ := fs.Field(grid.FieldSteepestSlope)
	if want := 11.0 / (10 * math.Sqrt2); slope[4] != want {
		t.Errorf("d8 slope[4] = %v, want %v", slope[4], want)
	}
}

func TestFlowAccumulatorUsesRunoffField(t *testing.T) {
	g, fs := rampGrid(t)
	if _, err := fs.AddField(grid.FieldWaterUnitFluxIn, 2.0); err != nil {
		t.Fatalf("AddField(water flux) = %v", err)
	}

	c, err := NewFlowAccumulator(g, fs, staticBoundary{1}, nil)
	if err != nil {
		t.Fatalf("NewFlowAccumulator = %v", err)
	}
	req := c.Requires()
	if len(req) != 2 || req[1] != grid.FieldWaterUnitFluxIn {
		t.Fatalf("Requires() = %v, want runoff field appended", req)
	}
	if err := c.RunOneStep(10); err != nil {
		t.Fatalf("RunOneStep = %v", err)
	}

	area, _ := fs.Field(grid.FieldDrainageArea)
	q, _ := fs.Field(grid.FieldSurfaceWaterDischarge)
	for id := range q {
		if q[id] != 2*area[id] {
			t.Errorf("q[%d] = %v, want %v (= 2*area)", id, q[id], 2*area[id])
		}
	}
}

func TestFlowAccumulatorRejectsBadParameters(t *testing.T) {
	g := testGrid(t, 3, 3, 10)
	fs, _ := testFields(t, g, 0)

	if _, err := NewFlowAccumulator(g, fs, staticBoundary{1}, core.Params{"connectivity": "d6"}); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("connectivity d6: err = %v, want ErrInvalidParameter", err)
	}
	if _, err := NewFlowAccumulator(g, fs, staticBoundary{1}, core.Params{"runoff_rate": -1.0}); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("negative runoff: err = %v, want ErrInvalidParameter", err)
	}

	bare := grid.NewFieldSet(g.NodeCount())
	if _, err := NewFlowAccumulator(g, bare, staticBoundary{1}, nil); !errors.Is(err, grid.ErrUnknownField) {
		t.Fatalf("missing elevation: err = %v, want ErrUnknownField", err)
	}
}
