package grid

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrFieldExists    = errors.New("field already exists")
	ErrLengthMismatch = errors.New("field length does not match grid")
)

// Well-known field names shared between components. Components declare the
// subset they touch through Requires/Produces; nothing stops a run from
// carrying additional fields under other names.
const (
	FieldTopographicElevation        = "topographic__elevation"
	FieldInitialTopographicElevation = "initial_topographic__elevation"
	FieldCumulativeErosionDepth      = "cumulative_erosion__depth"
	FieldDrainageArea                = "drainage_area"
	FieldFlowReceiverNode            = "flow__receiver_node"
	FieldSteepestSlope               = "topographic__steepest_slope"
	FieldFlowSinkFlag                = "flow__sink_flag"
	FieldSurfaceWaterDischarge       = "surface_water__discharge"
	FieldWaterUnitFluxIn             = "water__unit_flux_in"
	FieldRainfallFlux                = "rainfall__flux"
	FieldLithologyContactElevation   = "lithology_contact__elevation"
)

// FieldSet stores the named per-node arrays a run evolves. Scalar fields are
// []float64; index fields (flow receivers) are []int. A name is unique
// across both kinds. Arrays are allocated once and never reallocated, so a
// slice obtained at component construction stays valid for the whole run;
// Restore copies values back into the existing arrays for the same reason.
//
// A FieldSet belongs to exactly one run and is only ever touched from that
// run's goroutine.
type FieldSet struct {
	n      int
	floats map[string][]float64
	ints   map[string][]int
}

// NewFieldSet creates an empty store for n nodes.
func NewFieldSet(n int) *FieldSet {
	return &FieldSet{
		n:      n,
		floats: make(map[string][]float64),
		ints:   make(map[string][]int),
	}
}

// NodeCount returns the per-field array length.
func (fs *FieldSet) NodeCount() int { return fs.n }

// AddField creates a scalar field filled with initial and returns it.
func (fs *FieldSet) AddField(name string, initial float64) ([]float64, error) {
	if fs.has(name) {
		return nil, fmt.Errorf("%w: %q", ErrFieldExists, name)
	}
	v := make([]float64, fs.n)
	for i := range v {
		v[i] = initial
	}
	fs.floats[name] = v
	return v, nil
}

// EnsureField returns the named scalar field, creating it filled with
// initial when absent. Component constructors use this for produced fields
// that several components share.
func (fs *FieldSet) EnsureField(name string, initial float64) ([]float64, error) {
	if v, ok := fs.floats[name]; ok {
		return v, nil
	}
	if _, ok := fs.ints[name]; ok {
		return nil, fmt.Errorf("%w: %q holds an index field", ErrFieldExists, name)
	}
	return fs.AddField(name, initial)
}

// AddIntField creates an index field filled with initial and returns it.
func (fs *FieldSet) AddIntField(name string, initial int) ([]int, error) {
	if fs.has(name) {
		return nil, fmt.Errorf("%w: %q", ErrFieldExists, name)
	}
	v := make([]int, fs.n)
	if initial != 0 {
		for i := range v {
			v[i] = initial
		}
	}
	fs.ints[name] = v
	return v, nil
}

// EnsureIntField returns the named index field, creating it when absent.
func (fs *FieldSet) EnsureIntField(name string, initial int) ([]int, error) {
	if v, ok := fs.ints[name]; ok {
		return v, nil
	}
	if _, ok := fs.floats[name]; ok {
		return nil, fmt.Errorf("%w: %q holds a scalar field", ErrFieldExists, name)
	}
	return fs.AddIntField(name, initial)
}

// Field returns a scalar field by name.
func (fs *FieldSet) Field(name string) ([]float64, error) {
	v, ok := fs.floats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return v, nil
}

// IntField returns an index field by name.
func (fs *FieldSet) IntField(name string) ([]int, error) {
	v, ok := fs.ints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return v, nil
}

// SetField overwrites a scalar field's values.
func (fs *FieldSet) SetField(name string, values []float64) error {
	v, ok := fs.floats[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if len(values) != fs.n {
		return fmt.Errorf("%w: %q got %d values for %d nodes", ErrLengthMismatch, name, len(values), fs.n)
	}
	copy(v, values)
	return nil
}

// Has reports whether any field (either kind) carries the name.
func (fs *FieldSet) Has(name string) bool { return fs.has(name) }

// Names returns all scalar field names, sorted.
func (fs *FieldSet) Names() []string {
	out := make([]string, 0, len(fs.floats))
	for name := range fs.floats {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IntNames returns all index field names, sorted.
func (fs *FieldSet) IntNames() []string {
	out := make([]string, 0, len(fs.ints))
	for name := range fs.ints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (fs *FieldSet) has(name string) bool {
	if _, ok := fs.floats[name]; ok {
		return true
	}
	_, ok := fs.ints[name]
	return ok
}

//
// ---------- Snapshots ----------
//

// FieldSnapshot is a deep copy of every array in a FieldSet. The driver
// takes one per iteration so a failed iteration can be rolled back without
// any partial writes becoming visible; the checkpointer reuses it.
type FieldSnapshot struct {
	Floats map[string][]float64
	Ints   map[string][]int
}

// Snapshot deep-copies the current field values.
func (fs *FieldSet) Snapshot() *FieldSnapshot {
	snap := &FieldSnapshot{
		Floats: make(map[string][]float64, len(fs.floats)),
		Ints:   make(map[string][]int, len(fs.ints)),
	}
	for name, v := range fs.floats {
		c := make([]float64, len(v))
		copy(c, v)
		snap.Floats[name] = c
	}
	for name, v := range fs.ints {
		c := make([]int, len(v))
		copy(c, v)
		snap.Ints[name] = c
	}
	return snap
}

// Restore copies snapshot values back into the existing arrays. Fields
// created after the snapshot was taken are left untouched; fields missing
// from the store are an error so a stale snapshot cannot pass silently.
func (fs *FieldSet) Restore(snap *FieldSnapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrUnknownField)
	}
	for name, v := range snap.Floats {
		dst, ok := fs.floats[name]
		if !ok {
			return fmt.Errorf("%w: %q in snapshot", ErrUnknownField, name)
		}
		if len(dst) != len(v) {
			return fmt.Errorf("%w: %q", ErrLengthMismatch, name)
		}
		copy(dst, v)
	}
	for name, v := range snap.Ints {
		dst, ok := fs.ints[name]
		if !ok {
			return fmt.Errorf("%w: %q in snapshot", ErrUnknownField, name)
		}
		if len(dst) != len(v) {
			return fmt.Errorf("%w: %q", ErrLengthMismatch, name)
		}
		copy(dst, v)
	}
	return nil
}
