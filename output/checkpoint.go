package output

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Checkpoint is a resumable snapshot of one run: the clock position, the
// iteration counter, every field array and the opaque state of components
// that carry any (RNG streams, mostly). Gob keeps it a single portable file.
type Checkpoint struct {
	RunID          string
	Time           float64
	Iteration      int
	Fields         map[string][]float64
	IntFields      map[string][]int
	ComponentState map[string][]byte
}

// CaptureCheckpoint collects a checkpoint from a live run.
func CaptureCheckpoint(runID string, t float64, iteration int, fs *grid.FieldSet, comps []core.Component) (*Checkpoint, error) {
	if fs == nil {
		return nil, fmt.Errorf("%w: nil fieldset", core.ErrInvalidParameter)
	}
	snap := fs.Snapshot()
	ck := &Checkpoint{
		RunID:     runID,
		Time:      t,
		Iteration: iteration,
		Fields:    snap.Floats,
		IntFields: snap.Ints,
	}
	for _, c := range comps {
		saver, ok := c.(core.StateSaver)
		if !ok {
			continue
		}
		state, err := saver.SaveState()
		if err != nil {
			return nil, fmt.Errorf("save state of component %q: %w", c.Name(), err)
		}
		if ck.ComponentState == nil {
			ck.ComponentState = make(map[string][]byte)
		}
		ck.ComponentState[c.Name()] = state
	}
	return ck, nil
}

// Apply restores the checkpoint into a freshly assembled run: field values
// are copied into the existing arrays and component state is handed back to
// the components that declared it. Components named in the checkpoint but
// absent from the pipeline are an error; the run would silently diverge.
func (ck *Checkpoint) Apply(fs *grid.FieldSet, comps []core.Component) error {
	if fs == nil {
		return fmt.Errorf("%w: nil fieldset", core.ErrInvalidParameter)
	}
	if err := fs.Restore(&grid.FieldSnapshot{Floats: ck.Fields, Ints: ck.IntFields}); err != nil {
		return fmt.Errorf("restore checkpoint fields: %w", err)
	}
	byName := make(map[string]core.Component, len(comps))
	for _, c := range comps {
		byName[c.Name()] = c
	}
	for name, state := range ck.ComponentState {
		c, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: checkpoint state for unknown component %q", core.ErrInvalidParameter, name)
		}
		saver, ok := c.(core.StateSaver)
		if !ok {
			return fmt.Errorf("%w: component %q cannot load checkpoint state", core.ErrInvalidParameter, name)
		}
		if err := saver.LoadState(state); err != nil {
			return fmt.Errorf("load state of component %q: %w", name, err)
		}
	}
	return nil
}

// SaveCheckpoint gob-encodes the checkpoint to path, creating parent
// directories as needed.
func SaveCheckpoint(path string, ck *Checkpoint) error {
	if ck == nil {
		return fmt.Errorf("%w: nil checkpoint", core.ErrInvalidParameter)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", path, err)
	}
	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint previously written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()
	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &ck, nil
}

// ---------- checkpoint writer ----------

// CheckpointWriter saves a checkpoint on every emission, overwriting
// <run_id>_checkpoint.gob so the file always holds the latest window.
type CheckpointWriter struct {
	dir string
}

func NewCheckpointWriter(dir string) *CheckpointWriter {
	return &CheckpointWriter{dir: dir}
}

func (w *CheckpointWriter) Name() string { return "checkpoint" }

func (w *CheckpointWriter) Write(e Emission) error {
	ck, err := CaptureCheckpoint(e.RunID, e.Time, e.Iteration, e.Fields, e.Components)
	if err != nil {
		return err
	}
	return SaveCheckpoint(filepath.Join(w.dir, runLabel(e)+"_checkpoint.gob"), ck)
}
