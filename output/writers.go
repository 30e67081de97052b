package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

// Emission carries everything a writer needs for one output window.
type Emission struct {
	RunID      string
	Time       float64
	Iteration  int
	Fields     *grid.FieldSet
	Components []core.Component
}

// Writer emits one artifact per output window. Writers must tolerate being
// called repeatedly for the same run with strictly increasing times.
type Writer interface {
	Name() string
	Write(e Emission) error
}

// ---------- ESRI ASCII ----------

// EsriAsciiWriter dumps each selected field to its own .asc file per
// emission, named <run_id>_<iteration>_<field>.asc.
type EsriAsciiWriter struct {
	dir    string
	grid   *grid.RasterGrid
	fields []string
	noData float64
}

// NewEsriAsciiWriter writes the named fields under dir. An empty field list
// selects topographic__elevation only.
func NewEsriAsciiWriter(dir string, g *grid.RasterGrid, fields []string) (*EsriAsciiWriter, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grid", core.ErrInvalidParameter)
	}
	if len(fields) == 0 {
		fields = []string{grid.FieldTopographicElevation}
	}
	return &EsriAsciiWriter{
		dir:    dir,
		grid:   g,
		fields: append([]string(nil), fields...),
		noData: -9999,
	}, nil
}

func (w *EsriAsciiWriter) Name() string { return "esri_ascii" }

func (w *EsriAsciiWriter) Write(e Emission) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, name := range w.fields {
		values, err := e.Fields.Field(name)
		if err != nil {
			return fmt.Errorf("select output field: %w", err)
		}
		path := filepath.Join(w.dir, fmt.Sprintf("%s_%04d_%s.asc", runLabel(e), e.Iteration, name))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := grid.WriteEsriAscii(f, w.grid, values, w.noData); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
	}
	return nil
}

// ---------- summary CSV ----------

// SummaryWriter appends one row per selected field per emission to
// <run_id>_summary.csv: run id, iteration, model time, field name and the
// field's mean, min and max.
type SummaryWriter struct {
	dir    string
	fields []string
}

func NewSummaryWriter(dir string, fields []string) (*SummaryWriter, error) {
	if len(fields) == 0 {
		fields = []string{grid.FieldTopographicElevation}
	}
	return &SummaryWriter{dir: dir, fields: append([]string(nil), fields...)}, nil
}

func (w *SummaryWriter) Name() string { return "summary_csv" }

func (w *SummaryWriter) Write(e Emission) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(w.dir, runLabel(e)+"_summary.csv")

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if fresh {
		if err := cw.Write([]string{"run_id", "iteration", "model_time", "field", "mean", "min", "max"}); err != nil {
			f.Close()
			return fmt.Errorf("write summary header: %w", err)
		}
	}
	for _, name := range w.fields {
		values, err := e.Fields.Field(name)
		if err != nil {
			f.Close()
			return fmt.Errorf("select summary field: %w", err)
		}
		mean := 0.0
		if len(values) > 0 {
			mean = floats.Sum(values) / float64(len(values))
		}
		row := []string{
			runLabel(e),
			strconv.Itoa(e.Iteration),
			formatFloat(e.Time),
			name,
			formatFloat(mean),
			formatFloat(floats.Min(values)),
			formatFloat(floats.Max(values)),
		}
		if err := cw.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func runLabel(e Emission) string {
	if e.RunID == "" {
		return "run"
	}
	return e.RunID
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
