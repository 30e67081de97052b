package grid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrMalformedEsriGrid = errors.New("malformed ESRI ASCII grid")

// EsriGrid is a parsed ESRI ASCII raster: header plus values in this
// package's row-major, south-origin node order (the file itself stores rows
// top-down; the reader flips them).
type EsriGrid struct {
	Rows      int
	Cols      int
	CellSize  float64
	XLLCorner float64
	YLLCorner float64
	NoData    float64
	Values    []float64
}

// ReadEsriAscii parses an ESRI ASCII raster. Header keys are matched
// case-insensitively and may appear in any order; ncols, nrows and cellsize
// are mandatory. The value section must hold exactly nrows*ncols numbers.
func ReadEsriAscii(r io.Reader) (*EsriGrid, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	eg := &EsriGrid{NoData: -9999}
	var (
		haveCols, haveRows, haveCell bool
		pending                      string
	)

header:
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		switch key {
		case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
			if !sc.Scan() {
				return nil, fmt.Errorf("%w: header key %q without value", ErrMalformedEsriGrid, key)
			}
			v, err := strconv.ParseFloat(sc.Text(), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: header %s: %v", ErrMalformedEsriGrid, key, err)
			}
			switch key {
			case "ncols":
				eg.Cols = int(v)
				haveCols = true
			case "nrows":
				eg.Rows = int(v)
				haveRows = true
			case "xllcorner", "xllcenter":
				eg.XLLCorner = v
			case "yllcorner", "yllcenter":
				eg.YLLCorner = v
			case "cellsize":
				eg.CellSize = v
				haveCell = true
			case "nodata_value":
				eg.NoData = v
			}
		default:
			// First non-keyword token starts the value section.
			pending = sc.Text()
			break header
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read esri grid: %w", err)
	}
	if !haveCols || !haveRows || !haveCell {
		return nil, fmt.Errorf("%w: missing ncols, nrows or cellsize", ErrMalformedEsriGrid)
	}
	if eg.Rows <= 0 || eg.Cols <= 0 || eg.CellSize <= 0 {
		return nil, fmt.Errorf("%w: %dx%d cellsize %v", ErrMalformedEsriGrid, eg.Rows, eg.Cols, eg.CellSize)
	}

	want := eg.Rows * eg.Cols
	topDown := make([]float64, 0, want)
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("%w: value %q: %v", ErrMalformedEsriGrid, tok, err)
		}
		topDown = append(topDown, v)
		return nil
	}
	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if len(topDown) == want {
			return nil, fmt.Errorf("%w: more than %d values", ErrMalformedEsriGrid, want)
		}
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read esri grid: %w", err)
	}
	if len(topDown) != want {
		return nil, fmt.Errorf("%w: got %d of %d values", ErrMalformedEsriGrid, len(topDown), want)
	}

	// Flip file rows (north first) into south-origin node order.
	eg.Values = make([]float64, want)
	for fileRow := 0; fileRow < eg.Rows; fileRow++ {
		gridRow := eg.Rows - 1 - fileRow
		copy(eg.Values[gridRow*eg.Cols:(gridRow+1)*eg.Cols], topDown[fileRow*eg.Cols:(fileRow+1)*eg.Cols])
	}
	return eg, nil
}

// ToGrid builds a RasterGrid with this raster's shape and spacing.
func (eg *EsriGrid) ToGrid() (*RasterGrid, error) {
	return NewRasterGrid(eg.Rows, eg.Cols, eg.CellSize)
}

// WriteEsriAscii emits values for grid g in ESRI ASCII form, rows written
// north first to match the format.
func WriteEsriAscii(w io.Writer, g *RasterGrid, values []float64, noData float64) error {
	if len(values) != g.NodeCount() {
		return fmt.Errorf("%w: %d values for %d nodes", ErrLengthMismatch, len(values), g.NodeCount())
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", g.Cols())
	fmt.Fprintf(bw, "nrows %d\n", g.Rows())
	fmt.Fprintf(bw, "xllcorner %s\n", formatEsri(0))
	fmt.Fprintf(bw, "yllcorner %s\n", formatEsri(0))
	fmt.Fprintf(bw, "cellsize %s\n", formatEsri(g.Spacing()))
	fmt.Fprintf(bw, "NODATA_value %s\n", formatEsri(noData))
	for row := g.Rows() - 1; row >= 0; row-- {
		for col := 0; col < g.Cols(); col++ {
			if col > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return fmt.Errorf("write esri grid: %w", err)
				}
			}
			if _, err := bw.WriteString(formatEsri(values[row*g.Cols()+col])); err != nil {
				return fmt.Errorf("write esri grid: %w", err)
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("write esri grid: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write esri grid: %w", err)
	}
	return nil
}

func formatEsri(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
