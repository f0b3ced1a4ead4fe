// Package raster provides the in-memory elevation grids consumed by crown
// segmentation, together with the canopy-height, morphology and seed
// extraction passes that prepare them.
package raster

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultNodata marks cells without elevation data.
const DefaultNodata = -9999.0

// ErrSizeMismatch is returned when two grids covering the same terrain
// have different dimensions.
var ErrSizeMismatch = errors.New("raster: grid size mismatch")

// Grid is a width×height elevation raster. Cells equal to the nodata
// value, or NaN, hold no data. Row y, column x addresses cell (x, y).
type Grid struct {
	values *mat.Dense
	nodata float64
}

// NewGrid returns a grid of the given size with every cell set to nodata.
func NewGrid(width, height int, nodata float64) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: invalid grid size %dx%d", width, height)
	}
	values := mat.NewDense(height, width, nil)
	if nodata != 0 {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				values.Set(y, x, nodata)
			}
		}
	}
	return &Grid{values: values, nodata: nodata}, nil
}

// NewGridFromValues builds a grid from row-major values.
func NewGridFromValues(width, height int, nodata float64, values []float64) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: invalid grid size %dx%d", width, height)
	}
	if len(values) != width*height {
		return nil, fmt.Errorf("raster: %d values for a %dx%d grid", len(values), width, height)
	}
	data := make([]float64, len(values))
	copy(data, values)
	return &Grid{values: mat.NewDense(height, width, data), nodata: nodata}, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int {
	_, c := g.values.Dims()
	return c
}

// Height returns the number of rows.
func (g *Grid) Height() int {
	r, _ := g.values.Dims()
	return r
}

// Nodata returns the value marking empty cells.
func (g *Grid) Nodata() float64 {
	return g.nodata
}

// InBounds reports whether (x, y) addresses a cell of the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width() && y < g.Height()
}

// HasData reports whether (x, y) is inside the grid and holds data.
func (g *Grid) HasData(x, y int) bool {
	if !g.InBounds(x, y) {
		return false
	}
	v := g.values.At(y, x)
	return v != g.nodata && !math.IsNaN(v)
}

// Data returns the elevation at (x, y), or the nodata value when the cell
// is empty or out of bounds.
func (g *Grid) Data(x, y int) float64 {
	if !g.InBounds(x, y) {
		return g.nodata
	}
	return g.values.At(y, x)
}

// Set stores v at (x, y). Out of bounds writes are ignored.
func (g *Grid) Set(x, y int, v float64) {
	if g.InBounds(x, y) {
		g.values.Set(y, x, v)
	}
}

// Unset clears the cell at (x, y).
func (g *Grid) Unset(x, y int) {
	g.Set(x, y, g.nodata)
}

// Count returns the number of cells holding data.
func (g *Grid) Count() int {
	n := 0
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			if g.HasData(x, y) {
				n++
			}
		}
	}
	return n
}

// Values returns a row-major copy of the cell values.
func (g *Grid) Values() []float64 {
	w, h := g.Width(), g.Height()
	out := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		out = append(out, g.values.RawRowView(y)...)
	}
	return out
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	return &Grid{values: mat.DenseCopyOf(g.values), nodata: g.nodata}
}

func (g *Grid) sameSize(o *Grid) bool {
	return g.Width() == o.Width() && g.Height() == o.Height()
}
