package raster

import (
	"fmt"

	"github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"
)

// Difference computes a canopy height model: dsm − dtm wherever both grids
// hold data and the difference lies within [minThreshold, maxThreshold].
// Every other cell is left empty.
func Difference(dsm, dtm *Grid, minThreshold, maxThreshold float64) (*Grid, error) {
	if !dsm.sameSize(dtm) {
		return nil, fmt.Errorf("difference %dx%d and %dx%d: %w",
			dsm.Width(), dsm.Height(), dtm.Width(), dtm.Height(), ErrSizeMismatch)
	}
	out, err := NewGrid(dsm.Width(), dsm.Height(), dsm.Nodata())
	if err != nil {
		return nil, err
	}
	for y := 0; y < dsm.Height(); y++ {
		for x := 0; x < dsm.Width(); x++ {
			if !dsm.HasData(x, y) || !dtm.HasData(x, y) {
				continue
			}
			diff := dsm.Data(x, y) - dtm.Data(x, y)
			if diff < minThreshold || diff > maxThreshold {
				continue
			}
			out.Set(x, y, diff)
		}
	}
	return out, nil
}

// MorphologyMethod selects the 3×3 morphology operation.
type MorphologyMethod int

const (
	// Dilation fills empty cells surrounded by data.
	Dilation MorphologyMethod = iota
	// Erosion clears sparsely supported cells.
	Erosion
)

func (m MorphologyMethod) String() string {
	switch m {
	case Dilation:
		return "dilation"
	case Erosion:
		return "erosion"
	default:
		return fmt.Sprintf("MorphologyMethod(%d)", int(m))
	}
}

// DefaultThreshold returns the valid-cell count threshold used when a
// caller passes a negative threshold to Morphology.
func (m MorphologyMethod) DefaultThreshold() int {
	if m == Erosion {
		return 9
	}
	return 0
}

// Morphology applies one 3×3 pass. Dilation fills an empty cell with the
// mean of its valid window cells when more than threshold of them hold
// data. Erosion clears a valid cell when fewer than threshold window cells
// (itself included) hold data. A negative threshold selects the method's
// default.
func Morphology(src *Grid, method MorphologyMethod, threshold int) *Grid {
	if threshold < 0 {
		threshold = method.DefaultThreshold()
	}
	out := src.Clone()
	for y := 0; y < src.Height(); y++ {
		for x := 0; x < src.Width(); x++ {
			var sum float64
			count := 0
			for j := -1; j <= 1; j++ {
				for i := -1; i <= 1; i++ {
					if src.HasData(x+i, y+j) {
						sum += src.Data(x+i, y+j)
						count++
					}
				}
			}

			switch {
			case method == Dilation && !src.HasData(x, y) && count > threshold:
				out.Set(x, y, sum/float64(count))
			case method == Erosion && src.HasData(x, y) && count < threshold:
				out.Unset(x, y)
			}
		}
	}
	return out
}

// LocalMaxima collects seed points: cells holding at least minHeight that
// are the highest cell of their (2·radius+1)² window. On a plateau only the
// first cell in row-major order becomes a seed.
func LocalMaxima(g *Grid, radius int, minHeight float64) []clustermap.Point {
	if radius < 1 {
		radius = 1
	}
	var seeds []clustermap.Point
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			if !g.HasData(x, y) {
				continue
			}
			v := g.Data(x, y)
			if v < minHeight {
				continue
			}
			if isLocalMaximum(g, x, y, radius, v) {
				seeds = append(seeds, clustermap.Point{X: x, Y: y, Z: v})
			}
		}
	}
	return seeds
}

func isLocalMaximum(g *Grid, x, y, radius int, v float64) bool {
	for j := -radius; j <= radius; j++ {
		for i := -radius; i <= radius; i++ {
			if i == 0 && j == 0 {
				continue
			}
			if !g.HasData(x+i, y+j) {
				continue
			}
			w := g.Data(x+i, y+j)
			if w > v {
				return false
			}
			// Earlier cells in row-major order win plateau ties.
			if w == v && (j < 0 || (j == 0 && i < 0)) {
				return false
			}
		}
	}
	return true
}
