// Package testutil provides shared test utilities and fixtures.
//
// It builds the small elevation rasters and cluster maps the segmentation,
// matching and pipeline tests are written against.
package testutil

import (
	"math"
	"testing"

	"github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"
	"github.com/mcserep/PointCloudTools/internal/vegetation/raster"
)

// NA marks an empty cell in GridFromRows input.
const NA = raster.DefaultNodata

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// GridFromRows builds a grid from rows of equal length; NA cells are empty.
func GridFromRows(t *testing.T, rows [][]float64) *raster.Grid {
	t.Helper()
	if len(rows) == 0 {
		t.Fatal("GridFromRows: no rows")
	}
	values := make([]float64, 0, len(rows)*len(rows[0]))
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			t.Fatalf("GridFromRows: row %d has %d cells, want %d", i, len(row), len(rows[0]))
		}
		values = append(values, row...)
	}
	g, err := raster.NewGridFromValues(len(rows[0]), len(rows), NA, values)
	AssertNoError(t, err)
	return g
}

// FlatGrid returns a width×height grid with every cell set to v.
func FlatGrid(t *testing.T, width, height int, v float64) *raster.Grid {
	t.Helper()
	g, err := raster.NewGrid(width, height, NA)
	AssertNoError(t, err)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Set(x, y, v)
		}
	}
	return g
}

// Crown describes a conical tree canopy.
type Crown struct {
	X, Y   int
	Height float64
	Radius float64
}

// CrownGrid returns a canopy height grid containing the given crowns. A
// cell takes the highest cone covering it; cells outside every crown are
// empty.
func CrownGrid(t *testing.T, width, height int, crowns ...Crown) *raster.Grid {
	t.Helper()
	g, err := raster.NewGrid(width, height, NA)
	AssertNoError(t, err)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			best := math.Inf(-1)
			for _, c := range crowns {
				d := math.Hypot(float64(x-c.X), float64(y-c.Y))
				if d > c.Radius {
					continue
				}
				if z := c.Height * (1 - 0.5*d/c.Radius); z > best {
					best = z
				}
			}
			if !math.IsInf(best, -1) {
				g.Set(x, y, best)
			}
		}
	}
	return g
}

// Offset returns a grid of the given size with every data cell of src
// added to base. Empty cells of src become base.
func Offset(t *testing.T, src *raster.Grid, base float64) *raster.Grid {
	t.Helper()
	g, err := raster.NewGrid(src.Width(), src.Height(), src.Nodata())
	AssertNoError(t, err)
	for y := 0; y < src.Height(); y++ {
		for x := 0; x < src.Width(); x++ {
			v := base
			if src.HasData(x, y) {
				v += src.Data(x, y)
			}
			g.Set(x, y, v)
		}
	}
	return g
}

// ClusterMap builds a map with one cluster per point list; the first point
// of each list is the seed. It returns the map and the cluster indices in
// argument order.
func ClusterMap(t *testing.T, clusters ...[]clustermap.Point) (*clustermap.ClusterMap, []uint32) {
	t.Helper()
	m := clustermap.New()
	indexes := make([]uint32, 0, len(clusters))
	for _, points := range clusters {
		if len(points) == 0 {
			t.Fatal("ClusterMap: empty cluster")
		}
		index, err := m.CreateCluster(points[0].X, points[0].Y, points[0].Z)
		AssertNoError(t, err)
		for _, p := range points[1:] {
			AssertNoError(t, m.AddPoint(index, p.X, p.Y, p.Z))
		}
		indexes = append(indexes, index)
	}
	return m, indexes
}

// Square returns the points of a side×side block with its top-left
// corner at (x, y), all at elevation z.
func Square(x, y, side int, z float64) []clustermap.Point {
	points := make([]clustermap.Point, 0, side*side)
	for j := 0; j < side; j++ {
		for i := 0; i < side; i++ {
			points = append(points, clustermap.Point{X: x + i, Y: y + j, Z: z})
		}
	}
	return points
}
