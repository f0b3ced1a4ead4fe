package clustermap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/geo/r2"
)

var (
	// ErrOutOfRange is returned when a cluster index or point is not present.
	ErrOutOfRange = errors.New("clustermap: out of range")
	// ErrAlreadyAssigned is returned when a point already belongs to a cluster.
	ErrAlreadyAssigned = errors.New("clustermap: point already assigned")
	// ErrDegenerate is returned when a cluster has no points.
	ErrDegenerate = errors.New("clustermap: cluster has no points")
)

// Point is an integer grid coordinate carrying an optional elevation.
// Identity is (X, Y); Z is payload.
type Point struct {
	X, Y int
	Z    float64
}

// Equal reports whether p and q address the same grid cell.
func (p Point) Equal(q Point) bool {
	return p.X == q.X && p.Y == q.Y
}

// Vec returns the planar position of p.
func (p Point) Vec() r2.Point {
	return r2.Point{X: float64(p.X), Y: float64(p.Y)}
}

// Distance2D returns the planar Euclidean distance between p and q.
func (p Point) Distance2D(q Point) float64 {
	return p.Vec().Sub(q.Vec()).Norm()
}

// coord is the spatial hash key of a grid cell.
type coord struct {
	x, y int
}

type cluster struct {
	seed   Point
	points []Point
}

// ClusterMap partitions grid points into clusters identified by indices
// that are never reused.
type ClusterMap struct {
	owner    map[coord]uint32
	clusters map[uint32]*cluster
	next     uint32
}

// New returns an empty ClusterMap.
func New() *ClusterMap {
	return &ClusterMap{
		owner:    make(map[coord]uint32),
		clusters: make(map[uint32]*cluster),
	}
}

// CreateCluster starts a new cluster whose seed and only member is (x, y).
func (m *ClusterMap) CreateCluster(x, y int, z float64) (uint32, error) {
	c := coord{x, y}
	if _, ok := m.owner[c]; ok {
		return 0, fmt.Errorf("create cluster at (%d, %d): %w", x, y, ErrAlreadyAssigned)
	}

	index := m.next
	m.next++

	p := Point{X: x, Y: y, Z: z}
	m.clusters[index] = &cluster{seed: p, points: []Point{p}}
	m.owner[c] = index
	return index, nil
}

// AddPoint appends (x, y) to the given cluster.
func (m *ClusterMap) AddPoint(index uint32, x, y int, z float64) error {
	cl, ok := m.clusters[index]
	if !ok {
		return fmt.Errorf("add point to cluster %d: %w", index, ErrOutOfRange)
	}
	c := coord{x, y}
	if owner, ok := m.owner[c]; ok {
		return fmt.Errorf("add point (%d, %d) to cluster %d, owned by %d: %w", x, y, index, owner, ErrAlreadyAssigned)
	}

	cl.points = append(cl.points, Point{X: x, Y: y, Z: z})
	m.owner[c] = index
	return nil
}

// ClusterIndex returns the index of the cluster owning (x, y).
func (m *ClusterMap) ClusterIndex(x, y int) (uint32, error) {
	index, ok := m.owner[coord{x, y}]
	if !ok {
		return 0, fmt.Errorf("point (%d, %d): %w", x, y, ErrOutOfRange)
	}
	return index, nil
}

// Contains reports whether (x, y) belongs to any cluster.
func (m *ClusterMap) Contains(x, y int) bool {
	_, ok := m.owner[coord{x, y}]
	return ok
}

// Points returns a copy of the cluster's points in insertion order.
func (m *ClusterMap) Points(index uint32) ([]Point, error) {
	cl, ok := m.clusters[index]
	if !ok {
		return nil, fmt.Errorf("points of cluster %d: %w", index, ErrOutOfRange)
	}
	out := make([]Point, len(cl.points))
	copy(out, cl.points)
	return out, nil
}

// Size returns the number of points in the cluster.
func (m *ClusterMap) Size(index uint32) (int, error) {
	cl, ok := m.clusters[index]
	if !ok {
		return 0, fmt.Errorf("size of cluster %d: %w", index, ErrOutOfRange)
	}
	return len(cl.points), nil
}

// Seed returns the point the cluster was created from.
func (m *ClusterMap) Seed(index uint32) (Point, error) {
	cl, ok := m.clusters[index]
	if !ok {
		return Point{}, fmt.Errorf("seed of cluster %d: %w", index, ErrOutOfRange)
	}
	return cl.seed, nil
}

// Indexes returns the live cluster indices in ascending order.
func (m *ClusterMap) Indexes() []uint32 {
	out := make([]uint32, 0, len(m.clusters))
	for index := range m.clusters {
		out = append(out, index)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of live clusters.
func (m *ClusterMap) Len() int {
	return len(m.clusters)
}

// Center returns the truncated arithmetic mean of the cluster's X and Y
// coordinates. Z carries the seed elevation.
func (m *ClusterMap) Center(index uint32) (Point, error) {
	cl, ok := m.clusters[index]
	if !ok {
		return Point{}, fmt.Errorf("center of cluster %d: %w", index, ErrOutOfRange)
	}
	n := len(cl.points)
	if n == 0 {
		return Point{}, fmt.Errorf("center of cluster %d: %w", index, ErrDegenerate)
	}

	var sumX, sumY int
	for _, p := range cl.points {
		sumX += p.X
		sumY += p.Y
	}
	return Point{X: sumX / n, Y: sumY / n, Z: cl.seed.Z}, nil
}

// Neighbors returns the unowned 8-connected boundary cells of the cluster,
// each once, ordered by (Y, X).
func (m *ClusterMap) Neighbors(index uint32) ([]Point, error) {
	cl, ok := m.clusters[index]
	if !ok {
		return nil, fmt.Errorf("neighbors of cluster %d: %w", index, ErrOutOfRange)
	}

	seen := make(map[coord]struct{})
	var out []Point
	for _, p := range cl.points {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				c := coord{p.X + dx, p.Y + dy}
				if _, owned := m.owner[c]; owned {
					continue
				}
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				out = append(out, Point{X: c.x, Y: c.y})
			}
		}
	}
	sortPoints(out)
	return out, nil
}

// Merge unions clusters a and b. The smaller cluster is merged into the
// larger one; on equal size b is merged into a. It returns the index of
// the surviving cluster.
func (m *ClusterMap) Merge(a, b uint32) (uint32, error) {
	clA, ok := m.clusters[a]
	if !ok {
		return 0, fmt.Errorf("merge cluster %d: %w", a, ErrOutOfRange)
	}
	clB, ok := m.clusters[b]
	if !ok {
		return 0, fmt.Errorf("merge cluster %d: %w", b, ErrOutOfRange)
	}
	if a == b {
		return a, nil
	}

	from, to := b, a
	fromCl, toCl := clB, clA
	if len(clB.points) > len(clA.points) {
		from, to = a, b
		fromCl, toCl = clA, clB
	}

	for _, p := range fromCl.points {
		m.owner[coord{p.X, p.Y}] = to
	}
	toCl.points = append(toCl.points, fromCl.points...)
	delete(m.clusters, from)
	return to, nil
}

// Remove deletes the cluster and releases its points.
func (m *ClusterMap) Remove(index uint32) error {
	cl, ok := m.clusters[index]
	if !ok {
		return fmt.Errorf("remove cluster %d: %w", index, ErrOutOfRange)
	}
	for _, p := range cl.points {
		delete(m.owner, coord{p.X, p.Y})
	}
	delete(m.clusters, index)
	return nil
}

// RemoveSmall removes every cluster with fewer than minSize points and
// returns how many were removed.
func (m *ClusterMap) RemoveSmall(minSize int) int {
	var removed []uint32
	for index, cl := range m.clusters {
		if len(cl.points) < minSize {
			removed = append(removed, index)
		}
	}
	for _, index := range removed {
		cl := m.clusters[index]
		for _, p := range cl.points {
			delete(m.owner, coord{p.X, p.Y})
		}
		delete(m.clusters, index)
	}
	return len(removed)
}

// sortPoints orders points by (Y, X).
func sortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Y != points[j].Y {
			return points[i].Y < points[j].Y
		}
		return points[i].X < points[j].X
	})
}
