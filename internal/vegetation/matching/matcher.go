// Package matching pairs tree crowns of two epochs by directed Hausdorff
// distance and reports the crowns left without a partner.
//
// Only cluster pairs whose centres lie closer than Config.MaximumDistance
// are compared. Both directed distances of such a pair are kept, keyed by
// (A-index, B-index). A Strategy then selects the correspondences.
package matching

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r2"

	"github.com/mcserep/PointCloudTools/internal/monitoring"
	"github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"
)

// ErrOutOfRange is returned for a lookup that has no stored distance.
var ErrOutOfRange = errors.New("matching: out of range")

// DefaultMaximumDistance is the default centre distance cutoff in cells.
const DefaultMaximumDistance = 9.0

// Key addresses a distance entry by A-side and B-side cluster index.
type Key struct {
	A, B uint32
}

// Pair is an accepted correspondence.
type Pair struct {
	A, B     uint32
	Distance float64
}

// Config controls the matcher.
type Config struct {
	// MaximumDistance is the exclusive centre distance cutoff.
	MaximumDistance float64
	Strategy        Strategy
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{MaximumDistance: DefaultMaximumDistance, Strategy: StrategyMutualNearest}
}

// Matcher computes distances and correspondences between two cluster maps.
// It only reads the maps.
type Matcher struct {
	a, b *clustermap.ClusterMap
	cfg  Config

	forward map[Key]float64
	reverse map[Key]float64
	closest []Pair
	lonelyA []uint32
	lonelyB []uint32
}

// New returns a Matcher over the A-side and B-side maps. A non-positive
// MaximumDistance selects the default.
func New(a, b *clustermap.ClusterMap, cfg Config) *Matcher {
	if cfg.MaximumDistance <= 0 {
		cfg.MaximumDistance = DefaultMaximumDistance
	}
	return &Matcher{a: a, b: b, cfg: cfg}
}

// crown caches what the distance loop needs from a cluster.
type crown struct {
	index  uint32
	center clustermap.Point
	points []r2.Point
}

func snapshot(m *clustermap.ClusterMap) ([]crown, error) {
	indexes := m.Indexes()
	out := make([]crown, 0, len(indexes))
	for _, index := range indexes {
		center, err := m.Center(index)
		if err != nil {
			return nil, err
		}
		points, err := m.Points(index)
		if err != nil {
			return nil, err
		}
		vecs := make([]r2.Point, len(points))
		for i, p := range points {
			vecs[i] = p.Vec()
		}
		out = append(out, crown{index: index, center: center, points: vecs})
	}
	return out, nil
}

// Run computes the distance tables, the correspondences and the lonely
// sets. Calling it again recomputes everything.
func (m *Matcher) Run() error {
	as, err := snapshot(m.a)
	if err != nil {
		return fmt.Errorf("epoch A: %w", err)
	}
	bs, err := snapshot(m.b)
	if err != nil {
		return fmt.Errorf("epoch B: %w", err)
	}

	m.forward = make(map[Key]float64)
	m.reverse = make(map[Key]float64)
	for _, ca := range as {
		for _, cb := range bs {
			if ca.center.Distance2D(cb.center) >= m.cfg.MaximumDistance {
				continue
			}
			k := Key{ca.index, cb.index}
			m.forward[k] = directedHausdorff(ca.points, cb.points)
			m.reverse[k] = directedHausdorff(cb.points, ca.points)
		}
	}

	switch m.cfg.Strategy {
	case StrategyMutualNearest:
		m.closest = m.mutualNearest()
	case StrategyFirstClaim:
		m.closest = m.firstClaim()
	case StrategyOptimal:
		m.closest = m.optimal()
	default:
		return fmt.Errorf("matching: unknown strategy %d", m.cfg.Strategy)
	}

	matchedA := make(map[uint32]bool, len(m.closest))
	matchedB := make(map[uint32]bool, len(m.closest))
	for _, p := range m.closest {
		matchedA[p.A] = true
		matchedB[p.B] = true
	}
	m.lonelyA = m.lonelyA[:0]
	for _, c := range as {
		if !matchedA[c.index] {
			m.lonelyA = append(m.lonelyA, c.index)
		}
	}
	m.lonelyB = m.lonelyB[:0]
	for _, c := range bs {
		if !matchedB[c.index] {
			m.lonelyB = append(m.lonelyB, c.index)
		}
	}

	monitoring.Logf("[matching] %s: %d candidate pairs, %d matched, %d lonely A, %d lonely B",
		m.cfg.Strategy, len(m.forward), len(m.closest), len(m.lonelyA), len(m.lonelyB))
	return nil
}

// directedHausdorff returns max over p in from of the distance to the
// nearest q in to.
func directedHausdorff(from, to []r2.Point) float64 {
	worst := 0.0
	for _, p := range from {
		best := math.Inf(1)
		for _, q := range to {
			v := p.Sub(q)
			if d := v.Dot(v); d < best {
				best = d
			}
		}
		if best > worst {
			worst = best
		}
	}
	return math.Sqrt(worst)
}

// sortedKeys returns the forward keys in ascending (A, B) order.
func (m *Matcher) sortedKeys() []Key {
	keys := make([]Key, 0, len(m.forward))
	for k := range m.forward {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}

// symmetric returns max(d(a→b), d(b→a)) when both directions are stored.
func (m *Matcher) symmetric(k Key) (float64, bool) {
	f, ok := m.forward[k]
	if !ok {
		return 0, false
	}
	r, ok := m.reverse[k]
	if !ok {
		return 0, false
	}
	return math.Max(f, r), true
}

// Distances returns a copy of the A→B distance table.
func (m *Matcher) Distances() map[Key]float64 {
	return copyTable(m.forward)
}

// ReverseDistances returns a copy of the B→A distance table, keyed by
// (A-index, B-index) like Distances.
func (m *Matcher) ReverseDistances() map[Key]float64 {
	return copyTable(m.reverse)
}

func copyTable(src map[Key]float64) map[Key]float64 {
	out := make(map[Key]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Closest returns the accepted correspondences sorted by A-index.
func (m *Matcher) Closest() []Pair {
	return append([]Pair(nil), m.closest...)
}

// LonelyA returns the A-side indices without a correspondence, ascending.
func (m *Matcher) LonelyA() []uint32 {
	return append([]uint32(nil), m.lonelyA...)
}

// LonelyB returns the B-side indices without a correspondence, ascending.
func (m *Matcher) LonelyB() []uint32 {
	return append([]uint32(nil), m.lonelyB...)
}

// ClusterDistance returns the stored directed distance from A-cluster a to
// B-cluster b.
func (m *Matcher) ClusterDistance(a, b uint32) (float64, error) {
	d, ok := m.forward[Key{a, b}]
	if !ok {
		return 0, fmt.Errorf("distance (%d, %d): %w", a, b, ErrOutOfRange)
	}
	return d, nil
}

// ClosestCluster returns the B-cluster with the smallest directed distance
// from A-cluster a. Ties go to the lowest B-index.
func (m *Matcher) ClosestCluster(a uint32) (uint32, error) {
	best, found := uint32(0), false
	bestDist := math.Inf(1)
	for k, d := range m.forward {
		if k.A != a {
			continue
		}
		if !found || d < bestDist || (d == bestDist && k.B < best) {
			best, bestDist, found = k.B, d, true
		}
	}
	if !found {
		return 0, fmt.Errorf("closest cluster to %d: %w", a, ErrOutOfRange)
	}
	return best, nil
}
