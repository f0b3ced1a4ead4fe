// Package segmentation grows tree crown clusters from local-maximum seeds
// over a canopy height raster.
//
// Each round computes, for every cluster, the set of frontier cells within
// the horizontal cap and the current vertical tolerance. Clusters whose
// sets share a cell with a small normalized seed-height difference are
// merged, then every unclaimed cell is added to its (possibly merged)
// cluster. The tolerance grows each round up to its ceiling; growth stops
// once a round at the ceiling adds nothing.
package segmentation

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mcserep/PointCloudTools/internal/monitoring"
	"github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"
	"github.com/mcserep/PointCloudTools/internal/vegetation/raster"
)

var (
	// ErrNonConvergence is returned when MaxRounds is exceeded before the
	// fixed point is reached.
	ErrNonConvergence = errors.New("segmentation: round limit exceeded without convergence")
	// ErrSeedNoData is returned for a seed outside the raster's data.
	ErrSeedNoData = errors.New("segmentation: seed has no elevation data")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("segmentation: invalid config")
	// ErrAborted is returned when the progress callback asks to stop.
	ErrAborted = errors.New("segmentation: aborted")
)

// Accessor reads elevations. Implementations must report no data outside
// their bounds.
type Accessor = raster.Accessor

// Segmentation owns the cluster map grown from one set of seeds.
type Segmentation struct {
	acc       Accessor
	cfg       Config
	clusters  *clustermap.ClusterMap
	tolerance float64
	rounds    int
	converged bool
}

// New validates cfg and creates one cluster per seed. The seed elevation
// is read from acc.
func New(acc Accessor, seeds []clustermap.Point, cfg Config) (*Segmentation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	clusters := clustermap.New()
	for _, seed := range seeds {
		if !acc.HasData(seed.X, seed.Y) {
			return nil, fmt.Errorf("seed (%d, %d): %w", seed.X, seed.Y, ErrSeedNoData)
		}
		if _, err := clusters.CreateCluster(seed.X, seed.Y, acc.Data(seed.X, seed.Y)); err != nil {
			return nil, fmt.Errorf("seed (%d, %d): %w", seed.X, seed.Y, err)
		}
	}

	return &Segmentation{
		acc:       acc,
		cfg:       cfg,
		clusters:  clusters,
		tolerance: cfg.InitialVerticalDistance,
	}, nil
}

// Clusters returns the cluster map. It stays owned by the Segmentation.
func (s *Segmentation) Clusters() *clustermap.ClusterMap {
	return s.clusters
}

// Rounds returns the number of rounds executed so far.
func (s *Segmentation) Rounds() int {
	return s.rounds
}

// Converged reports whether Run reached the fixed point.
func (s *Segmentation) Converged() bool {
	return s.converged
}

// Run iterates growth rounds until the fixed point. After
// ErrNonConvergence or ErrAborted the partially grown map remains readable.
func (s *Segmentation) Run() error {
	ceiling := s.cfg.MaxVerticalDistance
	for !s.converged {
		if s.rounds >= s.cfg.MaxRounds {
			return fmt.Errorf("%w: %d rounds, %d clusters", ErrNonConvergence, s.rounds, s.clusters.Len())
		}
		s.rounds++

		changed, err := s.round(s.tolerance)
		if err != nil {
			return fmt.Errorf("round %d: %w", s.rounds, err)
		}

		// The fixed point needs an unproductive round at the ceiling itself.
		s.converged = !changed && s.tolerance >= ceiling
		if s.tolerance < ceiling {
			s.tolerance = math.Min(s.tolerance+s.cfg.IncreaseVerticalDistance, ceiling)
		}

		msg := fmt.Sprintf("round %d: tolerance %.2f, %d clusters", s.rounds, s.tolerance, s.clusters.Len())
		if !monitoring.Report(s.cfg.Progress, s.fraction(), msg) {
			return fmt.Errorf("%w after %d rounds", ErrAborted, s.rounds)
		}
	}

	monitoring.Logf("[segmentation] converged after %d rounds with %d clusters", s.rounds, s.clusters.Len())
	return nil
}

// fraction estimates progress from the tolerance schedule.
func (s *Segmentation) fraction() float64 {
	if s.converged {
		return 1
	}
	span := s.cfg.MaxVerticalDistance - s.cfg.InitialVerticalDistance
	if span <= 0 {
		return 0.99
	}
	return math.Min((s.tolerance-s.cfg.InitialVerticalDistance)/span, 0.99)
}

// round performs one expand / merge / grow step and reports whether any
// point was added.
func (s *Segmentation) round(tolerance float64) (bool, error) {
	indexes := s.clusters.Indexes()
	sets, err := s.expansionSets(indexes, tolerance)
	if err != nil {
		return false, err
	}

	redirect, err := s.mergeIntersecting(indexes, sets)
	if err != nil {
		return false, err
	}

	changed := false
	for i, index := range indexes {
		target := index
		if survivor, ok := redirect[index]; ok {
			target = survivor
		}
		for _, p := range sets[i].points {
			if s.clusters.Contains(p.X, p.Y) {
				continue
			}
			if err := s.clusters.AddPoint(target, p.X, p.Y, p.Z); err != nil {
				return false, err
			}
			changed = true
		}
	}
	return changed, nil
}

// mergeIntersecting schedules at most one merge per cluster, scanning
// cluster pairs in ascending index order and shared cells in (Y, X) order,
// applies the merges and returns the surviving index of every merged
// cluster.
func (s *Segmentation) mergeIntersecting(indexes []uint32, sets []expansion) (map[uint32]uint32, error) {
	type pair struct{ a, b uint32 }
	var pairs []pair
	scheduled := make(map[uint32]bool)

	for i := 0; i < len(indexes); i++ {
		if scheduled[indexes[i]] || len(sets[i].points) == 0 {
			continue
		}
		seedA, err := s.clusters.Seed(indexes[i])
		if err != nil {
			return nil, err
		}
		for j := i + 1; j < len(indexes); j++ {
			if scheduled[indexes[j]] || !sets[i].overlaps(&sets[j]) {
				continue
			}
			seedB, err := s.clusters.Seed(indexes[j])
			if err != nil {
				return nil, err
			}
			for _, p := range sets[i].points {
				if !sets[j].contains(p) {
					continue
				}
				if shouldMerge(seedA.Z, seedB.Z, p.Z) {
					pairs = append(pairs, pair{indexes[i], indexes[j]})
					scheduled[indexes[i]] = true
					scheduled[indexes[j]] = true
					break
				}
			}
			if scheduled[indexes[i]] {
				break
			}
		}
	}

	redirect := make(map[uint32]uint32, 2*len(pairs))
	for _, p := range pairs {
		survivor, err := s.clusters.Merge(p.a, p.b)
		if err != nil {
			return nil, err
		}
		redirect[p.a] = survivor
		redirect[p.b] = survivor
	}
	return redirect, nil
}

// shouldMerge applies the normalized seed-height test to a shared cell of
// elevation z. A non-positive lower seed leaves the ratio undefined and
// never merges.
func shouldMerge(seedA, seedB, z float64) bool {
	low := math.Min(seedA, seedB)
	if low <= 0 {
		return false
	}
	return ((seedA-z)+(seedB-z))/low < 1.0
}

// expansionSets computes the expansion set of every cluster, concurrently
// when more than one worker is configured. The cluster map is only read.
func (s *Segmentation) expansionSets(indexes []uint32, tolerance float64) ([]expansion, error) {
	sets := make([]expansion, len(indexes))
	workers := s.cfg.Workers
	if workers <= 1 || len(indexes) < 2*workers {
		for i, index := range indexes {
			set, err := s.expand(index, tolerance)
			if err != nil {
				return nil, err
			}
			sets[i] = set
		}
		return sets, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	perWorker := (len(indexes) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		if start >= len(indexes) {
			break
		}
		end := min(start+perWorker, len(indexes))

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				set, err := s.expand(indexes[i], tolerance)
				if err != nil {
					errs[w] = err
					return
				}
				sets[i] = set
			}
		}(w, start, end)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sets, nil
}

// expand returns the frontier cells of a cluster that hold data, lie
// within the horizontal cap of its centre and within tolerance of its
// seed elevation.
func (s *Segmentation) expand(index uint32, tolerance float64) (expansion, error) {
	center, err := s.clusters.Center(index)
	if err != nil {
		return expansion{}, err
	}
	seed, err := s.clusters.Seed(index)
	if err != nil {
		return expansion{}, err
	}
	frontier, err := s.clusters.Neighbors(index)
	if err != nil {
		return expansion{}, err
	}

	set := newExpansion()
	for _, p := range frontier {
		if !s.acc.HasData(p.X, p.Y) {
			continue
		}
		if center.Distance2D(p) > s.cfg.MaxHorizontalDistance {
			continue
		}
		z := s.acc.Data(p.X, p.Y)
		if math.Abs(z-seed.Z) > tolerance {
			continue
		}
		p.Z = z
		set.add(p)
	}
	return set, nil
}
