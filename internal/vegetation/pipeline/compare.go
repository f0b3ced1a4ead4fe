package pipeline

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mcserep/PointCloudTools/internal/monitoring"
	"github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"
	"github.com/mcserep/PointCloudTools/internal/vegetation/matching"
)

// Position is a grid cell coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Crown describes a segmented crown that found no partner.
type Crown struct {
	Index  uint32   `json:"index"`
	Center Position `json:"center"`
	Height float64  `json:"height"`
	Area   int      `json:"area"`
}

// Change describes one matched crown pair.
type Change struct {
	A            uint32   `json:"a"`
	B            uint32   `json:"b"`
	Distance     float64  `json:"distance"`
	CenterA      Position `json:"center_a"`
	CenterB      Position `json:"center_b"`
	Shift        float64  `json:"shift"`
	HeightA      float64  `json:"height_a"`
	HeightB      float64  `json:"height_b"`
	HeightChange float64  `json:"height_change"`
	AreaA        int      `json:"area_a"`
	AreaB        int      `json:"area_b"`
}

// Summary aggregates a report.
type Summary struct {
	CrownsA            int     `json:"crowns_a"`
	CrownsB            int     `json:"crowns_b"`
	Matched            int     `json:"matched"`
	Lost               int     `json:"lost"`
	New                int     `json:"new"`
	MeanDistance       float64 `json:"mean_distance"`
	MeanShift          float64 `json:"mean_shift"`
	StdDevShift        float64 `json:"stddev_shift"`
	MeanHeightChange   float64 `json:"mean_height_change"`
	StdDevHeightChange float64 `json:"stddev_height_change"`
	TotalAreaChange    int     `json:"total_area_change"`
}

// Report is the outcome of comparing two epochs.
type Report struct {
	EpochA   string   `json:"epoch_a"`
	EpochB   string   `json:"epoch_b"`
	Strategy string   `json:"strategy"`
	Changes  []Change `json:"changes"`
	Lost     []Crown  `json:"lost"`
	New      []Crown  `json:"new"`
	Summary  Summary  `json:"summary"`

	A *EpochResult `json:"-"`
	B *EpochResult `json:"-"`
}

// Compare segments both epochs, matches their crowns and reports the
// per-crown changes. Epoch a is the earlier survey.
func Compare(ctx context.Context, a, b Epoch, opts Options) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resA, resB *EpochResult
	if opts.ParallelEpochs {
		var (
			wg         sync.WaitGroup
			errA, errB error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			resA, errA = SegmentEpoch(ctx, a, opts)
		}()
		go func() {
			defer wg.Done()
			resB, errB = SegmentEpoch(ctx, b, opts)
		}()
		wg.Wait()
		if errA != nil {
			return nil, errA
		}
		if errB != nil {
			return nil, errB
		}
	} else {
		var err error
		if resA, err = SegmentEpoch(ctx, a, opts); err != nil {
			return nil, err
		}
		if resB, err = SegmentEpoch(ctx, b, opts); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := matching.New(resA.Clusters, resB.Clusters, opts.Matching)
	if err := m.Run(); err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}

	report := &Report{
		EpochA:   a.Name,
		EpochB:   b.Name,
		Strategy: opts.Matching.Strategy.String(),
		A:        resA,
		B:        resB,
	}
	for _, p := range m.Closest() {
		ca, err := describe(resA.Clusters, p.A)
		if err != nil {
			return nil, fmt.Errorf("epoch %s: %w", a.Name, err)
		}
		cb, err := describe(resB.Clusters, p.B)
		if err != nil {
			return nil, fmt.Errorf("epoch %s: %w", b.Name, err)
		}
		report.Changes = append(report.Changes, Change{
			A:            p.A,
			B:            p.B,
			Distance:     p.Distance,
			CenterA:      ca.Center,
			CenterB:      cb.Center,
			Shift:        ca.center.Distance2D(cb.center),
			HeightA:      ca.Height,
			HeightB:      cb.Height,
			HeightChange: cb.Height - ca.Height,
			AreaA:        ca.Area,
			AreaB:        cb.Area,
		})
	}
	for _, index := range m.LonelyA() {
		c, err := describe(resA.Clusters, index)
		if err != nil {
			return nil, fmt.Errorf("epoch %s: %w", a.Name, err)
		}
		report.Lost = append(report.Lost, c.Crown)
	}
	for _, index := range m.LonelyB() {
		c, err := describe(resB.Clusters, index)
		if err != nil {
			return nil, fmt.Errorf("epoch %s: %w", b.Name, err)
		}
		report.New = append(report.New, c.Crown)
	}

	report.Summary = summarize(report, resA.Clusters.Len(), resB.Clusters.Len())
	monitoring.Logf("[pipeline] %s→%s: %d matched, %d lost, %d new, mean shift %.2f, mean height change %.2f",
		a.Name, b.Name, report.Summary.Matched, report.Summary.Lost, report.Summary.New,
		report.Summary.MeanShift, report.Summary.MeanHeightChange)
	return report, nil
}

type described struct {
	Crown
	center clustermap.Point
}

// describe measures a crown: its centre, its highest cell and its area.
func describe(m *clustermap.ClusterMap, index uint32) (described, error) {
	center, err := m.Center(index)
	if err != nil {
		return described{}, err
	}
	points, err := m.Points(index)
	if err != nil {
		return described{}, err
	}
	heights := make([]float64, len(points))
	for i, p := range points {
		heights[i] = p.Z
	}
	return described{
		Crown: Crown{
			Index:  index,
			Center: Position{X: center.X, Y: center.Y},
			Height: floats.Max(heights),
			Area:   len(points),
		},
		center: center,
	}, nil
}

func summarize(r *Report, crownsA, crownsB int) Summary {
	s := Summary{
		CrownsA: crownsA,
		CrownsB: crownsB,
		Matched: len(r.Changes),
		Lost:    len(r.Lost),
		New:     len(r.New),
	}
	if len(r.Changes) == 0 {
		return s
	}

	distances := make([]float64, len(r.Changes))
	shifts := make([]float64, len(r.Changes))
	heights := make([]float64, len(r.Changes))
	for i, c := range r.Changes {
		distances[i] = c.Distance
		shifts[i] = c.Shift
		heights[i] = c.HeightChange
		s.TotalAreaChange += c.AreaB - c.AreaA
	}
	s.MeanDistance = stat.Mean(distances, nil)
	s.MeanShift, s.StdDevShift = meanStdDev(shifts)
	s.MeanHeightChange, s.StdDevHeightChange = meanStdDev(heights)
	return s
}

// meanStdDev returns the sample mean and standard deviation; a single
// sample has zero spread.
func meanStdDev(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}
