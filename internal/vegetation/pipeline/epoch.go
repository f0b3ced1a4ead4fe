// Package pipeline runs the vegetation change detection end to end: canopy
// height model, seed detection and crown segmentation for each epoch, then
// crown matching and the change report.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcserep/PointCloudTools/internal/monitoring"
	"github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"
	"github.com/mcserep/PointCloudTools/internal/vegetation/raster"
	"github.com/mcserep/PointCloudTools/internal/vegetation/segmentation"
)

// Epoch is one survey of the terrain.
type Epoch struct {
	Name string
	DTM  *raster.Grid
	DSM  *raster.Grid
}

// EpochResult holds the intermediate products of one epoch.
type EpochResult struct {
	Name     string
	CHM      *raster.Grid
	Seeds    []clustermap.Point
	Clusters *clustermap.ClusterMap
	Rounds   int
	// Removed counts crowns dropped for being below MinCrownSize.
	Removed int
}

// SegmentEpoch derives the canopy height model of epoch and segments it
// into crowns.
func SegmentEpoch(ctx context.Context, epoch Epoch, opts Options) (*EpochResult, error) {
	if epoch.DTM == nil || epoch.DSM == nil {
		return nil, fmt.Errorf("epoch %s: missing DTM or DSM", epoch.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("epoch %s: %w", epoch.Name, err)
	}

	chm, err := raster.Difference(epoch.DSM, epoch.DTM, opts.MinVegetationHeight, opts.MaxVegetationHeight)
	if err != nil {
		return nil, fmt.Errorf("epoch %s: canopy height model: %w", epoch.Name, err)
	}
	for i := 0; i < opts.MorphologyPasses; i++ {
		chm = raster.Morphology(chm, raster.Dilation, -1)
	}
	for i := 0; i < opts.MorphologyPasses; i++ {
		chm = raster.Morphology(chm, raster.Erosion, -1)
	}
	monitoring.Logf("[pipeline] %s: canopy height model has %d cells", epoch.Name, chm.Count())

	seeds := raster.LocalMaxima(chm, opts.SeedWindowRadius, opts.SeedMinHeight)
	monitoring.Logf("[pipeline] %s: %d seeds", epoch.Name, len(seeds))

	progress := opts.Progress
	if opts.EpochProgress != nil {
		progress = opts.EpochProgress(epoch.Name)
	}
	cfg := opts.Segmentation
	cfg.Progress = func(fraction float64, message string) bool {
		if ctx.Err() != nil {
			return false
		}
		return monitoring.Report(progress, fraction, epoch.Name+": "+message)
	}

	seg, err := segmentation.New(chm, seeds, cfg)
	if err != nil {
		return nil, fmt.Errorf("epoch %s: %w", epoch.Name, err)
	}
	if err := seg.Run(); err != nil {
		if errors.Is(err, segmentation.ErrAborted) && ctx.Err() != nil {
			return nil, fmt.Errorf("epoch %s: %w", epoch.Name, ctx.Err())
		}
		return nil, fmt.Errorf("epoch %s: %w", epoch.Name, err)
	}

	clusters := seg.Clusters()
	removed := clusters.RemoveSmall(opts.MinCrownSize)
	monitoring.Logf("[pipeline] %s: %d crowns after %d rounds, %d small crowns removed",
		epoch.Name, clusters.Len(), seg.Rounds(), removed)

	return &EpochResult{
		Name:     epoch.Name,
		CHM:      chm,
		Seeds:    seeds,
		Clusters: clusters,
		Rounds:   seg.Rounds(),
		Removed:  removed,
	}, nil
}
