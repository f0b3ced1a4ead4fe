package pipeline

import (
	"fmt"

	"github.com/mcserep/PointCloudTools/internal/config"
	"github.com/mcserep/PointCloudTools/internal/monitoring"
	"github.com/mcserep/PointCloudTools/internal/vegetation/matching"
	"github.com/mcserep/PointCloudTools/internal/vegetation/segmentation"
)

// Options controls one comparison run.
type Options struct {
	// Canopy height model range, in metres above terrain.
	MinVegetationHeight float64
	MaxVegetationHeight float64

	// MorphologyPasses is the number of dilation passes, followed by as
	// many erosion passes, applied to the canopy height model.
	MorphologyPasses int

	SeedWindowRadius int
	SeedMinHeight    float64

	Segmentation segmentation.Config

	// MinCrownSize drops crowns with fewer cells after segmentation.
	MinCrownSize int

	Matching matching.Config

	// ParallelEpochs segments both epochs concurrently. Progress must then
	// be safe for concurrent use.
	ParallelEpochs bool

	Progress monitoring.ProgressFunc

	// EpochProgress, when set, builds one reporter per epoch and takes
	// precedence over Progress. Stateful reporters such as StepProgress
	// must not be shared between epochs.
	EpochProgress func(epoch string) monitoring.ProgressFunc
}

// DefaultOptions mirrors config/vegetation.defaults.json.
func DefaultOptions() Options {
	return Options{
		MinVegetationHeight: 1.5,
		MaxVegetationHeight: 60,
		MorphologyPasses:    1,
		SeedWindowRadius:    2,
		SeedMinHeight:       4,
		Segmentation:        segmentation.DefaultConfig(),
		MinCrownSize:        4,
		Matching:            matching.DefaultConfig(),
	}
}

// OptionsFromConfig converts a validated tuning file into run options.
func OptionsFromConfig(c *config.VegetationConfig) (Options, error) {
	if err := c.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	strategy, err := matching.ParseStrategy(c.GetMatchStrategy())
	if err != nil {
		return Options{}, err
	}

	return Options{
		MinVegetationHeight: c.GetMinVegetationHeight(),
		MaxVegetationHeight: c.GetMaxVegetationHeight(),
		MorphologyPasses:    c.GetMorphologyPasses(),
		SeedWindowRadius:    c.GetSeedWindowRadius(),
		SeedMinHeight:       c.GetSeedMinHeight(),
		Segmentation: segmentation.Config{
			InitialVerticalDistance:  c.GetInitialVerticalDistance(),
			MaxVerticalDistance:      c.GetMaxVerticalDistance(),
			IncreaseVerticalDistance: c.GetIncreaseVerticalDistance(),
			MaxHorizontalDistance:    c.GetMaxHorizontalDistance(),
			MaxRounds:                c.GetMaxRounds(),
			Workers:                  c.GetWorkers(),
		},
		MinCrownSize: c.GetMinCrownSize(),
		Matching: matching.Config{
			MaximumDistance: c.GetMatchMaximumDistance(),
			Strategy:        strategy,
		},
		ParallelEpochs: c.GetParallelEpochs(),
	}, nil
}
