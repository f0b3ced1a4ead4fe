package segmentation

import (
	"fmt"
	"runtime"

	"github.com/mcserep/PointCloudTools/internal/monitoring"
)

// Config controls crown growth. Start with DefaultConfig and override the
// fields you need.
type Config struct {
	// InitialVerticalDistance is the starting tolerance between a candidate
	// cell's elevation and the seed elevation.
	InitialVerticalDistance float64

	// MaxVerticalDistance is the ceiling the tolerance climbs to.
	MaxVerticalDistance float64

	// IncreaseVerticalDistance is added to the tolerance after every round
	// until the ceiling is reached. Must be > 0 when the initial tolerance
	// is below the ceiling.
	IncreaseVerticalDistance float64

	// MaxHorizontalDistance caps the distance of any cell from its
	// cluster's centre, independent of the vertical tolerance.
	MaxHorizontalDistance float64

	// MaxRounds bounds the iteration. Exceeding it returns
	// ErrNonConvergence. DefaultConfig uses 1000.
	MaxRounds int

	// Workers computes expansion sets concurrently when > 1. The accessor
	// must be safe for concurrent reads; wrap it with raster.Locked if not.
	// 0 means runtime.NumCPU().
	Workers int

	// Progress is called once per round. Optional.
	Progress monitoring.ProgressFunc
}

// DefaultConfig returns the tuning used for 0.5 m canopy height models.
func DefaultConfig() Config {
	return Config{
		InitialVerticalDistance:  0.5,
		MaxVerticalDistance:      14,
		IncreaseVerticalDistance: 0.5,
		MaxHorizontalDistance:    12,
		MaxRounds:                1000,
	}
}

// Validate checks that c describes a terminating growth schedule.
func (c *Config) Validate() error {
	if c.InitialVerticalDistance < 0 {
		return fmt.Errorf("%w: InitialVerticalDistance must be >= 0, got %f", ErrInvalidConfig, c.InitialVerticalDistance)
	}
	if c.MaxVerticalDistance < c.InitialVerticalDistance {
		return fmt.Errorf("%w: MaxVerticalDistance %f below InitialVerticalDistance %f",
			ErrInvalidConfig, c.MaxVerticalDistance, c.InitialVerticalDistance)
	}
	if c.IncreaseVerticalDistance < 0 {
		return fmt.Errorf("%w: IncreaseVerticalDistance must be >= 0, got %f", ErrInvalidConfig, c.IncreaseVerticalDistance)
	}
	if c.IncreaseVerticalDistance == 0 && c.InitialVerticalDistance < c.MaxVerticalDistance {
		return fmt.Errorf("%w: IncreaseVerticalDistance must be > 0 to reach MaxVerticalDistance", ErrInvalidConfig)
	}
	if c.MaxHorizontalDistance < 0 {
		return fmt.Errorf("%w: MaxHorizontalDistance must be >= 0, got %f", ErrInvalidConfig, c.MaxHorizontalDistance)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("%w: MaxRounds must be >= 1, got %d", ErrInvalidConfig, c.MaxRounds)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: Workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
}
