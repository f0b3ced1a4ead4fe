package config

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/mcserep/PointCloudTools/internal/fsutil"
)

// DefaultConfigPath is the path to the canonical vegetation defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/vegetation.defaults.json"

// VegetationConfig holds the tuning of a vegetation comparison run. Every
// field is optional; the Get* methods supply the default for unset fields.
type VegetationConfig struct {
	// Canopy height model
	MinVegetationHeight *float64 `json:"min_vegetation_height,omitempty"`
	MaxVegetationHeight *float64 `json:"max_vegetation_height,omitempty"`
	MorphologyPasses    *int     `json:"morphology_passes,omitempty"`

	// Seeds
	SeedWindowRadius *int     `json:"seed_window_radius,omitempty"`
	SeedMinHeight    *float64 `json:"seed_min_height,omitempty"`

	// Crown segmentation
	InitialVerticalDistance  *float64 `json:"initial_vertical_distance,omitempty"`
	MaxVerticalDistance      *float64 `json:"max_vertical_distance,omitempty"`
	IncreaseVerticalDistance *float64 `json:"increase_vertical_distance,omitempty"`
	MaxHorizontalDistance    *float64 `json:"max_horizontal_distance,omitempty"`
	MaxRounds                *int     `json:"max_rounds,omitempty"`
	MinCrownSize             *int     `json:"min_crown_size,omitempty"`

	// Matching
	MatchMaximumDistance *float64 `json:"match_maximum_distance,omitempty"`
	MatchStrategy        *string  `json:"match_strategy,omitempty"` // mutual, first-claim or optimal

	// Execution
	Workers        *int  `json:"workers,omitempty"` // 0 = one per CPU
	ParallelEpochs *bool `json:"parallel_epochs,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyVegetationConfig returns a VegetationConfig with all fields set to nil.
func EmptyVegetationConfig() *VegetationConfig {
	return &VegetationConfig{}
}

// maxConfigSize bounds the size of a tuning file.
const maxConfigSize = 1 * 1024 * 1024 // 1MB

// LoadVegetationConfig loads a VegetationConfig from a JSON file on disk.
// See LoadVegetationConfigFS for the checks applied.
func LoadVegetationConfig(path string) (*VegetationConfig, error) {
	return LoadVegetationConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadVegetationConfigFS loads a VegetationConfig from a JSON file in fsys.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadVegetationConfigFS(fsys fsutil.FileSystem, path string) (*VegetationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	f, err := fsys.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseVegetationConfig(data)
}

// ParseVegetationConfig decodes and validates a JSON config document.
func ParseVegetationConfig(data []byte) (*VegetationConfig, error) {
	cfg := EmptyVegetationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *VegetationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vegetation/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/vegetation/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadVegetationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the set values are usable.
func (c *VegetationConfig) Validate() error {
	if c.MinVegetationHeight != nil && *c.MinVegetationHeight < 0 {
		return fmt.Errorf("min_vegetation_height must be non-negative, got %f", *c.MinVegetationHeight)
	}
	if c.GetMaxVegetationHeight() < c.GetMinVegetationHeight() {
		return fmt.Errorf("max_vegetation_height %f is below min_vegetation_height %f",
			c.GetMaxVegetationHeight(), c.GetMinVegetationHeight())
	}
	if c.MorphologyPasses != nil && *c.MorphologyPasses < 0 {
		return fmt.Errorf("morphology_passes must be non-negative, got %d", *c.MorphologyPasses)
	}
	if c.SeedWindowRadius != nil && *c.SeedWindowRadius < 1 {
		return fmt.Errorf("seed_window_radius must be at least 1, got %d", *c.SeedWindowRadius)
	}
	if c.GetMaxVerticalDistance() < c.GetInitialVerticalDistance() {
		return fmt.Errorf("max_vertical_distance %f is below initial_vertical_distance %f",
			c.GetMaxVerticalDistance(), c.GetInitialVerticalDistance())
	}
	if c.IncreaseVerticalDistance != nil && *c.IncreaseVerticalDistance <= 0 {
		return fmt.Errorf("increase_vertical_distance must be positive, got %f", *c.IncreaseVerticalDistance)
	}
	if c.MaxHorizontalDistance != nil && *c.MaxHorizontalDistance <= 0 {
		return fmt.Errorf("max_horizontal_distance must be positive, got %f", *c.MaxHorizontalDistance)
	}
	if c.MaxRounds != nil && *c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1, got %d", *c.MaxRounds)
	}
	if c.MinCrownSize != nil && *c.MinCrownSize < 0 {
		return fmt.Errorf("min_crown_size must be non-negative, got %d", *c.MinCrownSize)
	}
	if c.MatchMaximumDistance != nil && *c.MatchMaximumDistance <= 0 {
		return fmt.Errorf("match_maximum_distance must be positive, got %f", *c.MatchMaximumDistance)
	}
	if c.MatchStrategy != nil {
		switch *c.MatchStrategy {
		case "", "mutual", "first-claim", "optimal":
		default:
			return fmt.Errorf("match_strategy must be mutual, first-claim or optimal, got %q", *c.MatchStrategy)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetMinVegetationHeight returns the lowest canopy height kept in the CHM.
func (c *VegetationConfig) GetMinVegetationHeight() float64 {
	if c.MinVegetationHeight == nil {
		return 1.5
	}
	return *c.MinVegetationHeight
}

// GetMaxVegetationHeight returns the highest canopy height kept in the CHM.
func (c *VegetationConfig) GetMaxVegetationHeight() float64 {
	if c.MaxVegetationHeight == nil {
		return 60
	}
	return *c.MaxVegetationHeight
}

// GetMorphologyPasses returns how many dilation and erosion passes run.
func (c *VegetationConfig) GetMorphologyPasses() int {
	if c.MorphologyPasses == nil {
		return 1
	}
	return *c.MorphologyPasses
}

func (c *VegetationConfig) GetSeedWindowRadius() int {
	if c.SeedWindowRadius == nil {
		return 2
	}
	return *c.SeedWindowRadius
}

func (c *VegetationConfig) GetSeedMinHeight() float64 {
	if c.SeedMinHeight == nil {
		return 4
	}
	return *c.SeedMinHeight
}

func (c *VegetationConfig) GetInitialVerticalDistance() float64 {
	if c.InitialVerticalDistance == nil {
		return 0.5
	}
	return *c.InitialVerticalDistance
}

func (c *VegetationConfig) GetMaxVerticalDistance() float64 {
	if c.MaxVerticalDistance == nil {
		return 14
	}
	return *c.MaxVerticalDistance
}

func (c *VegetationConfig) GetIncreaseVerticalDistance() float64 {
	if c.IncreaseVerticalDistance == nil {
		return 0.5
	}
	return *c.IncreaseVerticalDistance
}

func (c *VegetationConfig) GetMaxHorizontalDistance() float64 {
	if c.MaxHorizontalDistance == nil {
		return 12
	}
	return *c.MaxHorizontalDistance
}

// GetMaxRounds returns the segmentation round limit.
func (c *VegetationConfig) GetMaxRounds() int {
	if c.MaxRounds == nil {
		return 1000
	}
	return *c.MaxRounds
}

// GetMinCrownSize returns the smallest crown, in cells, kept after
// segmentation.
func (c *VegetationConfig) GetMinCrownSize() int {
	if c.MinCrownSize == nil {
		return 4
	}
	return *c.MinCrownSize
}

func (c *VegetationConfig) GetMatchMaximumDistance() float64 {
	if c.MatchMaximumDistance == nil {
		return 9
	}
	return *c.MatchMaximumDistance
}

func (c *VegetationConfig) GetMatchStrategy() string {
	if c.MatchStrategy == nil || *c.MatchStrategy == "" {
		return "mutual"
	}
	return *c.MatchStrategy
}

func (c *VegetationConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

func (c *VegetationConfig) GetParallelEpochs() bool {
	if c.ParallelEpochs == nil {
		return false
	}
	return *c.ParallelEpochs
}
