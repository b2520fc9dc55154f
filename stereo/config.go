package stereo

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Config holds the recognized options of the stereo frame point generator.
// JSON field names keep the snake_case spelling of the original
// configuration files.
type Config struct {
	NumberOfDetectorsVertical   int `json:"number_of_detectors_vertical"`
	NumberOfDetectorsHorizontal int `json:"number_of_detectors_horizontal"`

	TargetNumberOfKeypointsTolerance float64 `json:"target_number_of_keypoints_tolerance"`
	DetectorThresholdMaximumChange   float64 `json:"detector_threshold_maximum_change"`
	DetectorThresholdInitial         float64 `json:"detector_threshold_initial"`
	DetectorThresholdMinimum         float64 `json:"detector_threshold_minimum"`
	DetectorThresholdMaximum         float64 `json:"detector_threshold_maximum"`

	BinSizePixels int `json:"bin_size_pixels"`

	MaximumMatchingDistanceTriangulation float64 `json:"maximum_matching_distance_triangulation"`
	MinimumDisparityPixels               float64 `json:"minimum_disparity_pixels"`
	MaximumEpipolarSearchOffsetPixels    int     `json:"maximum_epipolar_search_offset_pixels"`

	DescriptorType string `json:"descriptor_type"`
}

// DefaultConfig returns the default generator configuration: a single
// detection region, moderate threshold adaptation and matching only on the
// nominal epipolar line.
func DefaultConfig() Config {
	return Config{
		NumberOfDetectorsVertical:   1,
		NumberOfDetectorsHorizontal: 1,

		TargetNumberOfKeypointsTolerance: 0.1,
		DetectorThresholdMaximumChange:   0.5,
		DetectorThresholdInitial:         15,
		DetectorThresholdMinimum:         15,
		DetectorThresholdMaximum:         100,

		BinSizePixels: 25,

		MaximumMatchingDistanceTriangulation: 0.2 * 256,
		MinimumDisparityPixels:               1.0,
		MaximumEpipolarSearchOffsetPixels:    0,

		DescriptorType: DescriptorBRIEF256.String(),
	}
}

// LoadConfig reads a JSON configuration file, applying defaults for any
// omitted field.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, errors.Wrap(err, "can't read configuration file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "can't parse configuration file")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for fatal errors.
func (cfg Config) Validate() error {
	if cfg.NumberOfDetectorsVertical <= 0 || cfg.NumberOfDetectorsHorizontal <= 0 {
		return errors.Wrapf(ErrBadConfig, "detector grid must be positive, got %dx%d",
			cfg.NumberOfDetectorsVertical, cfg.NumberOfDetectorsHorizontal)
	}
	if cfg.BinSizePixels <= 0 {
		return errors.Wrapf(ErrBadConfig, "bin size must be positive, got %d", cfg.BinSizePixels)
	}
	if cfg.DetectorThresholdMinimum > cfg.DetectorThresholdMaximum {
		return errors.Wrapf(ErrBadConfig, "detector threshold minimum %v exceeds maximum %v",
			cfg.DetectorThresholdMinimum, cfg.DetectorThresholdMaximum)
	}
	if cfg.MaximumEpipolarSearchOffsetPixels < 0 {
		return errors.Wrapf(ErrBadConfig, "epipolar search offset must be non-negative, got %d",
			cfg.MaximumEpipolarSearchOffsetPixels)
	}
	if _, err := ParseDescriptorType(cfg.DescriptorType); err != nil {
		return err
	}
	return nil
}
