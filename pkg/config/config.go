// Package config provides configuration loading and management for
// cellstitch3d. It handles loading configuration from YAML files and
// provides default values for every threshold of the stitching pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Stitching parameters for the per-axis slice walk
	Stitching struct {
		// Method selects the slice-pair matcher: "transport" for the
		// optimal-transport matching or "iou" for greedy max-IoU
		Method string `yaml:"method"`

		// MaxMatchCost is the highest 1-IoU cost accepted as a match
		MaxMatchCost float64 `yaml:"maxMatchCost"`

		// MinMassFraction accepts a pair whose transported mass reaches
		// this fraction of the smaller instance, regardless of cost
		MinMassFraction float64 `yaml:"minMassFraction"`

		// SplitSensitivity is the combined-area ratio above which
		// fragments of one predecessor are treated as a genuine split
		SplitSensitivity float64 `yaml:"splitSensitivity"`

		// IoUThreshold is the acceptance threshold for the "iou" method
		IoUThreshold float64 `yaml:"iouThreshold"`
	} `yaml:"stitching"`

	// Fusion parameters for the cross-axis consensus
	Fusion struct {
		// MinVotes is how many of the three axes must agree on a voxel
		MinVotes int `yaml:"minVotes"`

		// MinOverlapFraction is the overlap threshold for cross-axis
		// component correspondence
		MinOverlapFraction float64 `yaml:"minOverlapFraction"`
	} `yaml:"fusion"`

	// Postprocessing parameters for volume cleanup
	Postprocessing struct {
		// MinInstanceSize removes instances with fewer voxels (0 = off)
		MinInstanceSize int `yaml:"minInstanceSize"`

		// FillHoles closes 2D holes inside instances slice by slice
		FillHoles bool `yaml:"fillHoles"`

		// CorrectOversegmentation folds single-slice instances into
		// their neighbours
		CorrectOversegmentation bool `yaml:"correctOversegmentation"`
	} `yaml:"postprocessing"`

	// Output parameters
	Output struct {
		// SaveAxisVolumes also writes the three intermediate axis
		// volumes next to the final result
		SaveAxisVolumes bool `yaml:"saveAxisVolumes"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default stitching parameters
	cfg.Stitching.Method = "transport"
	cfg.Stitching.MaxMatchCost = 0.5
	cfg.Stitching.MinMassFraction = 0.5
	cfg.Stitching.SplitSensitivity = 1.5
	cfg.Stitching.IoUThreshold = 0.25

	// Set default fusion parameters
	cfg.Fusion.MinVotes = 2
	cfg.Fusion.MinOverlapFraction = 0.25

	// Set default postprocessing parameters
	cfg.Postprocessing.MinInstanceSize = 15
	cfg.Postprocessing.FillHoles = true
	cfg.Postprocessing.CorrectOversegmentation = true

	// Set default output parameters
	cfg.Output.SaveAxisVolumes = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
