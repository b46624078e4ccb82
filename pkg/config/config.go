// Package config provides configuration loading and management for mriclusterqc.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mriclusterqc/pkg/cluster"
	"mriclusterqc/pkg/threshold"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Detection parameters
	Detection struct {
		// StdMultiplier is the number of standard deviations below the mean
		// intensity at which voxels are flagged
		StdMultiplier float64 `yaml:"stdMultiplier"`

		// MinClusterSize discards clusters with this many voxels or fewer
		MinClusterSize int `yaml:"minClusterSize"`

		// Policy is the boundary-adjacency rule: strict or tolerant
		Policy string `yaml:"policy"`

		// MaxBackgroundNeighbors is the tolerant policy limit
		MaxBackgroundNeighbors int `yaml:"maxBackgroundNeighbors"`

		// Workers bounds the goroutines used for per-cluster passes.
		// Zero means one per available CPU.
		Workers int `yaml:"workers"`
	} `yaml:"detection"`

	// Threshold relaxation parameters
	Threshold struct {
		// Adaptive lowers the multiplier while the threshold is negative
		Adaptive bool `yaml:"adaptive"`

		// Step is subtracted from the multiplier on each relaxation
		Step float64 `yaml:"step"`

		// Floor is the lowest multiplier relaxation continues from
		Floor float64 `yaml:"floor"`
	} `yaml:"threshold"`

	// Output parameters
	Output struct {
		// Dir is where masks, reports and overlays are written.
		// Empty means the directory of the input image.
		Dir string `yaml:"dir"`

		SaveMask     bool `yaml:"saveMask"`
		SaveReport   bool `yaml:"saveReport"`
		SaveOverlays bool `yaml:"saveOverlays"`

		// OverlayScale is the integer upscaling of overlay images
		OverlayScale int `yaml:"overlayScale"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// JSONLogs switches logging from console to JSON lines
		JSONLogs bool `yaml:"jsonLogs"`
	} `yaml:"output"`
}

// ValidationError names the configuration field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detection.StdMultiplier = 2.0
	cfg.Detection.MinClusterSize = 0
	cfg.Detection.Policy = cluster.Strict.String()
	cfg.Detection.MaxBackgroundNeighbors = cluster.DefaultMaxBackground
	cfg.Detection.Workers = 0

	cfg.Threshold.Adaptive = true
	cfg.Threshold.Step = 0.1
	cfg.Threshold.Floor = 1.0

	cfg.Output.SaveMask = true
	cfg.Output.SaveReport = true
	cfg.Output.SaveOverlays = false
	cfg.Output.OverlayScale = 4
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks every field has a usable value
func (c *Config) Validate() error {
	d := c.Detection
	if math.IsNaN(d.StdMultiplier) || math.IsInf(d.StdMultiplier, 0) || d.StdMultiplier < 0 {
		return &ValidationError{Field: "detection.stdMultiplier", Reason: "must be a finite non-negative number"}
	}
	if d.MinClusterSize < 0 {
		return &ValidationError{Field: "detection.minClusterSize", Reason: "must be non-negative"}
	}
	if _, err := c.BoundaryPolicy(); err != nil {
		return &ValidationError{Field: "detection.policy", Reason: err.Error()}
	}
	if d.Workers < 0 {
		return &ValidationError{Field: "detection.workers", Reason: "must be non-negative"}
	}
	if c.Threshold.Adaptive {
		t := c.Threshold
		if math.IsNaN(t.Step) || t.Step < threshold.MinStep {
			return &ValidationError{Field: "threshold.step", Reason: fmt.Sprintf("must be at least %v", threshold.MinStep)}
		}
		if math.IsNaN(t.Floor) || math.IsInf(t.Floor, 0) || t.Floor < 0 {
			return &ValidationError{Field: "threshold.floor", Reason: "must be a finite non-negative number"}
		}
		if err := c.ThresholdOptions().Validate(d.StdMultiplier); err != nil {
			return &ValidationError{Field: "threshold.step", Reason: err.Error()}
		}
	}
	if c.Output.OverlayScale < 0 {
		return &ValidationError{Field: "output.overlayScale", Reason: "must be non-negative"}
	}
	return nil
}

// BoundaryPolicy builds the cluster boundary policy from the detection section
func (c *Config) BoundaryPolicy() (cluster.BoundaryPolicy, error) {
	mode, err := cluster.ParsePolicyMode(c.Detection.Policy)
	if err != nil {
		return cluster.BoundaryPolicy{}, err
	}
	p := cluster.BoundaryPolicy{Mode: mode, MaxBackground: c.Detection.MaxBackgroundNeighbors}
	if err := p.Validate(); err != nil {
		return cluster.BoundaryPolicy{}, err
	}
	return p, nil
}

// ThresholdOptions returns the relaxation options of the threshold section
func (c *Config) ThresholdOptions() threshold.Options {
	return threshold.Options{
		Adaptive: c.Threshold.Adaptive,
		Step:     c.Threshold.Step,
		Floor:    c.Threshold.Floor,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return ReadConfig(configPath)
}

// ReadConfig loads configuration from a YAML file that must exist. Fields
// the file leaves out keep their default values.
func ReadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

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
