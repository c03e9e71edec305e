// Package config provides configuration loading and management for pdfmri.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds the number of scans handled in parallel by batch commands
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Atlas used to reduce voxel time series to region signals
	Atlas struct {
		Name string `yaml:"name"`

		// Kind is "maps" for probabilistic atlases or "labels" for integer parcellations
		Kind string `yaml:"kind"`

		// Path is a local atlas volume; when empty the atlas is downloaded from URL
		Path     string `yaml:"path"`
		URL      string `yaml:"url"`
		CacheDir string `yaml:"cacheDir"`

		FetchTimeout time.Duration `yaml:"fetchTimeout"`
	} `yaml:"atlas"`

	// Feature extraction parameters
	Features struct {
		// MinTimepoints is the shortest acceptable scan in frames
		MinTimepoints int `yaml:"minTimepoints"`

		Detrend bool `yaml:"detrend"`

		// Standardize is one of "zscore_sample", "zscore" or "none"
		Standardize string `yaml:"standardize"`

		// Fallback substitutes a flagged synthetic vector when extraction fails
		Fallback     bool   `yaml:"fallback"`
		FallbackSeed uint64 `yaml:"fallbackSeed"`

		// ExpectedLength sizes placeholder models when the atlas cannot be read
		ExpectedLength int `yaml:"expectedLength"`
	} `yaml:"features"`

	// Viewer snapshot parameters
	Snapshot struct {
		FrameIndex int    `yaml:"frameIndex"`
		Suffix     string `yaml:"suffix"`

		// Previews writes JPEG mid-slices next to each new viewer volume
		Previews   bool   `yaml:"previews"`
		PreviewDir string `yaml:"previewDir"`
	} `yaml:"snapshot"`

	// Classifier parameters
	Classifier struct {
		ModelPath string `yaml:"modelPath"`

		// AutoProvision trains a synthetic placeholder model when none exists.
		// Sandbox use only.
		AutoProvision bool `yaml:"autoProvision"`

		// ConfidenceBoost is kept for file compatibility and must stay false
		ConfidenceBoost bool `yaml:"confidenceBoost"`

		L2            float64 `yaml:"l2"`
		MaxIterations int     `yaml:"maxIterations"`
	} `yaml:"classifier"`

	// Analysis history
	Store struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	// Upload directory watcher
	Watch struct {
		Dir      string `yaml:"dir"`
		Schedule string `yaml:"schedule"`
	} `yaml:"watch"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Atlas.Name = "msdl"
	cfg.Atlas.Kind = "maps"
	cfg.Atlas.URL = "https://team.inria.fr/parietal/files/2015/01/MSDL_rois.zip"
	cfg.Atlas.CacheDir = filepath.Join("data", "atlas")
	cfg.Atlas.FetchTimeout = 30 * time.Second

	cfg.Features.MinTimepoints = 10
	cfg.Features.Detrend = true
	cfg.Features.Standardize = "zscore_sample"
	cfg.Features.Fallback = true
	cfg.Features.FallbackSeed = 42
	cfg.Features.ExpectedLength = 741

	cfg.Snapshot.FrameIndex = 10
	cfg.Snapshot.Suffix = "_viewer"

	cfg.Classifier.ModelPath = filepath.Join("models", "pd_classifier.json")
	cfg.Classifier.L2 = 1.0
	cfg.Classifier.MaxIterations = 200

	cfg.Store.Enabled = true
	cfg.Store.Path = "pdfmri.db"

	cfg.Watch.Dir = "uploads"
	cfg.Watch.Schedule = "@every 1m"

	cfg.Log.Level = "info"

	return cfg
}

// Validate reports every inconsistent setting
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.NumCores < 1 {
		errs = append(errs, fmt.Errorf("processing.numCores must be positive, got %d", c.Processing.NumCores))
	}
	switch c.Atlas.Kind {
	case "maps", "labels":
	default:
		errs = append(errs, fmt.Errorf("atlas.kind must be maps or labels, got %q", c.Atlas.Kind))
	}
	if c.Atlas.Path == "" && c.Atlas.URL == "" {
		errs = append(errs, errors.New("atlas.path or atlas.url is required"))
	}
	if c.Atlas.FetchTimeout <= 0 {
		errs = append(errs, errors.New("atlas.fetchTimeout must be positive"))
	}
	if c.Features.MinTimepoints < 2 {
		errs = append(errs, fmt.Errorf("features.minTimepoints must be at least 2, got %d", c.Features.MinTimepoints))
	}
	switch c.Features.Standardize {
	case "zscore_sample", "zscore", "none":
	default:
		errs = append(errs, fmt.Errorf("features.standardize %q is not supported", c.Features.Standardize))
	}
	if c.Features.ExpectedLength < 1 {
		errs = append(errs, errors.New("features.expectedLength must be positive"))
	}
	if c.Snapshot.FrameIndex < 0 {
		errs = append(errs, errors.New("snapshot.frameIndex must not be negative"))
	}
	if c.Classifier.ModelPath == "" {
		errs = append(errs, errors.New("classifier.modelPath is required"))
	}
	if c.Classifier.ConfidenceBoost {
		errs = append(errs, errors.New("classifier.confidenceBoost is not supported"))
	}
	if c.Classifier.L2 < 0 {
		errs = append(errs, errors.New("classifier.l2 must not be negative"))
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when the store is enabled"))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

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
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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
