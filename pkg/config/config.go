// Package config provides configuration loading and management for fmripipeline.
// It handles loading configuration from YAML files, rejects unknown keys and
// provides default values matching the block-design auditory paradigm the
// pipeline was built around.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/cache"
)

// SliceTimingConfig controls slice-timing correction.
type SliceTimingConfig struct {
	// Enabled turns the stage on
	Enabled bool `yaml:"enabled"`

	// SliceOrder is the acquisition order, "ascending" or "descending"
	SliceOrder string `yaml:"slice_order"`

	// Interleaved acquires even slices before odd slices
	Interleaved bool `yaml:"interleaved"`

	// RefSlice is the slice whose acquisition time all others are aligned to
	RefSlice int `yaml:"ref_slice"`
}

// CoregistrationConfig controls anatomical-to-functional coregistration.
type CoregistrationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MotionCorrectionConfig controls realignment.
type MotionCorrectionConfig struct {
	// Enabled turns the stage on
	Enabled bool `yaml:"enabled"`

	// Sessions is the number of sessions the runs belong to
	Sessions int `yaml:"n_sessions"`

	// RegressMotion adds the realignment parameters as nuisance regressors
	RegressMotion bool `yaml:"regress_motion"`
}

// SmoothingConfig controls spatial smoothing. An empty FWHM disables it.
type SmoothingConfig struct {
	// FWHM is the Gaussian kernel full width at half maximum in mm (x, y, z)
	FWHM []float64 `yaml:"fwhm"`
}

// Enabled reports whether a kernel is configured.
func (s SmoothingConfig) Enabled() bool {
	return len(s.FWHM) > 0
}

// StatsConfig controls the design model, contrasts and the model fit.
type StatsConfig struct {
	// OutputDirBasename is the stats directory under the subject output dir
	OutputDirBasename string `yaml:"output_dir_basename"`

	// TR is the repetition time in seconds; 0 reads it from the data
	TR float64 `yaml:"tr"`

	// BlockDuration is the length of one block in scans
	BlockDuration int `yaml:"block_duration"`

	// Conditions is the label of each block, in presentation order
	Conditions []string `yaml:"conditions"`

	// DriftModel is "cosine", "polynomial" or "blank"
	DriftModel string `yaml:"drift_model"`

	// DriftOrder is the polynomial drift order
	DriftOrder int `yaml:"drift_order"`

	// HRFModel is "canonical" or "canonical with derivative"
	HRFModel string `yaml:"hrf_model"`

	// CompoundContrasts are expressions such as "active-rest"
	CompoundContrasts []string `yaml:"compound_contrasts"`

	// Contrasts restricts extraction to these names; empty extracts all
	Contrasts []string `yaml:"contrasts"`

	// ReportContrast is the contrast whose z-map is kept for the report
	ReportContrast string `yaml:"report_contrast"`

	// ClusterThreshold is the minimum suprathreshold size quoted in the report
	ClusterThreshold int `yaml:"cluster_threshold"`
}

// ExecutionConfig controls the process-level executor.
type ExecutionConfig struct {
	// Workers bounds the number of concurrent pipeline invocations
	Workers int `yaml:"workers"`

	// LedgerPath is the SQLite run ledger; empty disables it
	LedgerPath string `yaml:"ledger_path"`
}

// LoggingConfig controls the zap logger built by the CLI.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Subject          models.SubjectData     `yaml:"subject"`
	SliceTiming      SliceTimingConfig      `yaml:"slice_timing"`
	Coregistration   CoregistrationConfig   `yaml:"coregistration"`
	MotionCorrection MotionCorrectionConfig `yaml:"motion_correction"`
	Smoothing        SmoothingConfig        `yaml:"smoothing"`
	Stats            StatsConfig            `yaml:"stats"`
	Execution        ExecutionConfig        `yaml:"execution"`
	Logging          LoggingConfig          `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.SliceTiming.Enabled = true
	cfg.SliceTiming.SliceOrder = "ascending"
	cfg.SliceTiming.Interleaved = false
	cfg.SliceTiming.RefSlice = 0

	cfg.Coregistration.Enabled = true

	cfg.MotionCorrection.Enabled = true
	cfg.MotionCorrection.Sessions = 1
	cfg.MotionCorrection.RegressMotion = true

	// Smoothing is off unless a kernel is given

	cfg.Stats.OutputDirBasename = "stats"
	cfg.Stats.TR = 7
	cfg.Stats.BlockDuration = 6
	for i := 0; i < 8; i++ {
		cfg.Stats.Conditions = append(cfg.Stats.Conditions, "rest", "active")
	}
	cfg.Stats.DriftModel = "cosine"
	cfg.Stats.DriftOrder = 1
	cfg.Stats.HRFModel = "canonical with derivative"
	cfg.Stats.CompoundContrasts = []string{"active-rest"}
	cfg.Stats.ReportContrast = "active-rest"
	cfg.Stats.ClusterThreshold = 50

	cfg.Execution.Workers = runtime.NumCPU()

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
// Keys that are not recognized are an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Decode strictly decodes YAML into cfg, overriding only the keys present.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
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

// Fingerprint identifies the processing options of a configuration. The
// subject, execution and logging sections do not take part.
func (c *Config) Fingerprint() string {
	b, err := cache.Marshal(struct {
		SliceTiming      SliceTimingConfig
		Coregistration   CoregistrationConfig
		MotionCorrection MotionCorrectionConfig
		Smoothing        SmoothingConfig
		Stats            StatsConfig
	}{c.SliceTiming, c.Coregistration, c.MotionCorrection, c.Smoothing, c.Stats})
	if err != nil {
		// only plain data is encoded
		panic("config: fingerprint encoding failed: " + err.Error())
	}
	return cache.Hash(b).Short()
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Subject.Func = make([]models.VolumeSet, len(c.Subject.Func))
	for i, run := range c.Subject.Func {
		out.Subject.Func[i] = append(models.VolumeSet(nil), run...)
	}
	out.Smoothing.FWHM = append([]float64(nil), c.Smoothing.FWHM...)
	out.Stats.Conditions = append([]string(nil), c.Stats.Conditions...)
	out.Stats.CompoundContrasts = append([]string(nil), c.Stats.CompoundContrasts...)
	out.Stats.Contrasts = append([]string(nil), c.Stats.Contrasts...)
	return &out
}
