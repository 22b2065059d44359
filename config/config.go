// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"titanic/dataset"
	"titanic/ml"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Model    ModelConfig    `yaml:"model"`
	Cache    CacheConfig    `yaml:"cache"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DatabaseConfig enables persistence when Path is set.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type DatasetConfig struct {
	Source       string        `yaml:"source"`
	Encoding     string        `yaml:"encoding"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// Watch rebuilds the model when a file source changes.
	Watch bool `yaml:"watch"`
	// RefreshInterval refits from the source periodically; 0 disables.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type ModelConfig struct {
	MaxIter   int     `yaml:"max_iter"`
	C         float64 `yaml:"c"`
	Tolerance float64 `yaml:"tolerance"`
	TestRatio float64 `yaml:"test_ratio"`
	Seed      int64   `yaml:"seed"`
}

type CacheConfig struct {
	Size int `yaml:"size"` // 0 disables the prediction cache
}

// Default returns a complete configuration that serves the bundled dataset
// on port 8080 without persistence.
func Default() *Config {
	solver := ml.DefaultSolverConfig()
	return &Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dataset: DatasetConfig{
			Source:       dataset.DefaultSource,
			FetchTimeout: 30 * time.Second,
		},
		Model: ModelConfig{
			MaxIter:   solver.MaxIter,
			C:         solver.C,
			Tolerance: solver.Tolerance,
			TestRatio: 0.2,
			Seed:      42,
		},
		Cache: CacheConfig{Size: 1024},
	}
}

// Load overlays the YAML file at path on Default and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("http.timeout must be positive"))
	}
	if _, parseErr := zapcore.ParseLevel(c.Log.Level); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", parseErr))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		err = multierr.Append(err, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if _, parseErr := dataset.ParseSource(c.Dataset.Source); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("dataset.source: %w", parseErr))
	}
	if c.Dataset.FetchTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("dataset.fetch_timeout must be positive"))
	}
	if c.Dataset.RefreshInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("dataset.refresh_interval must not be negative"))
	}
	if c.Model.MaxIter <= 0 {
		err = multierr.Append(err, fmt.Errorf("model.max_iter must be positive"))
	}
	if c.Model.C <= 0 {
		err = multierr.Append(err, fmt.Errorf("model.c must be positive"))
	}
	if c.Model.Tolerance <= 0 {
		err = multierr.Append(err, fmt.Errorf("model.tolerance must be positive"))
	}
	if c.Model.TestRatio <= 0 || c.Model.TestRatio >= 1 {
		err = multierr.Append(err, fmt.Errorf("model.test_ratio %v not in (0, 1)", c.Model.TestRatio))
	}
	if c.Cache.Size < 0 {
		err = multierr.Append(err, fmt.Errorf("cache.size must not be negative"))
	}
	return err
}

// Solver converts the model section into solver settings.
func (c *Config) Solver() ml.SolverConfig {
	return ml.SolverConfig{
		MaxIter:   c.Model.MaxIter,
		C:         c.Model.C,
		Tolerance: c.Model.Tolerance,
	}
}
