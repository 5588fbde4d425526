// Package config loads the fieldsync service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a bare number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SyncConfig controls the executor and its retry policy.
type SyncConfig struct {
	DrainInterval  Duration `yaml:"drain_interval"`
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	BackoffFactor  float64  `yaml:"backoff_factor"`
	BackoffJitter  float64  `yaml:"backoff_jitter"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
	ProbePath     string   `yaml:"probe_path"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr       string             `yaml:"listen_addr"`
	DatabasePath     string             `yaml:"database_path"`
	RemoteBaseURL    string             `yaml:"remote_base_url"`
	AutosaveInterval Duration           `yaml:"autosave_interval"`
	Sync             SyncConfig         `yaml:"sync"`
	Connectivity     ConnectivityConfig `yaml:"connectivity"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		DatabasePath:     "fieldsync.db",
		AutosaveInterval: Duration(30 * time.Second),
		Sync: SyncConfig{
			DrainInterval:  Duration(15 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
			MaxAttempts:    5,
			InitialBackoff: Duration(2 * time.Second),
			MaxBackoff:     Duration(5 * time.Minute),
			BackoffFactor:  2.0,
			BackoffJitter:  0.2,
			RatePerSecond:  5,
			RateBurst:      1,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration(10 * time.Second),
			ProbePath:     "/api/v1/healthz",
		},
	}
}

// Load reads the configuration from a yaml file, filling unset fields from
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or falls back to the defaults when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Sync.MaxAttempts < 0 {
		return fmt.Errorf("sync.max_attempts must not be negative")
	}
	if c.Sync.BackoffFactor != 0 && c.Sync.BackoffFactor < 1 {
		return fmt.Errorf("sync.backoff_factor must be at least 1")
	}
	if c.Sync.BackoffJitter < 0 || c.Sync.BackoffJitter > 1 {
		return fmt.Errorf("sync.backoff_jitter must be within [0,1]")
	}
	return nil
}
