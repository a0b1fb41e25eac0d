// Package config loads and validates the reprofactory configuration
// file. Every field has a default; a missing config file is not an
// error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a field.
const (
	DefaultEnvironment      = "auto"
	DefaultExecutionTimeout = 10 * time.Minute
	DefaultRetryAttempts    = 3
	DefaultRetryBaseDelay   = time.Second
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills in defaults for fields the file leaves out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./reprofactory.yaml,
// ~/.reprofactory/config.yaml. When neither exists, the built-in
// defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"reprofactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".reprofactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in every field the YAML left empty so callers
// never have to re-check for zero values.
func applyDefaults(cfg *Config) {
	if cfg.WorkDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.WorkDir = filepath.Join(home, ".reprofactory")
		} else {
			cfg.WorkDir = ".reprofactory"
		}
	}
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}
	if cfg.ExecutionTimeout == "" {
		cfg.ExecutionTimeout = DefaultExecutionTimeout.String()
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.WorkDir, "cache")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if cfg.Retry.BaseDelay == "" {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay.String()
	}
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
}

// SessionsDir returns the directory session directories are created in.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.WorkDir, "sessions")
}

// ExecutionTimeoutDuration parses the configured execution timeout.
// Validate has already checked the field, so a parse failure here
// falls back to the default.
func (c *Config) ExecutionTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ExecutionTimeout)
	if err != nil || d <= 0 {
		return DefaultExecutionTimeout
	}
	return d
}

// RetryBaseDelayDuration parses the configured retry base delay.
func (c *Config) RetryBaseDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.Retry.BaseDelay)
	if err != nil || d <= 0 {
		return DefaultRetryBaseDelay
	}
	return d
}
