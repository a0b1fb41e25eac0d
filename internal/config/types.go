package config

// Config is the top-level configuration parsed from reprofactory YAML.
type Config struct {
	// WorkDir is where sessions live. Each reproduction gets its own
	// directory under <work_dir>/sessions.
	WorkDir string `yaml:"work_dir"`

	// Environment selects the preferred provisioning strategy:
	// auto, container, conda, or venv.
	Environment string `yaml:"environment"`

	// Interactive enables the repository picker instead of
	// auto-selecting the top-ranked candidate.
	Interactive bool `yaml:"interactive"`

	// ExecutionTimeout bounds a single run of the paper's code,
	// e.g. "10m".
	ExecutionTimeout string `yaml:"execution_timeout"`

	// GitHubToken, when set, authenticates repository lookups and
	// raises the search rate limit.
	GitHubToken string `yaml:"github_token"`

	// Database is the path of the SQLite event log. Empty means the
	// default under ~/.reprofactory.
	Database string `yaml:"database"`

	Cache CacheConfig `yaml:"cache"`
	Retry RetryConfig `yaml:"retry"`
}

// CacheConfig controls the on-disk result cache.
type CacheConfig struct {
	Dir string `yaml:"dir"`
	// Enabled is a pointer so an absent key defaults to on while an
	// explicit "enabled: false" turns the cache off.
	Enabled *bool `yaml:"enabled"`
}

// RetryConfig controls retries around remote stage calls.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
}

// CacheEnabled reports whether the result cache should be used.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}
