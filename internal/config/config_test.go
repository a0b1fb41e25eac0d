package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
work_dir: /tmp/repro-test
environment: conda
interactive: true
execution_timeout: "15m"
github_token: ghp_testtoken
cache:
  dir: /tmp/repro-test/custom-cache
  enabled: false
retry:
  max_attempts: 5
  base_delay: "2s"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reprofactory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.WorkDir != "/tmp/repro-test" {
		t.Errorf("work_dir = %q", cfg.WorkDir)
	}
	if cfg.Environment != "conda" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if !cfg.Interactive {
		t.Error("interactive not set")
	}
	if cfg.ExecutionTimeoutDuration() != 15*time.Minute {
		t.Errorf("execution timeout = %s", cfg.ExecutionTimeoutDuration())
	}
	if cfg.CacheEnabled() {
		t.Error("cache should be disabled by explicit enabled: false")
	}
	if cfg.Cache.Dir != "/tmp/repro-test/custom-cache" {
		t.Errorf("cache dir = %q", cfg.Cache.Dir)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("retry.max_attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.RetryBaseDelayDuration() != 2*time.Second {
		t.Errorf("retry base delay = %s", cfg.RetryBaseDelayDuration())
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("valid config produced errors: %v", errs)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "work_dir: /tmp/repro-defaults\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Environment != DefaultEnvironment {
		t.Errorf("environment = %q, want default", cfg.Environment)
	}
	if cfg.ExecutionTimeoutDuration() != DefaultExecutionTimeout {
		t.Errorf("execution timeout = %s", cfg.ExecutionTimeoutDuration())
	}
	if cfg.Retry.MaxAttempts != DefaultRetryAttempts {
		t.Errorf("retry.max_attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.RetryBaseDelayDuration() != DefaultRetryBaseDelay {
		t.Errorf("retry base delay = %s", cfg.RetryBaseDelayDuration())
	}
	if !cfg.CacheEnabled() {
		t.Error("cache should default to enabled")
	}
	if cfg.Cache.Dir != filepath.Join("/tmp/repro-defaults", "cache") {
		t.Errorf("cache dir = %q", cfg.Cache.Dir)
	}
	if cfg.SessionsDir() != filepath.Join("/tmp/repro-defaults", "sessions") {
		t.Errorf("sessions dir = %q", cfg.SessionsDir())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "work_dir: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestGitHubTokenFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_fromenv")
	cfg, err := Load(writeConfig(t, "work_dir: /tmp/x\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GitHubToken != "ghp_fromenv" {
		t.Errorf("github_token = %q, want env fallback", cfg.GitHubToken)
	}
}

func TestGitHubTokenFileWinsOverEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_fromenv")
	cfg, err := Load(writeConfig(t, "work_dir: /tmp/x\ngithub_token: ghp_fromfile\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GitHubToken != "ghp_fromfile" {
		t.Errorf("github_token = %q, want file value", cfg.GitHubToken)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"bad environment", func(c *Config) { c.Environment = "podman" }, "environment"},
		{"bad timeout", func(c *Config) { c.ExecutionTimeout = "soon" }, "execution_timeout"},
		{"negative timeout", func(c *Config) { c.ExecutionTimeout = "-1s" }, "execution_timeout"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"bad base delay", func(c *Config) { c.Retry.BaseDelay = "fast" }, "retry.base_delay"},
		{"empty work dir", func(c *Config) { c.WorkDir = "" }, "work_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mut(cfg)

			errs := Validate(cfg)
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	e := ValidationError{Field: "environment", Message: `unrecognized environment "podman"`}
	if got := e.Error(); !strings.Contains(got, "environment:") {
		t.Errorf("Error() = %q", got)
	}
}
