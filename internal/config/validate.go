package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedEnvironments is the set of valid environment strategy names.
var recognizedEnvironments = map[string]bool{
	"auto":      true,
	"container": true,
	"conda":     true,
	"venv":      true,
}

// Validate checks a Config for semantic errors. It returns a slice of
// all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.WorkDir == "" {
		errs = append(errs, ValidationError{Field: "work_dir", Message: "is required"})
	}

	if !recognizedEnvironments[cfg.Environment] {
		errs = append(errs, ValidationError{
			Field:   "environment",
			Message: fmt.Sprintf("unrecognized environment %q (want auto, container, conda, or venv)", cfg.Environment),
		})
	}

	validateDuration("execution_timeout", cfg.ExecutionTimeout, &errs)
	validateDuration("retry.base_delay", cfg.Retry.BaseDelay, &errs)

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "retry.max_attempts",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Retry.MaxAttempts),
		})
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		*errs = append(*errs, ValidationError{Field: field, Message: "is required"})
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
		})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be positive, got %s", value),
		})
	}
}
