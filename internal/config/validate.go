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

// BuiltinCheckers are the checker names available without a checks entry.
var BuiltinCheckers = map[string]bool{
	"project_structure": true,
	"target_config":     true,
	"build_artifacts":   true,
}

var recognizedDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"none":     true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// Dependency cycles are reported when the stage catalog is built.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Baud < 0 {
		errs = append(errs, ValidationError{Field: "baud", Message: "must be positive"})
	}

	if !recognizedDrivers[cfg.Ledger.Driver] {
		errs = append(errs, ValidationError{
			Field:   "ledger.driver",
			Message: fmt.Sprintf("unrecognized driver %q", cfg.Ledger.Driver),
		})
	}
	if cfg.Ledger.Driver == "postgres" && cfg.Ledger.DSN == "" {
		errs = append(errs, ValidationError{Field: "ledger.dsn", Message: "is required for postgres"})
	}

	for key, raw := range cfg.Timeouts {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "timeouts." + key,
				Message: fmt.Sprintf("invalid duration %q", raw),
			})
		}
	}

	// Build set of stage names for reference validation
	names := make(map[string]bool)
	for i, s := range cfg.Stages {
		if s.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("stages[%d].name", i),
				Message: "is required",
			})
			continue
		}
		if names[s.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("stages[%d].name", i),
				Message: fmt.Sprintf("duplicate stage name %q", s.Name),
			})
		}
		names[s.Name] = true
	}

	for i, s := range cfg.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		for _, dep := range s.DependsOn {
			if !names[dep] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("references undefined stage %q", dep),
				})
			}
		}
		for _, name := range s.Checkers {
			if _, ok := cfg.Checks[name]; !ok && !BuiltinCheckers[name] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".checkers",
					Message: fmt.Sprintf("references undefined checker %q", name),
				})
			}
		}
		if s.Timeout != "" {
			if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
				errs = append(errs, ValidationError{
					Field:   prefix + ".timeout",
					Message: fmt.Sprintf("invalid duration %q", s.Timeout),
				})
			}
		}
		if s.Capture != "" {
			if d, err := time.ParseDuration(s.Capture); err != nil || d <= 0 {
				errs = append(errs, ValidationError{
					Field:   prefix + ".capture",
					Message: fmt.Sprintf("invalid duration %q", s.Capture),
				})
			}
		}
	}

	for name, c := range cfg.Checks {
		prefix := "checks." + name
		if BuiltinCheckers[name] {
			errs = append(errs, ValidationError{Field: prefix, Message: "shadows a built-in checker"})
		}
		if c.Path == "" && c.Glob == "" {
			errs = append(errs, ValidationError{Field: prefix, Message: "path or glob is required"})
		}
		if c.OnMissing != "" && c.OnMissing != "fail" && c.OnMissing != "warning" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".on_missing",
				Message: fmt.Sprintf("must be fail or warning, got %q", c.OnMissing),
			})
		}
		if c.Stage != "" && len(cfg.Stages) > 0 && !names[c.Stage] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".stage",
				Message: fmt.Sprintf("references undefined stage %q", c.Stage),
			})
		}
	}

	return errs
}
