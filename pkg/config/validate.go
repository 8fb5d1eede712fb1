package config

import (
	"fmt"
	"net"
	"strings"
)

// FieldError is a validation failure on one configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "server.listen_address".
	Field string

	// Message describes what is wrong.
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every failure found in one pass.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a
// ValidationError listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePolicies(&cfg.Policies)...)
	errs = append(errs, validateDecisions(&cfg.Decisions)...)
	errs = append(errs, validateApproval(&cfg.Approval)...)
	errs = append(errs, validateCanary(&cfg.Canary)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{"server.listen_address", "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{"server.listen_address", fmt.Sprintf("invalid host:port: %v", err)})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{"server.shutdown_timeout", "must not be negative"})
	}
	return errs
}

func validatePolicies(cfg *PoliciesConfig) []FieldError {
	var errs []FieldError
	switch cfg.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, FieldError{"policies.backend", fmt.Sprintf("unknown backend %q (memory, sqlite)", cfg.Backend)})
	}
	if cfg.Backend == "sqlite" && cfg.SQLitePath == "" {
		errs = append(errs, FieldError{"policies.sqlite_path", "required for the sqlite backend"})
	}

	switch cfg.Source.Mode {
	case "none":
	case "file":
		if cfg.Source.Dir == "" {
			errs = append(errs, FieldError{"policies.source.dir", "required for file mode"})
		}
	case "git":
		if cfg.Source.Git.URL == "" {
			errs = append(errs, FieldError{"policies.source.git.url", "required for git mode"})
		}
	default:
		errs = append(errs, FieldError{"policies.source.mode", fmt.Sprintf("unknown mode %q (none, file, git)", cfg.Source.Mode)})
	}
	return errs
}

func validateDecisions(cfg *DecisionsConfig) []FieldError {
	var errs []FieldError
	switch cfg.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, FieldError{"decisions.backend", fmt.Sprintf("unknown backend %q (memory, sqlite)", cfg.Backend)})
	}
	if cfg.Backend == "sqlite" && cfg.SQLitePath == "" {
		errs = append(errs, FieldError{"decisions.sqlite_path", "required for the sqlite backend"})
	}
	if cfg.AsyncBuffer < 0 {
		errs = append(errs, FieldError{"decisions.async_buffer", "must not be negative"})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{"decisions.retention.days", "must not be negative"})
	}
	if cfg.QueryMaxLimit > 0 && cfg.QueryDefaultLimit > cfg.QueryMaxLimit {
		errs = append(errs, FieldError{"decisions.query_default_limit", "must not exceed query_max_limit"})
	}
	return errs
}

func validateApproval(cfg *ApprovalConfig) []FieldError {
	var errs []FieldError
	// Two-person integrity: a single sign-off would let one operator
	// approve their own proposal through a second request.
	if cfg.RequiredApprovals < 2 {
		errs = append(errs, FieldError{"approval.required_approvals", "at least 2 approvals are required"})
	}
	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{"approval.ttl", "must be positive"})
	}
	if cfg.HighRiskThreshold < 0 {
		errs = append(errs, FieldError{"approval.high_risk_threshold", "must not be negative"})
	}
	return errs
}

func validateCanary(cfg *CanaryConfig) []FieldError {
	var errs []FieldError
	if cfg.DefaultStep <= 0 || cfg.DefaultStep > 1 {
		errs = append(errs, FieldError{"canary.default_step", "must be in (0, 1]"})
	}
	if cfg.DefaultRollbackAfter < 1 {
		errs = append(errs, FieldError{"canary.default_rollback_after", "must be at least 1"})
	}
	if cfg.DefaultPromoteAfter < 1 {
		errs = append(errs, FieldError{"canary.default_promote_after", "must be at least 1"})
	}
	return errs
}
