package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults, and
// validates. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides is Load followed by WARDEN_* environment
// overrides and re-validation. Environment always wins over the file.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("after environment overrides: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envString("WARDEN_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("WARDEN_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("WARDEN_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("WARDEN_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	envString("WARDEN_POLICIES_BACKEND", &cfg.Policies.Backend)
	envString("WARDEN_POLICIES_SQLITE_PATH", &cfg.Policies.SQLitePath)
	envString("WARDEN_POLICIES_SOURCE_MODE", &cfg.Policies.Source.Mode)
	envString("WARDEN_POLICIES_SOURCE_DIR", &cfg.Policies.Source.Dir)
	envBool("WARDEN_POLICIES_SOURCE_WATCH", &cfg.Policies.Source.Watch)
	envString("WARDEN_POLICIES_GIT_URL", &cfg.Policies.Source.Git.URL)
	envString("WARDEN_POLICIES_GIT_BRANCH", &cfg.Policies.Source.Git.Branch)
	envString("WARDEN_POLICIES_GIT_LOCAL_PATH", &cfg.Policies.Source.Git.LocalPath)
	envString("WARDEN_POLICIES_GIT_PATH", &cfg.Policies.Source.Git.Path)
	envString("WARDEN_POLICIES_GIT_TOKEN", &cfg.Policies.Source.Git.Token)
	envDuration("WARDEN_POLICIES_GIT_POLL_INTERVAL", &cfg.Policies.Source.Git.PollInterval)

	if val := os.Getenv("WARDEN_DECISIONS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Decisions.Enabled = &b
		}
	}
	envString("WARDEN_DECISIONS_BACKEND", &cfg.Decisions.Backend)
	envString("WARDEN_DECISIONS_SQLITE_PATH", &cfg.Decisions.SQLitePath)
	envInt("WARDEN_DECISIONS_ASYNC_BUFFER", &cfg.Decisions.AsyncBuffer)
	envInt("WARDEN_DECISIONS_RETENTION_DAYS", &cfg.Decisions.Retention.Days)
	envString("WARDEN_DECISIONS_RETENTION_SCHEDULE", &cfg.Decisions.Retention.Schedule)

	envInt("WARDEN_APPROVAL_REQUIRED_APPROVALS", &cfg.Approval.RequiredApprovals)
	envDuration("WARDEN_APPROVAL_TTL", &cfg.Approval.TTL)
	envFloat("WARDEN_APPROVAL_HIGH_RISK_THRESHOLD", &cfg.Approval.HighRiskThreshold)

	envString("WARDEN_CANARY_TICK_SCHEDULE", &cfg.Canary.TickSchedule)
	envFloat("WARDEN_CANARY_DEFAULT_STEP", &cfg.Canary.DefaultStep)
	envString("WARDEN_CANARY_METRICS_ENDPOINT", &cfg.Canary.MetricsEndpoint)

	envString("WARDEN_NOTIFY_WEBHOOK_URL", &cfg.Notify.WebhookURL)

	envString("WARDEN_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("WARDEN_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("WARDEN_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("WARDEN_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("WARDEN_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("WARDEN_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("WARDEN_TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
