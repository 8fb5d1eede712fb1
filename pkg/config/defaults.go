package config

import "time"

// Default values for configuration fields.
const (
	DefaultListenAddress   = "127.0.0.1:8787"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20

	DefaultPolicyBackend    = "sqlite"
	DefaultPolicySQLitePath = "data/policies.db"
	DefaultSourceMode       = "none"
	DefaultGitLocalPath     = "data/policy-repo"
	DefaultGitPollInterval  = time.Minute

	DefaultDecisionBackend      = "sqlite"
	DefaultDecisionSQLitePath   = "data/decisions.db"
	DefaultDecisionAsyncBuffer  = 1000
	DefaultDecisionWriteTimeout = 5 * time.Second
	DefaultRetentionDays        = 0
	DefaultRetentionSchedule    = "0 3 * * *"
	DefaultQueryLimit           = 100
	DefaultQueryMaxLimit        = 10000

	DefaultRequiredApprovals = 2
	DefaultApprovalTTL       = 24 * time.Hour
	DefaultSweepSchedule     = "@every 1m"

	DefaultCanaryTickSchedule  = "@every 30s"
	DefaultCanaryStep          = 0.25
	DefaultCanaryRollbackAfter = 2
	DefaultCanaryPromoteAfter  = 3

	DefaultMetricsPath = "/metrics"
)

// Default returns a configuration with every default applied, suitable
// for running without a file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields in place. Explicit zero values that
// are meaningful (retention days, high risk threshold) are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	if cfg.Policies.Backend == "" {
		cfg.Policies.Backend = DefaultPolicyBackend
	}
	if cfg.Policies.SQLitePath == "" {
		cfg.Policies.SQLitePath = DefaultPolicySQLitePath
	}
	if cfg.Policies.Source.Mode == "" {
		cfg.Policies.Source.Mode = DefaultSourceMode
	}
	if cfg.Policies.Source.Git.LocalPath == "" {
		cfg.Policies.Source.Git.LocalPath = DefaultGitLocalPath
	}
	if cfg.Policies.Source.Git.PollInterval == 0 {
		cfg.Policies.Source.Git.PollInterval = DefaultGitPollInterval
	}

	if cfg.Decisions.Backend == "" {
		cfg.Decisions.Backend = DefaultDecisionBackend
	}
	if cfg.Decisions.SQLitePath == "" {
		cfg.Decisions.SQLitePath = DefaultDecisionSQLitePath
	}
	if cfg.Decisions.AsyncBuffer == 0 {
		cfg.Decisions.AsyncBuffer = DefaultDecisionAsyncBuffer
	}
	if cfg.Decisions.WriteTimeout == 0 {
		cfg.Decisions.WriteTimeout = DefaultDecisionWriteTimeout
	}
	if cfg.Decisions.Retention.Schedule == "" {
		cfg.Decisions.Retention.Schedule = DefaultRetentionSchedule
	}
	if cfg.Decisions.QueryDefaultLimit == 0 {
		cfg.Decisions.QueryDefaultLimit = DefaultQueryLimit
	}
	if cfg.Decisions.QueryMaxLimit == 0 {
		cfg.Decisions.QueryMaxLimit = DefaultQueryMaxLimit
	}

	if cfg.Approval.RequiredApprovals == 0 {
		cfg.Approval.RequiredApprovals = DefaultRequiredApprovals
	}
	if cfg.Approval.TTL == 0 {
		cfg.Approval.TTL = DefaultApprovalTTL
	}
	if cfg.Approval.SweepSchedule == "" {
		cfg.Approval.SweepSchedule = DefaultSweepSchedule
	}

	if cfg.Canary.TickSchedule == "" {
		cfg.Canary.TickSchedule = DefaultCanaryTickSchedule
	}
	if cfg.Canary.DefaultStep == 0 {
		cfg.Canary.DefaultStep = DefaultCanaryStep
	}
	if cfg.Canary.DefaultRollbackAfter == 0 {
		cfg.Canary.DefaultRollbackAfter = DefaultCanaryRollbackAfter
	}
	if cfg.Canary.DefaultPromoteAfter == 0 {
		cfg.Canary.DefaultPromoteAfter = DefaultCanaryPromoteAfter
	}

	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
}
