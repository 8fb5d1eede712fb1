package config

import (
	"time"

	"vantage-hq/warden/pkg/telemetry/logging"
	"vantage-hq/warden/pkg/telemetry/metrics"
	"vantage-hq/warden/pkg/telemetry/tracing"
)

// Config is the root configuration for the warden daemon.
type Config struct {
	// Server configures the HTTP admin and evaluation API.
	Server ServerConfig `yaml:"server"`

	// Policies configures the versioned policy store and the draft
	// source it ingests from.
	Policies PoliciesConfig `yaml:"policies"`

	// Decisions configures the immutable decision record store.
	Decisions DecisionsConfig `yaml:"decisions"`

	// Approval configures the change approval workflow.
	Approval ApprovalConfig `yaml:"approval"`

	// Canary configures staged rollouts.
	Canary CanaryConfig `yaml:"canary"`

	// Notify configures operator notifications.
	Notify NotifyConfig `yaml:"notify"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	// ListenAddress is "host:port". Default: "127.0.0.1:8787".
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading a request including its body.
	// Default: 30s.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response. Default: 30s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit. Default: 120s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size. Default: 1MB.
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// PoliciesConfig contains the policy store and draft source settings.
type PoliciesConfig struct {
	// Backend selects the store: "memory" or "sqlite".
	// Default: "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: "data/policies.db".
	SQLitePath string `yaml:"sqlite_path"`

	// Source configures where policy drafts come from.
	Source SourceConfig `yaml:"source"`
}

// SourceConfig selects and configures a draft source.
type SourceConfig struct {
	// Mode is "none", "file", or "git". Default: "none" (drafts
	// arrive only through the API).
	Mode string `yaml:"mode"`

	// Dir is the draft directory for file mode.
	Dir string `yaml:"dir"`

	// Watch reloads drafts automatically when the source changes.
	Watch bool `yaml:"watch"`

	// Git configures git mode.
	Git GitSourceConfig `yaml:"git"`
}

// GitSourceConfig mirrors source.GitConfig for YAML loading.
type GitSourceConfig struct {
	// URL is the repository to clone.
	URL string `yaml:"url"`

	// Branch to track. Default: the remote default branch.
	Branch string `yaml:"branch"`

	// LocalPath is the working copy location.
	// Default: "data/policy-repo".
	LocalPath string `yaml:"local_path"`

	// Path is the draft directory inside the repository.
	Path string `yaml:"path"`

	// Token enables HTTP token auth. Set via WARDEN_POLICIES_GIT_TOKEN.
	Token string `yaml:"token"`

	// PollInterval is how often to check the remote. Default: 1m.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DecisionsConfig contains the decision record store settings.
type DecisionsConfig struct {
	// Enabled turns decision recording on. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Backend selects the store: "memory" or "sqlite".
	// Default: "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: "data/decisions.db".
	SQLitePath string `yaml:"sqlite_path"`

	// AsyncBuffer is the recorder queue depth. Default: 1000.
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds a single record write. Default: 5s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Retention configures the pruning sweep.
	Retention RetentionConfig `yaml:"retention"`

	// QueryDefaultLimit is the page size when a query names none.
	// Default: 100.
	QueryDefaultLimit int `yaml:"query_default_limit"`

	// QueryMaxLimit caps any requested page size. Default: 10000.
	QueryMaxLimit int `yaml:"query_max_limit"`
}

// RetentionConfig controls decision record pruning.
type RetentionConfig struct {
	// Days is how long records are kept. 0 keeps them forever.
	Days int `yaml:"days"`

	// Schedule is a cron expression for the sweep.
	// Default: "0 3 * * *".
	Schedule string `yaml:"schedule"`
}

// ApprovalConfig contains the change approval workflow settings.
type ApprovalConfig struct {
	// RequiredApprovals is the sign-off count before activation.
	// Default: 2.
	RequiredApprovals int `yaml:"required_approvals"`

	// TTL is how long a request may stay pending. Default: 24h.
	TTL time.Duration `yaml:"ttl"`

	// SweepSchedule is the cron expression for expiring overdue
	// requests. Default: "@every 1m".
	SweepSchedule string `yaml:"sweep_schedule"`

	// HighRiskThreshold marks an evaluated batch as requiring
	// sign-off when its aggregate risk cost exceeds this value.
	// 0 disables the check.
	HighRiskThreshold float64 `yaml:"high_risk_threshold"`
}

// CanaryConfig contains the staged rollout settings.
type CanaryConfig struct {
	// TickSchedule drives rollout observation. Default: "@every 30s".
	TickSchedule string `yaml:"tick_schedule"`

	// DefaultStep is the fraction added per healthy tick when a
	// rollout names none. Default: 0.25.
	DefaultStep float64 `yaml:"default_step"`

	// DefaultRollbackAfter is the consecutive breach count that
	// triggers rollback. Default: 2.
	DefaultRollbackAfter int `yaml:"default_rollback_after"`

	// DefaultPromoteAfter is the consecutive healthy full-exposure
	// tick count before promotion. Default: 3.
	DefaultPromoteAfter int `yaml:"default_promote_after"`

	// MetricsEndpoint is the HTTP endpoint serving health metrics
	// per policy. Empty disables the controller.
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// NotifyConfig contains operator notification settings.
type NotifyConfig struct {
	// WebhookURL receives JSON event posts. Empty means log-only.
	WebhookURL string `yaml:"webhook_url"`
}

// TelemetryConfig groups the observability settings.
type TelemetryConfig struct {
	// Logging configures the default structured logger.
	Logging logging.Config `yaml:"logging"`

	// Metrics configures Prometheus instrumentation.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OTLP span export.
	Tracing tracing.Config `yaml:"tracing"`
}

// MetricsConfig extends the collector settings with the HTTP path the
// exposition endpoint is mounted at.
type MetricsConfig struct {
	metrics.Config `yaml:",inline"`

	// Path is the exposition endpoint. Default: "/metrics".
	Path string `yaml:"path"`
}

// DecisionsEnabled reports the effective recording switch.
func (c *DecisionsConfig) DecisionsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
