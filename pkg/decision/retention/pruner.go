// Package retention enforces the decision store's retention window.
// Decision records are otherwise append-only; scheduled pruning is the
// single sanctioned deletion path.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"vantage-hq/warden/pkg/decision"
)

// Config configures the retention pruner.
type Config struct {
	// RetentionDays is how many days of decision records to keep.
	// 0 disables pruning entirely (keep forever).
	RetentionDays int

	// Schedule is a cron expression for when pruning runs.
	// Default: "0 3 * * *" (daily at 03:00).
	Schedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		Schedule:      "0 3 * * *",
	}
}

// Pruner deletes decision records older than the retention window on a
// cron schedule.
type Pruner struct {
	storage decision.Storage
	config  *Config
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewPruner creates a retention pruner.
func NewPruner(storage decision.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Schedule == "" {
		config.Schedule = "0 3 * * *"
	}
	return &Pruner{
		storage: storage,
		config:  config,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "decision.retention"),
	}
}

// Start schedules pruning. It is a no-op when retention is disabled.
func (p *Pruner) Start() error {
	if p.config.RetentionDays <= 0 {
		p.logger.Info("decision retention disabled, records kept forever")
		return nil
	}

	_, err := p.cron.AddFunc(p.config.Schedule, func() {
		if err := p.Prune(context.Background()); err != nil {
			p.logger.Error("scheduled prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.config.Schedule, err)
	}

	p.cron.Start()
	p.logger.Info("decision retention scheduled",
		"schedule", p.config.Schedule,
		"retention_days", p.config.RetentionDays,
	)
	return nil
}

// Stop halts scheduled pruning and waits for a running prune to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// Prune runs one pruning pass immediately.
func (p *Pruner) Prune(ctx context.Context) error {
	if p.config.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -p.config.RetentionDays)

	n, err := p.storage.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning decision records: %w", err)
	}
	p.logger.Info("retention prune complete", "deleted", n, "cutoff", cutoff)
	return nil
}
