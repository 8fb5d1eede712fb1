package canary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"vantage-hq/warden/pkg/notify"
)

// PolicyDisabler is the store's rollback side channel. The controller
// is its only caller.
type PolicyDisabler interface {
	ForceDisable(ctx context.Context, policyID, reason string) error
}

// Config configures the canary controller.
type Config struct {
	// TickSchedule is the cron schedule for observation ticks.
	// Default: "@every 30s".
	TickSchedule string

	// DefaultStep is the per-tick fraction increase used when a spec
	// leaves Step unset. Default: 0.25.
	DefaultStep float64

	// DefaultRollbackAfter and DefaultPromoteAfter fill unset spec
	// counters. Defaults: 2 and 3.
	DefaultRollbackAfter int
	DefaultPromoteAfter  int
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		TickSchedule:         "@every 30s",
		DefaultStep:          0.25,
		DefaultRollbackAfter: 2,
		DefaultPromoteAfter:  3,
	}
}

// Spec describes a rollout to begin.
type Spec struct {
	PolicyID      string
	Version       int
	Step          float64
	Thresholds    []Threshold
	RollbackAfter int
	PromoteAfter  int
}

// Controller drives canary rollouts from observation ticks.
type Controller struct {
	storage  Storage
	metrics  MetricsSource
	disabler PolicyDisabler
	notifier notify.Notifier
	config   *Config
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewController creates a canary controller. Ticks do not run until
// Start is called.
func NewController(storage Storage, metrics MetricsSource, disabler PolicyDisabler, notifier notify.Notifier, config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TickSchedule == "" {
		config.TickSchedule = "@every 30s"
	}
	if config.DefaultStep <= 0 {
		config.DefaultStep = 0.25
	}
	if config.DefaultRollbackAfter <= 0 {
		config.DefaultRollbackAfter = 2
	}
	if config.DefaultPromoteAfter <= 0 {
		config.DefaultPromoteAfter = 3
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Controller{
		storage:  storage,
		metrics:  metrics,
		disabler: disabler,
		notifier: notifier,
		config:   config,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "canary"),
	}
}

// Begin starts a rollout for a (policy, version) pair. Only one
// non-terminal rollout may exist per pair.
func (c *Controller) Begin(ctx context.Context, spec Spec) (*Rollout, error) {
	if spec.PolicyID == "" {
		return nil, &SpecError{Detail: "missing policy id"}
	}
	if spec.Version < 1 {
		return nil, &SpecError{Detail: "missing version"}
	}
	if len(spec.Thresholds) == 0 {
		return nil, &SpecError{Detail: "at least one threshold is required"}
	}
	if spec.Step < 0 || spec.Step > 1 {
		return nil, &SpecError{Detail: "step must be between 0 and 1"}
	}

	existing, err := c.storage.Active(ctx, spec.PolicyID, spec.Version)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &RolloutExistsError{PolicyID: spec.PolicyID, Version: spec.Version, Existing: existing.ID}
	}

	now := time.Now()
	rollout := &Rollout{
		ID:            uuid.New().String(),
		PolicyID:      spec.PolicyID,
		Version:       spec.Version,
		Fraction:      0,
		Step:          spec.Step,
		Thresholds:    spec.Thresholds,
		RollbackAfter: spec.RollbackAfter,
		PromoteAfter:  spec.PromoteAfter,
		State:         StateRamping,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if rollout.Step == 0 {
		rollout.Step = c.config.DefaultStep
	}
	if rollout.RollbackAfter == 0 {
		rollout.RollbackAfter = c.config.DefaultRollbackAfter
	}
	if rollout.PromoteAfter == 0 {
		rollout.PromoteAfter = c.config.DefaultPromoteAfter
	}

	if err := c.storage.Save(ctx, rollout); err != nil {
		return nil, err
	}
	c.logger.Info("canary rollout started",
		"rollout_id", rollout.ID,
		"policy_id", rollout.PolicyID,
		"version", rollout.Version,
		"step", rollout.Step,
	)
	return rollout, nil
}

// Get returns one rollout.
func (c *Controller) Get(ctx context.Context, id string) (*Rollout, error) {
	return c.storage.Get(ctx, id)
}

// ListActive returns all non-terminal rollouts.
func (c *Controller) ListActive(ctx context.Context) ([]*Rollout, error) {
	return c.storage.ListActive(ctx)
}

// Tick runs one observation pass over every active rollout. It runs on
// the cron schedule once Start is called and can also be invoked
// directly.
func (c *Controller) Tick(ctx context.Context) error {
	active, err := c.storage.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active rollouts: %w", err)
	}

	for _, rollout := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.observe(ctx, rollout); err != nil {
			c.logger.Error("observation tick failed",
				"rollout_id", rollout.ID,
				"policy_id", rollout.PolicyID,
				"error", err,
			)
		}
	}
	return nil
}

// observe evaluates one rollout against current metrics and advances
// its state machine.
func (c *Controller) observe(ctx context.Context, rollout *Rollout) error {
	values, err := c.metrics.Metrics(ctx, rollout.PolicyID)
	if err != nil {
		// Metrics being unreachable is indistinguishable from the
		// system being unhealthy; count it as a breach.
		c.logger.Warn("metrics unavailable, counting as breach",
			"rollout_id", rollout.ID, "error", err)
		return c.recordBreach(ctx, rollout, fmt.Sprintf("metrics unavailable: %v", err))
	}

	var breached []string
	for _, threshold := range rollout.Thresholds {
		value, ok := values[threshold.Metric]
		if !ok {
			breached = append(breached, fmt.Sprintf("%s missing", threshold.Metric))
			continue
		}
		if threshold.Breached(value) {
			breached = append(breached, fmt.Sprintf("%s (value %g)", threshold, value))
		}
	}

	if len(breached) > 0 {
		return c.recordBreach(ctx, rollout, strings.Join(breached, "; "))
	}
	return c.recordPass(ctx, rollout)
}

func (c *Controller) recordBreach(ctx context.Context, rollout *Rollout, detail string) error {
	rollout.BreachStreak++
	rollout.PassStreak = 0
	rollout.UpdatedAt = time.Now()

	if rollout.BreachStreak < rollout.RollbackAfter {
		c.logger.Warn("canary threshold breach",
			"rollout_id", rollout.ID,
			"policy_id", rollout.PolicyID,
			"streak", rollout.BreachStreak,
			"needed", rollout.RollbackAfter,
			"detail", detail,
		)
		return c.storage.Save(ctx, rollout)
	}

	rollout.State = StateRolledBack
	rollout.Fraction = 0
	rollout.Reason = detail
	if err := c.storage.Save(ctx, rollout); err != nil {
		return err
	}

	reason := fmt.Sprintf("canary rollback of rollout %s: %s", rollout.ID, detail)
	if err := c.disabler.ForceDisable(ctx, rollout.PolicyID, reason); err != nil {
		return fmt.Errorf("force-disabling %s: %w", rollout.PolicyID, err)
	}

	c.logger.Error("canary rolled back",
		"rollout_id", rollout.ID,
		"policy_id", rollout.PolicyID,
		"version", rollout.Version,
		"detail", detail,
	)
	c.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventRolledBack,
		Message: reason,
		Fields: map[string]string{
			"policy_id":  rollout.PolicyID,
			"version":    fmt.Sprintf("%d", rollout.Version),
			"rollout_id": rollout.ID,
		},
		At: time.Now(),
	})
	return nil
}

func (c *Controller) recordPass(ctx context.Context, rollout *Rollout) error {
	rollout.PassStreak++
	rollout.BreachStreak = 0
	rollout.UpdatedAt = time.Now()

	switch rollout.State {
	case StateRamping:
		rollout.Fraction += rollout.Step
		if rollout.Fraction >= 1 {
			rollout.Fraction = 1
			rollout.State = StateHolding
			// Promotion observation starts now.
			rollout.PassStreak = 0
		}
	case StateHolding:
		if rollout.PassStreak >= rollout.PromoteAfter {
			rollout.State = StatePromoted
		}
	}

	if err := c.storage.Save(ctx, rollout); err != nil {
		return err
	}

	if rollout.State == StatePromoted {
		c.logger.Info("canary promoted",
			"rollout_id", rollout.ID,
			"policy_id", rollout.PolicyID,
			"version", rollout.Version,
		)
		c.notifier.Notify(ctx, notify.Event{
			Type:    notify.EventPromoted,
			Message: fmt.Sprintf("policy %s@v%d promoted", rollout.PolicyID, rollout.Version),
			Fields:  map[string]string{"rollout_id": rollout.ID},
			At:      time.Now(),
		})
	} else {
		c.logger.Debug("canary healthy tick",
			"rollout_id", rollout.ID,
			"state", rollout.State,
			"fraction", rollout.Fraction,
			"pass_streak", rollout.PassStreak,
		)
	}
	return nil
}

// Start schedules observation ticks.
func (c *Controller) Start() error {
	_, err := c.cron.AddFunc(c.config.TickSchedule, func() {
		if err := c.Tick(context.Background()); err != nil {
			c.logger.Error("canary tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", c.config.TickSchedule, err)
	}
	c.cron.Start()
	return nil
}

// Stop halts scheduled ticks and waits for a running tick to finish.
func (c *Controller) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}
