package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"vantage-hq/warden/pkg/approval"
	"vantage-hq/warden/pkg/canary"
	"vantage-hq/warden/pkg/cli"
	"vantage-hq/warden/pkg/config"
	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/decision/retention"
	"vantage-hq/warden/pkg/engine"
	"vantage-hq/warden/pkg/notify"
	"vantage-hq/warden/pkg/rcp"
	"vantage-hq/warden/pkg/replay"
	"vantage-hq/warden/pkg/server"
	"vantage-hq/warden/pkg/source"
	"vantage-hq/warden/pkg/store"
	"vantage-hq/warden/pkg/telemetry/health"
	"vantage-hq/warden/pkg/telemetry/logging"
	"vantage-hq/warden/pkg/telemetry/metrics"
	"vantage-hq/warden/pkg/telemetry/tracing"
)

// sourcePrincipal is the identity drafts are published under when they
// arrive through a configured draft source rather than the API.
const sourcePrincipal = "draft-source"

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the warden daemon",
	Long: `Start the warden daemon with the specified configuration.

The daemon serves the evaluation and admin API, ingests policy drafts
from the configured source, sweeps approval deadlines, observes canary
rollouts, and prunes old decision records.

Examples:
  # Start with defaults
  warden run

  # Start with a config file
  warden run --config /etc/warden/warden.yaml

  # Validate configuration without starting
  warden run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	if err := logging.Setup(&cfg.Telemetry.Logging, nil); err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, cancel := cli.SignalContext()
	defer cancel()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics.Config, nil)
	checker := health.New(0)

	policies, err := openPolicyStore(cfg)
	if err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}
	defer policies.Close()
	checker.Register("policy_store", func(ctx context.Context) error {
		_, err := policies.ListEffective(ctx)
		return err
	})

	var (
		decisions decision.Storage
		recorder  *decision.Recorder
	)
	if cfg.Decisions.DecisionsEnabled() {
		decisions, err = openDecisionStorage(cfg)
		if err != nil {
			return &cli.CommandError{Command: "run", Err: err}
		}
		defer decisions.Close()
		checker.Register("decision_store", func(ctx context.Context) error {
			_, err := decisions.Count(ctx, &decision.Query{})
			return err
		})

		recorder = decision.NewRecorder(decisions, &decision.RecorderConfig{
			Enabled:      true,
			AsyncBuffer:  cfg.Decisions.AsyncBuffer,
			WriteTimeout: cfg.Decisions.WriteTimeout,
		})
		defer func() {
			if err := recorder.Close(); err != nil {
				slog.Error("recorder close failed", "error", err)
			}
		}()

		if cfg.Decisions.Retention.Days > 0 {
			pruner := retention.NewPruner(decisions, &retention.Config{
				RetentionDays: cfg.Decisions.Retention.Days,
				Schedule:      cfg.Decisions.Retention.Schedule,
			})
			if err := pruner.Start(); err != nil {
				return &cli.CommandError{Command: "run", Err: err}
			}
			defer pruner.Stop()
		}
	}

	notifier := buildNotifier(cfg)

	approvalStorage, err := openApprovalStorage(cfg)
	if err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}
	defer approvalStorage.Close()

	approvals := approval.NewManager(approvalStorage, policies, policies, &approval.Config{
		RequiredApprovals: cfg.Approval.RequiredApprovals,
		TTL:               cfg.Approval.TTL,
		SweepSchedule:     cfg.Approval.SweepSchedule,
	})
	if err := approvals.Start(); err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}
	defer approvals.Stop()

	var controller *canary.Controller
	if cfg.Canary.MetricsEndpoint != "" {
		canaryStorage, err := openCanaryStorage(cfg)
		if err != nil {
			return &cli.CommandError{Command: "run", Err: err}
		}
		defer canaryStorage.Close()

		controller = canary.NewController(
			canaryStorage,
			canary.NewHTTPMetricsSource(cfg.Canary.MetricsEndpoint),
			policies,
			notifier,
			&canary.Config{
				TickSchedule:         cfg.Canary.TickSchedule,
				DefaultStep:          cfg.Canary.DefaultStep,
				DefaultRollbackAfter: cfg.Canary.DefaultRollbackAfter,
				DefaultPromoteAfter:  cfg.Canary.DefaultPromoteAfter,
			},
		)
		if err := controller.Start(); err != nil {
			return &cli.CommandError{Command: "run", Err: err}
		}
		defer controller.Stop()
	}

	evaluator := engine.New(nil)
	ingest, err := startDraftIngest(ctx, cfg, policies)
	if err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}

	srv, err := server.New(&server.Config{
		ListenAddress:     cfg.Server.ListenAddress,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		MetricsPath:       cfg.Telemetry.Metrics.Path,
		HighRiskThreshold: cfg.Approval.HighRiskThreshold,
		QueryDefaultLimit: cfg.Decisions.QueryDefaultLimit,
		QueryMaxLimit:     cfg.Decisions.QueryMaxLimit,
	}, server.Deps{
		Store:     policies,
		Evaluator: evaluator,
		Recorder:  recorder,
		Decisions: decisions,
		Replayer:  replay.New(policies, recordSource(decisions), evaluator),
		Approvals: approvals,
		Canary:    controller,
		Notifier:  notifier,
		Metrics:   collector,
		Health:    checker,
		Tracer:    tracer,
		Revision:  ingest.Revision,
	})
	if err != nil {
		return &cli.CommandError{Command: "run", Err: err}
	}

	return srv.Run(ctx)
}

func openPolicyStore(cfg *config.Config) (store.Store, error) {
	if cfg.Policies.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}
	if err := ensureDir(cfg.Policies.SQLitePath); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Policies.SQLitePath)
}

func openDecisionStorage(cfg *config.Config) (decision.Storage, error) {
	if cfg.Decisions.Backend == "memory" {
		return decision.NewMemoryStorage(), nil
	}
	if err := ensureDir(cfg.Decisions.SQLitePath); err != nil {
		return nil, err
	}
	return decision.NewSQLiteStorage(&decision.SQLiteConfig{Path: cfg.Decisions.SQLitePath})
}

// Approval and canary state live next to the policy database.
func openApprovalStorage(cfg *config.Config) (approval.Storage, error) {
	if cfg.Policies.Backend == "memory" {
		return approval.NewMemoryStorage(), nil
	}
	path := filepath.Join(filepath.Dir(cfg.Policies.SQLitePath), "approvals.db")
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return approval.NewSQLiteStorage(path)
}

func openCanaryStorage(cfg *config.Config) (canary.Storage, error) {
	if cfg.Policies.Backend == "memory" {
		return canary.NewMemoryStorage(), nil
	}
	path := filepath.Join(filepath.Dir(cfg.Policies.SQLitePath), "canary.db")
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return canary.NewSQLiteStorage(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewLogNotifier()
	}
	return notify.Multi{
		notify.NewLogNotifier(),
		notify.NewWebhookNotifier(cfg.Notify.WebhookURL),
	}
}

// recordSource adapts a possibly-nil storage for the replayer, which
// requires a record source even when recording is disabled.
func recordSource(s decision.Storage) replay.RecordSource {
	if s != nil {
		return s
	}
	return decision.NewMemoryStorage()
}

// draftIngest publishes drafts from the configured source and tracks
// the source revision for decision provenance.
type draftIngest struct {
	store  store.Store
	source source.DraftSource
	logger *slog.Logger

	mu       sync.RWMutex
	revision string
}

// Revision returns the last ingested source revision.
func (d *draftIngest) Revision() string {
	if d == nil {
		return ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// startDraftIngest loads drafts once and, when watching is enabled,
// keeps publishing changed drafts as the source updates. Activation is
// never automatic: new versions go live through the approval workflow
// or an explicit activate call.
func startDraftIngest(ctx context.Context, cfg *config.Config, policies store.Store) (*draftIngest, error) {
	var draftSource source.DraftSource
	switch cfg.Policies.Source.Mode {
	case "file":
		draftSource = source.NewDirSource(cfg.Policies.Source.Dir)
	case "git":
		gitSource, err := source.NewGitSource(&source.GitConfig{
			URL:          cfg.Policies.Source.Git.URL,
			Branch:       cfg.Policies.Source.Git.Branch,
			LocalPath:    cfg.Policies.Source.Git.LocalPath,
			PolicyPath:   cfg.Policies.Source.Git.Path,
			Token:        cfg.Policies.Source.Git.Token,
			PollInterval: cfg.Policies.Source.Git.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		draftSource = gitSource
	default:
		return nil, nil
	}

	ingest := &draftIngest{
		store:  policies,
		source: draftSource,
		logger: slog.Default().With("component", "draft-ingest"),
	}
	if err := ingest.sync(ctx); err != nil {
		return nil, err
	}

	if cfg.Policies.Source.Watch {
		if watchable, ok := draftSource.(source.Watchable); ok {
			go func() {
				if err := watchable.Watch(ctx, func() error {
					return ingest.sync(ctx)
				}); err != nil {
					ingest.logger.Error("draft watcher stopped", "error", err)
				}
			}()
		}
	}
	return ingest, nil
}

// sync publishes every draft whose content differs from its latest
// published version.
func (d *draftIngest) sync(ctx context.Context) error {
	drafts, revision, err := d.source.Load(ctx)
	if err != nil {
		return err
	}

	published := 0
	for _, draft := range drafts {
		changed, err := d.changed(ctx, draft)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		if _, err := d.store.Publish(ctx, draft, sourcePrincipal, rcp.AuthorityOwner); err != nil {
			return fmt.Errorf("publishing draft %s: %w", draft.ID, err)
		}
		published++
	}

	d.mu.Lock()
	d.revision = revision
	d.mu.Unlock()

	d.logger.Info("drafts synced",
		"total", len(drafts),
		"published", published,
		"revision", revision,
	)
	return nil
}

func (d *draftIngest) changed(ctx context.Context, draft *rcp.Policy) (bool, error) {
	versions, err := d.store.ListVersions(ctx, draft.ID)
	if err != nil {
		var notFound *store.PolicyNotFoundError
		if errors.As(err, &notFound) {
			return true, nil
		}
		return false, err
	}
	if len(versions) == 0 {
		return true, nil
	}
	checksum, err := store.Checksum(draft)
	if err != nil {
		return false, err
	}
	return versions[len(versions)-1].Checksum != checksum, nil
}
