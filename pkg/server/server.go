package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vantage-hq/warden/pkg/approval"
	"vantage-hq/warden/pkg/canary"
	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/engine"
	"vantage-hq/warden/pkg/notify"
	"vantage-hq/warden/pkg/replay"
	"vantage-hq/warden/pkg/store"
	"vantage-hq/warden/pkg/telemetry/health"
	"vantage-hq/warden/pkg/telemetry/metrics"
	"vantage-hq/warden/pkg/telemetry/tracing"
)

// Config holds the transport-level server settings.
type Config struct {
	ListenAddress   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int

	// MetricsPath mounts the Prometheus endpoint. Default: "/metrics".
	MetricsPath string

	// HighRiskThreshold flags evaluated batches whose aggregate risk
	// cost exceeds it as requiring sign-off. 0 disables the check.
	HighRiskThreshold float64

	// QueryDefaultLimit and QueryMaxLimit bound decision queries.
	QueryDefaultLimit int
	QueryMaxLimit     int
}

// Deps are the domain components the server fronts. Store, Evaluator,
// Replayer, and Approvals are required; the rest may be nil and the
// matching endpoints degrade gracefully.
type Deps struct {
	Store     store.Store
	Evaluator *engine.Evaluator
	Recorder  *decision.Recorder
	Decisions decision.Storage
	Replayer  *replay.Replayer
	Approvals *approval.Manager
	Canary    *canary.Controller
	Notifier  notify.Notifier
	Metrics   *metrics.Collector
	Health    *health.Checker
	Tracer    *tracing.Tracer

	// Revision reports the current draft source revision for decision
	// provenance. May be nil.
	Revision func() string
}

// Server is the warden admin and evaluation HTTP API.
type Server struct {
	config *Config
	logger *slog.Logger

	store     store.Store
	evaluator *engine.Evaluator
	recorder  *decision.Recorder
	decisions decision.Storage
	replayer  *replay.Replayer
	approvals *approval.Manager
	canary    *canary.Controller
	notifier  notify.Notifier
	metrics   *metrics.Collector
	health    *health.Checker
	tracer    *tracing.Tracer
	revision  func() string

	httpServer *http.Server
}

// New creates the server. Optional dependencies left nil get inert
// defaults.
func New(config *Config, deps Deps) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if deps.Store == nil || deps.Evaluator == nil || deps.Replayer == nil || deps.Approvals == nil {
		return nil, fmt.Errorf("store, evaluator, replayer, and approvals are required")
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier()
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if deps.Tracer == nil {
		tracer, err := tracing.New(nil)
		if err != nil {
			return nil, err
		}
		deps.Tracer = tracer
	}
	if deps.Revision == nil {
		deps.Revision = func() string { return "" }
	}

	return &Server{
		config:    config,
		logger:    slog.Default().With("component", "server"),
		store:     deps.Store,
		evaluator: deps.Evaluator,
		recorder:  deps.Recorder,
		decisions: deps.Decisions,
		replayer:  deps.Replayer,
		approvals: deps.Approvals,
		canary:    deps.Canary,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		health:    deps.Health,
		tracer:    deps.Tracer,
		revision:  deps.Revision,
	}, nil
}

// Handler returns the routed handler with the middleware chain
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)

	mux.HandleFunc("GET /v1/policies", s.handleListPolicies)
	mux.HandleFunc("POST /v1/policies", s.handlePublishPolicy)
	mux.HandleFunc("GET /v1/policies/{id}/versions", s.handleListVersions)
	mux.HandleFunc("POST /v1/policies/{id}/activate", s.handleActivatePolicy)

	mux.HandleFunc("GET /v1/decisions", s.handleQueryDecisions)
	mux.HandleFunc("GET /v1/decisions/{id}", s.handleGetDecision)
	mux.HandleFunc("POST /v1/decisions/{id}/replay", s.handleReplay)
	mux.HandleFunc("POST /v1/decisions/{id}/whatif", s.handleWhatIf)

	mux.HandleFunc("POST /v1/approvals", s.handleSubmitApproval)
	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /v1/approvals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/approvals/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /v1/approvals/{id}/apply", s.handleApply)

	mux.HandleFunc("POST /v1/rollouts", s.handleBeginRollout)
	mux.HandleFunc("GET /v1/rollouts", s.handleListRollouts)
	mux.HandleFunc("GET /v1/rollouts/{id}", s.handleGetRollout)

	mux.HandleFunc("GET /healthz", s.health.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.health.ReadinessHandler())
	if s.metrics != nil {
		mux.Handle("GET "+s.config.MetricsPath, s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// Run serves until ctx is cancelled or a SIGINT/SIGTERM arrives, then
// shuts down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server listening", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("server stopped")
	return err
}
