// Package server exposes the security gate over HTTP: authentication,
// policy administration, pipeline triggering and observation, SCM webhooks,
// raw report retrieval, health probes and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/sentinelops/sentinel/pkg/audit"
	"github.com/sentinelops/sentinel/pkg/auth"
	"github.com/sentinelops/sentinel/pkg/health"
	"github.com/sentinelops/sentinel/pkg/logging"
	"github.com/sentinelops/sentinel/pkg/metrics"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/scm"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

// Defaults.
const (
	DefaultAddr              = ":8080"
	DefaultTriggersPerMinute = 10
	DefaultShutdownTimeout   = 10 * time.Second
)

// PipelineService starts and stops pipeline runs. Implemented by the
// executor.
type PipelineService interface {
	Trigger(ctx context.Context, actor string, req tracker.TriggerRequest) (*tracker.PipelineRun, error)
	Cancel(ctx context.Context, actor, id string) error
}

// ReportSource retrieves stored raw report artifacts.
type ReportSource interface {
	GetReport(ctx context.Context, runID, kind string) ([]byte, error)
}

// PushParser validates and parses an SCM push webhook delivery.
// Implemented by scm.GitHub and scm.GitLab.
type PushParser interface {
	ParsePush(r *http.Request) (*scm.PushEvent, error)
}

// Config configures the API server.
type Config struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	Tracker   *tracker.Tracker
	Pipelines PipelineService
	Policies  *policy.Manager
	Auth      *auth.Authenticator

	// Reports serves the raw report endpoints. Optional; without it those
	// endpoints return 404.
	Reports ReportSource

	// GitHub and GitLab handle the webhook endpoints. Optional; an
	// unconfigured provider's endpoint returns 404.
	GitHub PushParser
	GitLab PushParser

	// Health backs /healthz and /readyz. Optional.
	Health *health.Handler

	// TriggersPerMinute rate-limits the manual trigger endpoint.
	// Defaults to DefaultTriggersPerMinute.
	TriggersPerMinute int

	Metrics metrics.Collector
	Audit   *audit.Trail
	Logger  logging.Logger

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	tracker   *tracker.Tracker
	pipelines PipelineService
	policies  *policy.Manager
	auth      *auth.Authenticator
	reports   ReportSource
	github    PushParser
	gitlab    PushParser
	health    *health.Handler

	triggerLimiter *rate.Limiter

	metrics metrics.Collector
	trail   *audit.Trail
	logger  logging.Logger

	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New creates the API server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Tracker == nil || cfg.Pipelines == nil || cfg.Policies == nil || cfg.Auth == nil {
		return nil, fmt.Errorf("server: tracker, pipeline service, policy manager and authenticator are required")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	perMinute := cfg.TriggersPerMinute
	if perMinute <= 0 {
		perMinute = DefaultTriggersPerMinute
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	trail := cfg.Audit
	if trail == nil {
		trail = audit.Nop()
	}

	s := &Server{
		tracker:         cfg.Tracker,
		pipelines:       cfg.Pipelines,
		policies:        cfg.Policies,
		auth:            cfg.Auth,
		reports:         cfg.Reports,
		github:          cfg.GitHub,
		gitlab:          cfg.GitLab,
		health:          cfg.Health,
		triggerLimiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		metrics:         metrics.OrNop(cfg.Metrics),
		trail:           trail,
		logger:          logging.OrNop(cfg.Logger),
		shutdownTimeout: shutdownTimeout,
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Post("/api/auth/login", s.handleLogin)

	r.Post("/api/webhooks/github", s.handleWebhook(s.github, scm.ProviderGitHub))
	r.Post("/api/webhooks/gitlab", s.handleWebhook(s.gitlab, scm.ProviderGitLab))

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/summary", s.handleSummary)
		r.Get("/api/reports/{kind}", s.handleReport)

		r.Get("/api/policy", s.handlePolicyGet)
		r.Get("/api/policy/evaluate", s.handlePolicyEvaluate)

		r.Get("/api/pipelines", s.handlePipelineList)
		r.Get("/api/pipelines/{id}", s.handlePipelineGet)
		r.With(s.triggerRateLimit).Post("/api/pipelines/trigger", s.handleTrigger)

		// Mutations need the admin role.
		r.Group(func(r chi.Router) {
			r.Use(s.requireElevated)
			r.Put("/api/policy", s.handlePolicyPut)
			r.Post("/api/pipelines/{id}/cancel", s.handleCancel)
		})
	})

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler().ServeHTTP)
		r.Get("/readyz", s.health.ReadinessHandler().ServeHTTP)
	}
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		s.metrics.Handler().ServeHTTP(w, req)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("[server] listening on %s", s.httpServer.Addr)
	_ = s.trail.Record(audit.EventServerStarted, "", "", map[string]string{"addr": s.httpServer.Addr})

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	_ = s.trail.Record(audit.EventServerStopped, "", "", nil)
	return s.httpServer.Shutdown(ctx)
}
