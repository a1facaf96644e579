// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/treloxai/riskops/internal/config"
	"github.com/treloxai/riskops/internal/health"
	"github.com/treloxai/riskops/internal/logging"
	"github.com/treloxai/riskops/internal/metrics"
	"github.com/treloxai/riskops/internal/ratelimit"
	"github.com/treloxai/riskops/internal/realtime"
	"github.com/treloxai/riskops/internal/report"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/security"
	"github.com/treloxai/riskops/internal/traces"
	"github.com/treloxai/riskops/internal/validation"
	"github.com/treloxai/riskops/internal/webhooks"
)

// DefaultVersion is reported when no build version is injected.
const DefaultVersion = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	engine       *risk.Engine
	renderer     risk.ReportRenderer
	realtimeHub  *realtime.Hub
	alerts       *webhooks.Emitter
	alertStore   *webhooks.MemoryStore
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health and /api
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// WithRenderer replaces the PDF renderer (for testing)
func WithRenderer(r risk.ReportRenderer) Option {
	return func(s *Server) {
		s.renderer = r
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}

	s := &Server{
		cfg:        cfg,
		version:    DefaultVersion,
		engine:     risk.NewEngine(cfg.Currency),
		renderer:   report.NewRenderer(cfg.ReportTitle),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)

	if cfg.AlertsEnabled() {
		if err := s.setupAlerts(); err != nil {
			return nil, err
		}
	}

	s.health.Register("engine", engineCheck(s.engine))
	s.health.Register("realtime", func(_ context.Context) health.Status {
		if !s.realtimeHub.Running() {
			return health.Status{Name: "realtime", Healthy: false, Detail: "hub not running"}
		}
		return health.Status{Name: "realtime", Healthy: true}
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()

	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	s.logger.Info("server configured",
		"env", cfg.Env,
		"currency", s.engine.Currency(),
		"cors_origins", cfg.CORSOrigins,
		"rate_limit_rpm", cfg.RateLimitRPM,
		"alert_webhooks", len(cfg.AlertWebhookURLs),
	)

	return s, nil
}

// setupAlerts registers the configured alert webhooks.
func (s *Server) setupAlerts() error {
	s.alertStore = webhooks.NewMemoryStore()
	subs := webhooks.NewEndpoints(s.cfg.AlertWebhookURLs, s.cfg.AlertWebhookSecret, s.cfg.AlertMinLevel, time.Now())
	for _, sub := range subs {
		if err := s.alertStore.Create(context.Background(), sub); err != nil {
			return fmt.Errorf("server: register alert webhook: %w", err)
		}
	}
	dispatcher := webhooks.NewDispatcher(s.alertStore, webhooks.WithLogger(s.logger))
	s.alerts = webhooks.NewEmitter(dispatcher, s.logger)
	return nil
}

// engineCheck scores a fixed canary incident and compares it to its known
// classification.
func engineCheck(engine *risk.Engine) health.Checker {
	detection := risk.Detection{ID: "canary", Label: "spill", SubstancePred: "oil", Confidence: 0.9, AreaRatio: 0.3}
	site := risk.Context{
		SiteID:                 "canary",
		ZoneType:               "production",
		ProximityToMachines:    "near_machine",
		FloorType:              "non_absorbent",
		ProductionValuePerHour: 8000,
	}

	return func(_ context.Context) health.Status {
		result := engine.Analyze("canary", []risk.Detection{detection}, site)
		if result.GlobalSeverityLevel != risk.LevelMedium || len(result.Factors) != len(risk.FactorOrder) {
			return health.Status{
				Name:    "engine",
				Healthy: false,
				Detail:  fmt.Sprintf("canary scored %.2f (%s)", result.GlobalSeverityScore, result.GlobalSeverityLevel),
			}
		}
		return health.Status{Name: "engine", Healthy: true}
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limits := ratelimit.DefaultConfig()
	limits.RequestsPerMinute = s.cfg.RateLimitRPM
	limits.BurstSize = s.cfg.RateLimitBurst
	s.rateLimiter = ratelimit.New(limits)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware("/health", "/metrics"))
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an ID set by a load balancer or the caller
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 128)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		trace.SpanFromContext(ctx).SetAttributes(traces.RequestID(requestID))

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// loggingMiddleware writes one line per request: error for 5xx, warn for
// 4xx, info otherwise.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		ctx := c.Request.Context()
		logging.L(ctx).Log(ctx, level, "request completed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	// WebSocket for live dashboards
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	riskHandler := risk.NewHandler(s.engine, s.renderer).WithEvents(s.realtimeHub)
	if s.alerts != nil {
		riskHandler.WithEvents(s.alerts)
		webhooks.NewHandler(s.alertStore).RegisterRoutes(s.router.Group(""))
	}
	riskHandler.RegisterRoutes(s.router.Group(""))
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for the health check endpoint
type HealthResponse struct {
	health.Report
	Version string `json:"version"`
}

// healthHandler always answers 200 so dashboards can show degraded checks;
// /health/ready is the probe that fails.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Report:  s.health.Check(c.Request.Context()),
		Version: s.version,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	report := s.health.Check(c.Request.Context())
	if !report.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": report.Checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "RiskOps",
		"description": "Industrial spill risk scoring",
		"version":     s.version,
		"currency":    s.engine.Currency(),
		"endpoints": gin.H{
			"analyze": "POST /risk/analyze",
			"report":  "POST /risk/report",
			"stream":  "GET /ws",
			"alerts":  "GET /alerts/webhooks",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until ctx is cancelled, a SIGINT or
// SIGTERM arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		s.rateLimiter.Stop()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if err := s.alerts.Drain(ctx); err != nil {
		s.logger.Warn("alert deliveries still in flight at shutdown", "error", err)
	}

	s.rateLimiter.Stop()

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the realtime hub
func (s *Server) Hub() *realtime.Hub {
	return s.realtimeHub
}
