// Package server wires the escrow platform together: storage, services,
// middleware, routes, and lifecycle.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/Kaydot97/DecentralizedEscrow/internal/auth"
	"github.com/Kaydot97/DecentralizedEscrow/internal/config"
	"github.com/Kaydot97/DecentralizedEscrow/internal/escrow"
	"github.com/Kaydot97/DecentralizedEscrow/internal/health"
	"github.com/Kaydot97/DecentralizedEscrow/internal/ledger"
	"github.com/Kaydot97/DecentralizedEscrow/internal/logging"
	"github.com/Kaydot97/DecentralizedEscrow/internal/metrics"
	"github.com/Kaydot97/DecentralizedEscrow/internal/policy"
	"github.com/Kaydot97/DecentralizedEscrow/internal/ratelimit"
	"github.com/Kaydot97/DecentralizedEscrow/internal/realtime"
	"github.com/Kaydot97/DecentralizedEscrow/internal/reconciliation"
	"github.com/Kaydot97/DecentralizedEscrow/internal/security"
	"github.com/Kaydot97/DecentralizedEscrow/internal/validation"
)

// Server is the escrow platform HTTP server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *gin.Engine
	db     *sql.DB // nil in demo mode

	ledger     *ledger.Ledger
	policy     *policy.Service
	authMgr    *auth.Manager
	escrowSvc  *escrow.Service
	hub        *realtime.Hub
	healthReg  *health.Registry
	recon      *reconciliation.Service
	reconTimer *reconciliation.Timer

	rateLimiter  *ratelimit.Limiter
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	ready        atomic.Bool
	startedAt    time.Time
}

// Option configures the server.
type Option func(*Server)

// WithLogger overrides the default logger (useful in tests).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a fully wired server from configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		startedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres when DATABASE_URL is set, otherwise in-memory.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ledgerStore := ledger.NewPostgresStore(db)
		escrowStore := escrow.NewPostgresStore(db)

		s.ledger = ledger.New(ledgerStore)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))

		policyStore := policy.NewPostgresStore(db)
		if err := policyStore.Seed(ctx, cfg.ArbiterAddress, cfg.FeeRateBps); err != nil {
			return nil, fmt.Errorf("failed to seed platform settings: %w", err)
		}
		s.policy = policy.NewService(cfg.OwnerAddress, policyStore)

		s.escrowSvc = escrow.NewService(escrowStore, s.ledger, s.policy)
		s.recon = reconciliation.NewService(ledgerStore, escrowStore)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		ledgerStore := ledger.NewMemoryStore()
		escrowStore := escrow.NewMemoryStore()

		s.ledger = ledger.New(ledgerStore)
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.policy = policy.NewService(cfg.OwnerAddress,
			policy.NewMemoryStore(cfg.ArbiterAddress, cfg.FeeRateBps))
		s.escrowSvc = escrow.NewService(escrowStore, s.ledger, s.policy)
		s.recon = reconciliation.NewService(ledgerStore, escrowStore)
	}

	// Realtime hub feeds escrow transitions to WebSocket subscribers.
	s.hub = realtime.NewHub(s.logger)
	s.escrowSvc.WithEvents(s.hub)

	s.reconTimer = reconciliation.NewTimer(s.recon, s.logger)

	s.healthReg = health.NewRegistry()
	s.registerHealthChecks()

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.healthReg.Register("policy", func(ctx context.Context) health.Status {
		if _, err := s.policy.Settings(ctx); err != nil {
			return health.Status{Name: "policy", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "policy", Healthy: true}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Authentication annotation (guards are per-route-group)
	s.router.Use(auth.Middleware(s.authMgr))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket event stream
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	escrowHandler := escrow.NewHandler(s.escrowSvc)
	ledgerHandler := ledger.NewHandler(s.ledger)
	policyHandler := policy.NewHandler(s.policy)
	authHandler := auth.NewHandler(s.authMgr)

	// Public, read-only
	public := s.router.Group("/v1")
	{
		escrowHandler.RegisterRoutes(public)
		policyHandler.RegisterRoutes(public)
		authHandler.RegisterRoutes(public)

		// Address-scoped reads validate the address format up front.
		addressed := public.Group("", validation.AddressParamMiddleware())
		ledgerHandler.RegisterRoutes(addressed)
	}

	// Authenticated mutations
	protected := s.router.Group("/v1", auth.RequireAuth())
	{
		escrowHandler.RegisterProtectedRoutes(protected)
		authHandler.RegisterProtectedRoutes(protected)
	}

	// Owner configuration: authenticated, the policy service enforces the
	// owner check against the caller address.
	admin := s.router.Group("/v1/admin", auth.RequireAuth())
	{
		policyHandler.RegisterAdminRoutes(admin)
	}

	// Operational endpoints behind the shared admin secret. Deposits arrive
	// from the payment rail's indexer, not from account holders.
	ops := s.router.Group("/v1/admin", auth.RequireAdminSecret(s.cfg.AdminSecret))
	{
		ops.POST("/deposits", ledgerHandler.RecordDeposit)
		ops.GET("/reconcile", s.reconcileHandler)
	}

	// Service info
	s.router.GET("/", s.infoHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"healthy":    healthy,
		"subsystems": statuses,
		"uptime":     time.Since(s.startedAt).String(),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) reconcileHandler(c *gin.Context) {
	result, err := s.recon.Check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Reconciliation check failed",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "escrowd",
		"version": "1.0.0",
		"endpoints": gin.H{
			"escrows":  "/v1/escrows",
			"platform": "/v1/platform",
			"fees":     "/v1/fees?amount=N",
			"events":   "/ws",
			"health":   "/health",
			"metrics":  "/metrics",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until shutdown.
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"owner", s.cfg.OwnerAddress,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Realtime hub
	go s.hub.Run(runCtx)

	// Periodic custody conservation audit
	go s.reconTimer.Start(runCtx)

	// Periodic DB stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop background goroutines (hub, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
