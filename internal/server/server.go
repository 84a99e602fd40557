// Package server sets up the HTTP server with all routes
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/dishpay/dishpay/internal/blockgate"
	"github.com/dishpay/dishpay/internal/circuitbreaker"
	"github.com/dishpay/dishpay/internal/clearance"
	"github.com/dishpay/dishpay/internal/commission"
	"github.com/dishpay/dishpay/internal/config"
	"github.com/dishpay/dishpay/internal/deduction"
	"github.com/dishpay/dishpay/internal/health"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/logging"
	"github.com/dishpay/dishpay/internal/metrics"
	"github.com/dishpay/dishpay/internal/momo"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/notify"
	"github.com/dishpay/dishpay/internal/ratelimit"
	"github.com/dishpay/dishpay/internal/security"
	"github.com/dishpay/dishpay/internal/settings"
	"github.com/dishpay/dishpay/internal/syncutil"
	"github.com/dishpay/dishpay/internal/validation"
	"github.com/dishpay/dishpay/internal/withdrawal"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	ledger      *ledger.Ledger
	deductions  *deduction.Service
	settings    *settings.Service
	clearances  *clearance.Service
	blockgate   *blockgate.Service
	commission  *commission.Service
	gate        *withdrawal.Gate
	executor    *withdrawal.Executor
	notifier    notify.Notifier
	gateway     momo.Client
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry

	clearanceTimer *clearance.Timer
	transferTimer  *withdrawal.Timer

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithGateway sets a custom mobile-money gateway (for testing)
func WithGateway(g momo.Client) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// WithNotifier sets a custom notifier (for testing)
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set gateway/notifier/logger)
	for _, opt := range opts {
		opt(s)
	}

	// One lock table shared by every service that mutates wallets.
	locks := &syncutil.ShardedMutex{}

	var (
		ledgerStore    ledger.Store
		auditLog       ledger.AuditLogger
		deductionStore deduction.Store
		settingsStore  settings.Store
		clearanceStore clearance.Store
		complaintStore blockgate.Store
		wdrStore       withdrawal.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ledgerStore = ledger.NewPostgresStore(db)
		auditLog = ledger.NewPostgresAuditLogger(db)
		deductionStore = deduction.NewPostgresStore(db)
		settingsStore = settings.NewPostgresStore(db)
		clearanceStore = clearance.NewPostgresStore(db)
		complaintStore = blockgate.NewPostgresStore(db)
		wdrStore = withdrawal.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		ledgerStore = ledger.NewMemoryStore()
		auditLog = ledger.NewMemoryAuditLogger()
		deductionStore = deduction.NewMemoryStore()
		settingsStore = settings.NewMemoryStore()
		clearanceStore = clearance.NewMemoryStore()
		complaintStore = blockgate.NewMemoryStore()
		wdrStore = withdrawal.NewMemoryStore()
	}

	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.logger)
	}

	// Platform settings with config fallbacks. Config limits are in
	// whole shillings; the settings layer works in cents.
	s.settings = settings.NewService(settingsStore, settings.Defaults{
		CommissionPercent: cfg.CommissionPercent,
		HoldHours:         cfg.HoldHours,
		MinWithdrawal:     money.FromShillings(cfg.MinWithdrawal),
		DailyLimit:        money.FromShillings(cfg.DailyLimit),
	})

	// Wallet ledger and the services layered on it
	s.ledger = ledger.New(ledgerStore, auditLog, locks, s.logger)
	s.deductions = deduction.NewService(deductionStore, s.ledger, s.logger)
	s.clearances = clearance.NewService(clearanceStore, s.ledger, s.settings, s.notifier, s.logger)
	s.blockgate = blockgate.NewService(complaintStore, s.clearances, s.deductions, s.ledger, s.logger)
	s.commission = commission.NewService(s.settings, s.deductions, s.ledger, s.clearances, s.logger)
	s.logger.Info("wallet ledger enabled")

	// Mobile-money gateway
	if s.gateway == nil {
		if cfg.GatewayBaseURL != "" {
			if err := security.ValidateEndpointURL(cfg.GatewayBaseURL); err != nil {
				if cfg.IsProduction() {
					return nil, fmt.Errorf("unsafe gateway URL: %w", err)
				}
				s.logger.Warn("gateway URL failed endpoint check", "error", err)
			}
			httpClient := momo.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayKey, cfg.GatewaySecret, cfg.GatewayTimeout, s.logger)
			s.gateway = momo.NewBreakerClient(httpClient, circuitbreaker.New(5, 30*time.Second))
			s.logger.Info("mobile-money gateway enabled", "url", cfg.GatewayBaseURL)
		} else {
			s.gateway = &momo.MockClient{}
			s.logger.Warn("no gateway configured, transfers will be mocked")
		}
	}

	// Withdrawal gate and transfer executor
	s.gate = withdrawal.NewGate(wdrStore, s.ledger, s.clearances, s.settings, cfg.Location(), s.logger)
	s.executor = withdrawal.NewExecutor(wdrStore, s.ledger, s.gateway, s.notifier, cfg.GatewayTimeout, s.logger)
	s.logger.Info("withdrawals enabled",
		"min", money.FromShillings(cfg.MinWithdrawal).String(),
		"daily_limit", money.FromShillings(cfg.DailyLimit).String(),
		"operating_tz", cfg.OperatingTZ)

	// Background sweeps
	s.clearanceTimer = clearance.NewTimer(s.clearances, cfg.ClearanceSweepInterval, s.logger)
	s.transferTimer = withdrawal.NewTimer(s.executor, cfg.TransferSweepInterval, cfg.VerificationSweepInterval, s.logger)

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", health.DBChecker("database", s.db))
	}

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
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
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", s.infoHandler)

	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamsMiddleware("tenant", "cook", "order"))

	ledger.NewHandler(s.ledger, s.logger).RegisterRoutes(v1)
	commission.NewHandler(s.commission, s.logger).RegisterRoutes(v1)
	clearance.NewHandler(s.clearances, s.logger).RegisterRoutes(v1)
	blockgate.NewHandler(s.blockgate, s.logger).RegisterRoutes(v1)
	withdrawal.NewHandler(s.gate, s.executor, s.logger).RegisterRoutes(v1)
	settings.NewHandler(s.settings, s.logger).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "DishPay",
		"description": "Wallet ledger and payout engine for food-delivery marketplaces",
		"version":     "0.1.0",
		"currency":    money.Currency,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start clearance sweep timer
	if s.clearanceTimer != nil {
		go s.clearanceTimer.Start(runCtx)
	}

	// Start transfer/verification sweep timer
	if s.transferTimer != nil {
		go s.transferTimer.Start(runCtx)
	}

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (timers, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop clearance timer
	if s.clearanceTimer != nil {
		s.clearanceTimer.Stop()
		s.logger.Info("clearance timer stopped")
	}

	// Stop transfer timer
	if s.transferTimer != nil {
		s.transferTimer.Stop()
		s.logger.Info("transfer timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
