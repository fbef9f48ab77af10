// Package server wires the trade engine together and exposes it over HTTP.
//
// The server owns the full object graph: ledger, custodian, order book,
// trade service, chat log, arbiter, deadline scheduler, settlement loop,
// webhook dispatcher and WebSocket hub. With DATABASE_URL set everything
// persists to Postgres; without it the server runs entirely in memory,
// which is what the tests and local development use.
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
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

	"github.com/mvbraga/peertrade/internal/arbiter"
	"github.com/mvbraga/peertrade/internal/chat"
	"github.com/mvbraga/peertrade/internal/circuitbreaker"
	"github.com/mvbraga/peertrade/internal/config"
	"github.com/mvbraga/peertrade/internal/custodian"
	"github.com/mvbraga/peertrade/internal/events"
	"github.com/mvbraga/peertrade/internal/health"
	"github.com/mvbraga/peertrade/internal/idgen"
	"github.com/mvbraga/peertrade/internal/ledger"
	"github.com/mvbraga/peertrade/internal/logging"
	"github.com/mvbraga/peertrade/internal/metrics"
	"github.com/mvbraga/peertrade/internal/order"
	"github.com/mvbraga/peertrade/internal/ratelimit"
	"github.com/mvbraga/peertrade/internal/realtime"
	"github.com/mvbraga/peertrade/internal/scheduler"
	"github.com/mvbraga/peertrade/internal/trade"
	"github.com/mvbraga/peertrade/internal/validation"
)

// Custodian breaker: open after 5 consecutive failures, retry after 30s.
const (
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// Server is the HTTP server plus every background worker it supervises.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	router  *gin.Engine
	httpSrv *http.Server

	db          *sql.DB
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	ledger     *ledger.Ledger
	orders     *order.Service
	trades     *trade.Service
	chatLog    *chat.Log
	arbiter    *arbiter.Service
	dispatcher *events.Dispatcher
	scheduler  *scheduler.Scheduler
	settler    *trade.Settler
	hub        *realtime.Hub

	eventsStore events.Store

	cancelRunCtx context.CancelFunc
	ready        atomic.Bool
	healthy      atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a fully wired server. It connects to Postgres when
// cfg.DatabaseURL is set and falls back to in-memory stores otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		ledgerStore ledger.Store
		custStore   custodian.Store
		orderStore  order.Store
		tradeStore  trade.Store
		chatStore   chat.Store
		arbStore    arbiter.Store
		eventStore  events.Store
		schedStore  scheduler.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to database", "dsn", maskDSN(cfg.DatabaseURL))

		ledgerStore = ledger.NewPostgresStore(db)
		custStore = custodian.NewPostgresStore(db)
		orderStore = order.NewPostgresStore(db)
		tradeStore = trade.NewPostgresStore(db)
		chatStore = chat.NewPostgresStore(db)
		arbStore = arbiter.NewPostgresStore(db)
		eventStore = events.NewPostgresStore(db)
		schedStore = scheduler.NewPostgresStore(db)

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("no DATABASE_URL set, using in-memory stores")
		ledgerStore = ledger.NewMemoryStore()
		custStore = custodian.NewMemoryStore()
		orderStore = order.NewMemoryStore()
		tradeStore = trade.NewMemoryStore()
		chatStore = chat.NewMemoryStore()
		arbStore = arbiter.NewMemoryStore()
		eventStore = events.NewMemoryStore()
		schedStore = scheduler.NewMemoryStore()
	}

	s.ledger = ledger.New(ledgerStore)

	breaker := circuitbreaker.New(breakerThreshold, breakerOpenFor)
	cust := custodian.NewGuarded(
		custodian.NewLedgerCustodian(custStore, s.ledger),
		breaker,
		cfg.CustodianTimeout,
	)
	s.checks.Register("custodian", func(ctx context.Context) health.Status {
		for _, op := range []string{"custodian_lock", "custodian_release", "custodian_refund"} {
			if breaker.State(op) == circuitbreaker.StateOpen {
				return health.Status{Name: "custodian", Healthy: false, Detail: op + " circuit open"}
			}
		}
		return health.Status{Name: "custodian", Healthy: true}
	})

	s.orders = order.NewService(orderStore, cfg.TokenSymbol, cfg.FiatCurrency).
		WithBounds(cfg.MinTrade, cfg.MaxTrade)
	s.arbiter = arbiter.NewService(arbStore)
	s.eventsStore = eventStore
	s.dispatcher = events.NewDispatcher(eventStore, s.logger)

	s.trades = trade.NewService(tradeStore, s.orders, cust, s.arbiter, s.dispatcher, cfg.DefaultEscrowWindow, s.logger)
	s.chatLog = chat.NewLog(chatStore, s.trades)
	s.trades.WithChat(s.chatLog)

	s.scheduler = scheduler.New(schedStore, s.trades.HandleTimeout, cfg.SchedulerInterval, s.logger)
	s.trades.WithDeadlines(s.scheduler)

	s.settler = trade.NewSettler(s.trades, cfg.SchedulerInterval, s.logger)

	s.hub = realtime.NewHub(s.logger)
	s.hub.AttachTo(s.dispatcher)

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

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
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

// actorMiddleware resolves the calling user from the X-Actor-Id header.
// Every mutating route requires it. A gateway in front of this service is
// expected to have authenticated the caller and set the header.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetHeader("X-Actor-Id")
		if actorID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_actor",
				"message": "X-Actor-Id header is required",
			})
			return
		}
		if !validation.IsValidUserID(actorID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_actor",
				"message": "X-Actor-Id is not a valid user ID",
			})
			return
		}
		c.Set("actorID", actorID)
		c.Next()
	}
}

// arbiterMiddleware guards arbitration routes with the shared secret.
// Without a configured secret (development only) the routes are open.
func (s *Server) arbiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.ArbiterSecret == "" {
			if actorID := c.GetHeader("X-Actor-Id"); actorID != "" {
				c.Set("actorID", actorID)
			}
			c.Next()
			return
		}
		secret := c.GetHeader("X-Arbiter-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.ArbiterSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid arbiter secret",
			})
			return
		}
		if actorID := c.GetHeader("X-Actor-Id"); actorID != "" {
			c.Set("actorID", actorID)
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time trade events
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	v1.GET("/platform", s.platformHandler)

	// PUBLIC ROUTES (no actor required): browsing the order book
	orderHandler := order.NewHandler(s.orders)
	orderHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (actor required): everything that moves money or
	// mutates trade state
	protected := v1.Group("")
	protected.Use(s.actorMiddleware())
	{
		orderHandler.RegisterProtectedRoutes(protected)

		tradeHandler := trade.NewHandler(s.trades, s.chatLog, s.dispatcher)
		tradeHandler.RegisterRoutes(protected)

		ledgerHandler := ledger.NewHandler(s.ledger)
		ledgerHandler.RegisterRoutes(protected)

		eventsHandler := events.NewHandler(s.eventsStore)
		eventsHandler.RegisterProtectedRoutes(protected)
	}

	// ARBITER ROUTES: dispute inspection and rulings, guarded by secret
	arb := v1.Group("/arbiter")
	arb.Use(s.arbiterMiddleware())
	trade.NewHandler(s.trades, s.chatLog, s.dispatcher).RegisterArbiterRoutes(arb)
}

func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tokenSymbol":   s.cfg.TokenSymbol,
		"fiatCurrency":  s.cfg.FiatCurrency,
		"minTrade":      s.cfg.MinTrade,
		"maxTrade":      s.cfg.MaxTrade,
		"paymentWindow": s.cfg.DefaultEscrowWindow.String(),
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and all background workers, then blocks until
// a shutdown signal arrives or the context is cancelled.
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
			"env", s.cfg.Env,
			"pair", s.cfg.TokenSymbol+"/"+s.cfg.FiatCurrency,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.scheduler.Start(runCtx)
	s.settler.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

// Shutdown gracefully stops the server and its workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.scheduler.Stop()
	s.settler.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
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

// Ledger exposes the ledger for test seeding.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}
