// Package http exposes the ledger, alerts and settings as a JSON API. The
// caller is identified by the X-User-ID header.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"smartpay/internal/alerts"
	"smartpay/internal/backend"
	"smartpay/internal/cache"
	"smartpay/internal/core"
	"smartpay/internal/ledger"
	applog "smartpay/internal/log"
	"smartpay/internal/middleware/ratelimit"
	"smartpay/internal/middleware/security"
	"smartpay/internal/middleware/trace"
	"smartpay/internal/settings"
)

// HeaderUserID carries the caller's identity.
const HeaderUserID = trace.HeaderUserID

type pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	RequestsPerMinute int
	// Location drives calendar boundaries for stats and date-only inputs.
	Location *time.Location
	Logger   *applog.Logger
}

type Server struct {
	http.Server
	ledger   *ledger.Ledger
	alerts   *alerts.Sink
	settings *settings.Service
	store    pinger
	loc      *time.Location

	logger *applog.Logger
	log    *applog.StructuredLogger

	rateLimiter     *ratelimit.Limiter
	detector        *security.Detector
	traceMiddleware *trace.Middleware
	startedAt       time.Time
	shutdownOnce    sync.Once

	// statsCache holds per-user spending stats until the user's next
	// transaction write or statsCacheTTL, whichever comes first.
	statsCache   *cache.LRUCache[core.SpendingStats]
	cacheManager *cache.Manager
}

const (
	statsCacheSize = 1000
	statsCacheTTL  = time.Minute
)

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, app *backend.App, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	logger := opts.Logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		ledger:       app.Ledger,
		alerts:       app.Alerts,
		settings:     app.Settings,
		store:        app.Store,
		loc:          opts.Location,
		logger:       logger,
		log:          applog.NewStructuredLogger(logger),
		detector:     security.NewDetector(),
		startedAt:    time.Now(),
		statsCache:   cache.NewLRUCache[core.SpendingStats](statsCacheSize, statsCacheTTL),
		cacheManager: cache.NewManager(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RequestsPerMinute,
		}),
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.detector.ExtractClientIP)
	s.cacheManager.Register(s.statsCache)
	s.cacheManager.StartCleanup(5 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/balance", s.withUser(s.handleBalance))

	mux.HandleFunc("GET /api/transactions", s.withUser(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", s.withUser(s.handleCreateTransaction))
	mux.HandleFunc("GET /api/transactions/stats", s.withUser(s.handleStats))
	mux.HandleFunc("GET /api/transactions/{id}", s.withUser(s.handleGetTransaction))
	mux.HandleFunc("PUT /api/transactions/{id}", s.withUser(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withUser(s.handleDeleteTransaction))

	mux.HandleFunc("GET /api/transfers", s.withUser(s.handleListTransfers))
	mux.HandleFunc("POST /api/transfers", s.withUser(s.handleCreateTransfer))
	mux.HandleFunc("GET /api/transfers/users", s.withUser(s.handleListRecipients))

	mux.HandleFunc("GET /api/alerts", s.withUser(s.handleListAlerts))
	mux.HandleFunc("POST /api/alerts", s.withUser(s.handleCreateAlert))
	mux.HandleFunc("PUT /api/alerts/{id}/read", s.withUser(s.handleMarkAlertRead))
	mux.HandleFunc("GET /api/alerts/settings", s.withUser(s.handleGetSettings))
	mux.HandleFunc("PUT /api/alerts/settings", s.withUser(s.handleUpdateSettings))

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.rateLimitKey, s.handleRateLimited)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB
	}
	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		s.cacheManager.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// rateLimitKey budgets identified callers per user and anonymous ones per
// client address.
func (s *Server) rateLimitKey(r *http.Request) string {
	if id := userID(r); id != "" {
		return "user:" + id
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldUserID, userID(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: "Rate limit exceeded. Please try again later."})
}

// withUser rejects requests without a caller identity.
func (s *Server) withUser(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := userID(r)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "missing " + HeaderUserID + " header"})
			return
		}
		next(w, r, id)
	}
}
