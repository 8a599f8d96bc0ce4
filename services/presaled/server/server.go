package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gepspresale/core/events"
	nativecommon "gepspresale/native/common"
	"gepspresale/native/presale"
	"gepspresale/observability"
	"gepspresale/services/presaled/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress  string
	AllowedOrigins []string
	WriteTimeout   time.Duration
	RateLimit      RateLimit
	// ExportDir receives receipt exports. Empty disables the export route.
	ExportDir string
}

// ReceiptStore persists and lists purchase receipts.
type ReceiptStore interface {
	SaveReceipt(ctx context.Context, receipt *presale.Receipt) error
	Receipts(ctx context.Context, buyer common.Address) ([]presale.Receipt, error)
}

// JournalReader lists persisted events.
type JournalReader interface {
	Recent(ctx context.Context, limit int, after uint64) ([]storage.Entry, error)
}

// ReceiptExporter writes the receipt ledger to files for reconciliation.
type ReceiptExporter interface {
	ExportReceipts(ctx context.Context, dir string, now time.Time) (storage.Export, error)
}

// Deps bundles the collaborators the server fronts.
type Deps struct {
	Engine   *presale.Engine
	Receipts ReceiptStore
	Journal  JournalReader
	Exporter ReceiptExporter
	Hub      *events.Hub
	Pauses   *nativecommon.PauseSwitch
	Auth     *Authenticator
	Logger   *slog.Logger
	// OnCurrency is invoked after a currency is registered through the admin
	// API, e.g. to start refreshing its price feed.
	OnCurrency func(presale.Currency)
}

// Server hosts the public presale API, the owner admin API and the event
// stream.
type Server struct {
	cfg      Config
	engine   *presale.Engine
	receipts ReceiptStore
	journal  JournalReader
	exporter ReceiptExporter
	hub      *events.Hub
	pauses   *nativecommon.PauseSwitch
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  *observability.PresaleMetrics
	handler  http.Handler

	onCurrency func(presale.Currency)
}

// New constructs a new HTTP server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("presale engine required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if deps.Pauses == nil {
		deps.Pauses = nativecommon.NewPauseSwitch()
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	httpMetrics := observability.HTTP()
	limiter, err := NewRateLimiter(cfg.RateLimit, func(route string) { httpMetrics.RecordThrottle(route, "rate_limit") })
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	srv := &Server{
		cfg:      cfg,
		engine:   deps.Engine,
		receipts: deps.Receipts,
		journal:  deps.Journal,
		exporter: deps.Exporter,
		hub:      deps.Hub,
		pauses:   deps.Pauses,
		auth:     deps.Auth,
		limiter:  limiter,
		logger:   deps.Logger,
		metrics:  observability.Presale(),

		onCurrency: deps.OnCurrency,
	}
	srv.handler = srv.routes()
	return srv, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/presale", func(pr chi.Router) {
		pr.Get("/", s.handleStatus)
		pr.Get("/stages/{index}", s.handleStage)
		pr.Get("/quote", s.handleQuote)
		pr.Get("/purchases/{address}", s.handlePurchases)
		pr.Get("/events", s.handleEvents)
		pr.Get("/events/ws", s.handleEventStream)
		pr.With(s.limiter.Middleware("/v1/presale/buy")).Post("/buy", s.handleBuy)
		pr.With(s.limiter.Middleware("/v1/presale/claim")).Post("/claim", s.handleClaim)
	})

	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Use(s.auth.Middleware)
		ar.Post("/start", s.handleStart)
		ar.Post("/sweep", s.handleSweep)
		ar.Post("/treasury", s.handleTreasury)
		ar.Post("/export", s.handleExport)
		ar.Post("/currencies", s.handleRegisterCurrency)
		ar.Post("/pause", s.handlePause)
		ar.Post("/resume", s.handleResume)
	})
	return otelhttp.NewHandler(r, "presaled")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("presaled http server listening", "listen", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack supports the websocket upgrade on the event stream.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	metrics := observability.HTTP()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.Observe(route, r.Method, rec.status, time.Since(start))
		if rec.status >= http.StatusInternalServerError {
			s.logger.Error("request failed", "route", route, "method", r.Method, "status", rec.status)
		}
	})
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
