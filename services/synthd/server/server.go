// Package server exposes the synth engine over HTTP and gRPC health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	nativecommon "otcswap/native/common"
	"otcswap/native/synth"
	"otcswap/observability"
	"otcswap/services/synthd/auth"
	"otcswap/services/synthd/journal"
	synthmw "otcswap/services/synthd/middleware"
	"otcswap/services/synthd/storage"
)

const maxBodyBytes = 1 << 20

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	TLS           TLSConfig
	Throttle      ThrottleConfig
}

// TLSConfig points at the certificate pair. Empty paths serve plain HTTP.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return strings.TrimSpace(c.CertFile) != "" && strings.TrimSpace(c.KeyFile) != ""
}

// ThrottleConfig caps per-requester volume inside a rolling window. Zero
// limits disable the corresponding check.
type ThrottleConfig struct {
	Window    time.Duration
	MintLimit uint64
	BurnLimit uint64
}

// Dependencies are the collaborators the handlers call into.
type Dependencies struct {
	Engine      *synth.Engine
	Storage     *storage.Storage
	Journal     *journal.Journal
	Verifier    *auth.Verifier
	Admin       *auth.AdminAuthenticator
	Idempotency *gorm.DB
	RateLimiter *synthmw.RateLimiter
	Pauses      nativecommon.PauseView
	Logger      *log.Logger
	Now         func() time.Time
}

type requestMetrics interface {
	RecordRequest(route string, status int)
}

// Server hosts the public, admin and stream endpoints of synthd.
type Server struct {
	cfg     Config
	engine  *synth.Engine
	store   *storage.Storage
	journal *journal.Journal
	verify  *auth.Verifier
	admin   *auth.AdminAuthenticator
	idem    *gorm.DB
	limiter *synthmw.RateLimiter
	pauses  nativecommon.PauseView
	logger  *log.Logger
	now     func() time.Time
	metrics requestMetrics

	router http.Handler
}

// New validates deps and builds the router.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage required")
	}
	if deps.Journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("request verifier required")
	}
	if deps.Admin == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Throttle.Window <= 0 {
		cfg.Throttle.Window = time.Hour
	}
	srv := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		store:   deps.Storage,
		journal: deps.Journal,
		verify:  deps.Verifier,
		admin:   deps.Admin,
		idem:    deps.Idempotency,
		limiter: deps.RateLimiter,
		pauses:  deps.Pauses,
		logger:  deps.Logger,
		now:     deps.Now,
		metrics: observability.HTTP(),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.recordRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(user chi.Router) {
			user.Use(func(next http.Handler) http.Handler { return synthmw.WithIdempotency(s.idem, s.logger, next) })
			user.With(s.limiter.Middleware("mint")).Post("/mint", s.handleMint)
			user.With(s.limiter.Middleware("burn")).Post("/burn", s.handleBurn)
		})
		v1.With(s.limiter.Middleware("quote")).Post("/quote/{kind}", s.handleQuote)
		v1.Get("/config", s.handleConfig)
		v1.Get("/status", s.handleStatus)
		v1.Get("/events", s.handleEvents)
		v1.Get("/events/stream", s.handleEventStream)

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(s.admin.Middleware)
			admin.Post("/initialize", s.handleInitialize)
			admin.Post("/pause", s.handlePause)
			admin.Post("/unpause", s.handleUnpause)
			admin.Post("/fee-rate", s.handleFeeRate)
			admin.Post("/min-collateral", s.handleMinCollateral)
		})
	})

	return otelhttp.NewHandler(r, "synthd")
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("synthd: http server listening on %s", s.cfg.ListenAddress)
	var err error
	if s.cfg.TLS.enabled() {
		err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(route, status)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
