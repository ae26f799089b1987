// Package api exposes the flow controller and session store over HTTP.
//
// It serves POST /events for channel-less clients, session inspection and reset,
// a health check and the Prometheus metrics of the process.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/NutriPipe/internal/flow"
	"github.com/BTreeMap/NutriPipe/internal/metrics"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default HTTP listen address. The API has no authentication,
	// so it listens on loopback unless told otherwise.
	DefaultAddr = "127.0.0.1:8080"
	// DefaultRequestTimeout bounds a single request, including the flow dispatch
	DefaultRequestTimeout = 30 * time.Second
	// DefaultShutdownTimeout is how long Run waits for in-flight requests on shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// MaxRequestBodyBytes caps the JSON body of POST /events (images are base64 inside it)
	MaxRequestBodyBytes = 25 << 20
)

// Dispatcher runs one event and waits for its result. *messaging.Dispatcher implements it.
type Dispatcher interface {
	Do(ctx context.Context, ev models.Event) (*flow.Result, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	RequestTimeout time.Duration
	Metrics        *metrics.Collector
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RequestTimeout = d
	}
}

// WithMetrics records HTTP requests on c and serves its registry on /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Opts) {
		o.Metrics = c
	}
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	dispatcher Dispatcher
	states     flow.StateManager
	store      store.Store
	opts       Opts
	router     http.Handler
}

// NewServer creates a Server. The router is built once and can be served by
// Run or mounted elsewhere through Handler.
func NewServer(dispatcher Dispatcher, states flow.StateManager, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, RequestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{dispatcher: dispatcher, states: states, store: st, opts: cfg}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.opts.Metrics))
	r.Use(chimiddleware.Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.healthHandler)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Post("/events", s.eventsHandler)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessionsHandler)
		r.Get("/{userID}", s.getSessionHandler)
		r.Delete("/{userID}", s.resetSessionHandler)
	})
	return r
}

// Run serves the API until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !isLoopback(s.opts.Addr) {
		slog.Warn("Server.Run: API is unauthenticated and listens beyond loopback", "addr", s.opts.Addr)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}

// isLoopback reports whether addr binds only to a loopback interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
