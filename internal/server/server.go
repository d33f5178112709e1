// Package server exposes recorded kernel runs over HTTP and can start new
// runs on request.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/loader"
	"github.com/me/os3/internal/store"
	"github.com/me/os3/internal/tracing"
)

// Server is the os3 REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
	registry  *loader.Registry
	tracer    *tracing.Tracer // optional; traces runs started over the API
	runs      chan struct{}   // admits one API-started run at a time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithRegistry sets the builtin application registry used by /apps and
// POST /runs. The default registry is used otherwise.
func WithRegistry(reg *loader.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithTracer traces runs started over the API.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		runs:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = loader.DefaultRegistry()
	}
	if s.config.RunTimeout <= 0 {
		s.config.RunTimeout = config.DefaultServerConfig().RunTimeout
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Get("/apps", s.handleListApps)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/events", s.handleListEvents)
				r.Get("/tasks", s.handleListTasks)
			})
		})
	})
}
