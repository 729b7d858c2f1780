// Package http is the collaborator edge: a read-mostly JSON API over
// the signal pipeline plus the SSE/WebSocket feed. The live gate's
// Layer 3 runs here as middleware; every response carries the effective
// mode so a caller can always tell demo output from live output.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/activity"
	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/generator"
	"github.com/omenworks/omen/internal/ledger"
	"github.com/omenworks/omen/internal/metrics"
	"github.com/omenworks/omen/internal/persistence"
	"github.com/omenworks/omen/internal/pipeline"
	"github.com/omenworks/omen/internal/sources"
	"github.com/omenworks/omen/internal/stream"
)

// Config holds the HTTP edge settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	StreamBuffer    int
	StreamHeartbeat time.Duration
}

// DefaultConfig binds local-only on 8080.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Deps wires the server to the rest of the system. Demo and Live are
// separately configured orchestrators; the mode decision picks between
// them per request. Nil Ledger, Attests, Collector, Activity,
// Rejections and Loop degrade the matching endpoints instead of
// crashing them.
type Deps struct {
	Repo       persistence.Repository
	Demo       *pipeline.Orchestrator
	Live       *pipeline.Orchestrator
	Sources    []sources.Source
	Gate       *attest.LiveGate
	Registry   *attest.Registry
	Attests    *attest.Store
	Collector  *metrics.Collector
	Activity   *activity.Log
	Rejections *activity.Tracker
	Hub        *stream.Hub
	Loop       *generator.Loop
	Ledger     *ledger.Ledger
}

// Server is the HTTP edge.
type Server struct {
	cfg      Config
	router   *mux.Router
	server   *http.Server
	handlers *handlers
	logger   zerolog.Logger
	started  time.Time
}

// NewServer assembles the router, middleware chain and handlers.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("http server: repository is required")
	}
	if deps.Demo == nil {
		return nil, fmt.Errorf("http server: demo orchestrator is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("http server: live gate is required")
	}

	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "http").Logger(),
		started: time.Now().UTC(),
	}
	s.handlers = newHandlers(deps, s.logger, func() time.Duration {
		return time.Since(s.started)
	})
	s.setupRoutes(deps)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.modeMiddleware(deps.Gate))
	if deps.Collector != nil {
		s.router.Use(instrumentMiddleware(deps.Collector.Registry()))
	}

	// Streaming endpoints sit outside the timeout and JSON middleware:
	// both connections are long-lived and set their own content types.
	if deps.Hub != nil {
		s.router.Handle("/signals/stream",
			stream.SSEHandler(deps.Hub, stream.SSEConfig{
				Buffer:    s.cfg.StreamBuffer,
				Heartbeat: s.cfg.StreamHeartbeat,
			}, s.logger)).Methods(http.MethodGet)
		s.router.Handle("/signals/stream/ws",
			stream.WSHandler(deps.Hub, s.cfg.StreamBuffer, s.logger)).Methods(http.MethodGet)
	}

	if deps.Collector != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(
			deps.Collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/signals/batch", s.handlers.Batch).Methods(http.MethodPost)
	api.HandleFunc("/signals/refresh", s.handlers.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/signals/generate", s.handlers.Generate).Methods(http.MethodPost)
	api.HandleFunc("/signals/generator/status", s.handlers.GeneratorStatus).Methods(http.MethodGet)
	api.HandleFunc("/signals/stats", s.handlers.Stats).Methods(http.MethodGet)
	api.HandleFunc("/signals/{signal_id}", s.handlers.GetSignal).Methods(http.MethodGet)
	api.HandleFunc("/signals", s.handlers.ListSignals).Methods(http.MethodGet)
	api.HandleFunc("/activity", s.handlers.Activity).Methods(http.MethodGet)
	api.HandleFunc("/rejections", s.handlers.Rejections).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handlers.MethodNotAllowed)
}

// Start listens and serves until Shutdown. The port is probed first so
// a busy port fails fast with a usable error.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http server: port %d busy or unavailable: %w", s.cfg.Port, err)
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.server.Addr }
