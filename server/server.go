// Package server implements the taskforce HTTP server: REST API, JWT auth,
// SSE events and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/config"
	"github.com/GoCodeAlone/taskforce/server/api"
	"github.com/GoCodeAlone/taskforce/server/ws"
)

// Server is the taskforce HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	scheduler api.Scheduler
	teams     api.TeamDirectory
	bus       comms.Bus
	gatherer  prometheus.Gatherer
	handlers  *api.Handlers

	hub         *ws.Hub
	unsubscribe func()
	routesOnce  sync.Once

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		hub:       ws.NewHub(logger),
		startTime: time.Now(),
		version:   ver,
	}
}

// SetScheduler attaches the orchestrator the API drives.
func (s *Server) SetScheduler(sched api.Scheduler) { s.scheduler = sched }

// SetTeams attaches the team directory.
func (s *Server) SetTeams(teams api.TeamDirectory) { s.teams = teams }

// SetBus attaches a comms bus. Its traffic is streamed on /events.
func (s *Server) SetBus(bus comms.Bus) { s.bus = bus }

// SetMetricsGatherer exposes g on /metrics.
func (s *Server) SetMetricsGatherer(g prometheus.Gatherer) { s.gatherer = g }

// Handler registers routes on first use and returns the root handler.
func (s *Server) Handler() http.Handler {
	s.registerRoutes()
	return s.mux
}

// Start registers routes and begins listening. It returns
// http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.Auth.AdminPass == "" {
		s.logger.Warn("auth.admin_pass is not set; login is disabled")
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
	return s.httpSrv.Serve(ln)
}

// Stop ends SSE streams and gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.routesOnce.Do(func() {
		h := &api.Handlers{
			Scheduler: s.scheduler,
			Teams:     s.teams,
			Bus:       s.bus,
			Logger:    s.logger,
			Version:   s.version,
			StartedAt: s.startTime,
		}
		s.handlers = h

		if s.bus != nil {
			s.unsubscribe = s.bus.Subscribe(comms.Wildcard, s.hub.Handle)
		}

		// Public routes (no auth required)
		s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
		s.mux.HandleFunc("GET /api/status", h.StatusHandler())
		if s.gatherer != nil {
			s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}

		s.mux.Handle("GET /events", s.authMiddleware(http.HandlerFunc(s.hub.ServeSSE)))

		// Protected API
		apiMux := http.NewServeMux()
		h.RegisterRoutes(apiMux)
		apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

		s.mux.Handle("/api/", s.authMiddleware(apiMux))
	})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
