// Package server exposes a training run over HTTP: a health endpoint, the
// Prometheus scrape handler, and a read-only view of the run registry.
//
// The server is optional and runs alongside training when
// server.enabled is set. Endpoints other than /health can be put behind
// JWT bearer authentication (see auth.go).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/observability"
	"github.com/reeceomahoney/locodiff/pkg/runs"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultListLimit  = 50
	readHeaderTimeout = 5 * time.Second
)

// Options are the collaborators for creating a Server.
type Options struct {
	// Config is the server section of the experiment config (required).
	Config *config.ServerConfig

	// Registry backs the /api/runs endpoints (optional; without it they
	// return 503).
	Registry *runs.Registry

	// Metrics is the Prometheus scrape handler mounted at /metrics
	// (optional).
	Metrics http.Handler

	// Tracer and Recorder instrument every request (optional).
	Tracer   trace.Tracer
	Recorder observability.Recorder
}

// Server is the training status server.
type Server struct {
	cfg      *config.ServerConfig
	registry *runs.Registry
	server   *http.Server
}

// New builds the router and, when auth is configured, the JWT validator.
// The validator's JWKS refresh runs until ctx is cancelled.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server config is required")
	}

	s := &Server{cfg: opts.Config, registry: opts.Registry}

	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(opts.Tracer, opts.Recorder))

	if opts.Config.Auth.IsEnabled() {
		validator, err := NewJWTValidator(ctx, opts.Config.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize auth: %w", err)
		}
		r.Use(validator.Middleware)
		slog.Info("Status server auth enabled", "issuer", opts.Config.Auth.Issuer)
	}

	r.Get("/health", s.handleHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	s.server = &http.Server{
		Addr:              opts.Config.Address(),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Start listens in a background goroutine and returns once the listener is
// running. Server errors after startup are logged, not returned.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			slog.Error("Status server failed", "error", err)
		}
	}()

	// Surface immediate bind failures to the caller.
	select {
	case err := <-errCh:
		return fmt.Errorf("status server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	slog.Info("Status server listening", "address", s.cfg.Address())
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "run registry is not configured")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.registry.List(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": list, "count": len(list)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "run registry is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
			return
		}
		slog.Error("Failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
