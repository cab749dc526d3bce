// Package server exposes endpoint health and admission state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/engine"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/rate"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Metrics serves /metrics when set
	Metrics http.Handler

	Logger *zap.Logger
}

// EndpointStatus is the state of one registry endpoint.
type EndpointStatus struct {
	Endpoint string                   `json:"endpoint"`
	Excluded string                   `json:"excluded,omitempty"`
	Health   health.Summary           `json:"health"`
	Breakers []breaker.Snapshot       `json:"breakers"`
	Limiter  rate.Snapshot            `json:"limiter"`
	Bulkhead breaker.BulkheadSnapshot `json:"bulkhead"`
}

// Server serves the status API for a running monitor.
type Server struct {
	registry *engine.Registry
	monitor  *engine.Monitor
	metrics  http.Handler
	logger   *zap.Logger
}

// New creates a server over the registry the monitor probes.
func New(registry *engine.Registry, monitor *engine.Monitor, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		registry: registry,
		monitor:  monitor,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/endpoints", func(r chi.Router) {
		r.Get("/", s.handleEndpoints)
		r.Get("/{endpoint}/health", s.handleHealth)
		r.Post("/{endpoint}/reinstate", s.handleReinstate)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	eps := s.registry.Endpoints()
	out := make([]EndpointStatus, 0, len(eps))
	for _, ep := range eps {
		out = append(out, s.status(ep))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointParam(w, r)
	if !ok {
		return
	}
	summary, found := s.monitor.Summary(id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, engine.EndpointHealth{Endpoint: id, Summary: summary})
}

func (s *Server) handleReinstate(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointParam(w, r)
	if !ok {
		return
	}
	ep, found := s.registry.Lookup(id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	ep.Reinstate()
	writeJSON(w, http.StatusOK, s.status(ep))
}

func (s *Server) status(ep *engine.Endpoint) EndpointStatus {
	st := EndpointStatus{
		Endpoint: ep.ID(),
		Limiter:  ep.Limiter().Snapshot(),
		Bulkhead: ep.Bulkhead().Snapshot(),
	}
	if err := ep.Excluded(); err != nil {
		st.Excluded = err.Error()
	}
	if sum, ok := s.monitor.Summary(ep.ID()); ok {
		st.Health = sum
	}
	for _, b := range ep.Breakers() {
		st.Breakers = append(st.Breakers, b.Snapshot())
	}
	return st
}

// endpointParam decodes the URL-escaped endpoint identity.
func endpointParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "endpoint"))
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "invalid endpoint")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
