// Package health exposes the probe and metrics HTTP endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/logging"
)

const (
	storePingTimeout  = 2 * time.Second
	readHeaderTimeout = 2 * time.Second
)

// StoreChecker reports whether the subscription store is reachable.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts /healthz and /metrics and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
	store  StoreChecker
}

type response struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// NewServer constructs the HTTP server on the provided port. /metrics is only
// mounted when gatherer is non-nil.
func NewServer(port int, store StoreChecker, gatherer prometheus.Gatherer, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger: logger,
		store:  store,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", srv.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	code := http.StatusOK

	if err := s.pingStore(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = "error"
		code = http.StatusServiceUnavailable
		s.logger.WithField("event", "health_store_error").WithError(err).Warn("store check failed during health check")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) pingStore(ctx context.Context) error {
	if s.store == nil {
		return errors.New("store checker is not configured")
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()

	return s.store.Ping(pingCtx)
}
