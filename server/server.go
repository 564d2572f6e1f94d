// Package server exposes the pulse queue over HTTP: enqueue, inspect,
// cancel, and a health probe. The API is a thin edge over the ingestor;
// all queue semantics live in the pulse package.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/pulse"
)

// ShutdownTimeout bounds graceful shutdown
const ShutdownTimeout = 10 * time.Second

// Server is the HTTP API over the pulse queue
type Server struct {
	ingestor   *pulse.Ingestor
	ticker     *pulse.Ticker
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
	httpServer *http.Server
}

// New builds the API server from configuration
func New(cfg am.ServerConfig, ingestor *pulse.Ingestor, ticker *pulse.Ticker, logger *zap.SugaredLogger) *Server {
	s := &Server{
		ingestor: ingestor,
		ticker:   ticker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pulses", s.handleCreatePulse)      // Enqueue (rate limited)
	mux.HandleFunc("GET /api/pulses", s.handleListPulses)        // List with ?status= and ?limit=
	mux.HandleFunc("GET /api/pulses/{id}", s.handleGetPulse)     // Single pulse
	mux.HandleFunc("DELETE /api/pulses/{id}", s.handleCancelPulse)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s
}

// Handler returns the routing handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Infow("HTTP API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
