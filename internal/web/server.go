// Package web serves the read-only audit API and Prometheus metrics.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/storage"
)

type Server struct {
	httpServer *http.Server
	repo       *storage.Repository
	port       int
	logger     *logger.Logger
}

func NewServer(repo *storage.Repository, port int, log *logger.Logger) *Server {
	s := &Server{
		repo:   repo,
		port:   port,
		logger: log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/traces", s.handleTraces)
	mux.HandleFunc("GET /api/intents", s.handleIntents)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/exposure", s.handleExposure)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
