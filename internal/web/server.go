// Package web serves the chart API and a small viewer page.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chartcore/internal/market"
	"chartcore/internal/service"
	"chartcore/pkg/model"
)

//go:embed static
var staticFiles embed.FS

// ChartService is what the handlers need from the chart service
type ChartService interface {
	Build(ctx context.Context, req service.Request) (*service.View, error)
	Candles(ctx context.Context, ticker string) ([]model.PriceBar, error)
	Status(ctx context.Context) market.MarketStatus
}

// StatusSource supplies a cached market status, typically a market.Watcher
type StatusSource interface {
	Current() market.MarketStatus
}

// Server represents the web server
type Server struct {
	svc    ChartService
	status StatusSource
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new web server. status may be nil, in which case the
// market status is computed per request.
func NewServer(svc ChartService, status StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		status: status,
		logger: logger.With("component", "web"),
	}
}

// Handler builds the router
func (s *Server) Handler() (http.Handler, error) {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware)

	cfg := huma.DefaultConfig("chartcore API", "1.0.0")
	api := humachi.New(router, cfg)
	s.registerHandlers(api)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static file system: %w", err)
	}
	router.Handle("/*", http.FileServer(http.FS(staticFS)))

	return router, nil
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting chart server", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
