// Package httpapi exposes the discovery pipeline's REST trigger surface
// (spec.md §6 inbound): POST /api/search/execute, GET
// /api/discovery/sessions, the legacy POST /api/discovery/trigger, plus the
// ambient health, metrics, and system-status endpoints every service in this
// codebase carries.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/middleware"
	core "github.com/kevinhagel/fundingdiscovery/internal/app/core/service"
	appmetrics "github.com/kevinhagel/fundingdiscovery/internal/app/metrics"
	"github.com/kevinhagel/fundingdiscovery/internal/app/system"
	"github.com/kevinhagel/fundingdiscovery/pkg/config"
	"github.com/kevinhagel/fundingdiscovery/pkg/version"
)

// Server is the lifecycle-managed HTTP trigger server.
type Server struct {
	cfg        config.ServerConfig
	handler    *Handler
	logger     *logging.Logger
	metrics    *metrics.Metrics
	router     chi.Router
	httpServer *http.Server
}

// NewServer assembles the router, middleware stack, and handler set.
func NewServer(cfg config.ServerConfig, h *Handler, logger *logging.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		handler: h,
		logger:  logger,
		metrics: m,
	}
	s.router = s.buildRouter()
	return s
}

var _ system.Service = (*Server)(nil)

// Name implements system.Service.
func (s *Server) Name() string { return "discovery-http" }

// Descriptor implements system.DescriptorProvider.
func (s *Server) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         s.Name(),
		Domain:       "discovery",
		Layer:        core.LayerIngress,
		Capabilities: []string{"rest", "metrics", "health"},
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(s.logger).Handler)
	r.Use(middleware.NewTracingMiddleware(s.logger).Handler)
	r.Use(middleware.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware("discovery", s.metrics))
	}
	r.Use(middleware.NewCORSMiddleware(nil).Handler)
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	r.Use(middleware.NewBodyLimitMiddleware(1 << 20).Handler)
	r.Use(middleware.NewValidationMiddleware(middleware.DefaultValidationConfig()).Handler)
	r.Use(middleware.NewTimeoutMiddleware(60 * time.Second).Handler)
	r.Use(middleware.NewRateLimiterFromConfig(middleware.DefaultRateLimiterConfig(s.logger)).Handler)

	health := middleware.NewHealthChecker(version.Version)
	r.Get("/health", health.Handler())
	r.Get("/health/live", middleware.LivenessHandler())
	r.Handle("/metrics", appmetrics.InstrumentHandler(appmetrics.Handler()))

	r.Get("/system/status", s.handler.SystemStatus)

	r.Route("/api", func(r chi.Router) {
		r.Post("/search/execute", s.handler.ExecuteSearch)
		r.Get("/usage", s.handler.EngineUsage)
		r.Route("/discovery", func(r chi.Router) {
			r.Get("/sessions", s.handler.ListSessions)
			r.Post("/sessions/{sessionID}/cancel", s.handler.CancelSession)
			r.Post("/trigger", s.handler.LegacyTrigger)
		})
	})

	return r
}

// Router exposes the assembled handler chain, used directly by tests.
func (s *Server) Router() http.Handler { return s.router }

// Start implements system.Service: binds the configured address and serves
// until Stop.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed && s.logger != nil {
			s.logger.Error(context.Background(), "http server terminated", err, nil)
		}
	}()
	if s.logger != nil {
		s.logger.Info(ctx, "http server listening", map[string]interface{}{"addr": addr})
	}
	return nil
}

// Stop implements system.Service with a graceful drain bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
