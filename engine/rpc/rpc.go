// Package rpc serves the router's JSON API over chi
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Str("component", "rpc").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Address               string
	AllowedOrigins        []string
	EnableMetrics         bool
	RatePerMinute         *int
	MaxConcurrentRequests *int
	Telemetry             *telemetry.Config
}

// DefaultServerConfig returns a default server configuration
func DefaultServerConfig() *ServerConfig {
	rateLimit := 0
	maxConcurrentRequests := 200
	return &ServerConfig{
		Address:               "localhost:8080",
		AllowedOrigins:        []string{"http://localhost:3000", "http://localhost:8080"},
		EnableMetrics:         true,
		RatePerMinute:         &rateLimit,
		MaxConcurrentRequests: &maxConcurrentRequests,
	}
}

// maxBodyBytes bounds request bodies, the largest is a delivery with its payload
const maxBodyBytes = 1 << 20

// Server owns the http listener, the API routes and the telemetry providers it installed
type Server struct {
	config            *ServerConfig
	api               *API
	mux               *chi.Mux
	httpServer        *http.Server
	telemetryShutdown func(context.Context) error
}

// NewServer creates the API server. Telemetry is installed when configured; a failure there is
// logged and the server runs without it.
func NewServer(ctx context.Context, config *ServerConfig, api *API) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if api == nil || api.Catalog == nil || api.Transfers == nil || api.Fees == nil {
		return nil, fmt.Errorf("api needs a catalog, transfers and a fee ledger")
	}

	s := &Server{config: config, api: api}
	if config.Telemetry.Enabled() {
		shutdown, err := telemetry.Setup(ctx, config.Telemetry)
		if err != nil {
			Logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry, continuing without it")
		} else {
			s.telemetryShutdown = shutdown
		}
	}

	s.mux = s.router()
	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           h2c.NewHandler(newCORSHandler(config.AllowedOrigins, s.mux), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// router assembles the middleware chain, the server endpoints and the versioned API
func (s *Server) router() *chi.Mux {
	mux := chi.NewMux()
	mux.Use(
		middleware.RequestID,
		zerologMiddleware,
		zerologRecoverer,
		middleware.RealIP,
		realIPMiddleware,
		middleware.Compress(5),
		middleware.Timeout(60*time.Second),
	)
	if s.config.Telemetry != nil && s.config.Telemetry.EnableTracing {
		mux.Use(otelHTTPMiddleware)
	}
	if limit := s.config.RatePerMinute; limit != nil && *limit > 0 {
		mux.Use(httprate.LimitByIP(*limit, time.Minute))
	}
	if inflight := s.config.MaxConcurrentRequests; inflight != nil && *inflight > 0 {
		mux.Use(middleware.Throttle(*inflight))
	}

	mux.Route("/server", func(r chi.Router) {
		if s.metricsEnabled() {
			r.Handle("/metrics", promhttp.Handler())
		}
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
	})
	mux.Route("/v1", func(r chi.Router) {
		r.Use(
			noCacheMiddleware,
			middleware.RequestSize(maxBodyBytes),
			middleware.AllowContentType("application/json"),
		)
		s.api.Routes(r)
	})
	return mux
}

func (s *Server) metricsEnabled() bool {
	return s.config.EnableMetrics || (s.config.Telemetry != nil && s.config.Telemetry.UsePrometheus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "stable-router"})
}

// handleReady answers 503 until a catalog snapshot is loaded
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.api.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ready",
		"catalog_version": s.api.Catalog.Snapshot().Version(),
	})
}

// Handler exposes the full middleware chain, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves plain http (and h2c) until Shutdown
func (s *Server) Start() error {
	s.logRoutes("http")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartTLS serves https until Shutdown
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.logRoutes("https")
	if err := s.httpServer.ListenAndServeTLS(certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logRoutes prints every mounted endpoint once at startup
func (s *Server) logRoutes(protocol string) {
	Logger.Info().
		Str("address", s.config.Address).
		Str("protocol", protocol).
		Msg("Stable router API starting")

	_ = chi.Walk(s.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		Logger.Info().Str("method", method).Str("route", route).Msg("Endpoint")
		return nil
	})
}

// Shutdown drains the http server, then flushes telemetry
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down API server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		Logger.Error().Err(err).Msg("API server shutdown incomplete")
		return err
	}
	Logger.Info().Msg("Server shutdown complete")
	return nil
}
