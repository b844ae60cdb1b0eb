// Package server exposes the dispatch service over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arqlabs/cascade/internal/metrics"
	"github.com/arqlabs/cascade/internal/tracing"
)

// Server is the HTTP server for the cascade API. It binds the chi router
// to the configured address and provides graceful shutdown support.
type Server struct {
	router  chi.Router
	handler *Handler
	addr    string
	httpSrv *http.Server
}

// NewServer creates a new Server with the given Handler, listen address,
// and HTTP timeout durations. Zero-value timeouts leave the corresponding
// http.Server field at its default (no timeout).
func NewServer(handler *Handler, addr string, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	r := chi.NewRouter()

	// Standard chi middleware.
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tracing.HTTPMiddleware)

	r.Post("/v1/dispatch", handler.HandleDispatch)
	r.Get("/v1/providers", handler.HandleProviders)
	r.Post("/v1/providers/{name}/reset", handler.HandleProviderReset)
	r.Get("/v1/stats", handler.HandleStats)
	r.Get("/v1/history", handler.HandleHistory)
	r.Get("/health", handler.HandleHealth)
	r.Get("/health/ready", handler.HandleReady)

	if handler.collector != nil {
		r.Get("/metrics", metrics.PrometheusHandler(handler.collector))
	}

	srv := &Server{
		router:  r,
		handler: handler,
		addr:    addr,
	}

	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return srv
}

// Router returns the underlying chi.Router, useful for testing or
// additional route mounting by the caller.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
