// Package server implements the HTTP transport layer for depot.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/auth"
	"github.com/eugener/depot/internal/datacache"
	"github.com/eugener/depot/internal/ratelimit"
	"github.com/eugener/depot/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// DataCache is the subset of *datacache.Cache the handlers use.
type DataCache interface {
	GetSource(ctx context.Context, src depot.Source, params map[string]string) (datacache.Result, error)
	RefreshSource(ctx context.Context, src depot.Source, params map[string]string) (json.RawMessage, error)
	Invalidate(name string, params map[string]string)
	Purge()
	Stats() depot.Stats
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Cache          DataCache
	Sources        *datacache.Sources
	Admin          *auth.TokenAuth     // nil = admin routes not mounted
	Limiter        *ratelimit.Registry // nil = read API unlimited
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
	Metrics        *telemetry.Metrics  // nil = no request metrics
	MetricsHandler http.Handler        // nil = no /metrics route
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Read API
	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(s.rateLimit)
		}
		r.Get("/v1/sources", s.handleListSources)
		r.Get("/v1/data/{name}", s.handleGetData)
		r.Get("/v1/stats", s.handleStats)
	})

	// Admin API
	if deps.Admin != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/v1/data/{name}/refresh", s.handleRefresh)
			r.Delete("/v1/cache", s.handlePurge)
			r.Delete("/v1/cache/{name}", s.handleInvalidate)
		})
	}

	return r
}

type server struct {
	deps Deps
}
