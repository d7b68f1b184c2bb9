// Package api provides the HTTP control surface for triggering and
// inspecting sync passes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/syncstatus"
)

// SyncController is the part of syncstatus.Controller the API drives.
type SyncController interface {
	Trigger(dryRun bool) (syncstatus.TriggerResult, error)
	Status() syncstatus.Snapshot
}

// CacheInvalidator drops cached library metadata.
type CacheInvalidator interface {
	Invalidate()
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	cache          CacheInvalidator
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithCacheInvalidator enables POST /metadata/cache/invalidate.
func WithCacheInvalidator(c CacheInvalidator) ServerOption {
	return func(cfg *serverConfig) {
		cfg.cache = c
	}
}

// DefaultMiddlewares is the middleware stack used by the serve command.
func DefaultMiddlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		LoggingMiddleware,
		CompressionMiddleware,
	}
}

// NewServer creates the HTTP router for ctrl.
func NewServer(ctrl SyncController, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{ctrl: ctrl, cache: cfg.cache}
	r.Get("/health", h.health)
	r.Route("/sync", func(r chi.Router) {
		r.Post("/trigger", h.triggerSync)
		r.Get("/status", h.syncStatus)
	})
	r.Post("/metadata/cache/invalidate", h.invalidateCache)
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}
	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		plog.Debug("HTTP",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// CompressionMiddleware gzips responses for clients that accept it.
func CompressionMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
