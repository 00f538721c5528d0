package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustescrow/core/events"
	"trustescrow/gateway/audit"
	"trustescrow/gateway/middleware"
	"trustescrow/native/escrow"
)

type Config struct {
	Engine        *escrow.Engine
	Audit         *audit.Store
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger

	// Stream enables GET /v1/events/stream when set. It must also be
	// registered as an emitter on Engine.
	Stream *events.Hub

	// MetricsHandler serves /metrics. Defaults to the observability registry.
	MetricsHandler http.Handler
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: escrow engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metrics := cfg.MetricsHandler
	if metrics == nil && cfg.Observability != nil {
		metrics = cfg.Observability.MetricsHandler()
	}
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	h := &escrowRoutes{engine: cfg.Engine, audit: cfg.Audit, hub: cfg.Stream, logger: logger}
	r.Route("/v1", func(sr chi.Router) {
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware)
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware)
		}
		sr.Use(auditTrail(cfg.Audit, logger))
		h.mount(sr)
	})
	return r, nil
}
