// Package httptransport assembles the public HTTP surface: shared middleware,
// the versioned API, admin routes and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "tiergate/internal/platform/metrics"
	"tiergate/pkg/platform/httputil"
	"tiergate/pkg/platform/middleware/auth"
	"tiergate/pkg/platform/middleware/metadata"
	"tiergate/pkg/platform/middleware/request"
	"tiergate/pkg/platform/middleware/requesttime"
)

// Module is implemented by every bounded context's handler.
type Module interface {
	Register(r chi.Router)
}

// AdminModule additionally mounts operator routes, each under /admin.
type AdminModule interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger         *slog.Logger
	Metrics        *platformmetrics.HTTP
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// AdminValidator guards /v1/admin. Admin routes are not mounted without
	// one.
	AdminValidator auth.TokenValidator
	HealthChecks   map[string]HealthCheck
}

// NewRouter mounts modules under /v1. Admin routes share the prefix but sit
// behind RequireAdmin.
func NewRouter(cfg Config, modules ...Module) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(request.Timeout(timeout))
		r.Use(request.ContentTypeJSON)
		for _, m := range modules {
			m.Register(r)
		}

		if cfg.AdminValidator == nil {
			logger.Warn("admin routes disabled: no token validator configured")
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(cfg.AdminValidator, logger))
			for _, m := range modules {
				if am, ok := m.(AdminModule); ok {
					am.RegisterAdmin(r)
				}
			}
		})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
