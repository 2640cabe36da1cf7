package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/health"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/webhook"
)

type RouterConfig struct {
	Handler       *Handler
	Webhook       *webhook.Receiver
	HealthMonitor *health.Monitor
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Logger != nil {
		r.Use(observability.LoggingMiddleware(cfg.Logger))
	}

	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", cfg.HealthMonitor.Probe)
	r.Get("/health/details", cfg.HealthMonitor.Details)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/provider", cfg.Webhook.Handle)

	r.Post("/dispatch", cfg.Handler.Dispatch)
	r.Get("/trackings/{id}", cfg.Handler.GetTracking)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/trackings/{id}", cfg.Handler.GetTrackingAdmin)
		r.Post("/sync", cfg.Handler.Sync)
		r.Post("/settings/reload", cfg.Handler.ReloadSettings)
	})

	return r
}
