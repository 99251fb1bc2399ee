package controller

import (
	"time"

	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/txops/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Health           *HealthController
	Jobs             *JobController
	Webhooks         *WebhookController
	Cron             *CronController
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	Metrics          *observability.Metrics
	CORSConfig       config.CORSConfig
	JWTSecret        string
	WebhookRateLimit int
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	r.Get("/health", deps.Health.Health)
	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway and scheduler callbacks
		r.With(customMW.RateLimit(deps.WebhookRateLimit)).Post("/webhooks", deps.Webhooks.Receive)
		r.Post("/cron", deps.Cron.Sweep)

		// Admin operations
		r.Group(func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
			idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)

			r.With(idempotencyMW).Post("/orders/{orderID}/refunds", deps.Jobs.Refund)
			r.With(idempotencyMW).Post("/orders/{orderID}/completion", deps.Jobs.Complete)
			r.With(idempotencyMW).Post("/orders/{orderID}/void", deps.Jobs.Void)
			r.Get("/orders/{orderID}/jobs", deps.Jobs.List)
		})
	})

	return r
}
