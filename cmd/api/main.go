package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/txops/internal/bootstrap"
	"github.com/cassiomorais/txops/internal/controller"
	infraRedis "github.com/cassiomorais/txops/internal/infrastructure/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "txops-api", "txops")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config
	engines := app.Engines
	webhookQueue := infraRedis.NewStreamProducer(app.Redis, cfg.Worker.WebhookStream)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Health: controller.NewHealthController(
			engines.Reaper,
			controller.PostgresCheck(app.Pool),
			controller.RedisCheck(app.Redis),
		),
		Jobs: controller.NewJobController(
			engines.Refund, engines.Completion, engines.Void,
			app.Refunds, app.Completions, app.Voids,
		),
		Webhooks:         controller.NewWebhookController(webhookQueue),
		Cron:             controller.NewCronController(engines.Sweeps),
		IdempotencyStore: app.Idempotency,
		IdempotencyTTL:   cfg.Worker.IdempotencyTTL,
		Metrics:          app.Metrics,
		CORSConfig:       cfg.Server.CORS,
		JWTSecret:        cfg.Auth.JWTSecret,
		WebhookRateLimit: cfg.Server.WebhookRateLimit,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	app.Logger.Info().Msg("Server exited")
}
