package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/txops/internal/application/jobs"
	"github.com/cassiomorais/txops/internal/application/webhook"
	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/internal/infrastructure/gatewayapi"
	"github.com/cassiomorais/txops/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/txops/internal/infrastructure/redis"
	"github.com/cassiomorais/txops/internal/infrastructure/shop"
	"github.com/cassiomorais/txops/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	Mirrors     *postgres.MirrorRepository
	Refunds     *postgres.RefundRepository
	Completions *postgres.CompletionRepository
	Voids       *postgres.VoidRepository
	Idempotency *postgres.IdempotencyRepository

	Engines *Engines
}

// Engines are the job engines and their drivers, wired to the app's stores.
type Engines struct {
	Mirror     *jobs.MirrorService
	Refund     *jobs.RefundEngine
	Completion *jobs.CompletionEngine
	Void       *jobs.VoidEngine
	Reaper     *jobs.Reaper
	Sweeps     *jobs.SweepRunner
	Dispatcher *webhook.Dispatcher
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Redis:       redisClient,
		Metrics:     metrics,
		Mirrors:     postgres.NewMirrorRepository(pool),
		Refunds:     postgres.NewRefundRepository(pool),
		Completions: postgres.NewCompletionRepository(pool),
		Voids:       postgres.NewVoidRepository(pool),
		Idempotency: postgres.NewIdempotencyRepository(pool),
	}

	app.Engines, err = app.newEngines()
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) newEngines() (*Engines, error) {
	cfg := a.Config

	gw, err := a.newGateway()
	if err != nil {
		return nil, err
	}

	shopClient, err := shop.New(cfg.Shop)
	if err != nil {
		return nil, fmt.Errorf("create shop client: %w", err)
	}

	strategy, err := commerce.NewStrategy(cfg.Jobs.RefundStrategy, shopClient)
	if err != nil {
		return nil, fmt.Errorf("select refund strategy: %w", err)
	}

	deps := jobs.Deps{
		Lock:        postgres.NewTransactionLock(a.Pool, cfg.Jobs.LockTimeout, a.Metrics),
		Mirrors:     a.Mirrors,
		Refunds:     a.Refunds,
		Completions: a.Completions,
		Voids:       a.Voids,
		Gateway:     gw,
		Orders:      shopClient,
		Observer:    a.Metrics,
		Logger:      a.Logger,
	}

	e := &Engines{
		Mirror:     jobs.NewMirrorService(deps),
		Refund:     jobs.NewRefundEngine(deps, strategy, cfg.Jobs.ApplyMaxRetries, cfg.Jobs.PricePrecision),
		Completion: jobs.NewCompletionEngine(deps),
		Void:       jobs.NewVoidEngine(deps),
	}
	e.Reaper = jobs.NewReaper(deps, e.Refund, e.Completion, e.Void, cfg.Jobs.ReaperSafetyMargin)
	e.Sweeps = jobs.NewSweepRunner(e.Reaper, func() jobs.SweepGuard {
		return infraRedis.NewLock(a.Redis, infraRedis.SweepLockKey, cfg.Worker.SweepLockTTL)
	}, cfg.Worker.SweepBudget).WithObserver(a.Metrics)
	e.Dispatcher = webhook.NewDispatcher(gw, a.Mirrors, e.Mirror, e.Refund, e.Completion, e.Void, a.Metrics, a.Logger)

	return e, nil
}

func (a *App) newGateway() (gateway.Client, error) {
	if a.Config.Gateway.Mock {
		a.Logger.Warn().Msg("Using the in-memory gateway simulator")
		return gatewayapi.NewSimulator(), nil
	}
	gw, err := gatewayapi.New(a.Config.Gateway, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create gateway client: %w", err)
	}
	return gw, nil
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}
