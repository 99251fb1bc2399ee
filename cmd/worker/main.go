package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/txops/internal/application/webhook"
	"github.com/cassiomorais/txops/internal/bootstrap"
	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	infraRedis "github.com/cassiomorais/txops/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const idempotencyCleanupInterval = time.Hour

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "txops-worker", "txops_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Webhook stream consumer ---
	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		workerCfg.WebhookStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		os.Exit(1)
	}
	w := &worker{
		app:      app,
		consumer: consumer,
		dlq:      infraRedis.NewStreamProducer(app.Redis, workerCfg.WebhookStream),
	}

	app.Logger.Info().
		Str("stream", workerCfg.WebhookStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Dur("sweep_interval", workerCfg.SweepInterval).
		Msg("Worker started, listening for webhooks...")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Webhook processor (reads new notifications).
	g.Go(func() error { return w.runWebhookProcessor(gCtx) })

	// 2. Reclaims notifications a crashed or failing consumer left unacknowledged.
	g.Go(func() error { return w.runReclaimer(gCtx) })

	// 3. Periodic reaper sweeps, single-flight across workers.
	g.Go(func() error { return w.runSweeper(gCtx) })

	// 4. Expired idempotency keys.
	g.Go(func() error { return w.runIdempotencyCleanup(gCtx) })

	// 5. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

type worker struct {
	app      *bootstrap.App
	consumer *infraRedis.StreamConsumer
	dlq      *infraRedis.StreamProducer
}

func (w *worker) runWebhookProcessor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.app.Logger.Error().Err(err).Msg("Failed to read from stream")
			sleep(ctx, time.Second)
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *worker) runReclaimer(ctx context.Context) error {
	cfg := w.app.Config.Worker
	ticker := time.NewTicker(cfg.ClaimIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pending, err := w.consumer.Reclaim(ctx, cfg.ClaimIdle)
		if err != nil {
			w.app.Logger.Error().Err(err).Msg("Failed to reclaim pending webhooks")
			continue
		}
		for _, p := range pending {
			if p.Deliveries >= cfg.MaxDeliveries {
				w.deadLetter(ctx, p.Message, fmt.Sprintf("gave up after %d deliveries", p.Deliveries))
				continue
			}
			w.handle(ctx, p.Message)
		}
	}
}

// handle dispatches one notification. Failed dispatches stay pending and
// are retried by the reclaimer.
func (w *worker) handle(ctx context.Context, msg redis.XMessage) {
	stream := w.consumer.Stream()
	start := time.Now()
	defer func() {
		w.app.Metrics.WorkerProcessingDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
	}()

	var n webhook.Notification
	if err := infraRedis.DecodePayload(msg, &n); err != nil {
		w.deadLetter(ctx, msg, err.Error())
		return
	}

	logger := w.app.Logger.With().
		Str("message_id", msg.ID).
		Str("entity", n.Entity()).
		Int64("space_id", n.SpaceID).
		Int64("entity_id", n.EntityID).
		Logger()

	if err := w.app.Engines.Dispatcher.Dispatch(ctx, n); err != nil {
		logger.Warn().Err(err).Msg("Webhook dispatch failed, will be redelivered")
		w.app.Metrics.WorkerMessagesProcessed.WithLabelValues(stream, "retry").Inc()
		return
	}

	if err := w.consumer.Ack(ctx, msg.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to ack webhook")
	}
	w.app.Metrics.WorkerMessagesProcessed.WithLabelValues(stream, "success").Inc()
	logger.Debug().Msg("Webhook processed")
}

func (w *worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	stream := w.consumer.Stream()
	if err := w.dlq.PublishToDLQ(ctx, msg, reason); err != nil {
		w.app.Logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter webhook")
		return
	}
	if err := w.consumer.Ack(ctx, msg.ID); err != nil {
		w.app.Logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack dead-lettered webhook")
	}
	w.app.Metrics.WorkerMessagesProcessed.WithLabelValues(stream, "dead_letter").Inc()
	w.app.Logger.Warn().Str("message_id", msg.ID).Str("reason", reason).Msg("Webhook moved to DLQ")
}

func (w *worker) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(w.app.Config.Worker.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// A zero deadline sweeps for the configured budget.
		if _, err := w.app.Engines.Sweeps.Run(ctx, time.Time{}); err != nil {
			if errors.Is(err, domainErrors.ErrSweepInProgress) {
				w.app.Logger.Debug().Msg("Sweep skipped, another one is running")
				continue
			}
			w.app.Logger.Error().Err(err).Msg("Sweep failed")
		}
	}
}

func (w *worker) runIdempotencyCleanup(ctx context.Context) error {
	ticker := time.NewTicker(idempotencyCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := w.app.Idempotency.Cleanup(ctx)
		if err != nil {
			w.app.Logger.Error().Err(err).Msg("Idempotency cleanup failed")
			continue
		}
		if n > 0 {
			w.app.Logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
