package main

import (
	"context"
	"errors"
	"os"
	"time"

	"smartpay/internal/cli"
	"smartpay/internal/config"
	applog "smartpay/internal/log"
	"smartpay/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting alert-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.EvaluatorMode != config.EvaluatorAMQP {
		logger.Error("alert-worker consumes from RabbitMQ; set EVALUATOR_MODE=amqp",
			"evaluator_mode", cfg.EvaluatorMode)
		os.Exit(1)
	}

	consumeCtx, consumeCancel := context.WithCancel(context.Background())
	defer consumeCancel()

	app := cli.BuildApp(consumeCtx, logger, cfg)

	// On startup, evaluate any expenses whose message was lost
	logger.Info("Performing startup recovery sweep...")
	if err := app.Worker.StartupSweep(consumeCtx); err != nil {
		logger.Error("Failed startup sweep", "error", err)
	}

	sweeper := worker.NewSweeper(app.Worker, worker.SweeperConfig{PollInterval: cfg.SweepInterval})
	if err := sweeper.Start(consumeCtx); err != nil {
		logger.Error("Failed to start recovery sweeper", "error", err)
		os.Exit(1)
	}

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		if err := app.AMQP.ConsumeTransactionApplied(consumeCtx, app.Handler); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
	}()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		consumeCancel()
		select {
		case <-consumeDone:
		case <-ctx.Done():
			logger.Warn("Consumer did not stop before the shutdown timeout")
		}
		if err := sweeper.Stop(ctx); err != nil {
			logger.Error("Sweeper shutdown error", "error", err)
		}
		if err := app.Close(ctx); err != nil {
			logger.Error("Engine shutdown error", "error", err)
		}
	})

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
