package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"smartpay/internal/cli"
	"smartpay/internal/config"
	apphttp "smartpay/internal/http"
	applog "smartpay/internal/log"
	"smartpay/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid alert timezone", "error", err, "timezone", cfg.AlertTimezone)
		os.Exit(1)
	}

	// Background work (queue workers, sweeper) outlives request contexts and
	// is stopped explicitly during shutdown.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	app := cli.BuildApp(bgCtx, logger, cfg)

	// In amqp mode the alert-worker process owns recovery.
	var sweeper *worker.Sweeper
	if cfg.EvaluatorMode != config.EvaluatorAMQP {
		if err := app.Worker.StartupSweep(bgCtx); err != nil {
			logger.Error("Failed startup sweep", "error", err)
		}
		sweeper = worker.NewSweeper(app.Worker, worker.SweeperConfig{PollInterval: cfg.SweepInterval})
		if err := sweeper.Start(bgCtx); err != nil {
			logger.Error("Failed to start recovery sweeper", "error", err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, app, apphttp.Options{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Location:          loc,
		Logger:            logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if sweeper != nil {
			if err := sweeper.Stop(ctx); err != nil {
				logger.Error("Sweeper shutdown error", "error", err)
			}
		}
		if err := app.Close(ctx); err != nil {
			logger.Error("Engine shutdown error", "error", err)
		}
		bgCancel()
	})

	logger.Info("Starting smartpay server",
		"port", cfg.Port,
		"data_backend", cfg.DataBackend,
		"evaluator_mode", cfg.EvaluatorMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
