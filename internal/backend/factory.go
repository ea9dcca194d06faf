package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smartpay/internal/alerts"
	"smartpay/internal/amqp"
	"smartpay/internal/archive"
	"smartpay/internal/config"
	"smartpay/internal/events"
	"smartpay/internal/ledger"
	"smartpay/internal/notify"
	"smartpay/internal/rules"
	"smartpay/internal/settings"
	gsheet "smartpay/internal/sheets/google"
	"smartpay/internal/storage"
	"smartpay/internal/storage/memory"
	"smartpay/internal/worker"
)

// CleanupFunc releases one resource during shutdown.
type CleanupFunc func(ctx context.Context) error

// App is the assembled engine.
type App struct {
	Store     Store
	Ledger    *ledger.Ledger
	Evaluator *rules.Evaluator
	Alerts    *alerts.Sink
	Settings  *settings.Service
	Worker    *worker.AlertWorker

	// Handler evaluates one "transaction applied" message.
	Handler events.Handler
	// AMQP is set in amqp evaluator mode.
	AMQP *amqp.Client

	cleanups []CleanupFunc
}

func (a *App) addCleanup(fn CleanupFunc) {
	a.cleanups = append(a.cleanups, fn)
}

// Close runs cleanups in reverse order: transports first, then notification
// delivery, then the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// CreateStore opens the configured data backend.
func (f *Factory) CreateStore(cfg *config.Config) (Store, error) {
	bt := BackendType(cfg.DataBackend)
	switch bt {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.DataBackend)
	}
}

// Build assembles the engine. In queue mode the in-process workers are
// started with ctx; in amqp mode App.AMQP publishes and the caller decides
// whether to consume.
func (f *Factory) Build(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := f.CreateStore(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Store: store}
	app.addCleanup(func(context.Context) error { return store.Close() })

	if err := f.wire(ctx, cfg, app); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (f *Factory) wire(ctx context.Context, cfg *config.Config, app *App) error {
	rc, err := cfg.RulesConfig()
	if err != nil {
		return err
	}
	app.Evaluator = rules.NewEvaluator(app.Store, rc)

	// recorders register their cleanup first so it runs after the sink drains
	recorders := f.recorders(ctx, cfg, app)
	app.Alerts = alerts.NewSink(app.Store, f.notifier(cfg), alerts.Config{
		NotifyTimeout: cfg.NotifyTimeout,
		MaxInFlight:   int64(cfg.NotifyMaxInFlight),
	}, recorders...)
	app.addCleanup(func(context.Context) error {
		app.Alerts.Wait()
		return nil
	})

	app.Worker = worker.NewAlertWorker(app.Store, app.Evaluator, app.Alerts, worker.Config{
		BatchSize:   cfg.SweepBatchSize,
		Lookback:    cfg.SweepLookback,
		SettleDelay: cfg.SettleDelay,
	})
	app.Handler = app.Worker.HandleTransactionApplied

	if cfg.ArchiveBigQueryProject != "" {
		ea, err := archive.NewEventArchive(ctx, cfg.ArchiveBigQueryProject, cfg.ArchiveBigQueryDataset, cfg.ArchiveBigQueryTable)
		if err != nil {
			f.logger.Warn("Failed to initialize BigQuery archive, continuing without it", "error", err)
		} else {
			app.Handler = ea.Wrap(app.Handler)
			app.addCleanup(func(context.Context) error { return ea.Close() })
			f.logger.Info("Initialized BigQuery event archive",
				"project", cfg.ArchiveBigQueryProject,
				"dataset", cfg.ArchiveBigQueryDataset,
				"table", cfg.ArchiveBigQueryTable)
		}
	}

	publisher, err := f.publisher(ctx, cfg, app)
	if err != nil {
		return err
	}
	app.Ledger = ledger.New(app.Store, publisher)
	app.Settings = settings.NewService(app.Store)

	f.logger.Info("Engine assembled",
		"data_backend", cfg.DataBackend,
		"evaluator_mode", cfg.EvaluatorMode,
		"alert_timezone", rc.Location.String(),
		"week_start", rc.WeekStart.String())
	return nil
}

func (f *Factory) publisher(ctx context.Context, cfg *config.Config, app *App) (events.Publisher, error) {
	switch cfg.EvaluatorMode {
	case config.EvaluatorInline:
		return events.Inline{Handler: app.Handler}, nil
	case config.EvaluatorQueue:
		q := events.NewQueue(events.QueueConfig{
			BufferSize: cfg.QueueBufferSize,
			Workers:    cfg.QueueWorkers,
			MaxRetries: cfg.QueueMaxRetries,
		})
		if err := q.Start(ctx, app.Handler); err != nil {
			return nil, fmt.Errorf("start event queue: %w", err)
		}
		app.addCleanup(q.Stop)
		f.logger.Info("Started in-process event queue", "workers", cfg.QueueWorkers, "buffer", cfg.QueueBufferSize)
		return q, nil
	case config.EvaluatorAMQP:
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		app.AMQP = client
		app.addCleanup(func(context.Context) error { return client.Close() })
		f.logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported evaluator mode: %s", cfg.EvaluatorMode)
	}
}

// notifier returns the user-facing email channel: SMTP when configured,
// otherwise a log-only stand-in.
func (f *Factory) notifier(cfg *config.Config) alerts.Notifier {
	smtpCfg := notify.SMTPConfig{
		Host:     cfg.EmailHost,
		Port:     cfg.EmailPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPassword,
		From:     cfg.EmailFrom,
	}
	if smtpCfg.Configured() {
		f.logger.Info("Email notifications enabled", "host", cfg.EmailHost)
		return notify.NewEmail(smtpCfg)
	}
	f.logger.Info("Email service not configured, alerts are logged only")
	return notify.Log{}
}

// recorders returns the channels that receive every alert whatever the
// user's email preference. Channels that fail to initialize are logged and
// skipped.
func (f *Factory) recorders(ctx context.Context, cfg *config.Config, app *App) []alerts.Option {
	var opts []alerts.Option
	if cfg.GoogleSpreadsheetID != "" {
		sheet, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			f.logger.Warn("Failed to initialize Google Sheets alert log, continuing without it", "error", err)
		} else {
			opts = append(opts, alerts.WithRecorder("sheets", sheet))
			f.logger.Info("Google Sheets alert log enabled")
		}
	}

	if cfg.ArchiveGCSBucket != "" {
		aa, err := archive.NewAlertArchive(ctx, cfg.ArchiveGCSBucket, cfg.ArchiveGCSPrefix)
		if err != nil {
			f.logger.Warn("Failed to initialize GCS alert archive, continuing without it", "error", err)
		} else {
			opts = append(opts, alerts.WithRecorder("gcs", aa))
			app.addCleanup(func(context.Context) error { return aa.Close() })
			f.logger.Info("GCS alert archive enabled", "bucket", cfg.ArchiveGCSBucket)
		}
	}
	return opts
}
