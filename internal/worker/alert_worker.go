package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"smartpay/internal/alerts"
	"smartpay/internal/core"
	"smartpay/internal/events"
	"smartpay/internal/rules"
)

// Store is what the worker reads to rebuild the evaluation input.
type Store interface {
	GetUser(ctx context.Context, id string) (core.User, error)
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	// ListUnevaluatedExpenses returns expenses created in [since, until] that
	// carry no evaluation marker, oldest first.
	ListUnevaluatedExpenses(ctx context.Context, since, until time.Time, limit int) ([]core.Transaction, error)
}

type Config struct {
	// BatchSize bounds one recovery pass (default: 50).
	BatchSize int
	// Lookback is how far back recovery searches (default: 24h).
	Lookback time.Duration
	// SettleDelay leaves fresh expenses to the message path (default: 1m).
	SettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		Lookback:    24 * time.Hour,
		SettleDelay: time.Minute,
	}
}

// AlertWorker turns "transaction applied" facts into alerts.
type AlertWorker struct {
	store     Store
	evaluator *rules.Evaluator
	sink      *alerts.Sink
	config    Config
	now       func() time.Time
}

func NewAlertWorker(store Store, evaluator *rules.Evaluator, sink *alerts.Sink, config Config) *AlertWorker {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	return &AlertWorker{
		store:     store,
		evaluator: evaluator,
		sink:      sink,
		config:    config,
		now:       time.Now,
	}
}

// HandleTransactionApplied evaluates the rules for one message. A transaction
// deleted before evaluation is skipped; store failures are returned so the
// transport redelivers.
func (w *AlertWorker) HandleTransactionApplied(ctx context.Context, msg events.TransactionApplied) error {
	slog.InfoContext(ctx, "Processing transaction applied message",
		"message_id", msg.MessageID,
		"transaction_id", msg.TransactionID,
		"user_id", msg.UserID)

	t, err := w.store.GetTransaction(ctx, msg.UserID, msg.TransactionID)
	if errors.Is(err, core.ErrNotFound) {
		slog.InfoContext(ctx, "Transaction no longer exists, skipping evaluation", "transaction_id", msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	return w.evaluate(ctx, t)
}

func (w *AlertWorker) evaluate(ctx context.Context, t core.Transaction) error {
	if t.Type != core.Expense {
		return nil
	}

	user, err := w.store.GetUser(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("get user %s: %w", t.UserID, err)
	}

	candidates, err := w.evaluator.Evaluate(ctx, user.Settings, t)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}

	raised, fired, err := w.sink.RaiseForTrigger(ctx, user, t.ID, candidates)
	if err != nil {
		return err
	}
	if fired {
		slog.InfoContext(ctx, "Transaction evaluated",
			"transaction_id", t.ID,
			"user_id", t.UserID,
			"alerts", len(raised))
	}
	return nil
}

// ProcessPending evaluates expenses whose message was lost or never
// published. It is the backup path behind the message transport.
func (w *AlertWorker) ProcessPending(ctx context.Context) (int, error) {
	return w.sweep(ctx, w.config.BatchSize)
}

// StartupSweep runs a larger recovery pass when the worker starts.
func (w *AlertWorker) StartupSweep(ctx context.Context) error {
	n, err := w.sweep(ctx, w.config.BatchSize*5)
	if err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}
	if n == 0 {
		slog.InfoContext(ctx, "No unevaluated expenses found on startup")
	}
	return nil
}

func (w *AlertWorker) sweep(ctx context.Context, limit int) (int, error) {
	now := w.now()
	pending, err := w.store.ListUnevaluatedExpenses(ctx, now.Add(-w.config.Lookback), now.Add(-w.config.SettleDelay), limit)
	if err != nil {
		return 0, fmt.Errorf("list unevaluated expenses: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Evaluating pending expenses", "count", len(pending))

	success, failed := 0, 0
	for _, t := range pending {
		if err := w.evaluate(ctx, t); err != nil {
			slog.ErrorContext(ctx, "Failed to evaluate pending expense",
				"transaction_id", t.ID, "error", err)
			failed++
			continue
		}
		success++
	}

	slog.InfoContext(ctx, "Pending expenses evaluated",
		"total", len(pending),
		"evaluated", success,
		"errors", failed)
	return success, nil
}
