// Package ledger owns every balance mutation. Each operation runs under the
// affected users' locks and writes the balance change and its record in one
// store unit, so a user's balance always equals the opening balance plus the
// net effect of all recorded transactions and transfers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartpay/internal/core"
	"smartpay/internal/events"
)

// Entry is the monetary part of a transaction.
type Entry struct {
	Amount core.Money
	Type   core.TransactionType
}

func (e Entry) validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	return e.Type.Validate()
}

// TransactionInput carries the caller supplied fields of a transaction.
// An empty Category is derived from the description; a zero Date means now.
type TransactionInput struct {
	Amount      core.Money
	Type        core.TransactionType
	Category    core.Category
	Description string
	Date        time.Time
}

type TransferInput struct {
	RecipientID string
	Amount      core.Money
	Description string
}

type Ledger struct {
	store     Store
	locks     *Locks
	publisher events.Publisher
	now       func() time.Time
	newID     func() string

	publishTimeout time.Duration
}

// DefaultPublishTimeout bounds how long a committed write waits on the event
// transport before the request returns.
const DefaultPublishTimeout = 5 * time.Second

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

func WithLocks(locks *Locks) Option {
	return func(l *Ledger) { l.locks = locks }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.publishTimeout = d
		}
	}
}

func New(store Store, publisher events.Publisher, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		locks:     NewLocks(),
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,

		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateUser opens an account with the default opening balance and alert
// settings.
func (l *Ledger) CreateUser(ctx context.Context, name, email string) (core.User, error) {
	u := core.User{
		ID:        l.newID(),
		Name:      strings.TrimSpace(name),
		Email:     strings.TrimSpace(strings.ToLower(email)),
		Balance:   core.DefaultOpeningBalance,
		Settings:  core.DefaultAlertSettings(),
		CreatedAt: l.now().UTC(),
	}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	slog.InfoContext(ctx, "User created", "user_id", u.ID, "balance_cents", u.Balance.Cents)
	return u, nil
}

func (l *Ledger) GetUser(ctx context.Context, userID string) (core.User, error) {
	return l.store.GetUser(ctx, userID)
}

func (l *Ledger) Balance(ctx context.Context, userID string) (core.Money, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return core.Money{}, err
	}
	return u.Balance, nil
}

// ApplyTransaction adds the signed contribution of a new entry to the user's
// balance.
func (l *Ledger) ApplyTransaction(ctx context.Context, userID string, e Entry) (core.Money, error) {
	if err := e.validate(); err != nil {
		return core.Money{}, err
	}
	return l.applyDelta(ctx, userID, core.SignedDelta(e.Amount, e.Type))
}

// EditTransaction replaces old by updated as a single balance write of
// signedDelta(updated) - signedDelta(old).
func (l *Ledger) EditTransaction(ctx context.Context, userID string, old, updated Entry) (core.Money, error) {
	if err := old.validate(); err != nil {
		return core.Money{}, err
	}
	if err := updated.validate(); err != nil {
		return core.Money{}, err
	}
	delta := core.SignedDelta(updated.Amount, updated.Type).Sub(core.SignedDelta(old.Amount, old.Type))
	return l.applyDelta(ctx, userID, delta)
}

// ReverseTransaction removes the contribution of a previously applied entry.
func (l *Ledger) ReverseTransaction(ctx context.Context, userID string, e Entry) (core.Money, error) {
	if err := e.validate(); err != nil {
		return core.Money{}, err
	}
	return l.applyDelta(ctx, userID, core.SignedDelta(e.Amount, e.Type).Neg())
}

func (l *Ledger) applyDelta(ctx context.Context, userID string, delta core.Money) (core.Money, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	var balance core.Money
	err := l.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		balance, err = tx.AddToBalance(ctx, userID, delta)
		return err
	})
	if err != nil {
		return core.Money{}, fmt.Errorf("apply balance delta: %w", err)
	}
	return balance, nil
}

// ApplyTransfer moves amount between two users without recording a transfer.
func (l *Ledger) ApplyTransfer(ctx context.Context, senderID, recipientID string, amount core.Money) (core.Money, core.Money, error) {
	t := core.Transfer{SenderID: senderID, RecipientID: recipientID, Amount: amount}
	if err := t.Validate(); err != nil {
		return core.Money{}, core.Money{}, err
	}

	unlock := l.locks.LockPair(senderID, recipientID)
	defer unlock()

	var sender, recipient core.Money
	err := l.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		sender, recipient, err = moveFunds(ctx, tx, senderID, recipientID, amount)
		return err
	})
	if err != nil {
		return core.Money{}, core.Money{}, err
	}
	return sender, recipient, nil
}

// moveFunds runs inside the caller's store unit. Checks run in order: sender
// funds, self-transfer, recipient existence. A failed check after the debit
// rolls the unit back.
func moveFunds(ctx context.Context, tx Tx, senderID, recipientID string, amount core.Money) (core.Money, core.Money, error) {
	sender, err := tx.DebitIfSufficient(ctx, senderID, amount)
	if err != nil {
		if errors.Is(err, core.ErrInsufficientFunds) {
			return core.Money{}, core.Money{}, err
		}
		return core.Money{}, core.Money{}, fmt.Errorf("debit sender: %w", err)
	}
	if senderID == recipientID {
		return core.Money{}, core.Money{}, core.ErrSelfTransfer
	}
	ok, err := tx.UserExists(ctx, recipientID)
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("lookup recipient: %w", err)
	}
	if !ok {
		return core.Money{}, core.Money{}, core.ErrRecipientNotFound
	}
	recipient, err := tx.AddToBalance(ctx, recipientID, amount)
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("credit recipient: %w", err)
	}
	return sender, recipient, nil
}

// CreateTransaction records a new transaction and applies it to the balance.
// New expenses are published for rule evaluation after the commit.
func (l *Ledger) CreateTransaction(ctx context.Context, userID string, in TransactionInput) (core.Transaction, core.Money, error) {
	now := l.now().UTC()
	t := core.Transaction{
		ID:          l.newID(),
		UserID:      userID,
		Amount:      in.Amount,
		Type:        in.Type,
		Category:    in.Category,
		Description: strings.TrimSpace(in.Description),
		Date:        in.Date,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Category == "" {
		t.Category = core.Categorize(t.Description)
	}
	if t.Date.IsZero() {
		t.Date = now
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, core.Money{}, err
	}

	unlock := l.locks.Lock(userID)
	var balance core.Money
	err := l.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		var err error
		balance, err = tx.AddToBalance(ctx, userID, t.SignedDelta())
		return err
	})
	unlock()
	if err != nil {
		return core.Transaction{}, core.Money{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"user_id", userID,
		"transaction_id", t.ID,
		"type", t.Type,
		"amount_cents", t.Amount.Cents,
		"balance_cents", balance.Cents)

	if t.Type == core.Expense {
		l.publishApplied(ctx, t)
	}
	return t, balance, nil
}

// UpdateTransaction replaces amount, type, category, description and date of
// one of the user's transactions and adjusts the balance by the difference.
func (l *Ledger) UpdateTransaction(ctx context.Context, userID, id string, in TransactionInput) (core.Transaction, core.Money, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	var (
		updated core.Transaction
		balance core.Money
	)
	err := l.store.WithinTx(ctx, func(tx Tx) error {
		old, err := tx.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		updated = old
		updated.Amount = in.Amount
		updated.Type = in.Type
		updated.Description = strings.TrimSpace(in.Description)
		if in.Category != "" {
			updated.Category = in.Category
		}
		if !in.Date.IsZero() {
			updated.Date = in.Date
		}
		updated.UpdatedAt = l.now().UTC()
		if err := updated.Validate(); err != nil {
			return err
		}

		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		balance, err = tx.AddToBalance(ctx, userID, updated.SignedDelta().Sub(old.SignedDelta()))
		return err
	})
	if err != nil {
		return core.Transaction{}, core.Money{}, err
	}

	slog.InfoContext(ctx, "Transaction updated",
		"user_id", userID,
		"transaction_id", id,
		"balance_cents", balance.Cents)
	return updated, balance, nil
}

// DeleteTransaction removes one of the user's transactions and reverses its
// contribution.
func (l *Ledger) DeleteTransaction(ctx context.Context, userID, id string) (core.Money, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	var balance core.Money
	err := l.store.WithinTx(ctx, func(tx Tx) error {
		old, err := tx.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, userID, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		balance, err = tx.AddToBalance(ctx, userID, old.SignedDelta().Neg())
		return err
	})
	if err != nil {
		return core.Money{}, err
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"user_id", userID,
		"transaction_id", id,
		"balance_cents", balance.Cents)
	return balance, nil
}

// CreateTransfer moves funds from sender to recipient and records a completed
// transfer. It returns the sender's new balance.
func (l *Ledger) CreateTransfer(ctx context.Context, senderID string, in TransferInput) (core.Transfer, core.Money, error) {
	t := core.Transfer{
		ID:          l.newID(),
		SenderID:    senderID,
		RecipientID: strings.TrimSpace(in.RecipientID),
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Status:      core.TransferCompleted,
		CreatedAt:   l.now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return core.Transfer{}, core.Money{}, err
	}

	unlock := l.locks.LockPair(t.SenderID, t.RecipientID)
	defer unlock()

	var sender core.Money
	err := l.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		sender, _, err = moveFunds(ctx, tx, t.SenderID, t.RecipientID, t.Amount)
		if err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transfer{}, core.Money{}, err
	}

	slog.InfoContext(ctx, "Transfer completed",
		"transfer_id", t.ID,
		"sender_id", t.SenderID,
		"recipient_id", t.RecipientID,
		"amount_cents", t.Amount.Cents,
		"balance_cents", sender.Cents)
	return t, sender, nil
}

// Recipients lists the users userID can send money to.
func (l *Ledger) Recipients(ctx context.Context, userID string) ([]core.User, error) {
	return l.store.ListUsersExcept(ctx, userID)
}

func (l *Ledger) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	return l.store.GetTransaction(ctx, userID, id)
}

func (l *Ledger) ListTransactions(ctx context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error) {
	return l.store.ListTransactions(ctx, userID, f)
}

// ListTransfers returns transfers the user sent or received, newest first.
func (l *Ledger) ListTransfers(ctx context.Context, userID string, limit int) ([]core.Transfer, error) {
	return l.store.ListTransfers(ctx, userID, limit)
}

// publishApplied runs after commit. The caller's cancellation must not drop
// the message, and a failed publish never fails the request: the alert
// worker's sweep picks up unevaluated expenses. The publish is bounded by
// publishTimeout.
func (l *Ledger) publishApplied(ctx context.Context, t core.Transaction) {
	if l.publisher == nil {
		slog.WarnContext(ctx, "No event publisher configured, skipping rule evaluation", "transaction_id", t.ID)
		return
	}
	msg := events.TransactionApplied{
		TransactionID: t.ID,
		UserID:        t.UserID,
		AmountCents:   t.Amount.Cents,
		Category:      string(t.Category),
		CreatedAt:     t.CreatedAt,
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.publishTimeout)
	defer cancel()
	if err := l.publisher.PublishTransactionApplied(pctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction applied",
			"transaction_id", t.ID,
			"user_id", t.UserID,
			"error", err)
	}
}
