// Package events carries the "transaction applied" fact from the ledger to
// the alert worker.
package events

import (
	"context"
	"time"
)

// TransactionApplied is published once a new expense transaction has been
// committed together with its balance change.
type TransactionApplied struct {
	MessageID     string    `json:"message_id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	AmountCents   int64     `json:"amount_cents"`
	Category      string    `json:"category"`
	CreatedAt     time.Time `json:"created_at"`
	Attempt       int       `json:"attempt,omitempty"`
}

type Publisher interface {
	PublishTransactionApplied(ctx context.Context, msg TransactionApplied) error
}

// Handler processes one message. A returned error asks the transport to
// redeliver.
type Handler func(ctx context.Context, msg TransactionApplied) error

// Inline delivers every message synchronously to its handler. Used by tests
// and single-process setups that want alerts before the request returns.
type Inline struct {
	Handler Handler
}

func (i Inline) PublishTransactionApplied(ctx context.Context, msg TransactionApplied) error {
	if i.Handler == nil {
		return nil
	}
	return i.Handler(ctx, msg)
}

// Discard drops every message.
type Discard struct{}

func (Discard) PublishTransactionApplied(context.Context, TransactionApplied) error { return nil }
