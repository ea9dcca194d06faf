package ledger

import (
	"context"

	"smartpay/internal/core"
)

// Store is the event store as seen by the ledger. Reads outside WithinTx may
// be slightly stale; every mutation goes through a Tx.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, u core.User) error
	GetUser(ctx context.Context, id string) (core.User, error)
	// ListUsersExcept returns every user but excludeID, sorted by name.
	ListUsersExcept(ctx context.Context, excludeID string) ([]core.User, error)
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error)
	ListTransfers(ctx context.Context, userID string, limit int) ([]core.Transfer, error)
}

// Tx is one atomic store unit. Either every write made through it is
// committed or none is.
type Tx interface {
	UserExists(ctx context.Context, id string) (bool, error)
	// AddToBalance applies delta in place and returns the new balance.
	AddToBalance(ctx context.Context, userID string, delta core.Money) (core.Money, error)
	// DebitIfSufficient subtracts amount only when the balance covers it,
	// otherwise it returns core.ErrInsufficientFunds.
	DebitIfSufficient(ctx context.Context, userID string, amount core.Money) (core.Money, error)

	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	InsertTransaction(ctx context.Context, t core.Transaction) error
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	InsertTransfer(ctx context.Context, t core.Transfer) error
}
