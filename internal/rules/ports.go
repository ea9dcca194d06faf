package rules

import (
	"context"
	"time"

	"smartpay/internal/core"
)

// Aggregates answers windowed questions over a user's persisted expense
// transactions. Windows are inclusive on both ends and use CreatedAt.
type Aggregates interface {
	SumExpenses(ctx context.Context, userID string, from, to time.Time) (core.Money, error)
	CountExpenses(ctx context.Context, userID string, from, to time.Time) (int, error)
}
