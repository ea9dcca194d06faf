package settings

import (
	"context"

	"smartpay/internal/core"
)

type Store interface {
	GetSettings(ctx context.Context, userID string) (core.AlertSettings, error)
	// UpdateSettings replaces every field at once.
	UpdateSettings(ctx context.Context, userID string, s core.AlertSettings) error
}
