package notify

import (
	"context"
	"log/slog"

	"smartpay/internal/alerts"
	"smartpay/internal/core"
)

var (
	_ alerts.Notifier = (*Email)(nil)
	_ alerts.Notifier = Log{}
)

// Log only records the alert. Used when no delivery channel is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, email, _ string, a core.Alert) error {
	slog.InfoContext(ctx, "Alert notification",
		"recipient", email,
		"alert_id", a.ID,
		"alert_type", a.Type,
		"severity", a.Severity,
		"message", a.Message)
	return nil
}
