package alerts

import (
	"context"

	"smartpay/internal/core"
)

type (
	Store interface {
		InsertAlert(ctx context.Context, a core.Alert) error
		// SaveEvaluation stores the alerts raised for triggerID together with
		// an evaluation marker. It returns false and stores nothing when the
		// marker already exists.
		SaveEvaluation(ctx context.Context, triggerID string, alerts []core.Alert) (bool, error)
		ListAlerts(ctx context.Context, userID string, limit int) ([]core.Alert, error)
		CountUnread(ctx context.Context, userID string) (int, error)
		// MarkAlertRead flips IsRead to true. core.ErrNotFound when the alert
		// does not exist or belongs to someone else.
		MarkAlertRead(ctx context.Context, userID, alertID string) (core.Alert, error)
	}

	// Notifier delivers one alert to a user. Implementations live in
	// internal/notify.
	Notifier interface {
		Notify(ctx context.Context, email, name string, a core.Alert) error
	}
)
