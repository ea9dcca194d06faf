// Package settings reads and replaces a user's alert thresholds.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"smartpay/internal/core"
)

// Input is the raw form of a settings update. Every threshold is required;
// partial updates are not supported.
type Input struct {
	DailyLimit                *string
	WeeklyLimit               *string
	MonthlyLimit              *string
	LargeTransactionThreshold *string
	EnableEmailNotifications  *bool
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context, userID string) (core.AlertSettings, error) {
	return s.store.GetSettings(ctx, userID)
}

// Update validates every field before replacing all five at once.
func (s *Service) Update(ctx context.Context, userID string, in Input) (core.AlertSettings, error) {
	next, err := in.Parse()
	if err != nil {
		return core.AlertSettings{}, err
	}
	if err := s.store.UpdateSettings(ctx, userID, next); err != nil {
		return core.AlertSettings{}, fmt.Errorf("update settings: %w", err)
	}
	slog.InfoContext(ctx, "Alert settings updated",
		"user_id", userID,
		"daily_limit_cents", next.DailyLimit.Cents,
		"weekly_limit_cents", next.WeeklyLimit.Cents,
		"monthly_limit_cents", next.MonthlyLimit.Cents,
		"large_threshold_cents", next.LargeTransactionThreshold.Cents,
		"email", next.EnableEmailNotifications)
	return next, nil
}

// Parse converts the raw input, failing on the first missing or invalid
// field in declaration order.
func (in Input) Parse() (core.AlertSettings, error) {
	var out core.AlertSettings
	fields := []struct {
		name string
		raw  *string
		dst  *core.Money
	}{
		{"dailyLimit", in.DailyLimit, &out.DailyLimit},
		{"weeklyLimit", in.WeeklyLimit, &out.WeeklyLimit},
		{"monthlyLimit", in.MonthlyLimit, &out.MonthlyLimit},
		{"largeTransactionThreshold", in.LargeTransactionThreshold, &out.LargeTransactionThreshold},
	}
	for _, f := range fields {
		if f.raw == nil || strings.TrimSpace(*f.raw) == "" {
			return core.AlertSettings{}, core.NewValidationError(f.name, "is required")
		}
		m, err := core.ParseLimit(f.name, *f.raw)
		if err != nil {
			return core.AlertSettings{}, err
		}
		*f.dst = m
	}
	if in.EnableEmailNotifications == nil {
		return core.AlertSettings{}, core.NewValidationError("enableEmailNotifications", "is required")
	}
	out.EnableEmailNotifications = *in.EnableEmailNotifications
	return out, nil
}
