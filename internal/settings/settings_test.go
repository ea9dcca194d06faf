package settings

import (
	"context"
	"errors"
	"testing"

	"smartpay/internal/core"
	"smartpay/internal/storage/memory"
)

func str(s string) *string { return &s }
func boolp(b bool) *bool   { return &b }

func validInput() Input {
	return Input{
		DailyLimit:                str("150"),
		WeeklyLimit:               str("600.50"),
		MonthlyLimit:              str("0"),
		LargeTransactionThreshold: str("300"),
		EnableEmailNotifications:  boolp(false),
	}
}

func seeded(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	err := store.CreateUser(context.Background(), core.User{
		ID: "u1", Name: "Ann", Email: "ann@example.com", Settings: core.DefaultAlertSettings(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewService(store), store
}

func TestUpdate_ReplacesAllFields(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	got, err := svc.Update(ctx, "u1", validInput())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := core.AlertSettings{
		DailyLimit:                core.Money{Cents: 15000},
		WeeklyLimit:               core.Money{Cents: 60050},
		MonthlyLimit:              core.Money{Cents: 0},
		LargeTransactionThreshold: core.Money{Cents: 30000},
		EnableEmailNotifications:  false,
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	stored, _ := svc.Get(ctx, "u1")
	if stored != want {
		t.Fatalf("stored %+v, want %+v", stored, want)
	}
}

func TestUpdate_RejectsBadFieldsWithoutChanges(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	cases := []struct {
		field  string
		mutate func(*Input)
	}{
		{"dailyLimit", func(in *Input) { in.DailyLimit = nil }},
		{"weeklyLimit", func(in *Input) { in.WeeklyLimit = str("-1") }},
		{"monthlyLimit", func(in *Input) { in.MonthlyLimit = str("lots") }},
		{"largeTransactionThreshold", func(in *Input) { in.LargeTransactionThreshold = str("Infinity") }},
		{"largeTransactionThreshold", func(in *Input) { in.LargeTransactionThreshold = str("") }},
		{"enableEmailNotifications", func(in *Input) { in.EnableEmailNotifications = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Update(ctx, "u1", in)
			var ve *core.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
			got, _ := svc.Get(ctx, "u1")
			if got != core.DefaultAlertSettings() {
				t.Fatalf("settings changed by rejected update: %+v", got)
			}
		})
	}
}

func TestUpdate_UnknownUser(t *testing.T) {
	svc, _ := seeded(t)
	if _, err := svc.Update(context.Background(), "ghost", validInput()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
