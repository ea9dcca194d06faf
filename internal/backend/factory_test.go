package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"smartpay/internal/config"
	"smartpay/internal/core"
	"smartpay/internal/ledger"
)

func testConfig(t *testing.T, backend, mode string) *config.Config {
	t.Helper()
	t.Setenv("EMAIL_USER", "")
	t.Setenv("EMAIL_PASS", "")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("ARCHIVE_BIGQUERY_PROJECT", "")
	t.Setenv("ARCHIVE_GCS_BUCKET", "")
	cfg := config.Load()
	cfg.DataBackend = backend
	cfg.SQLiteDBPath = filepath.Join(t.TempDir(), "smartpay.db")
	cfg.EvaluatorMode = mode
	return cfg
}

func TestBackendType(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("sheets").IsValid() {
		t.Error("sheets is not a data backend")
	}
}

func TestCreateStoreUnknown(t *testing.T) {
	cfg := testConfig(t, "postgres", config.EvaluatorInline)
	if _, err := NewFactory(nil).CreateStore(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBuildInlineRaisesAlerts(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			app, err := NewFactory(nil).Build(ctx, testConfig(t, backend, config.EvaluatorInline))
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			defer app.Close(ctx)

			if err := app.Store.Ping(ctx); err != nil {
				t.Fatalf("Ping() error = %v", err)
			}

			u, err := app.Ledger.CreateUser(ctx, "Ann", "ann@example.com")
			if err != nil {
				t.Fatalf("CreateUser() error = %v", err)
			}
			_, bal, err := app.Ledger.CreateTransaction(ctx, u.ID, ledger.TransactionInput{
				Amount:      core.Money{Cents: 25000},
				Type:        core.Expense,
				Category:    core.CategoryShopping,
				Description: "new headphones",
			})
			if err != nil {
				t.Fatalf("CreateTransaction() error = %v", err)
			}
			if bal.Cents != 75000 {
				t.Errorf("balance = %d, want 75000", bal.Cents)
			}

			list, err := app.Alerts.List(ctx, u.ID, 0)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var large int
			for _, a := range list {
				if a.Type == core.AlertLargeTransaction {
					large++
				}
			}
			if large != 1 {
				t.Errorf("large transaction alerts = %d, want 1 (alerts: %+v)", large, list)
			}
		})
	}
}

func TestBuildQueueDrainsOnClose(t *testing.T) {
	ctx := context.Background()
	app, err := NewFactory(nil).Build(ctx, testConfig(t, "memory", config.EvaluatorQueue))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	u, err := app.Ledger.CreateUser(ctx, "Bob", "bob@example.com")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, _, err := app.Ledger.CreateTransaction(ctx, u.ID, ledger.TransactionInput{
		Amount:      core.Money{Cents: 30000},
		Type:        core.Expense,
		Category:    core.CategoryOther,
		Description: "rent share",
	}); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store := app.Store
	if err := app.Close(closeCtx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	n, err := store.CountUnread(ctx, u.ID)
	if err != nil {
		t.Fatalf("CountUnread() error = %v", err)
	}
	if n == 0 {
		t.Error("queued message should be evaluated before Close returns")
	}
}

func TestBuildRejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t, "memory", config.EvaluatorInline)
	cfg.AlertTimezone = "Not/AZone"
	if _, err := NewFactory(nil).Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
