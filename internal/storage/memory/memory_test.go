package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"smartpay/internal/core"
	"smartpay/internal/ledger"
)

func seedUser(t *testing.T, s *Store, id string, cents int64) {
	t.Helper()
	err := s.CreateUser(context.Background(), core.User{
		ID: id, Name: id, Email: id + "@example.com",
		Balance:  core.Money{Cents: cents},
		Settings: core.DefaultAlertSettings(),
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", 1000)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.AddToBalance(ctx, "u1", core.Money{Cents: 500}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, core.Transaction{ID: "t1", UserID: "u1"}); err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, core.Transfer{ID: "tr1", SenderID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	u, _ := s.GetUser(ctx, "u1")
	if u.Balance.Cents != 1000 {
		t.Fatalf("balance not rolled back: %d", u.Balance.Cents)
	}
	if _, err := s.GetTransaction(ctx, "u1", "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("transaction not rolled back: %v", err)
	}
	if trs, _ := s.ListTransfers(ctx, "u1", 0); len(trs) != 0 {
		t.Fatalf("transfer not rolled back: %v", trs)
	}
}

func TestDebitIfSufficient(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", 1000)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.DebitIfSufficient(ctx, "u1", core.Money{Cents: 1001})
		return err
	})
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	var bal core.Money
	s.WithinTx(ctx, func(tx ledger.Tx) error {
		bal, err = tx.DebitIfSufficient(ctx, "u1", core.Money{Cents: 1000})
		return err
	})
	if err != nil || bal.Cents != 0 {
		t.Fatalf("exact debit should succeed, got %d %v", bal.Cents, err)
	}
}

func TestAddToBalance_RejectsOverflow(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", math.MaxInt64-10)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.AddToBalance(ctx, "u1", core.Money{Cents: 11})
		return err
	})
	if !errors.Is(err, core.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if u.Balance.Cents != math.MaxInt64-10 {
		t.Fatalf("balance changed on overflow: %d", u.Balance.Cents)
	}
}

func TestAggregates_WindowIsInclusive(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", 0)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	add := func(id string, typ core.TransactionType, cents int64, at time.Time) {
		s.WithinTx(ctx, func(tx ledger.Tx) error {
			return tx.InsertTransaction(ctx, core.Transaction{
				ID: id, UserID: "u1", Type: typ, Amount: core.Money{Cents: cents}, CreatedAt: at,
			})
		})
	}
	add("a", core.Expense, 100, base)
	add("b", core.Expense, 200, base.Add(time.Hour))
	add("c", core.Income, 999, base.Add(30*time.Minute))
	add("d", core.Expense, 400, base.Add(2*time.Hour))

	sum, _ := s.SumExpenses(ctx, "u1", base, base.Add(time.Hour))
	if sum.Cents != 300 {
		t.Fatalf("expected 300, got %d", sum.Cents)
	}
	n, _ := s.CountExpenses(ctx, "u1", base, base.Add(2*time.Hour))
	if n != 3 {
		t.Fatalf("expected 3 expenses, got %d", n)
	}
	n, _ = s.CountExpenses(ctx, "other", base, base.Add(2*time.Hour))
	if n != 0 {
		t.Fatalf("expected no expenses for other user, got %d", n)
	}
}

func TestSaveEvaluation_IsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	alerts := []core.Alert{{ID: "a1", UserID: "u1"}, {ID: "a2", UserID: "u1"}}

	ok, err := s.SaveEvaluation(ctx, "t1", alerts)
	if err != nil || !ok {
		t.Fatalf("first save: %v %v", ok, err)
	}
	ok, err = s.SaveEvaluation(ctx, "t1", alerts)
	if err != nil || ok {
		t.Fatalf("second save should be a no-op: %v %v", ok, err)
	}
	got, _ := s.ListAlerts(ctx, "u1", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
}

func TestMarkAlertRead_ChecksOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.InsertAlert(ctx, core.Alert{ID: "a1", UserID: "u1"})

	if _, err := s.MarkAlertRead(ctx, "u2", "a1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign alert, got %v", err)
	}
	a, err := s.MarkAlertRead(ctx, "u1", "a1")
	if err != nil || !a.IsRead {
		t.Fatalf("mark read: %+v %v", a, err)
	}
	if n, _ := s.CountUnread(ctx, "u1"); n != 0 {
		t.Fatalf("expected 0 unread, got %d", n)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", 0)
	err := s.CreateUser(context.Background(), core.User{ID: "u2", Email: "u1@example.com"})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListUsersExcept(t *testing.T) {
	s := New()
	for _, id := range []string{"cid", "ann", "bob"} {
		seedUser(t, s, id, 0)
	}
	got, err := s.ListUsersExcept(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListUsersExcept() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "ann" || got[1].ID != "cid" {
		t.Fatalf("ListUsersExcept() = %+v", got)
	}
}
