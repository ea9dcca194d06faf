// Package memory is a mutex-guarded, in-process event store. It implements
// every store port of the ledger, rules, alerts, settings and worker packages
// and backs tests and the "memory" data backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartpay/internal/core"
	"smartpay/internal/ledger"
)

type Store struct {
	mu           sync.Mutex
	users        map[string]*core.User
	transactions map[string]core.Transaction
	transfers    []core.Transfer
	alerts       []core.Alert
	evaluated    map[string]bool
}

func New() *Store {
	return &Store{
		users:        make(map[string]*core.User),
		transactions: make(map[string]core.Transaction),
		evaluated:    make(map[string]bool),
	}
}

// Ping always succeeds; it lets readiness checks treat both backends alike.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// WithinTx runs fn while holding the store lock and undoes every write made
// through tx when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return core.ErrConflict
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return core.ErrConflict
		}
	}
	cp := u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return *u, nil
}

func (s *Store) ListUsersExcept(_ context.Context, excludeID string) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.User, 0, len(s.users))
	for id, u := range s.users {
		if id != excludeID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTransaction(userID, id)
}

func (s *Store) getTransaction(userID, id string) (core.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok || t.UserID != userID {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, nil
}

// ListTransactions returns matches ordered by Date then CreatedAt, newest first.
func (s *Store) ListTransactions(_ context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, t := range s.transactions {
		if t.UserID != userID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if !f.From.IsZero() && t.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.Date.Before(f.To) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListTransfers(_ context.Context, userID string, limit int) ([]core.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transfer
	for i := len(s.transfers) - 1; i >= 0; i-- {
		t := s.transfers[i]
		if t.SenderID != userID && t.RecipientID != userID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SumExpenses implements rules.Aggregates.
func (s *Store) SumExpenses(_ context.Context, userID string, from, to time.Time) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total core.Money
	for _, t := range s.transactions {
		if inWindow(t, userID, from, to) {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

// CountExpenses implements rules.Aggregates.
func (s *Store) CountExpenses(_ context.Context, userID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.transactions {
		if inWindow(t, userID, from, to) {
			n++
		}
	}
	return n, nil
}

func inWindow(t core.Transaction, userID string, from, to time.Time) bool {
	return t.UserID == userID &&
		t.Type == core.Expense &&
		!t.CreatedAt.Before(from) &&
		!t.CreatedAt.After(to)
}

// ListUnevaluatedExpenses returns expenses created in [since, until] that have
// no evaluation marker, oldest first.
func (s *Store) ListUnevaluatedExpenses(_ context.Context, since, until time.Time, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, t := range s.transactions {
		if t.Type != core.Expense || s.evaluated[t.ID] || t.CreatedAt.Before(since) || t.CreatedAt.After(until) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertAlert(_ context.Context, a core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *Store) SaveEvaluation(_ context.Context, triggerID string, alerts []core.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evaluated[triggerID] {
		return false, nil
	}
	s.evaluated[triggerID] = true
	s.alerts = append(s.alerts, alerts...)
	return true, nil
}

// ListAlerts returns the user's alerts newest first.
func (s *Store) ListAlerts(_ context.Context, userID string, limit int) ([]core.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Alert
	for _, a := range s.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.UserID == userID && !a.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkAlertRead(_ context.Context, userID, alertID string) (core.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alertID && s.alerts[i].UserID == userID {
			s.alerts[i].IsRead = true
			return s.alerts[i], nil
		}
	}
	return core.Alert{}, core.ErrNotFound
}

func (s *Store) GetSettings(_ context.Context, userID string) (core.AlertSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.AlertSettings{}, core.ErrNotFound
	}
	return u.Settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, userID string, settings core.AlertSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.Settings = settings
	return nil
}

// memTx runs with Store.mu held.
type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) UserExists(_ context.Context, id string) (bool, error) {
	_, ok := tx.s.users[id]
	return ok, nil
}

func (tx *memTx) AddToBalance(_ context.Context, userID string, delta core.Money) (core.Money, error) {
	u, ok := tx.s.users[userID]
	if !ok {
		return core.Money{}, core.ErrNotFound
	}
	next, err := u.Balance.CheckedAdd(delta)
	if err != nil {
		return core.Money{}, err
	}
	prev := u.Balance
	u.Balance = next
	tx.undo = append(tx.undo, func() { u.Balance = prev })
	return u.Balance, nil
}

func (tx *memTx) DebitIfSufficient(ctx context.Context, userID string, amount core.Money) (core.Money, error) {
	u, ok := tx.s.users[userID]
	if !ok {
		return core.Money{}, core.ErrNotFound
	}
	if u.Balance.Cents < amount.Cents {
		return core.Money{}, core.ErrInsufficientFunds
	}
	return tx.AddToBalance(ctx, userID, amount.Neg())
}

func (tx *memTx) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	return tx.s.getTransaction(userID, id)
}

func (tx *memTx) InsertTransaction(_ context.Context, t core.Transaction) error {
	if _, ok := tx.s.transactions[t.ID]; ok {
		return core.ErrConflict
	}
	if _, ok := tx.s.users[t.UserID]; !ok {
		return core.ErrNotFound
	}
	tx.s.transactions[t.ID] = t
	tx.undo = append(tx.undo, func() { delete(tx.s.transactions, t.ID) })
	return nil
}

func (tx *memTx) UpdateTransaction(_ context.Context, t core.Transaction) error {
	prev, err := tx.s.getTransaction(t.UserID, t.ID)
	if err != nil {
		return err
	}
	tx.s.transactions[t.ID] = t
	tx.undo = append(tx.undo, func() { tx.s.transactions[t.ID] = prev })
	return nil
}

func (tx *memTx) DeleteTransaction(_ context.Context, userID, id string) error {
	prev, err := tx.s.getTransaction(userID, id)
	if err != nil {
		return err
	}
	delete(tx.s.transactions, id)
	tx.undo = append(tx.undo, func() { tx.s.transactions[id] = prev })
	return nil
}

func (tx *memTx) InsertTransfer(_ context.Context, t core.Transfer) error {
	n := len(tx.s.transfers)
	tx.s.transfers = append(tx.s.transfers, t)
	tx.undo = append(tx.undo, func() { tx.s.transfers = tx.s.transfers[:n] })
	return nil
}
