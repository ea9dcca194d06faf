package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"smartpay/internal/core"
	"smartpay/internal/ledger"
)

// SQLiteRepository is the durable event store. Balance changes are applied
// in SQL (balance_cents = balance_cents + ?) inside immediate transactions,
// never read-modify-written in Go.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

// DSN builds the connection string: writers take the lock at BEGIN, wait on
// busy instead of failing, and foreign keys are enforced.
func DSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping backs the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithinTx implements ledger.Store.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return r.withTx(ctx, func(q *Queries) error {
		return fn(&sqliteTx{q: q})
	})
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	err := r.queries.CreateUser(ctx, User{
		ID:                  u.ID,
		Name:                u.Name,
		Email:               u.Email,
		BalanceCents:        u.Balance.Cents,
		DailyLimitCents:     u.Settings.DailyLimit.Cents,
		WeeklyLimitCents:    u.Settings.WeeklyLimit.Cents,
		MonthlyLimitCents:   u.Settings.MonthlyLimit.Cents,
		LargeThresholdCents: u.Settings.LargeTransactionThreshold.Cents,
		EmailNotifications:  u.Settings.EnableEmailNotifications,
		CreatedAt:           toNanos(u.CreatedAt),
	})
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := r.queries.GetUser(ctx, id)
	if err != nil {
		return core.User{}, notFound(err, "get user")
	}
	return userToCore(u), nil
}

func (r *SQLiteRepository) ListUsersExcept(ctx context.Context, excludeID string) ([]core.User, error) {
	rows, err := r.queries.ListUsersExcept(ctx, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]core.User, len(rows))
	for i, u := range rows {
		out[i] = userToCore(u)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := r.queries.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, notFound(err, "get transaction")
	}
	return transactionToCore(t), nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error) {
	arg := ListTransactionsParams{
		UserID:   userID,
		Type:     string(f.Type),
		Category: string(f.Category),
		Limit:    int64(f.Limit),
	}
	if !f.From.IsZero() {
		arg.From = toNanos(f.From)
	}
	if !f.To.IsZero() {
		arg.To = toNanos(f.To)
	}
	rows, err := r.queries.ListTransactions(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, t := range rows {
		out[i] = transactionToCore(t)
	}
	return out, nil
}

func (r *SQLiteRepository) ListTransfers(ctx context.Context, userID string, limit int) ([]core.Transfer, error) {
	rows, err := r.queries.ListTransfers(ctx, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	out := make([]core.Transfer, len(rows))
	for i, t := range rows {
		out[i] = core.Transfer{
			ID:          t.ID,
			SenderID:    t.SenderID,
			RecipientID: t.RecipientID,
			Amount:      core.Money{Cents: t.AmountCents},
			Description: t.Description,
			Status:      core.TransferStatus(t.Status),
			CreatedAt:   fromNanos(t.CreatedAt),
		}
	}
	return out, nil
}

// SumExpenses implements rules.Aggregates.
func (r *SQLiteRepository) SumExpenses(ctx context.Context, userID string, from, to time.Time) (core.Money, error) {
	total, err := r.queries.SumExpenses(ctx, userID, toNanos(from), toNanos(to))
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: total}, nil
}

// CountExpenses implements rules.Aggregates.
func (r *SQLiteRepository) CountExpenses(ctx context.Context, userID string, from, to time.Time) (int, error) {
	n, err := r.queries.CountExpenses(ctx, userID, toNanos(from), toNanos(to))
	if err != nil {
		return 0, fmt.Errorf("count expenses: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) ListUnevaluatedExpenses(ctx context.Context, since, until time.Time, limit int) ([]core.Transaction, error) {
	rows, err := r.queries.ListUnevaluatedExpenses(ctx, toNanos(since), toNanos(until), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list unevaluated expenses: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, t := range rows {
		out[i] = transactionToCore(t)
	}
	return out, nil
}

func (r *SQLiteRepository) InsertAlert(ctx context.Context, a core.Alert) error {
	if err := r.queries.InsertAlert(ctx, alertFromCore(a)); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// SaveEvaluation implements alerts.Store. The marker and the alerts commit
// together; a duplicate marker leaves the database untouched.
func (r *SQLiteRepository) SaveEvaluation(ctx context.Context, triggerID string, alerts []core.Alert) (bool, error) {
	errAlreadyEvaluated := errors.New("already evaluated")
	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.InsertEvaluation(ctx, triggerID, toNanos(time.Now()))
		if err != nil {
			return fmt.Errorf("insert evaluation marker: %w", err)
		}
		if n == 0 {
			return errAlreadyEvaluated
		}
		for _, a := range alerts {
			if err := q.InsertAlert(ctx, alertFromCore(a)); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadyEvaluated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) ListAlerts(ctx context.Context, userID string, limit int) ([]core.Alert, error) {
	rows, err := r.queries.ListAlerts(ctx, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]core.Alert, len(rows))
	for i, a := range rows {
		out[i] = alertToCore(a)
	}
	return out, nil
}

func (r *SQLiteRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := r.queries.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread alerts: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) MarkAlertRead(ctx context.Context, userID, alertID string) (core.Alert, error) {
	a, err := r.queries.MarkAlertRead(ctx, userID, alertID)
	if err != nil {
		return core.Alert{}, notFound(err, "mark alert read")
	}
	return alertToCore(a), nil
}

func (r *SQLiteRepository) GetSettings(ctx context.Context, userID string) (core.AlertSettings, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return core.AlertSettings{}, err
	}
	return u.Settings, nil
}

func (r *SQLiteRepository) UpdateSettings(ctx context.Context, userID string, s core.AlertSettings) error {
	n, err := r.queries.UpdateSettings(ctx, UpdateSettingsParams{
		ID:                  userID,
		DailyLimitCents:     s.DailyLimit.Cents,
		WeeklyLimitCents:    s.WeeklyLimit.Cents,
		MonthlyLimitCents:   s.MonthlyLimit.Cents,
		LargeThresholdCents: s.LargeTransactionThreshold.Cents,
		EmailNotifications:  s.EnableEmailNotifications,
	})
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// sqliteTx implements ledger.Tx on top of a *sql.Tx bound Queries.
type sqliteTx struct {
	q *Queries
}

func (t *sqliteTx) UserExists(ctx context.Context, id string) (bool, error) {
	return t.q.UserExists(ctx, id)
}

func (t *sqliteTx) AddToBalance(ctx context.Context, userID string, delta core.Money) (core.Money, error) {
	b, err := t.q.AddToBalance(ctx, userID, delta.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		ok, existsErr := t.q.UserExists(ctx, userID)
		if existsErr != nil {
			return core.Money{}, fmt.Errorf("lookup user: %w", existsErr)
		}
		if !ok {
			return core.Money{}, core.ErrNotFound
		}
		return core.Money{}, core.ErrBalanceOverflow
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("add to balance: %w", err)
	}
	return core.Money{Cents: b}, nil
}

func (t *sqliteTx) DebitIfSufficient(ctx context.Context, userID string, amount core.Money) (core.Money, error) {
	b, err := t.q.DebitIfSufficient(ctx, userID, amount.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		ok, existsErr := t.q.UserExists(ctx, userID)
		if existsErr != nil {
			return core.Money{}, fmt.Errorf("lookup sender: %w", existsErr)
		}
		if !ok {
			return core.Money{}, core.ErrNotFound
		}
		return core.Money{}, core.ErrInsufficientFunds
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("debit: %w", err)
	}
	return core.Money{Cents: b}, nil
}

func (t *sqliteTx) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row, err := t.q.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, notFound(err, "get transaction")
	}
	return transactionToCore(row), nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	err := t.q.InsertTransaction(ctx, transactionFromCore(tx))
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (t *sqliteTx) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	n, err := t.q.UpdateTransaction(ctx, transactionFromCore(tx))
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) DeleteTransaction(ctx context.Context, userID, id string) error {
	n, err := t.q.DeleteTransaction(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) InsertTransfer(ctx context.Context, tr core.Transfer) error {
	return t.q.InsertTransfer(ctx, Transfer{
		ID:          tr.ID,
		SenderID:    tr.SenderID,
		RecipientID: tr.RecipientID,
		AmountCents: tr.Amount.Cents,
		Description: tr.Description,
		Status:      string(tr.Status),
		CreatedAt:   toNanos(tr.CreatedAt),
	})
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || serr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func userToCore(u User) core.User {
	return core.User{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Balance: core.Money{Cents: u.BalanceCents},
		Settings: core.AlertSettings{
			DailyLimit:                core.Money{Cents: u.DailyLimitCents},
			WeeklyLimit:               core.Money{Cents: u.WeeklyLimitCents},
			MonthlyLimit:              core.Money{Cents: u.MonthlyLimitCents},
			LargeTransactionThreshold: core.Money{Cents: u.LargeThresholdCents},
			EnableEmailNotifications:  u.EmailNotifications,
		},
		CreatedAt: fromNanos(u.CreatedAt),
	}
}

func transactionToCore(t Transaction) core.Transaction {
	return core.Transaction{
		ID:          t.ID,
		UserID:      t.UserID,
		Amount:      core.Money{Cents: t.AmountCents},
		Type:        core.TransactionType(t.Type),
		Category:    core.Category(t.Category),
		Description: t.Description,
		Date:        fromNanos(t.Date),
		CreatedAt:   fromNanos(t.CreatedAt),
		UpdatedAt:   fromNanos(t.UpdatedAt),
	}
}

func transactionFromCore(t core.Transaction) Transaction {
	return Transaction{
		ID:          t.ID,
		UserID:      t.UserID,
		AmountCents: t.Amount.Cents,
		Type:        string(t.Type),
		Category:    string(t.Category),
		Description: t.Description,
		Date:        toNanos(t.Date),
		CreatedAt:   toNanos(t.CreatedAt),
		UpdatedAt:   toNanos(t.UpdatedAt),
	}
}

func alertFromCore(a core.Alert) Alert {
	row := Alert{
		ID:        a.ID,
		UserID:    a.UserID,
		Type:      string(a.Type),
		Severity:  string(a.Severity),
		Message:   a.Message,
		IsRead:    a.IsRead,
		CreatedAt: toNanos(a.CreatedAt),
	}
	if m := a.Metadata; m != nil {
		row.TransactionID = sql.NullString{String: m.TransactionID, Valid: m.TransactionID != ""}
		row.MetaAmountCents = sql.NullInt64{Int64: m.Amount.Cents, Valid: true}
		row.MetaCategory = sql.NullString{String: string(m.Category), Valid: m.Category != ""}
	}
	return row
}

func alertToCore(a Alert) core.Alert {
	out := core.Alert{
		ID:        a.ID,
		UserID:    a.UserID,
		Type:      core.AlertType(a.Type),
		Severity:  core.Severity(a.Severity),
		Message:   a.Message,
		IsRead:    a.IsRead,
		CreatedAt: fromNanos(a.CreatedAt),
	}
	if a.TransactionID.Valid || a.MetaAmountCents.Valid || a.MetaCategory.Valid {
		out.Metadata = &core.AlertMetadata{
			TransactionID: a.TransactionID.String,
			Amount:        core.Money{Cents: a.MetaAmountCents.Int64},
			Category:      core.Category(a.MetaCategory.String),
		}
	}
	return out
}
