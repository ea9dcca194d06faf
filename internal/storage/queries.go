package storage

import (
	"context"
	"database/sql"
	"math"
	"strings"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type User struct {
	ID                  string
	Name                string
	Email               string
	BalanceCents        int64
	DailyLimitCents     int64
	WeeklyLimitCents    int64
	MonthlyLimitCents   int64
	LargeThresholdCents int64
	EmailNotifications  bool
	CreatedAt           int64
}

type Transaction struct {
	ID          string
	UserID      string
	AmountCents int64
	Type        string
	Category    string
	Description string
	Date        int64
	CreatedAt   int64
	UpdatedAt   int64
}

type Transfer struct {
	ID          string
	SenderID    string
	RecipientID string
	AmountCents int64
	Description string
	Status      string
	CreatedAt   int64
}

type Alert struct {
	ID              string
	UserID          string
	Type            string
	Severity        string
	Message         string
	IsRead          bool
	TransactionID   sql.NullString
	MetaAmountCents sql.NullInt64
	MetaCategory    sql.NullString
	CreatedAt       int64
}

const userColumns = `id, name, email, balance_cents, daily_limit_cents, weekly_limit_cents,
	monthly_limit_cents, large_threshold_cents, email_notifications, created_at`

const transactionColumns = `id, user_id, amount_cents, type, category, description, date, created_at, updated_at`

const transferColumns = `id, sender_id, recipient_id, amount_cents, description, status, created_at`

const alertColumns = `id, user_id, type, severity, message, is_read, transaction_id,
	meta_amount_cents, meta_category, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(r rowScanner) (User, error) {
	var u User
	err := r.Scan(&u.ID, &u.Name, &u.Email, &u.BalanceCents, &u.DailyLimitCents, &u.WeeklyLimitCents,
		&u.MonthlyLimitCents, &u.LargeThresholdCents, &u.EmailNotifications, &u.CreatedAt)
	return u, err
}

func scanTransaction(r rowScanner) (Transaction, error) {
	var t Transaction
	err := r.Scan(&t.ID, &t.UserID, &t.AmountCents, &t.Type, &t.Category, &t.Description,
		&t.Date, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func scanTransfer(r rowScanner) (Transfer, error) {
	var t Transfer
	err := r.Scan(&t.ID, &t.SenderID, &t.RecipientID, &t.AmountCents, &t.Description, &t.Status, &t.CreatedAt)
	return t, err
}

func scanAlert(r rowScanner) (Alert, error) {
	var a Alert
	err := r.Scan(&a.ID, &a.UserID, &a.Type, &a.Severity, &a.Message, &a.IsRead, &a.TransactionID,
		&a.MetaAmountCents, &a.MetaCategory, &a.CreatedAt)
	return a, err
}

const createUser = `-- name: CreateUser :exec
INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, createUser, u.ID, u.Name, u.Email, u.BalanceCents, u.DailyLimitCents,
		u.WeeklyLimitCents, u.MonthlyLimitCents, u.LargeThresholdCents, u.EmailNotifications, u.CreatedAt)
	return err
}

const getUser = `-- name: GetUser :one
SELECT ` + userColumns + ` FROM users WHERE id = ?`

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUser, id))
}

const listUsersExcept = `-- name: ListUsersExcept :many
SELECT ` + userColumns + ` FROM users WHERE id != ? ORDER BY name, id`

func (q *Queries) ListUsersExcept(ctx context.Context, excludeID string) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, listUsersExcept, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

const addToBalance = `-- name: AddToBalance :one
UPDATE users SET balance_cents = balance_cents + ?
WHERE id = ? AND balance_cents BETWEEN ? AND ?
RETURNING balance_cents`

// AddToBalance only updates a balance whose sum with delta stays an INTEGER.
// SQLite would otherwise promote the overflowing result to REAL.
func (q *Queries) AddToBalance(ctx context.Context, id string, delta int64) (int64, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if delta >= 0 {
		hi -= delta
	} else {
		lo -= delta
	}
	var balance int64
	err := q.db.QueryRowContext(ctx, addToBalance, delta, id, lo, hi).Scan(&balance)
	return balance, err
}

const debitIfSufficient = `-- name: DebitIfSufficient :one
UPDATE users SET balance_cents = balance_cents - ?
WHERE id = ? AND balance_cents >= ?
RETURNING balance_cents`

func (q *Queries) DebitIfSufficient(ctx context.Context, id string, amount int64) (int64, error) {
	var balance int64
	err := q.db.QueryRowContext(ctx, debitIfSufficient, amount, id, amount).Scan(&balance)
	return balance, err
}

const userExists = `-- name: UserExists :one
SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`

func (q *Queries) UserExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, userExists, id).Scan(&ok)
	return ok, err
}

const updateSettings = `-- name: UpdateSettings :execrows
UPDATE users SET daily_limit_cents = ?, weekly_limit_cents = ?, monthly_limit_cents = ?,
	large_threshold_cents = ?, email_notifications = ?
WHERE id = ?`

type UpdateSettingsParams struct {
	ID                  string
	DailyLimitCents     int64
	WeeklyLimitCents    int64
	MonthlyLimitCents   int64
	LargeThresholdCents int64
	EmailNotifications  bool
}

func (q *Queries) UpdateSettings(ctx context.Context, arg UpdateSettingsParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateSettings, arg.DailyLimitCents, arg.WeeklyLimitCents,
		arg.MonthlyLimitCents, arg.LargeThresholdCents, arg.EmailNotifications, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const insertTransaction = `-- name: InsertTransaction :exec
INSERT INTO transactions (` + transactionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := q.db.ExecContext(ctx, insertTransaction, t.ID, t.UserID, t.AmountCents, t.Type, t.Category,
		t.Description, t.Date, t.CreatedAt, t.UpdatedAt)
	return err
}

const updateTransaction = `-- name: UpdateTransaction :execrows
UPDATE transactions SET amount_cents = ?, type = ?, category = ?, description = ?, date = ?, updated_at = ?
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, t Transaction) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction, t.AmountCents, t.Type, t.Category, t.Description,
		t.Date, t.UpdatedAt, t.ID, t.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `-- name: DeleteTransaction :execrows
DELETE FROM transactions WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? AND user_id = ?`

func (q *Queries) GetTransaction(ctx context.Context, userID, id string) (Transaction, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id, userID))
}

type ListTransactionsParams struct {
	UserID   string
	Type     string
	Category string
	From     int64
	To       int64
	Limit    int64
}

// ListTransactions builds its WHERE clause from the non-zero params.
func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]Transaction, error) {
	var b strings.Builder
	b.WriteString("SELECT " + transactionColumns + " FROM transactions WHERE user_id = ?")
	args := []interface{}{arg.UserID}
	if arg.Type != "" {
		b.WriteString(" AND type = ?")
		args = append(args, arg.Type)
	}
	if arg.Category != "" {
		b.WriteString(" AND category = ?")
		args = append(args, arg.Category)
	}
	if arg.From != 0 {
		b.WriteString(" AND date >= ?")
		args = append(args, arg.From)
	}
	if arg.To != 0 {
		b.WriteString(" AND date < ?")
		args = append(args, arg.To)
	}
	b.WriteString(" ORDER BY date DESC, created_at DESC")
	if arg.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, arg.Limit)
	}

	rows, err := q.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const sumExpenses = `-- name: SumExpenses :one
SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
WHERE user_id = ? AND type = 'expense' AND created_at BETWEEN ? AND ?`

func (q *Queries) SumExpenses(ctx context.Context, userID string, from, to int64) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, sumExpenses, userID, from, to).Scan(&total)
	return total, err
}

const countExpenses = `-- name: CountExpenses :one
SELECT COUNT(*) FROM transactions
WHERE user_id = ? AND type = 'expense' AND created_at BETWEEN ? AND ?`

func (q *Queries) CountExpenses(ctx context.Context, userID string, from, to int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countExpenses, userID, from, to).Scan(&n)
	return n, err
}

const listUnevaluatedExpenses = `-- name: ListUnevaluatedExpenses :many
SELECT t.id, t.user_id, t.amount_cents, t.type, t.category, t.description, t.date, t.created_at, t.updated_at
FROM transactions t
LEFT JOIN alert_evaluations e ON e.transaction_id = t.id
WHERE t.type = 'expense' AND e.transaction_id IS NULL AND t.created_at BETWEEN ? AND ?
ORDER BY t.created_at
LIMIT ?`

func (q *Queries) ListUnevaluatedExpenses(ctx context.Context, since, until, limit int64) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listUnevaluatedExpenses, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const insertTransfer = `-- name: InsertTransfer :exec
INSERT INTO transfers (` + transferColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransfer(ctx context.Context, t Transfer) error {
	_, err := q.db.ExecContext(ctx, insertTransfer, t.ID, t.SenderID, t.RecipientID, t.AmountCents,
		t.Description, t.Status, t.CreatedAt)
	return err
}

const listTransfers = `-- name: ListTransfers :many
SELECT ` + transferColumns + ` FROM transfers
WHERE sender_id = ? OR recipient_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`

func (q *Queries) ListTransfers(ctx context.Context, userID string, limit int64) ([]Transfer, error) {
	rows, err := q.db.QueryContext(ctx, listTransfers, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const insertAlert = `-- name: InsertAlert :exec
INSERT INTO alerts (` + alertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertAlert(ctx context.Context, a Alert) error {
	_, err := q.db.ExecContext(ctx, insertAlert, a.ID, a.UserID, a.Type, a.Severity, a.Message, a.IsRead,
		a.TransactionID, a.MetaAmountCents, a.MetaCategory, a.CreatedAt)
	return err
}

const insertEvaluation = `-- name: InsertEvaluation :execrows
INSERT INTO alert_evaluations (transaction_id, evaluated_at) VALUES (?, ?)
ON CONFLICT (transaction_id) DO NOTHING`

func (q *Queries) InsertEvaluation(ctx context.Context, transactionID string, at int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertEvaluation, transactionID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listAlerts = `-- name: ListAlerts :many
SELECT ` + alertColumns + ` FROM alerts WHERE user_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`

func (q *Queries) ListAlerts(ctx context.Context, userID string, limit int64) ([]Alert, error) {
	rows, err := q.db.QueryContext(ctx, listAlerts, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const countUnread = `-- name: CountUnread :one
SELECT COUNT(*) FROM alerts WHERE user_id = ? AND is_read = 0`

func (q *Queries) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUnread, userID).Scan(&n)
	return n, err
}

const markAlertRead = `-- name: MarkAlertRead :one
UPDATE alerts SET is_read = 1 WHERE id = ? AND user_id = ?
RETURNING ` + alertColumns

func (q *Queries) MarkAlertRead(ctx context.Context, userID, id string) (Alert, error) {
	return scanAlert(q.db.QueryRowContext(ctx, markAlertRead, id, userID))
}
