package core

import (
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

const (
	AlertSpendingLimit    AlertType = "spending_limit"
	AlertLargeTransaction AlertType = "large_transaction"
	AlertUnusualActivity  AlertType = "unusual_activity"
	AlertAccountSecurity  AlertType = "account_security"
)

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultOpeningBalance is credited to every new user.
var DefaultOpeningBalance = Money{Cents: 100000}

type (
	TransactionType string
	TransferStatus  string
	AlertType       string
	Severity        string

	// AlertSettings are the per-user thresholds consumed by the rule evaluator.
	// A zero or negative limit disables the corresponding rule.
	AlertSettings struct {
		DailyLimit                Money
		WeeklyLimit               Money
		MonthlyLimit              Money
		LargeTransactionThreshold Money
		EnableEmailNotifications  bool
	}

	User struct {
		ID        string
		Name      string
		Email     string
		Balance   Money
		Settings  AlertSettings
		CreatedAt time.Time
	}

	Transaction struct {
		ID          string
		UserID      string
		Amount      Money
		Type        TransactionType
		Category    Category
		Description string
		Date        time.Time
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	Transfer struct {
		ID          string
		SenderID    string
		RecipientID string
		Amount      Money
		Description string
		Status      TransferStatus
		CreatedAt   time.Time
	}

	// AlertMetadata links an alert to the transaction that triggered it.
	AlertMetadata struct {
		TransactionID string
		Amount        Money
		Category      Category
	}

	Alert struct {
		ID        string
		UserID    string
		Type      AlertType
		Severity  Severity
		Message   string
		IsRead    bool
		Metadata  *AlertMetadata
		CreatedAt time.Time
	}
)

// DefaultAlertSettings mirrors the thresholds a new account starts with.
func DefaultAlertSettings() AlertSettings {
	return AlertSettings{
		DailyLimit:                Money{Cents: 10000},
		WeeklyLimit:               Money{Cents: 50000},
		MonthlyLimit:              Money{Cents: 200000},
		LargeTransactionThreshold: Money{Cents: 20000},
		EnableEmailNotifications:  true,
	}
}

// SignedDelta returns the balance contribution of a transaction:
// +amount for income, -amount for expense.
func SignedDelta(amount Money, typ TransactionType) Money {
	if typ == Income {
		return amount
	}
	return amount.Neg()
}

func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	default:
		return NewValidationError("type", "must be income or expense")
	}
}

func (t Transaction) SignedDelta() Money {
	return SignedDelta(t.Amount, t.Type)
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return NewValidationError("user", "missing user id")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Category.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	return nil
}

// Validate checks the transfer's shape. Self-transfer and funds are checked by
// the ledger, which needs the sender's balance first.
func (t Transfer) Validate() error {
	if strings.TrimSpace(t.SenderID) == "" {
		return NewValidationError("sender", "missing sender id")
	}
	if strings.TrimSpace(t.RecipientID) == "" {
		return NewValidationError("recipient", "missing recipient id")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if len(t.Description) > 200 {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	return nil
}

func (a AlertType) Validate() error {
	switch a {
	case AlertSpendingLimit, AlertLargeTransaction, AlertUnusualActivity, AlertAccountSecurity:
		return nil
	default:
		return NewValidationError("alert type", "unknown alert type "+string(a))
	}
}

// Title is the human readable name used in notifications.
func (a AlertType) Title() string {
	switch a {
	case AlertSpendingLimit:
		return "Spending Limit"
	case AlertLargeTransaction:
		return "Large Transaction"
	case AlertUnusualActivity:
		return "Unusual Activity"
	case AlertAccountSecurity:
		return "Account Security"
	default:
		return string(a)
	}
}

func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	default:
		return NewValidationError("severity", "unknown severity "+string(s))
	}
}

func (a Alert) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return NewValidationError("user", "missing user id")
	}
	if err := a.Type.Validate(); err != nil {
		return err
	}
	if err := a.Severity.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Message) == "" {
		return NewValidationError("message", "must not be empty")
	}
	return nil
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return NewValidationError("name", "must not be empty")
	}
	if !strings.Contains(u.Email, "@") {
		return NewValidationError("email", "must be a valid address")
	}
	return nil
}

// TransactionFilter narrows a transaction listing. Zero values match all.
type TransactionFilter struct {
	Type     TransactionType
	Category Category
	From     time.Time // inclusive, on Date
	To       time.Time // exclusive, on Date
	Limit    int
}
