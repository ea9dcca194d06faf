package http

import (
	"time"

	"smartpay/internal/core"
)

// Monetary fields are rendered twice: a fixed two-decimal string and the
// integer cents it came from.

type userResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Balance      string    `json:"balance"`
	BalanceCents int64     `json:"balanceCents"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newUserResponse(u core.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Balance:      u.Balance.StringFixed(),
		BalanceCents: u.Balance.Cents,
		CreatedAt:    u.CreatedAt,
	}
}

// recipientResponse is a directory entry. It leaves out the balance.
type recipientResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type balanceResponse struct {
	Balance      string `json:"balance"`
	BalanceCents int64  `json:"balanceCents"`
}

func newBalanceResponse(m core.Money) balanceResponse {
	return balanceResponse{Balance: m.StringFixed(), BalanceCents: m.Cents}
}

type transactionRequest struct {
	Amount      amountParam `json:"amount"`
	Type        string      `json:"type"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amountCents"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		Amount:      t.Amount.StringFixed(),
		AmountCents: t.Amount.Cents,
		Type:        string(t.Type),
		Category:    string(t.Category),
		Description: t.Description,
		Date:        t.Date,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type transactionWriteResponse struct {
	Transaction transactionResponse `json:"transaction"`
	balanceResponse
}

type transferRequest struct {
	RecipientID string      `json:"recipientId"`
	Amount      amountParam `json:"amount"`
	Description string      `json:"description"`
}

type transferResponse struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amountCents"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Direction   string    `json:"direction"` // "sent" or "received" from the caller's side
	CreatedAt   time.Time `json:"createdAt"`
}

func newTransferResponse(t core.Transfer, caller string) transferResponse {
	direction := "received"
	if t.SenderID == caller {
		direction = "sent"
	}
	return transferResponse{
		ID:          t.ID,
		SenderID:    t.SenderID,
		RecipientID: t.RecipientID,
		Amount:      t.Amount.StringFixed(),
		AmountCents: t.Amount.Cents,
		Description: t.Description,
		Status:      string(t.Status),
		Direction:   direction,
		CreatedAt:   t.CreatedAt,
	}
}

type transferWriteResponse struct {
	Transfer        transferResponse `json:"transfer"`
	NewBalance      string           `json:"newBalance"`
	NewBalanceCents int64            `json:"newBalanceCents"`
}

type alertRequest struct {
	Type          string `json:"type"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId"`
}

type alertMetadata struct {
	TransactionID string `json:"transactionId,omitempty"`
	Amount        string `json:"amount,omitempty"`
	AmountCents   int64  `json:"amountCents,omitempty"`
	Category      string `json:"category,omitempty"`
}

type alertResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	IsRead    bool           `json:"isRead"`
	Metadata  *alertMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func newAlertResponse(a core.Alert) alertResponse {
	resp := alertResponse{
		ID:        a.ID,
		Type:      string(a.Type),
		Title:     a.Type.Title(),
		Severity:  string(a.Severity),
		Message:   a.Message,
		IsRead:    a.IsRead,
		CreatedAt: a.CreatedAt,
	}
	if m := a.Metadata; m != nil {
		resp.Metadata = &alertMetadata{
			TransactionID: m.TransactionID,
			Category:      string(m.Category),
		}
		if !m.Amount.IsZero() {
			resp.Metadata.Amount = m.Amount.StringFixed()
			resp.Metadata.AmountCents = m.Amount.Cents
		}
	}
	return resp
}

type settingsRequest struct {
	DailyLimit                *amountParam `json:"dailyLimit"`
	WeeklyLimit               *amountParam `json:"weeklyLimit"`
	MonthlyLimit              *amountParam `json:"monthlyLimit"`
	LargeTransactionThreshold *amountParam `json:"largeTransactionThreshold"`
	EnableEmailNotifications  *bool        `json:"enableEmailNotifications"`
}

type settingsResponse struct {
	DailyLimit                string `json:"dailyLimit"`
	WeeklyLimit               string `json:"weeklyLimit"`
	MonthlyLimit              string `json:"monthlyLimit"`
	LargeTransactionThreshold string `json:"largeTransactionThreshold"`
	EnableEmailNotifications  bool   `json:"enableEmailNotifications"`
}

func newSettingsResponse(s core.AlertSettings) settingsResponse {
	return settingsResponse{
		DailyLimit:                s.DailyLimit.StringFixed(),
		WeeklyLimit:               s.WeeklyLimit.StringFixed(),
		MonthlyLimit:              s.MonthlyLimit.StringFixed(),
		LargeTransactionThreshold: s.LargeTransactionThreshold.StringFixed(),
		EnableEmailNotifications:  s.EnableEmailNotifications,
	}
}

type monthTrend struct {
	Month    string `json:"month"`
	Income   string `json:"income"`
	Expenses string `json:"expenses"`
}

type statsResponse struct {
	ThisMonth         string            `json:"thisMonth"`
	LastMonth         string            `json:"lastMonth"`
	MonthlyChange     float64           `json:"monthlyChange"`
	CategoryBreakdown map[string]string `json:"categoryBreakdown"`
	MonthlyTrends     []monthTrend      `json:"monthlyTrends"`
}

func newStatsResponse(st core.SpendingStats) statsResponse {
	resp := statsResponse{
		ThisMonth:         st.ThisMonth.StringFixed(),
		LastMonth:         st.LastMonth.StringFixed(),
		MonthlyChange:     st.MonthlyChange,
		CategoryBreakdown: make(map[string]string, len(st.ByCategory)),
		MonthlyTrends:     make([]monthTrend, 0, len(st.Trend)),
	}
	for _, c := range st.ByCategory {
		resp.CategoryBreakdown[string(c.Category)] = c.Total.StringFixed()
	}
	for _, m := range st.Trend {
		resp.MonthlyTrends = append(resp.MonthlyTrends, monthTrend{
			Month:    m.Month,
			Income:   m.Income.StringFixed(),
			Expenses: m.Expenses.StringFixed(),
		})
	}
	return resp
}
