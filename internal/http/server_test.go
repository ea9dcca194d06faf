package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smartpay/internal/backend"
	"smartpay/internal/config"
	"smartpay/internal/core"
	applog "smartpay/internal/log"
)

func newTestServer(t *testing.T, rpm int) *Server {
	t.Helper()
	t.Setenv("EMAIL_USER", "")
	t.Setenv("EMAIL_PASS", "")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("ARCHIVE_BIGQUERY_PROJECT", "")
	t.Setenv("ARCHIVE_GCS_BUCKET", "")

	cfg := config.Load()
	cfg.DataBackend = "memory"
	cfg.EvaluatorMode = config.EvaluatorInline

	app, err := backend.NewFactory(nil).Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	logger := applog.New(applog.Config{Output: io.Discard, Component: applog.ComponentHTTP})
	srv := NewServer(":0", app, Options{RequestsPerMinute: rpm, Logger: logger})
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		_ = app.Close(context.Background())
	})
	return srv
}

// do sends a JSON request and decodes the response into out when non-nil.
func do(t *testing.T, srv *Server, method, path, user string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec
}

func createUser(t *testing.T, srv *Server, name, email string) userResponse {
	t.Helper()
	var u userResponse
	rec := do(t, srv, http.MethodPost, "/api/users", "", map[string]string{"name": name, "email": email}, &u)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user status = %d body = %s", rec.Code, rec.Body.String())
	}
	return u
}

func TestHealthReadyMetrics(t *testing.T) {
	srv := newTestServer(t, 0)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := do(t, srv, http.MethodGet, path, "", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing request id", path)
		}
	}

	rec := do(t, srv, http.MethodGet, "/readyz", "", nil, nil)
	if !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Errorf("readyz body = %s", rec.Body.String())
	}
	rec = do(t, srv, http.MethodGet, "/metrics", "", nil, nil)
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Errorf("metrics body = %s", rec.Body.String())
	}
}

func TestRequiresUserHeader(t *testing.T) {
	srv := newTestServer(t, 0)
	for _, path := range []string{"/api/balance", "/api/transactions", "/api/alerts", "/api/alerts/settings"} {
		if rec := do(t, srv, http.MethodGet, path, "", nil, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestCreateUser(t *testing.T) {
	srv := newTestServer(t, 0)
	u := createUser(t, srv, "Ann", "Ann@Example.com")
	if u.Balance != "1000.00" || u.BalanceCents != 100000 {
		t.Errorf("opening balance = %s/%d", u.Balance, u.BalanceCents)
	}
	if u.Email != "ann@example.com" {
		t.Errorf("email = %q", u.Email)
	}

	rec := do(t, srv, http.MethodPost, "/api/users", "", map[string]string{"name": "Ann 2", "email": "ann@example.com"}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate email status = %d, want 409", rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/api/users", "", map[string]string{"name": "", "email": "x@example.com"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/api/users", "", "{not json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv := newTestServer(t, 0)
	u := createUser(t, srv, "Ann", "ann@example.com")

	var created transactionWriteResponse
	rec := do(t, srv, http.MethodPost, "/api/transactions", u.ID, map[string]any{
		"amount":      "250.00",
		"type":        "expense",
		"description": "amazon order",
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	if created.BalanceCents != 75000 || created.Balance != "750.00" {
		t.Errorf("balance after expense = %s", created.Balance)
	}
	if created.Transaction.Category != string(core.CategoryShopping) {
		t.Errorf("category = %q, want auto-categorized shopping", created.Transaction.Category)
	}

	// Numeric amount on income.
	var income transactionWriteResponse
	rec = do(t, srv, http.MethodPost, "/api/transactions", u.ID,
		`{"amount": 12.5, "type": "income", "category": "other", "description": "refund", "date": "2024-03-01"}`, &income)
	if rec.Code != http.StatusCreated {
		t.Fatalf("income status = %d body = %s", rec.Code, rec.Body.String())
	}
	if income.BalanceCents != 76250 {
		t.Errorf("balance after income = %d", income.BalanceCents)
	}

	var list []transactionResponse
	do(t, srv, http.MethodGet, "/api/transactions?type=expense", u.ID, nil, &list)
	if len(list) != 1 || list[0].ID != created.Transaction.ID {
		t.Fatalf("expense list = %+v", list)
	}

	var updated transactionWriteResponse
	rec = do(t, srv, http.MethodPut, "/api/transactions/"+created.Transaction.ID, u.ID, map[string]any{
		"amount":      "50",
		"type":        "expense",
		"category":    "food",
		"description": "grocery run",
	}, &updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	if updated.BalanceCents != 96250 {
		t.Errorf("balance after edit = %d, want 96250", updated.BalanceCents)
	}
	if updated.Transaction.Category != "food" || updated.Transaction.AmountCents != 5000 {
		t.Errorf("updated = %+v", updated.Transaction)
	}

	var got transactionResponse
	if rec := do(t, srv, http.MethodGet, "/api/transactions/"+created.Transaction.ID, u.ID, nil, &got); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got.Description != "grocery run" {
		t.Errorf("description = %q", got.Description)
	}

	rec = do(t, srv, http.MethodDelete, "/api/transactions/"+created.Transaction.ID, u.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var bal balanceResponse
	do(t, srv, http.MethodGet, "/api/balance", u.ID, nil, &bal)
	if bal.BalanceCents != 101250 {
		t.Errorf("balance after delete = %d, want 101250", bal.BalanceCents)
	}

	if rec := do(t, srv, http.MethodDelete, "/api/transactions/"+created.Transaction.ID, u.ID, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestTransactionValidation(t *testing.T) {
	srv := newTestServer(t, 0)
	u := createUser(t, srv, "Ann", "ann@example.com")

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"zero amount", `{"amount": "0", "type": "expense", "description": "x"}`, "amount"},
		{"negative amount", `{"amount": -5, "type": "expense", "description": "x"}`, "amount"},
		{"bad type", `{"amount": "5", "type": "refund", "description": "x"}`, ""},
		{"bad category", `{"amount": "5", "type": "expense", "category": "travel", "description": "x"}`, ""},
		{"empty description", `{"amount": "5", "type": "expense", "description": "  "}`, "description"},
		{"bad date", `{"amount": "5", "type": "expense", "description": "x", "date": "03/01/2024"}`, "date"},
		{"amount as bool", `{"amount": true, "type": "expense", "description": "x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/transactions", u.ID, tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if tt.field != "" {
				var er errorResponse
				_ = json.Unmarshal(rec.Body.Bytes(), &er)
				if er.Field != tt.field {
					t.Errorf("field = %q, want %q", er.Field, tt.field)
				}
			}
		})
	}

	var bal balanceResponse
	do(t, srv, http.MethodGet, "/api/balance", u.ID, nil, &bal)
	if bal.BalanceCents != 100000 {
		t.Errorf("rejected requests changed balance to %d", bal.BalanceCents)
	}

	if rec := do(t, srv, http.MethodGet, "/api/transactions?category=travel", u.ID, nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad category filter status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/transactions?limit=-1", u.ID, nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/transactions?from=2024-02-01&to=2024-01-01", u.ID, nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d", rec.Code)
	}
}

func TestTransfers(t *testing.T) {
	srv := newTestServer(t, 0)
	ann := createUser(t, srv, "Ann", "ann@example.com")
	bob := createUser(t, srv, "Bob", "bob@example.com")

	var sent transferWriteResponse
	rec := do(t, srv, http.MethodPost, "/api/transfers", ann.ID, map[string]any{
		"recipientId": bob.ID,
		"amount":      "100.00",
		"description": "dinner",
	}, &sent)
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer status = %d body = %s", rec.Code, rec.Body.String())
	}
	if sent.NewBalance != "900.00" || sent.Transfer.Status != string(core.TransferCompleted) || sent.Transfer.Direction != "sent" {
		t.Errorf("transfer = %+v", sent)
	}

	var bobBal balanceResponse
	do(t, srv, http.MethodGet, "/api/balance", bob.ID, nil, &bobBal)
	if bobBal.BalanceCents != 110000 {
		t.Errorf("recipient balance = %d", bobBal.BalanceCents)
	}

	var bobTransfers []transferResponse
	do(t, srv, http.MethodGet, "/api/transfers", bob.ID, nil, &bobTransfers)
	if len(bobTransfers) != 1 || bobTransfers[0].Direction != "received" {
		t.Errorf("recipient transfers = %+v", bobTransfers)
	}

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"insufficient funds", map[string]any{"recipientId": bob.ID, "amount": "5000"}, http.StatusUnprocessableEntity},
		{"self transfer", map[string]any{"recipientId": ann.ID, "amount": "1"}, http.StatusBadRequest},
		{"unknown recipient", map[string]any{"recipientId": "nobody", "amount": "1"}, http.StatusNotFound},
		{"insufficient funds to unknown recipient", map[string]any{"recipientId": "nobody", "amount": "5000"}, http.StatusUnprocessableEntity},
		{"insufficient funds to self", map[string]any{"recipientId": ann.ID, "amount": "5000"}, http.StatusUnprocessableEntity},
		{"bad amount", map[string]any{"recipientId": bob.ID, "amount": "abc"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, srv, http.MethodPost, "/api/transfers", ann.ID, tt.body, nil); rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	var annBal balanceResponse
	do(t, srv, http.MethodGet, "/api/balance", ann.ID, nil, &annBal)
	if annBal.BalanceCents != 90000 {
		t.Errorf("failed transfers changed sender balance to %d", annBal.BalanceCents)
	}
}

func TestListRecipients(t *testing.T) {
	srv := newTestServer(t, 0)
	cid := createUser(t, srv, "Cid", "cid@example.com")
	ann := createUser(t, srv, "Ann", "ann@example.com")
	bob := createUser(t, srv, "Bob", "bob@example.com")

	var got []map[string]any
	rec := do(t, srv, http.MethodGet, "/api/transfers/users", bob.ID, nil, &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(got) != 2 || got[0]["id"] != ann.ID || got[1]["id"] != cid.ID {
		t.Fatalf("recipients = %+v", got)
	}
	if got[0]["email"] != "ann@example.com" || got[0]["name"] != "Ann" {
		t.Errorf("entry = %+v", got[0])
	}
	if _, ok := got[0]["balance"]; ok {
		t.Error("directory must not expose balances")
	}
	if rec := do(t, srv, http.MethodGet, "/api/transfers/users", "", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}
}

func TestAlertsFlow(t *testing.T) {
	srv := newTestServer(t, 0)
	u := createUser(t, srv, "Ann", "ann@example.com")

	rec := do(t, srv, http.MethodPost, "/api/transactions", u.ID, map[string]any{
		"amount": "250", "type": "expense", "category": "shopping", "description": "new headphones",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	var list []alertResponse
	rec = do(t, srv, http.MethodGet, "/api/alerts", u.ID, nil, &list)
	var large *alertResponse
	for i := range list {
		if list[i].Type == string(core.AlertLargeTransaction) {
			large = &list[i]
		}
	}
	if large == nil {
		t.Fatalf("no large transaction alert in %+v", list)
	}
	if large.Metadata == nil || large.Metadata.AmountCents != 25000 || large.Title != "Large Transaction" {
		t.Errorf("large alert = %+v", large)
	}
	if got := rec.Header().Get(HeaderUnreadCount); got != fmt.Sprint(len(list)) {
		t.Errorf("unread header = %q, want %d", got, len(list))
	}

	var read alertResponse
	if rec := do(t, srv, http.MethodPut, "/api/alerts/"+large.ID+"/read", u.ID, nil, &read); rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d", rec.Code)
	}
	if !read.IsRead {
		t.Error("alert not marked read")
	}
	rec = do(t, srv, http.MethodGet, "/api/alerts", u.ID, nil, &list)
	if got := rec.Header().Get(HeaderUnreadCount); got != fmt.Sprint(len(list)-1) {
		t.Errorf("unread after mark = %q", got)
	}

	other := createUser(t, srv, "Bob", "bob@example.com")
	if rec := do(t, srv, http.MethodPut, "/api/alerts/"+large.ID+"/read", other.ID, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign alert status = %d, want 404", rec.Code)
	}

	var created alertResponse
	rec = do(t, srv, http.MethodPost, "/api/alerts", u.ID, map[string]string{
		"type": "account_security", "message": "New login from unknown device",
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create alert status = %d body = %s", rec.Code, rec.Body.String())
	}
	if created.Severity != string(core.SeverityMedium) {
		t.Errorf("default severity = %q", created.Severity)
	}
	if rec := do(t, srv, http.MethodPost, "/api/alerts", u.ID, map[string]string{"type": "phishing", "message": "x"}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d", rec.Code)
	}
}

func TestSettings(t *testing.T) {
	srv := newTestServer(t, 0)
	u := createUser(t, srv, "Ann", "ann@example.com")

	var st settingsResponse
	do(t, srv, http.MethodGet, "/api/alerts/settings", u.ID, nil, &st)
	want := settingsResponse{"100.00", "500.00", "2000.00", "200.00", true}
	if st != want {
		t.Errorf("defaults = %+v, want %+v", st, want)
	}

	rec := do(t, srv, http.MethodPut, "/api/alerts/settings", u.ID,
		`{"dailyLimit": 0, "weeklyLimit": "750.5", "monthlyLimit": 3000, "largeTransactionThreshold": "150", "enableEmailNotifications": false}`, &st)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	want = settingsResponse{"0.00", "750.50", "3000.00", "150.00", false}
	if st != want {
		t.Errorf("updated = %+v, want %+v", st, want)
	}

	rec = do(t, srv, http.MethodPut, "/api/alerts/settings", u.ID,
		`{"dailyLimit": "10", "weeklyLimit": "10", "monthlyLimit": "10", "enableEmailNotifications": true}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("partial update status = %d, want 400", rec.Code)
	}
	do(t, srv, http.MethodGet, "/api/alerts/settings", u.ID, nil, &st)
	if st != want {
		t.Errorf("rejected update changed settings to %+v", st)
	}

	if rec := do(t, srv, http.MethodGet, "/api/alerts/settings", "ghost", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, 0)
	u := createUser(t, srv, "Ann", "ann@example.com")
	for _, body := range []map[string]any{
		{"amount": "30", "type": "expense", "category": "food", "description": "pizza"},
		{"amount": "20", "type": "expense", "category": "food", "description": "cafe"},
		{"amount": "15", "type": "expense", "category": "transport", "description": "uber"},
	} {
		if rec := do(t, srv, http.MethodPost, "/api/transactions", u.ID, body, nil); rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rec.Code)
		}
	}

	var st statsResponse
	if rec := do(t, srv, http.MethodGet, "/api/transactions/stats", u.ID, nil, &st); rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if st.ThisMonth != "65.00" || st.LastMonth != "0.00" || st.MonthlyChange != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.CategoryBreakdown["food"] != "50.00" || st.CategoryBreakdown["transport"] != "15.00" {
		t.Errorf("breakdown = %+v", st.CategoryBreakdown)
	}
	if len(st.MonthlyTrends) != 6 || st.MonthlyTrends[5].Expenses != "65.00" {
		t.Errorf("trends = %+v", st.MonthlyTrends)
	}

	// A write invalidates the cached stats.
	body := map[string]any{"amount": "10", "type": "expense", "category": "food", "description": "bakery"}
	if rec := do(t, srv, http.MethodPost, "/api/transactions", u.ID, body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/transactions/stats", u.ID, nil, &st); rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if st.ThisMonth != "75.00" || st.CategoryBreakdown["food"] != "60.00" {
		t.Errorf("stats after write = %+v", st)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	srv := newTestServer(t, 2)
	for i := 0; i < 2; i++ {
		if rec := do(t, srv, http.MethodGet, "/api/balance", "u-1", nil, nil); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited", i+1)
		}
	}
	rec := do(t, srv, http.MethodGet, "/api/balance", "u-1", nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec := do(t, srv, http.MethodGet, "/api/balance", "u-2", nil, nil); rec.Code == http.StatusTooManyRequests {
		t.Error("other users keep their own budget")
	}
}

func TestSecurityHeadersAndSuspiciousRequestBlocking(t *testing.T) {
	srv := newTestServer(t, 0)
	rec := do(t, srv, http.MethodGet, "/healthz", "", nil, nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	rec = do(t, srv, http.MethodGet, "/api/transactions?category=1'+union+select+*", "u-1", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("suspicious request status = %d, want 400", rec.Code)
	}
}

func TestAmountParam(t *testing.T) {
	tests := []struct {
		in      string
		want    amountParam
		wantErr bool
	}{
		{`"12.34"`, "12.34", false},
		{`12.34`, "12.34", false},
		{`100`, "100", false},
		{`null`, "", false},
		{`true`, "", true},
		{`{"v":1}`, "", true},
	}
	for _, tt := range tests {
		var a amountParam
		err := json.Unmarshal([]byte(tt.in), &a)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if a != tt.want {
			t.Errorf("%s: got %q, want %q", tt.in, a, tt.want)
		}
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.NewValidationError("amount", "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", core.ErrSelfTransfer), http.StatusBadRequest},
		{core.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{core.ErrRecipientNotFound, http.StatusNotFound},
		{fmt.Errorf("create transaction: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrConflict, http.StatusConflict},
		{fmt.Errorf("%w: eof", errInvalidBody), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
