// Package google appends raised alerts to a Google Sheets spreadsheet so they
// can be reviewed outside the application.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"smartpay/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// AlertLog writes one row per alert into "<year> <sheet>" where the year
// comes from the alert timestamp.
type AlertLog struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	// rows are located by reading column A, so appends are serialized.
	mu sync.Mutex
}

// NewFromEnv creates an alert log using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_ALERTS_SHEET_NAME (default "Alerts")
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*AlertLog, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(os.Getenv("GOOGLE_ALERTS_SHEET_NAME"))
	if base == "" {
		base = "Alerts"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &AlertLog{svc: svc, spreadsheetID: spreadsheetID, sheetBase: base}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// Notify implements alerts.Notifier.
func (l *AlertLog) Notify(ctx context.Context, email, _ string, a core.Alert) error {
	_, err := l.Append(ctx, email, a)
	return err
}

// Append writes the alert on the first empty row and returns its A1 range.
func (l *AlertLog) Append(ctx context.Context, email string, a core.Alert) (string, error) {
	if err := a.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if l.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(l.sheetBase, a.CreatedAt.Year())

	l.mu.Lock()
	defer l.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := l.svc.Spreadsheets.Values.Get(l.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", sheet, err)
	}
	nextRow := len(resp.Values) + 1

	ref := fmt.Sprintf("%s!A%d:H%d", sheet, nextRow, nextRow)
	vr := &gsheet.ValueRange{Values: [][]any{alertRow(email, a)}}
	_, err = l.svc.Spreadsheets.Values.Update(l.spreadsheetID, ref, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", ref, err)
	}

	slog.InfoContext(ctx, "Alert appended to sheet", "alert_id", a.ID, "sheets_ref", ref)
	return ref, nil
}

// alertRow lays out columns A..H: created at, alert id, user id, recipient,
// type, severity, message, amount.
func alertRow(email string, a core.Alert) []any {
	amount := ""
	if a.Metadata != nil && !a.Metadata.Amount.IsZero() {
		amount = a.Metadata.Amount.StringFixed()
	}
	return []any{
		a.CreatedAt.UTC().Format(time.DateTime),
		a.ID,
		a.UserID,
		email,
		string(a.Type),
		string(a.Severity),
		a.Message,
		amount,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a
// four digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
