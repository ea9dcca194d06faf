package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartpay/internal/core"
	applog "smartpay/internal/log"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 100
	maxLimit     = 500
)

var errInvalidBody = errors.New("invalid request body")

type errorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object of at most maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errInvalidBody)
	}
	return nil
}

// errorStatus maps the core error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, applog.ErrorTypeValidation
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrSelfTransfer):
		return http.StatusBadRequest, applog.ErrorTypeValidation
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, applog.ErrorTypeInsufficient
	case errors.Is(err, core.ErrRecipientNotFound), errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, applog.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, applog.ErrorTypeConflict
	default:
		return http.StatusInternalServerError, applog.ErrorTypeInternal
	}
}

// writeError answers with the mapped status. Internal failures are logged
// and their detail withheld from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status, errType := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.LogError(r.Context(), "Request failed", err, errType, op,
			applog.NewFields().WithUser(userID(r)).WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")))
		writeJSON(w, status, errorResponse{Message: "Server error"})
		return
	}

	resp := errorResponse{Message: err.Error()}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	switch {
	case errors.Is(err, core.ErrRecipientNotFound):
		resp.Message = "Recipient not found"
	case errors.Is(err, core.ErrNotFound):
		resp.Message = "Not found"
	case errors.Is(err, core.ErrInsufficientFunds):
		resp.Message = "Insufficient balance"
	case errors.Is(err, core.ErrSelfTransfer):
		resp.Message = "Cannot transfer to yourself"
	}
	s.logger.DebugContext(r.Context(), "Request rejected",
		applog.FieldErrorType, errType,
		applog.FieldOperation, op,
		applog.FieldStatusCode, status,
		applog.FieldError, err)
	writeJSON(w, status, resp)
}

// amountParam accepts a JSON number or a string so clients never round an
// amount through float64.
type amountParam string

func (a *amountParam) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountParam(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or a string")
	}
	*a = amountParam(n.String())
	return nil
}

func (a *amountParam) ptr() *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}

// parseDate accepts YYYY-MM-DD in loc or an RFC 3339 timestamp.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, core.NewValidationError("date", "must be YYYY-MM-DD or RFC 3339")
}

// parseLimit reads ?limit=, defaulting to defaultLimit and capped at maxLimit.
func parseLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, core.NewValidationError("limit", "must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
