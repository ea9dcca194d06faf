package http

import (
	"net/http"
	"strconv"
	"strings"

	"smartpay/internal/alerts"
	"smartpay/internal/core"
	applog "smartpay/internal/log"
	"smartpay/internal/settings"
)

// HeaderUnreadCount carries the caller's unread alert count on alert listings.
const HeaderUnreadCount = "X-Unread-Count"

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request, userID string) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	list, err := s.alerts.List(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	unread, err := s.alerts.UnreadCount(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}

	out := make([]alertResponse, 0, len(list))
	for _, a := range list {
		out = append(out, newAlertResponse(a))
	}
	w.Header().Set(HeaderUnreadCount, strconv.Itoa(unread))
	writeJSON(w, http.StatusOK, out)
}

// handleCreateAlert raises an alert from outside the rule evaluator, e.g. an
// account security event reported by another service.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request, userID string) {
	var req alertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}
	user, err := s.ledger.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}

	in := alerts.CreateInput{
		Type:     core.AlertType(strings.ToLower(strings.TrimSpace(req.Type))),
		Severity: core.Severity(strings.ToLower(strings.TrimSpace(req.Severity))),
		Message:  req.Message,
	}
	if id := strings.TrimSpace(req.TransactionID); id != "" {
		t, err := s.ledger.GetTransaction(r.Context(), userID, id)
		if err != nil {
			s.writeError(w, r, err, applog.OpCreate)
			return
		}
		in.Metadata = &core.AlertMetadata{TransactionID: t.ID, Amount: t.Amount, Category: t.Category}
	}

	a, err := s.alerts.Create(r.Context(), user, in)
	if err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}
	s.log.LogAlertCreated(r.Context(), userID, a)
	writeJSON(w, http.StatusCreated, newAlertResponse(a))
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request, userID string) {
	a, err := s.alerts.MarkRead(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, applog.OpUpdate)
		return
	}
	writeJSON(w, http.StatusOK, newAlertResponse(a))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, userID string) {
	st, err := s.settings.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err, applog.OpRead)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsResponse(st))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, userID string) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, applog.OpUpdate)
		return
	}
	st, err := s.settings.Update(r.Context(), userID, settings.Input{
		DailyLimit:                req.DailyLimit.ptr(),
		WeeklyLimit:               req.WeeklyLimit.ptr(),
		MonthlyLimit:              req.MonthlyLimit.ptr(),
		LargeTransactionThreshold: req.LargeTransactionThreshold.ptr(),
		EnableEmailNotifications:  req.EnableEmailNotifications,
	})
	if err != nil {
		s.writeError(w, r, err, applog.OpUpdate)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsResponse(st))
}
