package http

import (
	"net/http"
	"strings"

	"smartpay/internal/core"
	"smartpay/internal/ledger"
	applog "smartpay/internal/log"
)

// transactionInput converts a request body. An empty category is left for
// the ledger to derive from the description.
func (s *Server) transactionInput(req transactionRequest) (ledger.TransactionInput, error) {
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		return ledger.TransactionInput{}, err
	}
	in := ledger.TransactionInput{
		Amount:      amount,
		Type:        core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		Category:    core.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Description: req.Description,
	}
	if strings.TrimSpace(req.Date) != "" {
		if in.Date, err = parseDate(req.Date, s.loc); err != nil {
			return ledger.TransactionInput{}, err
		}
	}
	return in, nil
}

func (s *Server) transactionFilter(r *http.Request) (core.TransactionFilter, error) {
	q := r.URL.Query()
	var f core.TransactionFilter
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		f.Type = core.TransactionType(strings.ToLower(v))
		if err := f.Type.Validate(); err != nil {
			return f, err
		}
	}
	if v := strings.TrimSpace(q.Get("category")); v != "" {
		f.Category = core.Category(strings.ToLower(v))
		if err := f.Category.Validate(); err != nil {
			return f, err
		}
	}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = parseDate(v, s.loc); err != nil {
			return f, core.NewValidationError("from", "must be YYYY-MM-DD or RFC 3339")
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = parseDate(v, s.loc); err != nil {
			return f, core.NewValidationError("to", "must be YYYY-MM-DD or RFC 3339")
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, core.NewValidationError("to", "must be after from")
	}
	if f.Limit, err = parseLimit(r); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, userID string) {
	f, err := s.transactionFilter(r)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), userID, f)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	t, err := s.ledger.GetTransaction(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, applog.OpRead)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}
	in, err := s.transactionInput(req)
	if err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}

	t, bal, err := s.ledger.CreateTransaction(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}
	s.statsCache.Delete(userID)
	s.log.LogTransactionCreated(r.Context(), userID, t.ID, t.Amount.Cents, string(t.Category))
	writeJSON(w, http.StatusCreated, transactionWriteResponse{
		Transaction:     newTransactionResponse(t),
		balanceResponse: newBalanceResponse(bal),
	})
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, applog.OpUpdate)
		return
	}
	in, err := s.transactionInput(req)
	if err != nil {
		s.writeError(w, r, err, applog.OpUpdate)
		return
	}

	t, bal, err := s.ledger.UpdateTransaction(r.Context(), userID, r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err, applog.OpUpdate)
		return
	}
	s.statsCache.Delete(userID)
	writeJSON(w, http.StatusOK, transactionWriteResponse{
		Transaction:     newTransactionResponse(t),
		balanceResponse: newBalanceResponse(bal),
	})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request, userID string) {
	bal, err := s.ledger.DeleteTransaction(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, applog.OpDelete)
		return
	}
	s.statsCache.Delete(userID)
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		balanceResponse
	}{"Transaction deleted", newBalanceResponse(bal)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	st, ok := s.statsCache.Get(userID)
	if !ok {
		var err error
		st, err = s.ledger.Stats(r.Context(), userID, s.loc)
		if err != nil {
			s.writeError(w, r, err, applog.OpRead)
			return
		}
		s.statsCache.Set(userID, st)
	}
	writeJSON(w, http.StatusOK, newStatsResponse(st))
}
