package http

import (
	"net/http"

	"smartpay/internal/core"
	"smartpay/internal/ledger"
	applog "smartpay/internal/log"
)

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request, userID string) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	transfers, err := s.ledger.ListTransfers(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, newTransferResponse(t, userID))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := s.ledger.Recipients(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	out := make([]recipientResponse, 0, len(users))
	for _, u := range users {
		out = append(out, recipientResponse{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request, userID string) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, applog.OpTransfer)
		return
	}
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		s.writeError(w, r, err, applog.OpTransfer)
		return
	}

	t, bal, err := s.ledger.CreateTransfer(r.Context(), userID, ledger.TransferInput{
		RecipientID: req.RecipientID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, r, err, applog.OpTransfer)
		return
	}
	writeJSON(w, http.StatusCreated, transferWriteResponse{
		Transfer:        newTransferResponse(t, userID),
		NewBalance:      bal.StringFixed(),
		NewBalanceCents: bal.Cents,
	})
}
