package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/payments"
)

type creditCheckoutRequest struct {
	PayerEmail string `json:"payer_email"`
	Credits    int    `json:"credits"`
}

// CreateCreditCheckout opens a hosted session for a credit pack. The
// pending row written here is what the grant later reads; the session
// metadata never carries the amount.
func (a *App) CreateCreditCheckout(w http.ResponseWriter, r *http.Request) {
	var req creditCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.PayerEmail == "" || req.Credits <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "payer_email and a positive credit count are required")
		return
	}

	pending := &domain.PendingCreditPurchase{
		ID:         uuid.NewString(),
		PayerEmail: req.PayerEmail,
		Credits:    req.Credits,
		Status:     domain.PendingCreditOpen,
	}
	if err := a.Pending.Create(r.Context(), pending); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create pending purchase")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create purchase")
		return
	}

	session, err := a.Gateway.CreateSession(r.Context(), payments.CreateSessionParams{
		Kind:          payments.SessionKindCreditPack,
		ReferenceID:   pending.ID,
		CustomerEmail: req.PayerEmail,
		AmountCents:   int64(req.Credits) * a.Cfg.CreditCents,
		Currency:      a.Cfg.Currency,
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("pending_id", pending.ID).Msg("handlers: create checkout session")
		a.error(w, http.StatusBadGateway, "provider_failure", "failed to create checkout session")
		return
	}
	if err := a.Pending.LinkSession(r.Context(), pending.ID, session.ID); err != nil {
		a.Logger.Error().Err(err).Str("pending_id", pending.ID).Msg("handlers: link session")
		a.error(w, http.StatusInternalServerError, "internal", "failed to link session")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{
		"id":           pending.ID,
		"credits":      pending.Credits,
		"checkout_url": session.URL,
	})
}

// CreditBalance returns the payer's spendable balance.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("payer_email")
	if email == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "payer_email is required")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), email)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: load balance")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"payer_email": email, "balance": balance})
}

// CreditTransactions returns the payer's recent ledger entries.
func (a *App) CreditTransactions(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("payer_email")
	if email == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "payer_email is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = n
	}
	txns, err := a.Ledger.Transactions(r.Context(), email, limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Logger.Error().Err(err).Msg("handlers: load transactions")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load transactions")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"payer_email": email, "transactions": txns})
}
