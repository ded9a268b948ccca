package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/payments"
)

type createPurchaseRequest struct {
	PayerEmail string           `json:"payer_email"`
	Pages      []domain.PageRef `json:"pages"`
	// PayWith selects "credits" (debited immediately, one credit per
	// page) or "checkout" (hosted session, amount from the pricing rule).
	PayWith string `json:"pay_with"`
}

type purchaseResponse struct {
	ID            string                `json:"id"`
	Status        domain.PurchaseStatus `json:"status"`
	AmountCents   int64                 `json:"amount_cents,omitempty"`
	CreditsSpent  int                   `json:"credits_spent,omitempty"`
	CheckoutURL   string                `json:"checkout_url,omitempty"`
	DocumentURL   string                `json:"document_url,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

// CreateLibraryPurchase accepts a cross-order selection of completed
// pages. Pricing is computed server-side; the client only sends the page
// identifiers and how it wants to pay.
func (a *App) CreateLibraryPurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.PayerEmail == "" || len(req.Pages) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "payer_email and pages are required")
		return
	}

	pages, err := a.Pages.GetByRefs(r.Context(), req.Pages)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: load selection")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load selection")
		return
	}
	if len(pages) != len(req.Pages) {
		a.error(w, http.StatusBadRequest, "bad_request", "selection references unknown pages")
		return
	}
	for _, p := range pages {
		if p.Status != domain.PageStatusComplete {
			a.error(w, http.StatusConflict, "conflict", "selection contains incomplete pages")
			return
		}
	}

	purchase := &domain.LibraryPurchase{
		ID:         uuid.NewString(),
		PayerEmail: req.PayerEmail,
		Pages:      req.Pages,
		Status:     domain.PurchaseStatusPending,
	}

	switch req.PayWith {
	case "credits":
		purchase.CreditsSpent = len(req.Pages)
		// Debit before the row exists: an insufficient balance must leave
		// no purchase behind.
		err := a.Ledger.Debit(r.Context(), req.PayerEmail, purchase.CreditsSpent,
			domain.CreditReasonLibraryPurchase, purchase.ID)
		if errors.Is(err, domain.ErrInsufficientCredits) {
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
			return
		}
		if err != nil {
			a.Logger.Error().Err(err).Str("purchase_id", purchase.ID).Msg("handlers: debit for purchase")
			a.error(w, http.StatusInternalServerError, "internal", "failed to debit credits")
			return
		}
		if err := a.Purchases.Create(r.Context(), purchase); err != nil {
			a.Logger.Error().Err(err).Msg("handlers: create purchase")
			if refundErr := a.Ledger.Credit(r.Context(), req.PayerEmail, purchase.CreditsSpent,
				domain.CreditReasonRefund, purchase.ID); refundErr != nil {
				a.Logger.Error().Err(refundErr).Str("purchase_id", purchase.ID).Msg("handlers: refund after failed create")
			}
			a.error(w, http.StatusInternalServerError, "internal", "failed to create purchase")
			return
		}
		if err := a.Tasks.Enqueue(r.Context(), &domain.Task{
			ID:          uuid.NewString(),
			Type:        domain.TaskTypeLibraryAssemble,
			ReferenceID: purchase.ID,
		}); err != nil {
			a.Logger.Error().Err(err).Str("purchase_id", purchase.ID).Msg("handlers: enqueue assembly")
			a.error(w, http.StatusInternalServerError, "internal", "failed to queue assembly")
			return
		}
		a.json(w, http.StatusAccepted, purchaseResponse{
			ID:           purchase.ID,
			Status:       purchase.Status,
			CreditsSpent: purchase.CreditsSpent,
		})

	case "checkout", "":
		purchase.AmountCents = a.Cfg.LibraryPricing().Total(len(req.Pages))
		if err := a.Purchases.Create(r.Context(), purchase); err != nil {
			a.Logger.Error().Err(err).Msg("handlers: create purchase")
			a.error(w, http.StatusInternalServerError, "internal", "failed to create purchase")
			return
		}
		session, err := a.Gateway.CreateSession(r.Context(), payments.CreateSessionParams{
			Kind:          payments.SessionKindLibraryPurchase,
			ReferenceID:   purchase.ID,
			CustomerEmail: req.PayerEmail,
			AmountCents:   purchase.AmountCents,
			Currency:      a.Cfg.Currency,
		})
		if err != nil {
			a.Logger.Error().Err(err).Str("purchase_id", purchase.ID).Msg("handlers: create checkout session")
			a.error(w, http.StatusBadGateway, "provider_failure", "failed to create checkout session")
			return
		}
		a.json(w, http.StatusCreated, purchaseResponse{
			ID:          purchase.ID,
			Status:      purchase.Status,
			AmountCents: purchase.AmountCents,
			CheckoutURL: session.URL,
		})

	default:
		a.error(w, http.StatusBadRequest, "bad_request", "pay_with must be credits or checkout")
	}
}

func (a *App) GetLibraryPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	purchase, err := a.Purchases.GetByID(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "purchase not found")
		return
	}
	a.json(w, http.StatusOK, purchaseResponse{
		ID:            purchase.ID,
		Status:        purchase.Status,
		AmountCents:   purchase.AmountCents,
		CreditsSpent:  purchase.CreditsSpent,
		DocumentURL:   purchase.DocumentURL,
		FailureReason: purchase.FailureReason,
	})
}
