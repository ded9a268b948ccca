package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/payments"
)

type createOrderRequest struct {
	CharacterName string `json:"character_name"`
	CharacterDesc string `json:"character_desc"`
	Theme         string `json:"theme"`
	SharePublicly bool   `json:"share_publicly"`
}

type orderResponse struct {
	ID            string                    `json:"id"`
	Status        domain.OrderStatus        `json:"status"`
	CharacterName string                    `json:"character_name"`
	Theme         string                    `json:"theme"`
	Previews      []domain.PreviewCandidate `json:"previews,omitempty"`
	ChosenPreview string                    `json:"chosen_preview,omitempty"`
	DocumentURL   string                    `json:"document_url,omitempty"`
	FailureReason string                    `json:"failure_reason,omitempty"`
	Pages         []pageProgress            `json:"pages,omitempty"`
}

type pageProgress struct {
	PageNo      int               `json:"page_no"`
	Status      domain.PageStatus `json:"status"`
	ImageURL    string            `json:"image_url,omitempty"`
	Regenerated bool              `json:"regenerated,omitempty"`
}

func (a *App) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.CharacterName) == "" || strings.TrimSpace(req.CharacterDesc) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "character_name and character_desc are required")
		return
	}
	order := &domain.Order{
		ID:            uuid.NewString(),
		Status:        domain.OrderStatusAwaitingPayment,
		CharacterName: req.CharacterName,
		CharacterDesc: req.CharacterDesc,
		Theme:         req.Theme,
		SharePublicly: req.SharePublicly,
	}
	if err := a.Orders.Create(r.Context(), order); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create order")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create order")
		return
	}
	a.json(w, http.StatusCreated, orderResponse{
		ID:            order.ID,
		Status:        order.Status,
		CharacterName: order.CharacterName,
		Theme:         order.Theme,
	})
}

func (a *App) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := a.Orders.GetByID(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	pages, err := a.Pages.ListByOrder(r.Context(), id)
	if err != nil {
		a.Logger.Error().Err(err).Str("order_id", id).Msg("handlers: list pages")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load pages")
		return
	}
	resp := orderResponse{
		ID:            order.ID,
		Status:        order.Status,
		CharacterName: order.CharacterName,
		Theme:         order.Theme,
		Previews:      order.PreviewCandidates,
		ChosenPreview: order.ChosenPreviewURL,
		DocumentURL:   order.DocumentURL,
		FailureReason: order.FailureReason,
	}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, pageProgress{
			PageNo:      p.PageNo,
			Status:      p.Status,
			ImageURL:    p.ImageURL,
			Regenerated: p.Regenerated,
		})
	}
	a.json(w, http.StatusOK, resp)
}

// GeneratePreviews produces the pre-payment candidate set synchronously;
// repeat calls return the persisted candidates without regenerating.
func (a *App) GeneratePreviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	candidates, err := a.Previews.GeneratePreviews(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		a.Logger.Error().Err(err).Str("order_id", id).Msg("handlers: generate previews")
		a.error(w, http.StatusBadGateway, "provider_failure", "preview generation failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"previews": candidates})
}

type choosePreviewRequest struct {
	URL  string `json:"url"`
	Seed int32  `json:"seed"`
}

// ChoosePreview locks the character's look. The chosen pair must be one
// of the persisted candidates; arbitrary urls are rejected.
func (a *App) ChoosePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req choosePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	order, err := a.Orders.GetByID(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	valid := false
	for _, c := range order.PreviewCandidates {
		if c.URL == req.URL && c.Seed == req.Seed {
			valid = true
			break
		}
	}
	if !valid {
		a.error(w, http.StatusBadRequest, "bad_request", "not one of the generated previews")
		return
	}
	if err := a.Orders.ChoosePreview(r.Context(), id, req.URL, req.Seed); err != nil {
		a.Logger.Error().Err(err).Str("order_id", id).Msg("handlers: choose preview")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store choice")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "chosen"})
}

// CreateOrderCheckout opens the hosted payment session for an order. The
// amount is computed server-side from the configured pricing rule.
func (a *App) CreateOrderCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := a.Orders.GetByID(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if order.Status != domain.OrderStatusAwaitingPayment {
		a.error(w, http.StatusConflict, "conflict", "order already paid")
		return
	}
	if order.ChosenPreviewURL == "" || order.ChosenSeed == nil {
		a.error(w, http.StatusConflict, "preview_not_chosen", "choose a character preview before paying")
		return
	}

	session, err := a.Gateway.CreateSession(r.Context(), payments.CreateSessionParams{
		Kind:        payments.SessionKindBookOrder,
		ReferenceID: order.ID,
		AmountCents: a.Cfg.BookPricing().Total(a.Cfg.PagesPerBook),
		Currency:    a.Cfg.Currency,
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("order_id", id).Msg("handlers: create checkout session")
		a.error(w, http.StatusBadGateway, "provider_failure", "failed to create checkout session")
		return
	}
	if err := a.Orders.SetCheckoutSession(r.Context(), id, session.ID); err != nil {
		a.Logger.Error().Err(err).Str("order_id", id).Msg("handlers: link checkout session")
		a.error(w, http.StatusInternalServerError, "internal", "failed to link session")
		return
	}
	a.json(w, http.StatusCreated, session)
}

// RegeneratePage accepts a paid single-page redo: debit first, then the
// one-shot reset, then the queued regeneration. Insufficient balance is
// reported synchronously with no state change.
func (a *App) RegeneratePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pageNo, err := strconv.Atoi(chi.URLParam(r, "page_no"))
	if err != nil || pageNo < 1 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid page number")
		return
	}
	order, err := a.Orders.GetByID(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if !order.Paid() {
		a.error(w, http.StatusConflict, "conflict", "order not paid")
		return
	}

	reference := fmt.Sprintf("%s/page-%02d", id, pageNo)
	err = a.Ledger.Debit(r.Context(), order.PayerEmail, a.Cfg.RegenerationCredits,
		domain.CreditReasonPageRegeneration, reference)
	if errors.Is(err, domain.ErrInsufficientCredits) {
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("order_id", id).Int("page", pageNo).Msg("handlers: debit for regeneration")
		a.error(w, http.StatusInternalServerError, "internal", "failed to debit credits")
		return
	}

	if err := a.Pages.ResetForRegeneration(r.Context(), id, pageNo); err != nil {
		// The page cannot be reset; undo the debit before reporting.
		if creditErr := a.Ledger.Credit(r.Context(), order.PayerEmail, a.Cfg.RegenerationCredits,
			domain.CreditReasonRefund, reference); creditErr != nil {
			a.Logger.Error().Err(creditErr).Str("order_id", id).Int("page", pageNo).Msg("handlers: refund after failed reset")
		}
		switch {
		case errors.Is(err, domain.ErrAlreadyRegenerated):
			a.error(w, http.StatusConflict, "already_regenerated", "page was already regenerated once")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "page not found")
		default:
			a.error(w, http.StatusConflict, "conflict", "page is not in a regenerable state")
		}
		return
	}

	if err := a.Tasks.Enqueue(r.Context(), &domain.Task{
		ID:          uuid.NewString(),
		Type:        domain.TaskTypePageRegenerate,
		ReferenceID: id,
		PageNo:      pageNo,
	}); err != nil {
		a.Logger.Error().Err(err).Str("order_id", id).Int("page", pageNo).Msg("handlers: enqueue regeneration")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue regeneration")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"status": "queued", "page_no": pageNo})
}
