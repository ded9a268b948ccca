package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/payments"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook receives the checkout provider's signed notifications.
// An invalid signature is rejected before any side effect; everything
// after verification goes through the dedup gate in the processor.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	sig := r.Header.Get("Webhook-Signature")
	if err := payments.VerifySignature(a.Cfg.WebhookSecret, sig, body, time.Now()); err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: webhook signature rejected")
		a.error(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	}

	event, err := payments.ParseEvent(body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "malformed event")
		return
	}

	if err := a.Processor.Process(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown reference: acknowledge so the provider stops
			// redelivering something we can never apply.
			a.Logger.Warn().Str("event_id", event.ID).Msg("handlers: webhook references unknown entity")
			a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		a.Logger.Error().Err(err).Str("event_id", event.ID).Msg("handlers: webhook processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "processing failed")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
