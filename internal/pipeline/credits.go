package pipeline

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
)

// GrantCredits applies one pending credit purchase to the ledger. The
// credit amount comes from the pending row written before checkout, never
// from event payloads, and the grant is checkpointed so redelivered
// triggers credit at most once.
func (c *Controller) GrantCredits(ctx context.Context, sessionID string) error {
	pending, err := c.Pending.GetBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load pending credit purchase for session %s: %w", sessionID, err)
	}
	if pending.Status == domain.PendingCreditComplete {
		return nil
	}

	run := c.run("credit", pending.ID)

	if err := durable.Do(ctx, run, "grant", func(ctx context.Context) error {
		return c.Ledger.Credit(ctx, pending.PayerEmail, pending.Credits,
			domain.CreditReasonPackPurchase, pending.CheckoutSessionID)
	}); err != nil {
		return err
	}

	if err := c.Pending.MarkComplete(ctx, pending.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("mark pending purchase complete: %w", err)
	}
	c.Logger.Info().
		Str("pending_id", pending.ID).
		Int("credits", pending.Credits).
		Msg("pipeline: credits granted")
	return nil
}
