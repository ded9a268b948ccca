package pipeline

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
	"storyforge/internal/stages"
)

// RegeneratePage re-runs the synthesis loop for one already-paid page
// reset. The credit was debited when the reset was accepted; a hard
// failure of the loop re-grants exactly one credit, referencing the page,
// before the failure is surfaced.
func (c *Controller) RegeneratePage(ctx context.Context, orderID string, pageNo int) error {
	order, err := c.Orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	page, err := c.Pages.Get(ctx, orderID, pageNo)
	if err != nil {
		return fmt.Errorf("load page %s/%d: %w", orderID, pageNo, err)
	}
	if page.Status == domain.PageStatusComplete {
		// Already regenerated; redelivered trigger is a no-op.
		return nil
	}
	if order.ChosenSeed == nil || order.ChosenPreviewURL == "" {
		return domain.ErrPreviewNotChosen
	}

	run := c.run("regen", fmt.Sprintf("%s:%d", orderID, pageNo))

	url, err := c.Synth.SynthesizePage(ctx, run, stages.PageRequest{
		OrderID:      orderID,
		PageNo:       pageNo,
		Prompt:       page.Prompt,
		Seed:         page.Seed,
		ReferenceURL: order.ChosenPreviewURL,
		StepPrefix:   fmt.Sprintf("page-%02d", pageNo),
	})
	if err != nil {
		if suspended(err) {
			return err
		}
		if errors.Is(err, domain.ErrStyleFloor) {
			// The customer is never charged for an unusable result.
			refundErr := durable.Do(ctx, run, "refund", func(ctx context.Context) error {
				return c.Ledger.Credit(ctx, order.PayerEmail, c.Cfg.RegenerationCredits,
					domain.CreditReasonRefund, fmt.Sprintf("%s/page-%02d", orderID, pageNo))
			})
			if refundErr != nil {
				c.Logger.Error().Err(refundErr).
					Str("order_id", orderID).
					Int("page", pageNo).
					Msg("pipeline: regeneration refund failed")
			}
			if markErr := c.Pages.MarkFailed(ctx, orderID, pageNo); markErr != nil {
				c.Logger.Error().Err(markErr).
					Str("order_id", orderID).
					Int("page", pageNo).
					Msg("pipeline: failed to mark page failed")
			}
		}
		return fmt.Errorf("regenerate page %s/%d: %w", orderID, pageNo, err)
	}

	if err := c.Pages.MarkComplete(ctx, orderID, pageNo, url); err != nil {
		return fmt.Errorf("mark page complete: %w", err)
	}
	c.Logger.Info().Str("order_id", orderID).Int("page", pageNo).Msg("pipeline: page regenerated")
	return nil
}
