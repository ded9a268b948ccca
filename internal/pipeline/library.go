package pipeline

import (
	"context"
	"fmt"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
)

// AssembleLibrary drives one cross-order purchase: all selected pages must
// already be complete; their images are fetched by explicit id list and
// rendered into a single document.
func (c *Controller) AssembleLibrary(ctx context.Context, purchaseID string) error {
	purchase, err := c.Purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return fmt.Errorf("load purchase %s: %w", purchaseID, err)
	}
	switch purchase.Status {
	case domain.PurchaseStatusComplete, domain.PurchaseStatusFailed:
		return nil
	}

	run := c.run("library", purchaseID)

	err = c.assembleLibrary(ctx, run, purchase)
	if err == nil || suspended(err) {
		return err
	}
	return c.failPurchase(ctx, run, purchaseID, err)
}

func (c *Controller) assembleLibrary(ctx context.Context, run *durable.Run, purchase *domain.LibraryPurchase) error {
	if purchase.Status == domain.PurchaseStatusPending {
		if err := c.Purchases.Transition(ctx, purchase.ID, domain.PurchaseStatusPending, domain.PurchaseStatusGenerating); err != nil {
			return fmt.Errorf("mark generating: %w", err)
		}
		purchase.Status = domain.PurchaseStatusGenerating
	}

	pages, err := c.Pages.GetByRefs(ctx, purchase.Pages)
	if err != nil {
		return fmt.Errorf("load selected pages: %w", err)
	}
	if len(pages) != len(purchase.Pages) {
		return fmt.Errorf("selection references missing pages: %w", domain.ErrInvalidInput)
	}
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Status != domain.PageStatusComplete {
			return fmt.Errorf("page %s/%d not complete: %w", p.OrderID, p.PageNo, domain.ErrInvalidInput)
		}
		urls = append(urls, p.ImageURL)
	}

	if purchase.DocumentURL == "" {
		docURL, err := durable.Step(ctx, run, "assemble", func(ctx context.Context) (string, error) {
			return c.Assembler.Assemble(ctx, urls, fmt.Sprintf("purchases/%s/selection.pdf", purchase.ID))
		})
		if err != nil {
			return err
		}
		if err := c.Purchases.SetDocumentURL(ctx, purchase.ID, docURL); err != nil {
			return fmt.Errorf("store document url: %w", err)
		}
	}

	if err := c.Purchases.Transition(ctx, purchase.ID, domain.PurchaseStatusGenerating, domain.PurchaseStatusComplete); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	c.Logger.Info().Str("purchase_id", purchase.ID).Msg("pipeline: library purchase complete")
	return nil
}
