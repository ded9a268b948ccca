package pipeline

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
	"storyforge/internal/seed"
	"storyforge/internal/stages"
)

// GenerateBook drives one order through Manifest -> Scenes/Context ->
// per-page Synthesis -> Assembly -> complete. Pages are synthesized in
// page-number order, sequentially, with a durable sleep between pages to
// respect the image provider's rate limit.
func (c *Controller) GenerateBook(ctx context.Context, orderID string) error {
	order, err := c.Orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	switch order.Status {
	case domain.OrderStatusComplete, domain.OrderStatusFailed:
		// Terminal; a redelivered trigger is a no-op.
		return nil
	case domain.OrderStatusAwaitingPayment:
		return fmt.Errorf("order %s not paid: %w", orderID, domain.ErrConflict)
	}

	run := c.run("book", orderID)

	err = c.generateBook(ctx, run, order)
	if err == nil || suspended(err) {
		return err
	}
	return c.failOrder(ctx, run, orderID, err)
}

func (c *Controller) generateBook(ctx context.Context, run *durable.Run, order *domain.Order) error {
	if order.ChosenSeed == nil || order.ChosenPreviewURL == "" {
		// Unrecoverable input error: synthesis cannot anchor the character.
		return domain.ErrPreviewNotChosen
	}

	manifest, err := c.ensureManifest(ctx, run, order)
	if err != nil {
		return err
	}

	pages, err := c.ensurePages(ctx, run, order, manifest)
	if err != nil {
		return err
	}

	if order.Status == domain.OrderStatusManifestReady {
		if err := c.Orders.Transition(ctx, order.ID, domain.OrderStatusManifestReady, domain.OrderStatusGenerating); err != nil {
			return fmt.Errorf("mark generating: %w", err)
		}
		order.Status = domain.OrderStatusGenerating
	}

	for i, page := range pages {
		if page.Status == domain.PageStatusComplete {
			continue
		}
		url, err := c.Synth.SynthesizePage(ctx, run, stages.PageRequest{
			OrderID:      order.ID,
			PageNo:       page.PageNo,
			Prompt:       page.Prompt,
			Seed:         page.Seed,
			ReferenceURL: order.ChosenPreviewURL,
			StepPrefix:   fmt.Sprintf("page-%02d", page.PageNo),
		})
		if err != nil {
			return err
		}
		if err := c.Pages.MarkComplete(ctx, order.ID, page.PageNo, url); err != nil {
			return fmt.Errorf("mark page %d complete: %w", page.PageNo, err)
		}
		if i < len(pages)-1 {
			if err := run.Sleep(ctx, fmt.Sprintf("sleep-after-%02d", page.PageNo), c.Cfg.PageSleep); err != nil {
				return err
			}
		}
	}

	if order.DocumentURL == "" {
		urls, err := c.completedPageURLs(ctx, order.ID)
		if err != nil {
			return err
		}
		docURL, err := durable.Step(ctx, run, "assemble", func(ctx context.Context) (string, error) {
			return c.Assembler.Assemble(ctx, urls, fmt.Sprintf("orders/%s/book.pdf", order.ID))
		})
		if err != nil {
			return err
		}
		if err := c.Orders.SetDocumentURL(ctx, order.ID, docURL); err != nil {
			return fmt.Errorf("store document url: %w", err)
		}
	}

	if err := c.Orders.Transition(ctx, order.ID, domain.OrderStatusGenerating, domain.OrderStatusComplete); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	c.Logger.Info().Str("order_id", order.ID).Msg("pipeline: book complete")
	return nil
}

// ensureManifest loads the manifest if present, otherwise extracts and
// persists it. The extraction call is checkpointed and the insert is
// idempotent, so replays never call the model twice.
func (c *Controller) ensureManifest(ctx context.Context, run *durable.Run, order *domain.Order) (*domain.Manifest, error) {
	manifest, err := c.Manifests.GetByOrderID(ctx, order.ID)
	if err == nil {
		return manifest, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	manifest, err = durable.Step(ctx, run, "manifest", func(ctx context.Context) (*domain.Manifest, error) {
		return c.Manifest.Extract(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	if err := c.Manifests.InsertIfAbsent(ctx, manifest); err != nil {
		return nil, fmt.Errorf("persist manifest: %w", err)
	}
	return manifest, nil
}

// ensurePages plans scenes and inserts all page rows in one batch when the
// order has none, then marks the order manifest_ready.
func (c *Controller) ensurePages(ctx context.Context, run *durable.Run, order *domain.Order, manifest *domain.Manifest) ([]domain.Page, error) {
	pages, err := c.Pages.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		n := c.Cfg.PagesPerBook
		plan, err := durable.Step(ctx, run, "plan-pages", func(ctx context.Context) (*stages.StoryPlan, error) {
			return c.Scenes.Plan(ctx, manifest, n)
		})
		if err != nil {
			return nil, err
		}

		pages = make([]domain.Page, n)
		for i := 0; i < n; i++ {
			pageNo := i + 1
			pages[i] = domain.Page{
				OrderID:   order.ID,
				PageNo:    pageNo,
				Seed:      seed.ForPage(order.ID, pageNo),
				SceneText: plan.Scenes[i],
				Prompt:    stages.ComposePrompt(manifest, plan, i),
				Status:    domain.PageStatusPending,
			}
		}
		if err := c.Pages.InsertBatchIfAbsent(ctx, pages); err != nil {
			return nil, fmt.Errorf("insert pages: %w", err)
		}
	}

	if order.Status == domain.OrderStatusPaid {
		if err := c.Orders.Transition(ctx, order.ID, domain.OrderStatusPaid, domain.OrderStatusManifestReady); err != nil {
			return nil, fmt.Errorf("mark manifest ready: %w", err)
		}
		order.Status = domain.OrderStatusManifestReady
	}
	return pages, nil
}

func (c *Controller) completedPageURLs(ctx context.Context, orderID string) ([]string, error) {
	pages, err := c.Pages.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Status != domain.PageStatusComplete {
			return nil, fmt.Errorf("page %d not complete: %w", p.PageNo, domain.ErrConflict)
		}
		urls = append(urls, p.ImageURL)
	}
	return urls, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
