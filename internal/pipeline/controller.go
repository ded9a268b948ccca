// Package pipeline contains the top-level controllers that sequence the
// generation stages over the durable-execution substrate. Re-invoking a
// controller on a job in any intermediate state produces the same end
// result as an uninterrupted run: every stage checks whether its output
// already exists before doing work, and every provider call is
// checkpointed.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
	"storyforge/internal/infra"
	"storyforge/internal/providers/image"
	"storyforge/internal/stages"
	"storyforge/internal/storage"
)

// Controller wires the repositories, stages and durable store together.
type Controller struct {
	Cfg       *infra.Config
	Orders    domain.OrderRepository
	Manifests domain.ManifestRepository
	Pages     domain.PageRepository
	Purchases domain.PurchaseRepository
	Pending   domain.PendingCreditRepository
	Ledger    domain.CreditLedger
	Steps     durable.Store
	Images    image.Generator
	Manifest  *stages.ManifestStage
	Scenes    *stages.SceneStage
	Synth     *stages.Synthesizer
	Assembler *stages.Assembler
	Store     *storage.FileStore
	Logger    zerolog.Logger
}

func (c *Controller) run(kind, id string) *durable.Run {
	return durable.NewRun(kind+":"+id, c.Steps, c.Logger)
}

// suspended reports whether err is a durable sleep rather than a failure.
func suspended(err error) bool {
	var sleepErr *durable.SleepError
	return errors.As(err, &sleepErr)
}

// failRun records the terminal failure through a checkpointed step so a
// repeatedly failing job does not spam the write, then returns the cause.
func (c *Controller) failOrder(ctx context.Context, run *durable.Run, orderID string, cause error) error {
	markErr := durable.Do(ctx, run, "mark-failed", func(ctx context.Context) error {
		return c.Orders.MarkFailed(ctx, orderID, cause.Error())
	})
	if markErr != nil {
		c.Logger.Error().Err(markErr).Str("order_id", orderID).Msg("pipeline: failed to mark order failed")
	}
	return fmt.Errorf("order %s failed: %w", orderID, cause)
}

func (c *Controller) failPurchase(ctx context.Context, run *durable.Run, purchaseID string, cause error) error {
	markErr := durable.Do(ctx, run, "mark-failed", func(ctx context.Context) error {
		return c.Purchases.MarkFailed(ctx, purchaseID, cause.Error())
	})
	if markErr != nil {
		c.Logger.Error().Err(markErr).Str("purchase_id", purchaseID).Msg("pipeline: failed to mark purchase failed")
	}
	return fmt.Errorf("purchase %s failed: %w", purchaseID, cause)
}
