package pipeline

import (
	"context"
	"fmt"

	"storyforge/internal/domain"
	"storyforge/internal/providers/image"
	"storyforge/internal/seed"
	"storyforge/pkg/slugify"
)

// previewPageNo offsets preview seeds away from real page numbers so a
// candidate never collides with a page seed.
const previewPageNo = 1000

// GeneratePreviews produces the pre-payment character candidates for an
// order and persists the url+seed pairs. Choosing one locks the
// character's look; its seed and image anchor every later page.
func (c *Controller) GeneratePreviews(ctx context.Context, orderID string) ([]domain.PreviewCandidate, error) {
	order, err := c.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if len(order.PreviewCandidates) > 0 {
		return order.PreviewCandidates, nil
	}

	prompt := fmt.Sprintf("Children's picture book character portrait: %s. Theme: %s.",
		order.CharacterDesc, order.Theme)
	slug := slugify.From(order.CharacterName)
	if slug == "" {
		slug = "character"
	}

	candidates := make([]domain.PreviewCandidate, 0, c.Cfg.PreviewCandidates)
	for i := 0; i < c.Cfg.PreviewCandidates; i++ {
		s := seed.ForPage(order.ID, previewPageNo+i)
		img, err := c.Images.Generate(ctx, image.GenerateRequest{
			Prompt:    prompt,
			Seed:      s,
			RequestID: fmt.Sprintf("%s-preview-%d", order.ID, i+1),
		})
		if err != nil {
			return nil, fmt.Errorf("preview %d: %w", i+1, err)
		}
		key := fmt.Sprintf("orders/%s/preview-%s-%d.png", order.ID, slug, i+1)
		var url string
		if len(img.Data) > 0 {
			url, err = c.Store.Write(ctx, key, img.Data)
		} else {
			url, err = c.Store.Rehost(ctx, img.URL, key)
		}
		if err != nil {
			return nil, fmt.Errorf("store preview %d: %w", i+1, err)
		}
		candidates = append(candidates, domain.PreviewCandidate{URL: url, Seed: s})
	}

	if err := c.Orders.SetPreviewCandidates(ctx, orderID, candidates); err != nil {
		return nil, fmt.Errorf("persist previews: %w", err)
	}
	return candidates, nil
}
