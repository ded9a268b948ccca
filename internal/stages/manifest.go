// Package stages implements the pipeline stages between a paid order and
// its finished document: manifest extraction, scene and context planning,
// the bounded synthesis loop, and document assembly. Every stage takes its
// collaborators through constructor options so tests can inject fakes.
package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"storyforge/internal/domain"
	"storyforge/internal/providers/llm"
)

const manifestSystem = `You turn a customer's freeform description of a storybook character into
a precise, reusable character sheet. Fill every field. Key features are the
visual details that must appear identically on every illustrated page.
Props are objects the character carries. Negative tags list anything that
must never appear. Respond only with the requested JSON.`

var manifestSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required": []any{
		"name", "species", "physical_description", "key_features",
		"props", "style_tags", "negative_tags", "theme",
	},
	"properties": map[string]any{
		"name":                 map[string]any{"type": "string"},
		"species":              map[string]any{"type": "string"},
		"physical_description": map[string]any{"type": "string"},
		"key_features":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"props":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"style_tags":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"negative_tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"theme":                map[string]any{"type": "string"},
	},
}

type manifestPayload struct {
	Name         string   `json:"name"`
	Species      string   `json:"species"`
	PhysicalDesc string   `json:"physical_description"`
	KeyFeatures  []string `json:"key_features"`
	Props        []string `json:"props"`
	StyleTags    []string `json:"style_tags"`
	NegativeTags []string `json:"negative_tags"`
	Theme        string   `json:"theme"`
}

// ManifestStage extracts the structured character manifest from the
// order's freeform input. One call per order; the result is immutable.
type ManifestStage struct {
	LLM llm.Generator
}

// Extract structures the order's raw character description.
func (s *ManifestStage) Extract(ctx context.Context, order *domain.Order) (*domain.Manifest, error) {
	if order.CharacterDesc == "" {
		return nil, fmt.Errorf("order %s has no character description: %w", order.ID, domain.ErrInvalidInput)
	}

	user := fmt.Sprintf("Character name: %s\nTheme: %s\nDescription: %s",
		order.CharacterName, order.Theme, order.CharacterDesc)

	raw, err := s.LLM.Generate(ctx, llm.Request{
		Tier:       llm.TierStandard,
		System:     manifestSystem,
		User:       user,
		SchemaName: "character_manifest",
		Schema:     manifestSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest extraction: %w", err)
	}

	var payload manifestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return &domain.Manifest{
		OrderID:      order.ID,
		Name:         payload.Name,
		Species:      payload.Species,
		PhysicalDesc: payload.PhysicalDesc,
		KeyFeatures:  payload.KeyFeatures,
		Props:        payload.Props,
		StyleTags:    payload.StyleTags,
		NegativeTags: payload.NegativeTags,
		Theme:        payload.Theme,
	}, nil
}
