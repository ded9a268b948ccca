package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storyforge/internal/domain"
	"storyforge/internal/providers/llm"
)

const scenesSystem = `You plan the page-by-page story of a children's picture book. Produce
exactly the requested number of scenes. Scenes must be narratively
distinct: different settings, times of day and activities, arranged as a
simple arc from opening to resolution. Each scene is two or three
sentences describing what the character is doing. Respond only with the
requested JSON.`

const contextSystem = `You prepare illustration context for a picture book. First produce one
shared thematic context paragraph that applies to every page (palette,
lighting mood, recurring motifs). Then, for each scene in order, produce a
background description and negative constraints: visual elements that must
be kept out of that page. Respond only with the requested JSON.`

// SceneContext carries per-scene illustration context derived in one
// batched call.
type SceneContext struct {
	Background string `json:"background"`
	Negative   string `json:"negative"`
}

// StoryPlan is the combined output of the scene and context stages.
type StoryPlan struct {
	Scenes        []string       `json:"scenes"`
	SharedContext string         `json:"shared_context"`
	Contexts      []SceneContext `json:"contexts"`
}

// SceneStage derives the fixed number of scene descriptions plus the
// shared and per-scene illustration context for an order's manifest.
type SceneStage struct {
	LLM llm.Generator
}

func scenesSchema(n int) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"scenes"},
		"properties": map[string]any{
			"scenes": map[string]any{
				"type":     "array",
				"minItems": n,
				"maxItems": n,
				"items":    map[string]any{"type": "string"},
			},
		},
	}
}

func contextSchema(n int) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"shared_context", "contexts"},
		"properties": map[string]any{
			"shared_context": map[string]any{"type": "string"},
			"contexts": map[string]any{
				"type":     "array",
				"minItems": n,
				"maxItems": n,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"background", "negative"},
					"properties": map[string]any{
						"background": map[string]any{"type": "string"},
						"negative":   map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func describeManifest(m *domain.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Character: %s, a %s. %s\n", m.Name, m.Species, m.PhysicalDesc)
	fmt.Fprintf(&b, "Key features: %s\n", strings.Join(m.KeyFeatures, "; "))
	if len(m.Props) > 0 {
		fmt.Fprintf(&b, "Props: %s\n", strings.Join(m.Props, "; "))
	}
	fmt.Fprintf(&b, "Theme: %s", m.Theme)
	return b.String()
}

// Plan derives n scenes, then the shared and per-scene context in a
// single batched call.
func (s *SceneStage) Plan(ctx context.Context, m *domain.Manifest, n int) (*StoryPlan, error) {
	if n <= 0 {
		return nil, fmt.Errorf("page count %d: %w", n, domain.ErrInvalidInput)
	}

	raw, err := s.LLM.Generate(ctx, llm.Request{
		Tier:       llm.TierStandard,
		System:     scenesSystem,
		User:       fmt.Sprintf("%s\n\nProduce %d scenes.", describeManifest(m), n),
		SchemaName: "story_scenes",
		Schema:     scenesSchema(n),
	})
	if err != nil {
		return nil, fmt.Errorf("scene planning: %w", err)
	}
	var scenes struct {
		Scenes []string `json:"scenes"`
	}
	if err := json.Unmarshal(raw, &scenes); err != nil {
		return nil, fmt.Errorf("decode scenes: %w", err)
	}

	var sceneList strings.Builder
	for i, scene := range scenes.Scenes {
		fmt.Fprintf(&sceneList, "%d. %s\n", i+1, scene)
	}
	raw, err = s.LLM.Generate(ctx, llm.Request{
		Tier:       llm.TierStandard,
		System:     contextSystem,
		User:       fmt.Sprintf("%s\n\nScenes:\n%s", describeManifest(m), sceneList.String()),
		SchemaName: "story_context",
		Schema:     contextSchema(n),
	})
	if err != nil {
		return nil, fmt.Errorf("context planning: %w", err)
	}
	var contexts struct {
		SharedContext string         `json:"shared_context"`
		Contexts      []SceneContext `json:"contexts"`
	}
	if err := json.Unmarshal(raw, &contexts); err != nil {
		return nil, fmt.Errorf("decode contexts: %w", err)
	}

	return &StoryPlan{
		Scenes:        scenes.Scenes,
		SharedContext: contexts.SharedContext,
		Contexts:      contexts.Contexts,
	}, nil
}
