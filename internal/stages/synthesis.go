package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
	"storyforge/internal/providers/image"
	"storyforge/internal/providers/llm"
	"storyforge/internal/seed"
	"storyforge/internal/storage"
)

const criticSystem = `You are a strict visual quality inspector for children's picture book
illustrations. Score the attached image against the prompt on a 1-5 scale
for each criterion independently. Style purity measures how unmistakably
the image matches the required rendering style. Describe the single worst
defect in one sentence. Respond only with the requested JSON.`

const refineSystem = `You rewrite image synthesis prompts. You receive a prompt and the single
worst defect found in the image it produced. Rewrite the prompt so it
addresses only that defect. Preserve every other instruction verbatim.
Respond only with the requested JSON.`

// QualityScores are the evaluator's independent sub-scores (1-5) plus the
// single worst defect. The evaluator never returns a verdict; pass/fail is
// computed deterministically from thresholds so the accept policy stays
// stable even if the evaluator's narrative judgment drifts.
type QualityScores struct {
	Style       int    `json:"style_purity"`
	Background  int    `json:"background_richness"`
	Anatomy     int    `json:"anatomical_correctness"`
	Composition int    `json:"compositional_clarity"`
	WorstDefect string `json:"worst_defect"`
}

var scoresSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required": []any{
		"style_purity", "background_richness", "anatomical_correctness",
		"compositional_clarity", "worst_defect",
	},
	"properties": map[string]any{
		"style_purity":           map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
		"background_richness":    map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
		"anatomical_correctness": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
		"compositional_clarity":  map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
		"worst_defect":           map[string]any{"type": "string"},
	},
}

var refineSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []any{"prompt"},
	"properties": map[string]any{
		"prompt": map[string]any{"type": "string"},
	},
}

// QualityPolicy holds the pass thresholds and the style-purity hard floor.
type QualityPolicy struct {
	MinStyle       int
	MinBackground  int
	MinAnatomy     int
	MinComposition int
	StyleFloor     int
}

// Pass reports whether every sub-score meets its threshold.
func (p QualityPolicy) Pass(s QualityScores) bool {
	return s.Style >= p.MinStyle &&
		s.Background >= p.MinBackground &&
		s.Anatomy >= p.MinAnatomy &&
		s.Composition >= p.MinComposition
}

// AtFloor reports whether the image is unmistakably in the wrong rendering
// style and must never be accepted, even best-effort.
func (p QualityPolicy) AtFloor(s QualityScores) bool {
	return s.Style <= p.StyleFloor
}

// PageRequest describes one page synthesis.
type PageRequest struct {
	OrderID      string
	PageNo       int
	Prompt       string
	Seed         int32
	ReferenceURL string
	// StepPrefix namespaces the loop's durable steps within the run.
	StepPrefix string
}

// Synthesizer runs the bounded critic-refine-evaluate loop for one page.
// Every attempt's generate, score and refine calls are individually
// checkpointed, so a crash mid-loop resumes the loop rather than
// restarting the page.
type Synthesizer struct {
	Images      image.Generator
	LLM         llm.Generator
	Store       *storage.FileStore
	Policy      QualityPolicy
	MaxAttempts int
	Logger      zerolog.Logger
}

type attemptResult struct {
	URL        string `json:"url"`
	ProviderID string `json:"provider_id"`
}

// SynthesizePage produces one page image satisfying the quality policy, or
// the best-effort last attempt when the budget is exhausted above the hard
// floor. At or below the floor it fails with domain.ErrStyleFloor.
func (s *Synthesizer) SynthesizePage(ctx context.Context, run *durable.Run, req PageRequest) (string, error) {
	if req.ReferenceURL == "" {
		return "", fmt.Errorf("page %d: %w", req.PageNo, domain.ErrPreviewNotChosen)
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	prompt := req.Prompt
	curSeed := req.Seed
	var lastURL string
	var lastScores QualityScores

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prefix := fmt.Sprintf("%s/attempt-%d", req.StepPrefix, attempt)

		gen, err := durable.Step(ctx, run, prefix+"/generate", s.generateFn(req, prompt, curSeed, attempt))
		if err != nil {
			return "", err
		}
		lastURL = gen.URL

		scores, err := durable.Step(ctx, run, prefix+"/score", s.scoreFn(prompt, gen.URL))
		if err != nil {
			return "", err
		}
		lastScores = scores

		if s.Policy.Pass(scores) {
			s.Logger.Info().
				Str("order_id", req.OrderID).
				Int("page", req.PageNo).
				Int("attempt", attempt).
				Msg("synthesis: page accepted")
			return gen.URL, nil
		}

		s.Logger.Warn().
			Str("order_id", req.OrderID).
			Int("page", req.PageNo).
			Int("attempt", attempt).
			Str("worst_defect", scores.WorstDefect).
			Msg("synthesis: quality gate rejected attempt")

		if attempt == maxAttempts {
			break
		}

		refined, err := durable.Step(ctx, run, prefix+"/refine", s.refineFn(prompt, scores.WorstDefect))
		if err != nil {
			return "", err
		}
		prompt = refined
		curSeed = seed.Perturb(curSeed)
	}

	if s.Policy.AtFloor(lastScores) {
		return "", fmt.Errorf("page %d rejected after %d attempts (style purity %d): %w",
			req.PageNo, maxAttempts, lastScores.Style, domain.ErrStyleFloor)
	}

	// Budget exhausted above the floor: keep the best-effort last attempt.
	s.Logger.Warn().
		Str("order_id", req.OrderID).
		Int("page", req.PageNo).
		Msg("synthesis: retry budget exhausted, keeping last attempt")
	return lastURL, nil
}

func (s *Synthesizer) generateFn(req PageRequest, prompt string, curSeed int32, attempt int) func(context.Context) (attemptResult, error) {
	return func(ctx context.Context) (attemptResult, error) {
		img, err := s.Images.Generate(ctx, image.GenerateRequest{
			Prompt:            prompt,
			Seed:              curSeed,
			ReferenceImageURL: req.ReferenceURL,
			RequestID:         fmt.Sprintf("%s-p%02d-a%d", req.OrderID, req.PageNo, attempt),
		})
		if err != nil {
			return attemptResult{}, err
		}
		// Re-host before the step result is recorded: the provider URL
		// expires and must never be the one the memo table replays.
		key := fmt.Sprintf("orders/%s/page-%02d-attempt-%d.png", req.OrderID, req.PageNo, attempt)
		var url string
		if len(img.Data) > 0 {
			url, err = s.Store.Write(ctx, key, img.Data)
		} else {
			url, err = s.Store.Rehost(ctx, img.URL, key)
		}
		if err != nil {
			return attemptResult{}, fmt.Errorf("re-host page image: %w", err)
		}
		return attemptResult{URL: url, ProviderID: img.ProviderID}, nil
	}
}

func (s *Synthesizer) scoreFn(prompt, imageURL string) func(context.Context) (QualityScores, error) {
	return func(ctx context.Context) (QualityScores, error) {
		raw, err := s.LLM.Generate(ctx, llm.Request{
			Tier:       llm.TierStandard,
			System:     criticSystem,
			User:       "Prompt the image was generated from:\n" + prompt,
			SchemaName: "quality_scores",
			Schema:     scoresSchema,
			ImageURLs:  []string{imageURL},
		})
		if err != nil {
			return QualityScores{}, fmt.Errorf("score image: %w", err)
		}
		var scores QualityScores
		if err := json.Unmarshal(raw, &scores); err != nil {
			return QualityScores{}, fmt.Errorf("decode scores: %w", err)
		}
		return scores, nil
	}
}

func (s *Synthesizer) refineFn(prompt, worstDefect string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		raw, err := s.LLM.Generate(ctx, llm.Request{
			Tier:       llm.TierLight,
			System:     refineSystem,
			User:       fmt.Sprintf("Prompt:\n%s\n\nWorst defect: %s", prompt, worstDefect),
			SchemaName: "refined_prompt",
			Schema:     refineSchema,
		})
		if err != nil {
			return "", fmt.Errorf("refine prompt: %w", err)
		}
		var out struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("decode refined prompt: %w", err)
		}
		return out.Prompt, nil
	}
}
