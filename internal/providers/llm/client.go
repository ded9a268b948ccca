// Package llm wraps the language-model provider behind a single
// schema-constrained generation call. Callers hand over a system
// instruction, user content and a JSON schema; the response is validated
// locally against that schema before it is returned, so downstream stages
// never parse freeform model output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/rs/zerolog"

	"storyforge/internal/domain"
)

// Tier selects the cost/quality level for a call. The light tier is for
// cheap rewrites (prompt refinement); everything else uses standard.
type Tier string

const (
	TierStandard Tier = "standard"
	TierLight    Tier = "light"
)

// Generator is the contract pipeline stages depend on.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// Request describes one schema-constrained generation call.
type Request struct {
	Tier        Tier
	System      string
	User        string
	SchemaName  string
	Schema      map[string]any
	ImageURLs   []string
	Temperature float64
}

// Options configures the client.
type Options struct {
	APIKey        string
	BaseURL       string
	ModelStandard string
	ModelLight    string
	Logger        zerolog.Logger
}

// Client calls the OpenAI chat completions API with structured output.
type Client struct {
	api           openai.Client
	modelStandard string
	modelLight    string
	logger        zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	modelStandard := opts.ModelStandard
	if modelStandard == "" {
		modelStandard = "gpt-4o"
	}
	modelLight := opts.ModelLight
	if modelLight == "" {
		modelLight = "gpt-4o-mini"
	}
	return &Client{
		api:           openai.NewClient(reqOpts...),
		modelStandard: modelStandard,
		modelLight:    modelLight,
		logger:        opts.Logger,
	}, nil
}

// Generate performs one structured call and returns the raw JSON value,
// validated against req.Schema.
func (c *Client) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.SchemaName == "" || req.Schema == nil {
		return nil, fmt.Errorf("llm: schema is required")
	}

	model := c.modelStandard
	if req.Tier == TierLight {
		model = c.modelLight
	}

	userParts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(req.User),
	}
	for _, url := range req.ImageURLs {
		userParts = append(userParts, openai.ImageContentPart(
			openai.ChatCompletionContentPartImageImageURLParam{URL: url},
		))
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(userParts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: %s call: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: %s returned no choices: %w", model, domain.ErrProviderFailure)
	}
	content := resp.Choices[0].Message.Content

	out, err := Validate(req.SchemaName, req.Schema, []byte(content))
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("model", model).Str("schema", req.SchemaName).Msg("llm: structured call ok")
	return out, nil
}

// Validate checks raw against the schema and returns it when conformant.
func Validate(name string, schema map[string]any, raw []byte) (json.RawMessage, error) {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("llm: encode schema %s: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".json", string(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("llm: compile schema %s: %w", name, err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("llm: response is not valid JSON: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return nil, fmt.Errorf("llm: response violates schema %s: %w", name, err)
	}
	return json.RawMessage(raw), nil
}
