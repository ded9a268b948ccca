// Package image wraps the image-synthesis provider. Calls are billed and
// rate limited, so the client throttles locally before dispatching; the
// seed parameter makes retries reproducible at the provider level.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"storyforge/internal/domain"
)

// Generator is the contract the synthesis loop depends on.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Image, error)
}

// GenerateRequest describes one synthesis call. ReferenceImageURL, when
// set, anchors the character's appearance; preview generation omits it.
type GenerateRequest struct {
	Prompt            string
	Seed              int32
	ReferenceImageURL string
	RequestID         string
}

// Image is the normalized provider response. The URL the provider hosts
// expires within about a day; callers must re-host Data durably before
// referencing the image later in the pipeline.
type Image struct {
	ProviderID string
	URL        string
	MIME       string
	Data       []byte
}

// Options configures the client.
type Options struct {
	APIKey     string
	BaseURL    string
	RatePerMin int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the synthesis HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("image: api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("image: base url is required")
	}
	perMin := opts.RatePerMin
	if perMin <= 0 {
		perMin = 10
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		logger:     opts.Logger,
	}, nil
}

type generateRequestBody struct {
	Prompt         string `json:"prompt"`
	Seed           int32  `json:"seed"`
	ReferenceImage string `json:"reference_image,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

type generateResponseBody struct {
	ID    string `json:"id"`
	URL   string `json:"url,omitempty"`
	MIME  string `json:"mime_type,omitempty"`
	Data  string `json:"data,omitempty"`
	Error struct {
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate performs one billed synthesis call.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Image, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := generateRequestBody{
		Prompt:         req.Prompt,
		Seed:           req.Seed,
		ReferenceImage: req.ReferenceImageURL,
		RequestID:      req.RequestID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("image: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("image: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image: http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("image: read response: %w", err)
	}

	var decoded generateResponseBody
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("image: decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := decoded.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("image: provider rejected request (%s): %w", msg, domain.ErrProviderFailure)
	}

	img := &Image{ProviderID: decoded.ID, URL: decoded.URL, MIME: decoded.MIME}
	if img.MIME == "" {
		img.MIME = "image/png"
	}
	if decoded.Data != "" {
		data, err := base64.StdEncoding.DecodeString(decoded.Data)
		if err != nil {
			return nil, fmt.Errorf("image: decode payload: %w", err)
		}
		img.Data = data
	}
	if len(img.Data) == 0 && img.URL == "" {
		return nil, fmt.Errorf("image: empty response: %w", domain.ErrProviderFailure)
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Int32("seed", req.Seed).
		Str("provider_id", img.ProviderID).
		Msg("image: generated")
	return img, nil
}
