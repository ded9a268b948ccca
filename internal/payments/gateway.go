// Package payments talks to the hosted checkout provider and processes
// its webhook events. Amounts and credit counts are always computed or
// read back server-side; checkout metadata carries identifiers only.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storyforge/internal/domain"
)

// SessionKind distinguishes what a checkout session pays for.
type SessionKind string

const (
	SessionKindBookOrder       SessionKind = "book_order"
	SessionKindCreditPack      SessionKind = "credit_pack"
	SessionKindLibraryPurchase SessionKind = "library_purchase"
)

// CheckoutSession is the provider's hosted payment page reference.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSessionParams describes one checkout session. ReferenceID is the
// order or pending-purchase id; it is the only business data sent out.
type CreateSessionParams struct {
	Kind          SessionKind
	ReferenceID   string
	CustomerEmail string
	AmountCents   int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// Gateway creates hosted checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*CheckoutSession, error)
}

// Client implements Gateway over the provider's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a checkout client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("payments: base url and api key are required")
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// CreateSession opens a hosted checkout session for the given amount.
func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*CheckoutSession, error) {
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("amount %d: %w", params.AmountCents, domain.ErrInvalidInput)
	}
	body, err := json.Marshal(map[string]any{
		"amount_cents":   params.AmountCents,
		"currency":       params.Currency,
		"customer_email": params.CustomerEmail,
		"success_url":    params.SuccessURL,
		"cancel_url":     params.CancelURL,
		"metadata": map[string]string{
			"kind":         string(params.Kind),
			"reference_id": params.ReferenceID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read session response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("checkout provider status %d: %s: %w", resp.StatusCode, raw, domain.ErrProviderFailure)
	}

	var session CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("checkout provider returned no session id: %w", domain.ErrProviderFailure)
	}
	return &session, nil
}
