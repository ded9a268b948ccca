package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyforge/internal/domain"
)

// EventTypeSessionCompleted is the only event type the processor acts on.
const EventTypeSessionCompleted = "checkout.session.completed"

// signatureTolerance bounds how stale a signed timestamp may be before
// the delivery is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// Event is a parsed webhook delivery. Only identifiers are trusted; the
// processor re-reads authoritative state from the store.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the completed session's identifiers and payment facts.
type EventData struct {
	SessionID   string `json:"session_id"`
	Kind        string `json:"kind"`
	ReferenceID string `json:"reference_id"`
	PayerEmail  string `json:"payer_email"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// VerifySignature checks the provider's signature header against the raw
// request body. The header carries the signed unix timestamp and a hex
// HMAC-SHA256 over "<timestamp>.<body>"; comparison is constant-time and
// the timestamp must be within tolerance of now.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("malformed signature header: %w", domain.ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp: %w", domain.ErrInvalidSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance: %w", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign produces the signature header for a payload, used by tests and the
// local provider simulator.
func Sign(secret string, body []byte, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("event has no id: %w", domain.ErrInvalidInput)
	}
	return &event, nil
}

// Processor applies verified webhook events. Every effect behind the
// dedup gate either enqueues a task or performs a conditional write, so a
// duplicate delivery that slips past the gate still cannot apply twice.
type Processor struct {
	Orders    domain.OrderRepository
	Purchases domain.PurchaseRepository
	Pending   domain.PendingCreditRepository
	Events    domain.WebhookEventRepository
	Tasks     domain.TaskRepository
	Logger    zerolog.Logger
}

// Process handles one verified event. Unknown event types and duplicate
// deliveries succeed silently so the provider stops redelivering.
func (p *Processor) Process(ctx context.Context, event *Event) error {
	if event.Type != EventTypeSessionCompleted {
		p.Logger.Debug().Str("event_type", event.Type).Msg("payments: ignoring event type")
		return nil
	}

	first, err := p.Events.InsertIfAbsent(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("record event %s: %w", event.ID, err)
	}
	if !first {
		p.Logger.Info().Str("event_id", event.ID).Msg("payments: duplicate delivery ignored")
		return nil
	}

	if err := p.dispatch(ctx, event); err != nil {
		// Release the gate so the provider's redelivery retries the side
		// effect instead of being absorbed as a duplicate.
		if delErr := p.Events.Delete(ctx, event.ID); delErr != nil {
			p.Logger.Error().Err(delErr).Str("event_id", event.ID).Msg("payments: failed to release dedup gate")
		}
		return err
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, event *Event) error {
	switch SessionKind(event.Data.Kind) {
	case SessionKindBookOrder:
		return p.processOrderPayment(ctx, event)
	case SessionKindCreditPack:
		return p.processCreditPurchase(ctx, event)
	case SessionKindLibraryPurchase:
		return p.processLibraryPayment(ctx, event)
	default:
		p.Logger.Warn().Str("event_id", event.ID).Str("kind", event.Data.Kind).Msg("payments: unknown session kind")
		return nil
	}
}

func (p *Processor) processOrderPayment(ctx context.Context, event *Event) error {
	d := event.Data
	err := p.Orders.RecordPayment(ctx, d.ReferenceID, d.SessionID, d.PayerEmail, d.AmountCents, d.Currency)
	if errors.Is(err, domain.ErrNotFound) {
		return p.createOrderFromSession(ctx, event)
	}
	if errors.Is(err, domain.ErrConflict) {
		// Payment already recorded through another delivery path.
		p.Logger.Info().Str("order_id", d.ReferenceID).Msg("payments: payment already recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record payment for order %s: %w", d.ReferenceID, err)
	}

	if err := p.Tasks.Enqueue(ctx, &domain.Task{
		ID:          uuid.NewString(),
		Type:        domain.TaskTypeBookGenerate,
		ReferenceID: d.ReferenceID,
	}); err != nil {
		return fmt.Errorf("enqueue generation for order %s: %w", d.ReferenceID, err)
	}
	p.Logger.Info().Str("order_id", d.ReferenceID).Msg("payments: order paid, generation queued")
	return nil
}

// createOrderFromSession handles the payment-first flow: the confirmation
// arrived before any order row existed under the session's reference. The
// order is created with the session's payment facts recorded; generation
// waits until the customer supplies the character input and chooses a
// preview, so no task is enqueued here.
func (p *Processor) createOrderFromSession(ctx context.Context, event *Event) error {
	d := event.Data
	if d.ReferenceID == "" {
		p.Logger.Warn().Str("event_id", event.ID).Msg("payments: session carries no order reference")
		return nil
	}
	err := p.Orders.Create(ctx, &domain.Order{
		ID:     d.ReferenceID,
		Status: domain.OrderStatusAwaitingPayment,
	})
	if err != nil {
		return fmt.Errorf("create order %s from session %s: %w", d.ReferenceID, d.SessionID, err)
	}
	if err := p.Orders.RecordPayment(ctx, d.ReferenceID, d.SessionID, d.PayerEmail, d.AmountCents, d.Currency); err != nil {
		return fmt.Errorf("record payment for created order %s: %w", d.ReferenceID, err)
	}
	p.Logger.Info().
		Str("order_id", d.ReferenceID).
		Str("session_id", d.SessionID).
		Msg("payments: order created from payment-first confirmation")
	return nil
}

func (p *Processor) processLibraryPayment(ctx context.Context, event *Event) error {
	purchaseID := event.Data.ReferenceID
	if _, err := p.Purchases.GetByID(ctx, purchaseID); err != nil {
		return fmt.Errorf("load purchase %s: %w", purchaseID, err)
	}
	if err := p.Tasks.Enqueue(ctx, &domain.Task{
		ID:          uuid.NewString(),
		Type:        domain.TaskTypeLibraryAssemble,
		ReferenceID: purchaseID,
	}); err != nil {
		return fmt.Errorf("enqueue assembly for purchase %s: %w", purchaseID, err)
	}
	p.Logger.Info().Str("purchase_id", purchaseID).Msg("payments: library purchase paid, assembly queued")
	return nil
}

func (p *Processor) processCreditPurchase(ctx context.Context, event *Event) error {
	sessionID := event.Data.SessionID
	if _, err := p.Pending.GetBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("load pending purchase for session %s: %w", sessionID, err)
	}
	if err := p.Tasks.Enqueue(ctx, &domain.Task{
		ID:          uuid.NewString(),
		Type:        domain.TaskTypeCreditGrant,
		ReferenceID: sessionID,
	}); err != nil {
		return fmt.Errorf("enqueue credit grant for session %s: %w", sessionID, err)
	}
	p.Logger.Info().Str("session_id", sessionID).Msg("payments: credit grant queued")
	return nil
}
