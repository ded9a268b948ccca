package domain

import "time"

// OrderStatus enumerates the lifecycle states of a book order.
type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusManifestReady   OrderStatus = "manifest_ready"
	OrderStatusGenerating      OrderStatus = "generating"
	OrderStatusComplete        OrderStatus = "complete"
	OrderStatusFailed          OrderStatus = "failed"
)

// PreviewCandidate is one pre-payment character preview. The chosen
// candidate's seed anchors the character's look on every page.
type PreviewCandidate struct {
	URL  string `json:"url"`
	Seed int32  `json:"seed"`
}

// Order is one purchase of a generated book.
type Order struct {
	ID                string
	Status            OrderStatus
	CharacterName     string
	CharacterDesc     string
	Theme             string
	PriceTier         string
	PreviewCandidates []PreviewCandidate
	ChosenPreviewURL  string
	ChosenSeed        *int32
	CheckoutSessionID string
	PayerEmail        string
	AmountCents       int64
	Currency          string
	SharePublicly     bool
	DocumentURL       string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Paid reports whether payment confirmation has been recorded.
func (o *Order) Paid() bool {
	return o.Status != OrderStatusAwaitingPayment && o.PayerEmail != ""
}
