package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"time"

	"storyforge/internal/domain"
	imgprov "storyforge/internal/providers/image"
	"storyforge/internal/providers/llm"
)

// ---- provider fakes ----

type fakeLLM struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     int
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	queue := f.responses[req.SchemaName]
	if len(queue) == 0 {
		return nil, fmt.Errorf("fakeLLM: no response queued for %s", req.SchemaName)
	}
	next := queue[0]
	f.responses[req.SchemaName] = queue[1:]
	return json.RawMessage(next), nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) queue(schema string, responses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[schema] = append(f.responses[schema], responses...)
}

type fakeImages struct {
	mu    sync.Mutex
	calls int
}

// tinyPNG is a valid 1x1 image so document assembly can run for real.
func tinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func (f *fakeImages) Generate(_ context.Context, req imgprov.GenerateRequest) (*imgprov.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &imgprov.Image{
		ProviderID: fmt.Sprintf("prov-%d", f.calls),
		MIME:       "image/png",
		Data:       tinyPNG(),
	}, nil
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- repository fakes ----

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newMemOrders() *memOrders { return &memOrders{orders: map[string]*domain.Order{}} }

func (m *memOrders) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) GetByCheckoutSession(_ context.Context, sessionID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.CheckoutSessionID == sessionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrders) SetCheckoutSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.CheckoutSessionID = sessionID
	return nil
}

func (m *memOrders) RecordPayment(_ context.Context, id, sessionID, payerEmail string, amountCents int64, currency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusAwaitingPayment {
		return domain.ErrConflict
	}
	o.Status = domain.OrderStatusPaid
	o.CheckoutSessionID = sessionID
	o.PayerEmail = payerEmail
	o.AmountCents = amountCents
	o.Currency = currency
	return nil
}

func (m *memOrders) SetPreviewCandidates(_ context.Context, id string, candidates []domain.PreviewCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.PreviewCandidates = candidates
	return nil
}

func (m *memOrders) ChoosePreview(_ context.Context, id, url string, seed int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.ChosenPreviewURL = url
	o.ChosenSeed = &seed
	return nil
}

func (m *memOrders) Transition(_ context.Context, id string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != from {
		return domain.ErrConflict
	}
	o.Status = to
	return nil
}

func (m *memOrders) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OrderStatusFailed
	o.FailureReason = reason
	return nil
}

func (m *memOrders) SetDocumentURL(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.DocumentURL = url
	return nil
}

type memManifests struct {
	mu        sync.Mutex
	manifests map[string]*domain.Manifest
	inserts   int
}

func newMemManifests() *memManifests { return &memManifests{manifests: map[string]*domain.Manifest{}} }

func (m *memManifests) InsertIfAbsent(_ context.Context, manifest *domain.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if _, ok := m.manifests[manifest.OrderID]; ok {
		return nil
	}
	cp := *manifest
	m.manifests[manifest.OrderID] = &cp
	return nil
}

func (m *memManifests) GetByOrderID(_ context.Context, orderID string) (*domain.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.manifests[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *manifest
	return &cp, nil
}

type memPages struct {
	mu    sync.Mutex
	pages map[string]*domain.Page
}

func newMemPages() *memPages { return &memPages{pages: map[string]*domain.Page{}} }

func pageKey(orderID string, pageNo int) string { return fmt.Sprintf("%s/%d", orderID, pageNo) }

func (m *memPages) InsertBatchIfAbsent(_ context.Context, pages []domain.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pages {
		key := pageKey(p.OrderID, p.PageNo)
		if _, ok := m.pages[key]; ok {
			continue
		}
		cp := p
		m.pages[key] = &cp
	}
	return nil
}

func (m *memPages) ListByOrder(_ context.Context, orderID string) ([]domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Page
	for _, p := range m.pages {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNo < out[j].PageNo })
	return out, nil
}

func (m *memPages) Get(_ context.Context, orderID string, pageNo int) (*domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(orderID, pageNo)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPages) GetByRefs(_ context.Context, refs []domain.PageRef) ([]domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Page
	for _, ref := range refs {
		if p, ok := m.pages[pageKey(ref.OrderID, ref.PageNo)]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPages) MarkComplete(_ context.Context, orderID string, pageNo int, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(orderID, pageNo)]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.PageStatusComplete
	p.ImageURL = imageURL
	return nil
}

func (m *memPages) MarkFailed(_ context.Context, orderID string, pageNo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(orderID, pageNo)]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.PageStatusFailed
	return nil
}

func (m *memPages) ResetForRegeneration(_ context.Context, orderID string, pageNo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(orderID, pageNo)]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PageStatusComplete {
		return domain.ErrConflict
	}
	if p.Regenerated {
		return domain.ErrAlreadyRegenerated
	}
	p.Status = domain.PageStatusPending
	p.ImageURL = ""
	p.Regenerated = true
	return nil
}

type memPurchases struct {
	mu        sync.Mutex
	purchases map[string]*domain.LibraryPurchase
}

func newMemPurchases() *memPurchases {
	return &memPurchases{purchases: map[string]*domain.LibraryPurchase{}}
}

func (m *memPurchases) Create(_ context.Context, p *domain.LibraryPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.purchases[p.ID] = &cp
	return nil
}

func (m *memPurchases) GetByID(_ context.Context, id string) (*domain.LibraryPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPurchases) Transition(_ context.Context, id string, from, to domain.PurchaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrConflict
	}
	p.Status = to
	return nil
}

func (m *memPurchases) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.PurchaseStatusFailed
	p.FailureReason = reason
	return nil
}

func (m *memPurchases) SetDocumentURL(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.DocumentURL = url
	return nil
}

type memPending struct {
	mu      sync.Mutex
	pending map[string]*domain.PendingCreditPurchase
}

func newMemPending() *memPending {
	return &memPending{pending: map[string]*domain.PendingCreditPurchase{}}
}

func (m *memPending) Create(_ context.Context, p *domain.PendingCreditPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pending[p.ID] = &cp
	return nil
}

func (m *memPending) LinkSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.CheckoutSessionID = sessionID
	return nil
}

func (m *memPending) GetBySession(_ context.Context, sessionID string) (*domain.PendingCreditPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.CheckoutSessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPending) MarkComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PendingCreditOpen {
		return domain.ErrConflict
	}
	p.Status = domain.PendingCreditComplete
	return nil
}

type memLedger struct {
	mu       sync.Mutex
	balances map[string]int
	txns     []domain.CreditTransaction
}

func newMemLedger() *memLedger { return &memLedger{balances: map[string]int{}} }

func (m *memLedger) Credit(_ context.Context, payerEmail string, amount int, reason, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[payerEmail] += amount
	m.txns = append(m.txns, domain.CreditTransaction{
		PayerEmail: payerEmail, Amount: amount, Direction: domain.CreditDirectionGrant,
		Reason: reason, ReferenceID: referenceID, CreatedAt: time.Now(),
	})
	return nil
}

func (m *memLedger) Debit(_ context.Context, payerEmail string, amount int, reason, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[payerEmail] < amount {
		return domain.ErrInsufficientCredits
	}
	m.balances[payerEmail] -= amount
	m.txns = append(m.txns, domain.CreditTransaction{
		PayerEmail: payerEmail, Amount: amount, Direction: domain.CreditDirectionSpend,
		Reason: reason, ReferenceID: referenceID, CreatedAt: time.Now(),
	})
	return nil
}

func (m *memLedger) Balance(_ context.Context, payerEmail string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[payerEmail], nil
}

func (m *memLedger) Transactions(_ context.Context, payerEmail string, limit int) ([]domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(m.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txns[i].PayerEmail == payerEmail {
			out = append(out, m.txns[i])
		}
	}
	return out, nil
}
