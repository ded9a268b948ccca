package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"storyforge/internal/domain"
	"storyforge/internal/durable"
	"storyforge/internal/infra"
	"storyforge/internal/stages"
	"storyforge/internal/storage"
)

type fixture struct {
	ctrl      *Controller
	orders    *memOrders
	manifests *memManifests
	pages     *memPages
	purchases *memPurchases
	pending   *memPending
	ledger    *memLedger
	llm       *fakeLLM
	images    *fakeImages
	store     *storage.FileStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	f := &fixture{
		orders:    newMemOrders(),
		manifests: newMemManifests(),
		pages:     newMemPages(),
		purchases: newMemPurchases(),
		pending:   newMemPending(),
		ledger:    newMemLedger(),
		llm:       &fakeLLM{responses: map[string][]string{}},
		images:    &fakeImages{},
		store:     store,
	}
	cfg := &infra.Config{
		PagesPerBook:        3,
		PageSleep:           0,
		MaxPageAttempts:     3,
		PreviewCandidates:   3,
		RegenerationCredits: 1,
	}
	policy := stages.QualityPolicy{
		MinStyle: 4, MinBackground: 3, MinAnatomy: 3, MinComposition: 3, StyleFloor: 2,
	}
	log := zerolog.Nop()
	f.ctrl = &Controller{
		Cfg:       cfg,
		Orders:    f.orders,
		Manifests: f.manifests,
		Pages:     f.pages,
		Purchases: f.purchases,
		Pending:   f.pending,
		Ledger:    f.ledger,
		Steps:     durable.NewMemoryStore(),
		Images:    f.images,
		Manifest:  &stages.ManifestStage{LLM: f.llm},
		Scenes:    &stages.SceneStage{LLM: f.llm},
		Synth: &stages.Synthesizer{
			Images:      f.images,
			LLM:         f.llm,
			Store:       store,
			Policy:      policy,
			MaxAttempts: cfg.MaxPageAttempts,
			Logger:      log,
		},
		Assembler: &stages.Assembler{Store: store},
		Store:     store,
		Logger:    log,
	}
	return f
}

const manifestJSON = `{
	"name": "Pip",
	"species": "fox",
	"physical_description": "a small orange fox with bright eyes",
	"key_features": ["blue scarf", "one white paw"],
	"props": ["wooden lantern"],
	"style_tags": ["watercolor", "soft edges"],
	"negative_tags": ["photorealism"],
	"theme": "a rainy autumn adventure"
}`

const scenesJSON = `{"scenes": [
	"Pip wakes up to rain drumming on the den roof.",
	"Pip splashes through puddles in the birch forest.",
	"Pip dries off by the fire, lantern glowing."
]}`

const contextJSON = `{
	"shared_context": "Muted autumn palette, soft rain light, recurring birch leaves.",
	"contexts": [
		{"background": "cozy den interior", "negative": "no humans"},
		{"background": "rainy birch forest", "negative": "no buildings"},
		{"background": "fireside at dusk", "negative": "no snow"}
	]
}`

const passScores = `{"style_purity":5,"background_richness":4,"anatomical_correctness":4,"compositional_clarity":5,"worst_defect":"none"}`
const floorScores = `{"style_purity":1,"background_richness":4,"anatomical_correctness":4,"compositional_clarity":4,"worst_defect":"rendered as a photograph"}`

func (f *fixture) seedPaidOrder(t *testing.T, id string) {
	t.Helper()
	chosen := int32(42)
	require.NoError(t, f.orders.Create(context.Background(), &domain.Order{
		ID:               id,
		Status:           domain.OrderStatusPaid,
		CharacterName:    "Pip",
		CharacterDesc:    "a small orange fox with a blue scarf",
		Theme:            "a rainy autumn adventure",
		PayerEmail:       "pip@example.com",
		ChosenPreviewURL: "http://files.test/orders/" + id + "/preview-pip-1.png",
		ChosenSeed:       &chosen,
	}))
}

func (f *fixture) queueFullBook(n int) {
	f.llm.queue("character_manifest", manifestJSON)
	f.llm.queue("story_scenes", scenesJSON)
	f.llm.queue("story_context", contextJSON)
	for i := 0; i < n; i++ {
		f.llm.queue("quality_scores", passScores)
	}
}

func TestGenerateBookEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seedPaidOrder(t, "ord-1")
	f.queueFullBook(3)

	require.NoError(t, f.ctrl.GenerateBook(context.Background(), "ord-1"))

	order, err := f.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusComplete, order.Status)
	require.NotEmpty(t, order.DocumentURL)

	doc, err := f.store.Fetch(context.Background(), order.DocumentURL)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(doc, []byte("%PDF")), "assembled document is not a PDF")

	pages, err := f.pages.ListByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		require.Equal(t, i+1, p.PageNo)
		require.Equal(t, domain.PageStatusComplete, p.Status)
		require.NotEmpty(t, p.ImageURL)
		require.NotEmpty(t, p.Prompt)
	}

	// One extraction, one scene call, one context call, one score per page.
	require.Equal(t, 6, f.llm.callCount())
	require.Equal(t, 3, f.images.callCount())
}

func TestGenerateBookReplayIsFree(t *testing.T) {
	f := newFixture(t)
	f.seedPaidOrder(t, "ord-1")
	f.queueFullBook(3)

	require.NoError(t, f.ctrl.GenerateBook(context.Background(), "ord-1"))
	llmCalls, imgCalls := f.llm.callCount(), f.images.callCount()

	// Redelivered trigger on a completed order touches no provider.
	require.NoError(t, f.ctrl.GenerateBook(context.Background(), "ord-1"))
	require.Equal(t, llmCalls, f.llm.callCount())
	require.Equal(t, imgCalls, f.images.callCount())
}

func TestGenerateBookResumesAfterSleep(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Cfg.PageSleep = 20 * time.Millisecond
	f.seedPaidOrder(t, "ord-1")
	f.queueFullBook(3)

	// First invocation synthesizes page 1 then suspends on the durable
	// sleep, exactly as the worker would observe.
	err := f.ctrl.GenerateBook(context.Background(), "ord-1")
	var sleepErr *durable.SleepError
	require.ErrorAs(t, err, &sleepErr)
	require.Equal(t, 1, f.images.callCount())

	p1, err := f.pages.Get(context.Background(), "ord-1", 1)
	require.NoError(t, err)
	require.Equal(t, domain.PageStatusComplete, p1.Status)
	p2, err := f.pages.Get(context.Background(), "ord-1", 2)
	require.NoError(t, err)
	require.Equal(t, domain.PageStatusPending, p2.Status)

	// Re-invoke until done, waiting out each recorded deadline. Completed
	// pages are skipped; only the remaining ones are synthesized.
	for i := 0; i < 10; i++ {
		time.Sleep(25 * time.Millisecond)
		err = f.ctrl.GenerateBook(context.Background(), "ord-1")
		if err == nil {
			break
		}
		require.ErrorAs(t, err, &sleepErr)
	}
	require.NoError(t, err)
	require.Equal(t, 3, f.images.callCount())

	order, err := f.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusComplete, order.Status)
}

func TestGenerateBookRejectsUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orders.Create(context.Background(), &domain.Order{
		ID:     "ord-1",
		Status: domain.OrderStatusAwaitingPayment,
	}))

	err := f.ctrl.GenerateBook(context.Background(), "ord-1")
	require.ErrorIs(t, err, domain.ErrConflict)
	require.Equal(t, 0, f.llm.callCount())
}

func TestGenerateBookRequiresChosenPreview(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orders.Create(context.Background(), &domain.Order{
		ID:         "ord-1",
		Status:     domain.OrderStatusPaid,
		PayerEmail: "pip@example.com",
	}))

	err := f.ctrl.GenerateBook(context.Background(), "ord-1")
	require.ErrorIs(t, err, domain.ErrPreviewNotChosen)

	order, err := f.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, order.Status)
	require.NotEmpty(t, order.FailureReason)
}

func TestGenerateBookRetriesThroughRefinement(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Cfg.PagesPerBook = 1
	f.seedPaidOrder(t, "ord-1")
	f.llm.queue("character_manifest", manifestJSON)
	f.llm.queue("story_scenes", `{"scenes": ["Pip wakes up to rain."]}`)
	f.llm.queue("story_context", `{"shared_context": "soft light", "contexts": [{"background": "den", "negative": "no humans"}]}`)
	// First attempt fails the gate above the floor, second passes.
	f.llm.queue("quality_scores",
		`{"style_purity":3,"background_richness":4,"anatomical_correctness":4,"compositional_clarity":4,"worst_defect":"style drifted toward flat vector art"}`,
		passScores)
	f.llm.queue("refined_prompt", `{"prompt": "refined watercolor prompt"}`)

	require.NoError(t, f.ctrl.GenerateBook(context.Background(), "ord-1"))
	require.Equal(t, 2, f.images.callCount())

	order, err := f.orders.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusComplete, order.Status)
}

func TestAssembleLibrary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	img := tinyPNG()
	url1, err := f.store.Write(ctx, "orders/ord-1/page-01.png", img)
	require.NoError(t, err)
	url2, err := f.store.Write(ctx, "orders/ord-2/page-03.png", img)
	require.NoError(t, err)
	require.NoError(t, f.pages.InsertBatchIfAbsent(ctx, []domain.Page{
		{OrderID: "ord-1", PageNo: 1, Status: domain.PageStatusComplete, ImageURL: url1},
		{OrderID: "ord-2", PageNo: 3, Status: domain.PageStatusComplete, ImageURL: url2},
	}))
	require.NoError(t, f.purchases.Create(ctx, &domain.LibraryPurchase{
		ID:         "pur-1",
		PayerEmail: "pip@example.com",
		Status:     domain.PurchaseStatusPending,
		Pages: []domain.PageRef{
			{OrderID: "ord-1", PageNo: 1},
			{OrderID: "ord-2", PageNo: 3},
		},
	}))

	require.NoError(t, f.ctrl.AssembleLibrary(ctx, "pur-1"))

	purchase, err := f.purchases.GetByID(ctx, "pur-1")
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseStatusComplete, purchase.Status)
	doc, err := f.store.Fetch(ctx, purchase.DocumentURL)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(doc, []byte("%PDF")))

	// Redelivery is a no-op on the terminal state.
	require.NoError(t, f.ctrl.AssembleLibrary(ctx, "pur-1"))
}

func TestAssembleLibraryRejectsIncompletePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pages.InsertBatchIfAbsent(ctx, []domain.Page{
		{OrderID: "ord-1", PageNo: 1, Status: domain.PageStatusPending},
	}))
	require.NoError(t, f.purchases.Create(ctx, &domain.LibraryPurchase{
		ID:         "pur-1",
		Status:     domain.PurchaseStatusPending,
		Pages:      []domain.PageRef{{OrderID: "ord-1", PageNo: 1}},
		PayerEmail: "pip@example.com",
	}))

	err := f.ctrl.AssembleLibrary(ctx, "pur-1")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	purchase, err := f.purchases.GetByID(ctx, "pur-1")
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseStatusFailed, purchase.Status)
}

func TestRegeneratePageSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPaidOrder(t, "ord-1")
	require.NoError(t, f.pages.InsertBatchIfAbsent(ctx, []domain.Page{{
		OrderID: "ord-1", PageNo: 2, Seed: 7, Prompt: "pip in the rain",
		Status: domain.PageStatusComplete, ImageURL: "http://files.test/old.png",
	}}))
	require.NoError(t, f.pages.ResetForRegeneration(ctx, "ord-1", 2))
	f.llm.queue("quality_scores", passScores)

	require.NoError(t, f.ctrl.RegeneratePage(ctx, "ord-1", 2))

	page, err := f.pages.Get(ctx, "ord-1", 2)
	require.NoError(t, err)
	require.Equal(t, domain.PageStatusComplete, page.Status)
	require.NotEqual(t, "http://files.test/old.png", page.ImageURL)
	require.True(t, page.Regenerated)

	// A second reset of the same page is refused.
	require.ErrorIs(t, f.pages.ResetForRegeneration(ctx, "ord-1", 2), domain.ErrAlreadyRegenerated)
}

func TestRegeneratePageRefundsOnStyleFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPaidOrder(t, "ord-1")
	require.NoError(t, f.pages.InsertBatchIfAbsent(ctx, []domain.Page{{
		OrderID: "ord-1", PageNo: 2, Seed: 7, Prompt: "pip in the rain",
		Status: domain.PageStatusPending, Regenerated: true,
	}}))
	f.llm.queue("quality_scores", floorScores, floorScores, floorScores)
	f.llm.queue("refined_prompt", `{"prompt": "r1"}`, `{"prompt": "r2"}`)

	err := f.ctrl.RegeneratePage(ctx, "ord-1", 2)
	require.ErrorIs(t, err, domain.ErrStyleFloor)

	page, err := f.pages.Get(ctx, "ord-1", 2)
	require.NoError(t, err)
	require.Equal(t, domain.PageStatusFailed, page.Status)

	balance, err := f.ledger.Balance(ctx, "pip@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, balance)
	txns, err := f.ledger.Transactions(ctx, "pip@example.com", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, domain.CreditReasonRefund, txns[0].Reason)
	require.Equal(t, "ord-1/page-02", txns[0].ReferenceID)
}

func TestGrantCreditsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.pending.Create(ctx, &domain.PendingCreditPurchase{
		ID:         "pend-1",
		PayerEmail: "pip@example.com",
		Credits:    25,
		Status:     domain.PendingCreditOpen,
	}))
	require.NoError(t, f.pending.LinkSession(ctx, "pend-1", "cs_123"))

	require.NoError(t, f.ctrl.GrantCredits(ctx, "cs_123"))
	require.NoError(t, f.ctrl.GrantCredits(ctx, "cs_123"))

	balance, err := f.ledger.Balance(ctx, "pip@example.com")
	require.NoError(t, err)
	require.Equal(t, 25, balance)
	txns, err := f.ledger.Transactions(ctx, "pip@example.com", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	err = f.ctrl.GrantCredits(ctx, "cs_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGeneratePreviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.orders.Create(ctx, &domain.Order{
		ID:            "ord-1",
		Status:        domain.OrderStatusAwaitingPayment,
		CharacterName: "Pip",
		CharacterDesc: "a small orange fox",
		Theme:         "autumn",
	}))

	candidates, err := f.ctrl.GeneratePreviews(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	seen := map[int32]bool{}
	for _, c := range candidates {
		require.NotEmpty(t, c.URL)
		require.False(t, seen[c.Seed], "preview seeds must be distinct")
		seen[c.Seed] = true
	}
	require.Equal(t, 3, f.images.callCount())

	// Candidates are persisted; a repeat request regenerates nothing.
	again, err := f.ctrl.GeneratePreviews(ctx, "ord-1")
	require.NoError(t, err)
	require.Equal(t, candidates, again)
	require.Equal(t, 3, f.images.callCount())
}

func TestDebitAtomicUnderConcurrentSpend(t *testing.T) {
	const (
		attempts = 8
		amount   = 5
	)
	ctx := context.Background()
	ledger := newMemLedger()
	require.NoError(t, ledger.Credit(ctx, "pip@example.com", (attempts-1)*amount,
		domain.CreditReasonPackPurchase, "cs_1"))

	// Concurrent spends of the same balance, as from two browser tabs
	// redeeming at once: exactly one must be refused.
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Debit(ctx, "pip@example.com", amount,
				domain.CreditReasonLibraryPurchase, "pur-1")
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, refused int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientCredits):
			refused++
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	require.Equal(t, attempts-1, succeeded)
	require.Equal(t, 1, refused)

	balance, err := ledger.Balance(ctx, "pip@example.com")
	require.NoError(t, err)
	require.Equal(t, 0, balance)

	// The transaction log accounts for every applied mutation: one grant
	// plus one spend row per successful debit, none for the refusal.
	txns, err := ledger.Transactions(ctx, "pip@example.com", attempts+1)
	require.NoError(t, err)
	require.Len(t, txns, attempts)
}
