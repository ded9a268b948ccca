package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storyforge/internal/http/handlers"
)

// NewRouter wires the public API. staticDir, when non-empty, serves the
// re-hosted images and assembled documents under /static.
func NewRouter(app *handlers.App, staticDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/orders", func(r chi.Router) {
		r.Post("/", app.CreateOrder)
		r.Get("/{id}", app.GetOrder)
		r.Post("/{id}/previews", app.GeneratePreviews)
		r.Post("/{id}/preview", app.ChoosePreview)
		r.Post("/{id}/checkout", app.CreateOrderCheckout)
		r.Post("/{id}/pages/{page_no}/regenerate", app.RegeneratePage)
	})

	r.Route("/v1/library/purchases", func(r chi.Router) {
		r.Post("/", app.CreateLibraryPurchase)
		r.Get("/{id}", app.GetLibraryPurchase)
	})

	r.Route("/v1/credits", func(r chi.Router) {
		r.Post("/checkout", app.CreateCreditCheckout)
		r.Get("/balance", app.CreditBalance)
		r.Get("/transactions", app.CreditTransactions)
	})

	r.Post("/v1/payments/webhook", app.PaymentWebhook)

	if staticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
