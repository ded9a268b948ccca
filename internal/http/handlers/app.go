// Package handlers contains the HTTP surface: thin validated handlers
// over the repositories and the payments processor. Generation work is
// never done in a request; handlers enqueue tasks and return identifiers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/payments"
)

// PreviewGenerator is the one pipeline operation served synchronously.
type PreviewGenerator interface {
	GeneratePreviews(ctx context.Context, orderID string) ([]domain.PreviewCandidate, error)
}

// App holds the handler dependencies.
type App struct {
	Cfg       *infra.Config
	Orders    domain.OrderRepository
	Pages     domain.PageRepository
	Purchases domain.PurchaseRepository
	Pending   domain.PendingCreditRepository
	Ledger    domain.CreditLedger
	Tasks     domain.TaskRepository
	Gateway   payments.Gateway
	Processor *payments.Processor
	Previews  PreviewGenerator
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
