package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// PageRepositoryPG implements domain.PageRepository.
type PageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPageRepository creates a new page repository backed by PostgreSQL.
func NewPageRepository(pool *pgxpool.Pool) *PageRepositoryPG {
	return &PageRepositoryPG{pool: pool}
}

// InsertBatchIfAbsent inserts all page rows in one round trip. Replays of
// the planning step collide on the (order_id, page_no) key and are
// absorbed, so the batch is written at most once.
func (r *PageRepositoryPG) InsertBatchIfAbsent(ctx context.Context, pages []domain.Page) error {
	query := `
INSERT INTO pages (order_id, page_no, seed, scene_text, prompt, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (order_id, page_no) DO NOTHING;
`
	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(query, p.OrderID, p.PageNo, p.Seed, p.SceneText, p.Prompt, p.Status)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

const pageColumns = `order_id, page_no, seed, scene_text, prompt, image_url, status, regenerated, updated_at`

func scanPage(row pgx.Row) (*domain.Page, error) {
	var p domain.Page
	if err := row.Scan(
		&p.OrderID,
		&p.PageNo,
		&p.Seed,
		&p.SceneText,
		&p.Prompt,
		&p.ImageURL,
		&p.Status,
		&p.Regenerated,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListByOrder returns an order's pages in page-number order.
func (r *PageRepositoryPG) ListByOrder(ctx context.Context, orderID string) ([]domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE order_id = $1 ORDER BY page_no ASC;`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []domain.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

// Get fetches one page.
func (r *PageRepositoryPG) Get(ctx context.Context, orderID string, pageNo int) (*domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE order_id = $1 AND page_no = $2;`
	return scanPage(r.pool.QueryRow(ctx, query, orderID, pageNo))
}

// GetByRefs fetches an explicit cross-order selection of pages.
func (r *PageRepositoryPG) GetByRefs(ctx context.Context, refs []domain.PageRef) ([]domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE order_id = $1 AND page_no = $2;`
	pages := make([]domain.Page, 0, len(refs))
	for _, ref := range refs {
		p, err := scanPage(r.pool.QueryRow(ctx, query, ref.OrderID, ref.PageNo))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, nil
}

// MarkComplete stores the accepted image and completes the page.
func (r *PageRepositoryPG) MarkComplete(ctx context.Context, orderID string, pageNo int, imageURL string) error {
	query := `
UPDATE pages
SET status = $3, image_url = $4, updated_at = NOW()
WHERE order_id = $1 AND page_no = $2;
`
	tag, err := r.pool.Exec(ctx, query, orderID, pageNo, domain.PageStatusComplete, imageURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed moves the page to its failure state.
func (r *PageRepositoryPG) MarkFailed(ctx context.Context, orderID string, pageNo int) error {
	query := `
UPDATE pages
SET status = $3, updated_at = NOW()
WHERE order_id = $1 AND page_no = $2;
`
	tag, err := r.pool.Exec(ctx, query, orderID, pageNo, domain.PageStatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetForRegeneration moves a complete page back to pending exactly once.
// The regenerated flag is the guard: a second reset fails the WHERE clause
// and is reported as ErrAlreadyRegenerated.
func (r *PageRepositoryPG) ResetForRegeneration(ctx context.Context, orderID string, pageNo int) error {
	query := `
UPDATE pages
SET status = $3, image_url = '', regenerated = TRUE, updated_at = NOW()
WHERE order_id = $1 AND page_no = $2 AND status = $4 AND regenerated = FALSE;
`
	tag, err := r.pool.Exec(ctx, query, orderID, pageNo, domain.PageStatusPending, domain.PageStatusComplete)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	p, err := r.Get(ctx, orderID, pageNo)
	if err != nil {
		return err
	}
	if p.Regenerated {
		return domain.ErrAlreadyRegenerated
	}
	return domain.ErrConflict
}
