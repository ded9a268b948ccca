package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// ManifestRepositoryPG implements domain.ManifestRepository.
type ManifestRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewManifestRepository creates a new manifest repository backed by PostgreSQL.
func NewManifestRepository(pool *pgxpool.Pool) *ManifestRepositoryPG {
	return &ManifestRepositoryPG{pool: pool}
}

// InsertIfAbsent inserts the manifest once; a concurrent replay's insert
// is absorbed by ON CONFLICT DO NOTHING.
func (r *ManifestRepositoryPG) InsertIfAbsent(ctx context.Context, m *domain.Manifest) error {
	query := `
INSERT INTO manifests (order_id, name, species, physical_desc, key_features, props, style_tags, negative_tags, theme)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (order_id) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query,
		m.OrderID,
		m.Name,
		m.Species,
		m.PhysicalDesc,
		m.KeyFeatures,
		m.Props,
		m.StyleTags,
		m.NegativeTags,
		m.Theme,
	)
	return err
}

// GetByOrderID fetches the manifest for an order.
func (r *ManifestRepositoryPG) GetByOrderID(ctx context.Context, orderID string) (*domain.Manifest, error) {
	query := `
SELECT order_id, name, species, physical_desc, key_features, props, style_tags, negative_tags, theme, created_at
FROM manifests
WHERE order_id = $1;
`
	row := r.pool.QueryRow(ctx, query, orderID)
	var m domain.Manifest
	if err := row.Scan(
		&m.OrderID,
		&m.Name,
		&m.Species,
		&m.PhysicalDesc,
		&m.KeyFeatures,
		&m.Props,
		&m.StyleTags,
		&m.NegativeTags,
		&m.Theme,
		&m.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
