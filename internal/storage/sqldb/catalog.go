package sqldb

import (
	"context"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

// UpsertProvider inserts a provider or updates its base URL, keyed by
// display name. The ID is filled either way.
func (s *Store) UpsertProvider(ctx context.Context, p *gateway.Provider) error {
	return s.write.QueryRowContext(ctx,
		s.q(`INSERT INTO providers (name, base_url) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET base_url = excluded.base_url
		 RETURNING id`),
		p.Name, p.BaseURL,
	).Scan(&p.ID)
}

// UpsertModel inserts a model or updates its attributes, keyed by slug.
func (s *Store) UpsertModel(ctx context.Context, m *gateway.Model) error {
	return s.write.QueryRowContext(ctx,
		s.q(`INSERT INTO models (slug, name, company, context_length) VALUES (?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET name = excluded.name,
		 company = excluded.company, context_length = excluded.context_length
		 RETURNING id`),
		m.Slug, m.Name, m.Company, m.ContextLength,
	).Scan(&m.ID)
}

// UpsertMapping inserts a priced model-provider edge or updates its costs.
func (s *Store) UpsertMapping(ctx context.Context, mp *gateway.Mapping) error {
	return s.write.QueryRowContext(ctx,
		s.q(`INSERT INTO model_provider_mappings (model_id, provider_id, input_cost, output_cost)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (model_id, provider_id) DO UPDATE SET
		 input_cost = excluded.input_cost, output_cost = excluded.output_cost
		 RETURNING id`),
		mp.ModelID, mp.ProviderID, mp.InputCost, mp.OutputCost,
	).Scan(&mp.ID)
}

// ListModels returns the catalog's models ordered by slug.
func (s *Store) ListModels(ctx context.Context) ([]*gateway.Model, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, slug, name, company, context_length FROM models ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*gateway.Model
	for rows.Next() {
		var m gateway.Model
		if err := rows.Scan(&m.ID, &m.Slug, &m.Name, &m.Company, &m.ContextLength); err != nil {
			return nil, err
		}
		models = append(models, &m)
	}
	return models, rows.Err()
}

const routeColumns = `m.id, mo.id, mo.slug, p.id, p.name, p.base_url, m.input_cost, m.output_cost`

// RoutesForSlug returns all priced provider mappings for one slug,
// cheapest first.
func (s *Store) RoutesForSlug(ctx context.Context, slug string) ([]storage.ModelRoute, error) {
	rows, err := s.read.QueryContext(ctx,
		s.q(`SELECT `+routeColumns+`
		 FROM model_provider_mappings m
		 JOIN models mo ON mo.id = m.model_id
		 JOIN providers p ON p.id = m.provider_id
		 WHERE mo.slug = ?
		 ORDER BY m.input_cost + m.output_cost ASC, m.id ASC`), slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoutes(rows)
}

// ListRoutes returns every priced mapping in the catalog.
func (s *Store) ListRoutes(ctx context.Context) ([]storage.ModelRoute, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+routeColumns+`
		 FROM model_provider_mappings m
		 JOIN models mo ON mo.id = m.model_id
		 JOIN providers p ON p.id = m.provider_id
		 ORDER BY mo.slug ASC, m.input_cost + m.output_cost ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoutes(rows)
}

func collectRoutes(rows interface {
	scanner
	Next() bool
	Err() error
}) ([]storage.ModelRoute, error) {
	var routes []storage.ModelRoute
	for rows.Next() {
		var r storage.ModelRoute
		if err := rows.Scan(
			&r.MappingID, &r.ModelID, &r.Slug,
			&r.Provider.ID, &r.Provider.Name, &r.Provider.BaseURL,
			&r.InputCost, &r.OutputCost,
		); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}
