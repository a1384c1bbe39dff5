// Package catalog resolves client-facing model slugs to priced provider
// mappings. Routes are read-mostly, so they sit behind a short-TTL otter
// cache in front of the catalog store.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

const (
	routeCacheTTL = 10 * time.Second
	routeCacheMax = 4096
)

// Resolver answers slug lookups from the catalog store through a
// per-slug route cache.
type Resolver struct {
	store storage.CatalogStore
	cache *otter.Cache[string, []storage.ModelRoute]
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store storage.CatalogStore) (*Resolver, error) {
	c, err := otter.New(&otter.Options[string, []storage.ModelRoute]{
		MaximumSize:      routeCacheMax,
		ExpiryCalculator: otter.ExpiryWriting[string, []storage.ModelRoute](routeCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create route cache: %w", err)
	}
	return &Resolver{store: store, cache: c}, nil
}

// Resolve returns the cheapest provider mapping for slug. An unknown slug
// or a slug with no mappings yields gateway.ErrModelUnsupported.
func (r *Resolver) Resolve(ctx context.Context, slug string) (storage.ModelRoute, error) {
	routes, err := r.routes(ctx, slug)
	if err != nil {
		return storage.ModelRoute{}, err
	}
	if len(routes) == 0 {
		return storage.ModelRoute{}, fmt.Errorf("%w: %s", gateway.ErrModelUnsupported, slug)
	}
	return routes[0], nil
}

// NextBest returns the cheapest mapping for slug on a provider other than
// excludeProvider (display name). Used by the fallback stage after an
// upstream failure. ok is false when no alternative exists.
func (r *Resolver) NextBest(ctx context.Context, slug, excludeProvider string) (storage.ModelRoute, bool, error) {
	routes, err := r.routes(ctx, slug)
	if err != nil {
		return storage.ModelRoute{}, false, err
	}
	for _, route := range routes {
		if route.Provider.Name != excludeProvider {
			return route, true, nil
		}
	}
	return storage.ModelRoute{}, false, nil
}

// ListModels returns the catalog's models. Not cached; listing endpoints
// are cold paths.
func (r *Resolver) ListModels(ctx context.Context) ([]*gateway.Model, error) {
	return r.store.ListModels(ctx)
}

// Invalidate drops the cached routes for slug, forcing a fresh read.
func (r *Resolver) Invalidate(slug string) {
	r.cache.Invalidate(slug)
}

// routes returns all mappings for slug, cheapest first, from cache or store.
func (r *Resolver) routes(ctx context.Context, slug string) ([]storage.ModelRoute, error) {
	if routes, ok := r.cache.GetIfPresent(slug); ok {
		return routes, nil
	}
	routes, err := r.store.RoutesForSlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("load routes for %s: %w", slug, err)
	}
	r.cache.Set(slug, routes)
	return routes, nil
}
