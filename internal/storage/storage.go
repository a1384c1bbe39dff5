// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	gateway "github.com/himmiroute/himmi/internal"
)

// IdentityStore manages tenants, users, API keys, and tenant-supplied
// provider credentials.
type IdentityStore interface {
	CreateTenant(ctx context.Context, t *gateway.Tenant) error
	GetTenant(ctx context.Context, id int64) (*gateway.Tenant, error)
	// GetTenantCredits reads the current balance without locking. Used by
	// auth; the authoritative read happens inside the billing transaction.
	GetTenantCredits(ctx context.Context, id int64) (float64, error)

	// CreateUserWithTenant creates a tenant and its first user atomically.
	CreateUserWithTenant(ctx context.Context, u *gateway.User, t *gateway.Tenant) error
	GetUser(ctx context.Context, id int64) (*gateway.User, error)
	GetUserByEmail(ctx context.Context, email string) (*gateway.User, error)

	CreateKey(ctx context.Context, k *gateway.APIKey) error
	// GetKeyByHash returns the key matching the hash that is neither
	// disabled nor deleted.
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, userID int64) ([]*gateway.APIKey, error)
	// DeleteKey soft-deletes; the row is kept for audit.
	DeleteKey(ctx context.Context, id int64) error

	UpsertCredential(ctx context.Context, c *gateway.ProviderCredential) error
	GetCredential(ctx context.Context, userID int64, provider string) (*gateway.ProviderCredential, error)
	DeleteCredential(ctx context.Context, userID int64, provider string) error
}

// ModelRoute is a provider mapping joined with its model and provider,
// priced in USD per one million tokens.
type ModelRoute struct {
	MappingID  int64
	ModelID    int64
	Slug       string
	Provider   gateway.Provider
	InputCost  float64
	OutputCost float64
}

// CatalogStore manages the read-mostly model catalog.
type CatalogStore interface {
	UpsertProvider(ctx context.Context, p *gateway.Provider) error
	UpsertModel(ctx context.Context, m *gateway.Model) error
	UpsertMapping(ctx context.Context, mp *gateway.Mapping) error

	ListModels(ctx context.Context) ([]*gateway.Model, error)
	// RoutesForSlug returns all priced provider mappings for a model slug,
	// cheapest first (input+output unit cost ascending).
	RoutesForSlug(ctx context.Context, slug string) ([]ModelRoute, error)
	// ListRoutes returns every priced mapping in the catalog, for listing
	// endpoints. Ordered by slug, then cost.
	ListRoutes(ctx context.Context) ([]ModelRoute, error)
}

// Charge is one request's settlement: who pays, for how many tokens, at
// which unit costs.
type Charge struct {
	RequestID        string
	TenantID         int64
	APIKeyID         int64
	PromptTokens     int
	CompletionTokens int
	InputCost        float64 // USD per 1M prompt tokens
	OutputCost       float64 // USD per 1M completion tokens
}

// Cost returns the USD cost of the charge.
func (c Charge) Cost() float64 {
	return (float64(c.PromptTokens)*c.InputCost + float64(c.CompletionTokens)*c.OutputCost) / 1e6
}

// BillingStore settles charges against tenant balances.
type BillingStore interface {
	// ApplyCharge runs the settlement transaction: insert the request into
	// the settlement ledger (skip everything if it is already there), lock
	// the tenant row and deduct credits, lock the API key row and add to
	// credits_consumed, stamp last_used. The tenant row is always locked
	// before the key row. Returns false when the request was already
	// settled.
	ApplyCharge(ctx context.Context, c Charge) (bool, error)
}

// RequestLogStore persists append-only request telemetry.
type RequestLogStore interface {
	InsertRequestLogs(ctx context.Context, logs []gateway.RequestLog) error
	// UpdateRequestLogUsage fills in token counts and cost after a streamed
	// response settles. Missing rows are not an error (the insert may still
	// be queued).
	UpdateRequestLogUsage(ctx context.Context, requestID string, promptTokens, completionTokens int, cost float64) error
}

// EvaluationStore persists shadow-mode comparison pairs.
type EvaluationStore interface {
	InsertEvaluationPairs(ctx context.Context, pairs []gateway.EvaluationPair) error
}

// Store combines all storage interfaces.
type Store interface {
	IdentityStore
	CatalogStore
	BillingStore
	RequestLogStore
	EvaluationStore
	Ping(ctx context.Context) error
	Close() error
}
