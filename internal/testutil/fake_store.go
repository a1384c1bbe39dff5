package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store. All maps are
// guarded by one RWMutex; charge application mirrors the real store's
// settlement-ledger idempotency so billing tests observe the same
// exactly-once behavior.
type FakeStore struct {
	mu sync.RWMutex

	nextID      int64
	tenants     map[int64]*gateway.Tenant
	users       map[int64]*gateway.User
	keys        map[int64]*gateway.APIKey
	credentials map[string]*gateway.ProviderCredential // userID/provider
	providers   map[int64]*gateway.Provider
	models      map[int64]*gateway.Model
	mappings    map[int64]*gateway.Mapping
	settled     map[string]bool
	logs        []gateway.RequestLog
	pairs       []gateway.EvaluationPair

	// Error hooks: when set, the corresponding method fails with it.
	ChargeErr error
	LogErr    error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		tenants:     make(map[int64]*gateway.Tenant),
		users:       make(map[int64]*gateway.User),
		keys:        make(map[int64]*gateway.APIKey),
		credentials: make(map[string]*gateway.ProviderCredential),
		providers:   make(map[int64]*gateway.Provider),
		models:      make(map[int64]*gateway.Model),
		mappings:    make(map[int64]*gateway.Mapping),
		settled:     make(map[string]bool),
	}
}

func (s *FakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

// Seed installs a ready-made tenant, user, and API key and returns them.
// The raw key is rawKey; its hash is stored.
func (s *FakeStore) Seed(credits float64, rawKey string) (*gateway.Tenant, *gateway.User, *gateway.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &gateway.Tenant{ID: s.id(), Name: "test tenant", Credits: credits, CreatedAt: time.Now()}
	u := &gateway.User{ID: s.id(), Email: fmt.Sprintf("user%d@example.com", t.ID), TenantID: t.ID}
	k := &gateway.APIKey{
		ID: s.id(), UserID: u.ID, TenantID: t.ID, Name: "test key",
		KeyHash: gateway.HashKey(rawKey), KeyPrefix: prefixOf(rawKey),
	}
	s.tenants[t.ID] = t
	s.users[u.ID] = u
	s.keys[k.ID] = k
	return t, u, k
}

// SeedRoute installs a provider, model, and mapping and returns the route.
func (s *FakeStore) SeedRoute(slug, providerName, baseURL string, inputCost, outputCost float64) storage.ModelRoute {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &gateway.Provider{ID: s.id(), Name: providerName, BaseURL: baseURL}
	m := &gateway.Model{ID: s.id(), Slug: slug, Name: slug}
	mp := &gateway.Mapping{ID: s.id(), ModelID: m.ID, ProviderID: p.ID, InputCost: inputCost, OutputCost: outputCost}
	s.providers[p.ID] = p
	s.models[m.ID] = m
	s.mappings[mp.ID] = mp
	return storage.ModelRoute{
		MappingID: mp.ID, ModelID: m.ID, Slug: slug,
		Provider: *p, InputCost: inputCost, OutputCost: outputCost,
	}
}

// --- IdentityStore ---

func (s *FakeStore) CreateTenant(_ context.Context, t *gateway.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	s.tenants[t.ID] = t
	return nil
}

func (s *FakeStore) GetTenant(_ context.Context, id int64) (*gateway.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *FakeStore) GetTenantCredits(_ context.Context, id int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return 0, gateway.ErrNotFound
	}
	return t.Credits, nil
}

func (s *FakeStore) CreateUserWithTenant(_ context.Context, u *gateway.User, t *gateway.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return gateway.ErrConflict
		}
	}
	t.ID = s.id()
	u.ID = s.id()
	u.TenantID = t.ID
	s.tenants[t.ID] = t
	s.users[u.ID] = u
	return nil
}

func (s *FakeStore) GetUser(_ context.Context, id int64) (*gateway.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *FakeStore) GetUserByEmail(_ context.Context, email string) (*gateway.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (s *FakeStore) CreateKey(_ context.Context, k *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing.KeyHash == k.KeyHash {
			return gateway.ErrConflict
		}
	}
	k.ID = s.id()
	s.keys[k.ID] = k
	return nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash && !k.Disabled && !k.Deleted {
			cp := *k
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (s *FakeStore) ListKeys(_ context.Context, userID int64) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && !k.Deleted {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.Deleted {
		return gateway.ErrNotFound
	}
	k.Deleted = true
	return nil
}

func (s *FakeStore) UpsertCredential(_ context.Context, c *gateway.ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey(c.UserID, c.Provider)
	if existing, ok := s.credentials[key]; ok {
		existing.Ciphertext = c.Ciphertext
		return nil
	}
	c.ID = s.id()
	s.credentials[key] = c
	return nil
}

func (s *FakeStore) GetCredential(_ context.Context, userID int64, provider string) (*gateway.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[credKey(userID, provider)]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *FakeStore) DeleteCredential(_ context.Context, userID int64, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey(userID, provider)
	if _, ok := s.credentials[key]; !ok {
		return gateway.ErrNotFound
	}
	delete(s.credentials, key)
	return nil
}

// --- CatalogStore ---

func (s *FakeStore) UpsertProvider(_ context.Context, p *gateway.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.providers {
		if existing.Name == p.Name {
			existing.BaseURL = p.BaseURL
			p.ID = existing.ID
			return nil
		}
	}
	p.ID = s.id()
	s.providers[p.ID] = p
	return nil
}

func (s *FakeStore) UpsertModel(_ context.Context, m *gateway.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.models {
		if existing.Slug == m.Slug {
			existing.Name = m.Name
			existing.Company = m.Company
			existing.ContextLength = m.ContextLength
			m.ID = existing.ID
			return nil
		}
	}
	m.ID = s.id()
	s.models[m.ID] = m
	return nil
}

func (s *FakeStore) UpsertMapping(_ context.Context, mp *gateway.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mappings {
		if existing.ModelID == mp.ModelID && existing.ProviderID == mp.ProviderID {
			existing.InputCost = mp.InputCost
			existing.OutputCost = mp.OutputCost
			mp.ID = existing.ID
			return nil
		}
	}
	mp.ID = s.id()
	s.mappings[mp.ID] = mp
	return nil
}

func (s *FakeStore) ListModels(_ context.Context) ([]*gateway.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.Model
	for _, m := range s.models {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *FakeStore) RoutesForSlug(_ context.Context, slug string) ([]storage.ModelRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.ModelRoute
	for _, mp := range s.mappings {
		m := s.models[mp.ModelID]
		if m == nil || m.Slug != slug {
			continue
		}
		p := s.providers[mp.ProviderID]
		if p == nil {
			continue
		}
		out = append(out, storage.ModelRoute{
			MappingID: mp.ID, ModelID: m.ID, Slug: m.Slug,
			Provider: *p, InputCost: mp.InputCost, OutputCost: mp.OutputCost,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InputCost+out[i].OutputCost < out[j].InputCost+out[j].OutputCost
	})
	return out, nil
}

func (s *FakeStore) ListRoutes(ctx context.Context) ([]storage.ModelRoute, error) {
	models, _ := s.ListModels(ctx)
	var out []storage.ModelRoute
	for _, m := range models {
		routes, _ := s.RoutesForSlug(ctx, m.Slug)
		out = append(out, routes...)
	}
	return out, nil
}

// --- BillingStore ---

func (s *FakeStore) ApplyCharge(_ context.Context, c storage.Charge) (bool, error) {
	if s.ChargeErr != nil {
		return false, s.ChargeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled[c.RequestID] {
		return false, nil
	}
	t, ok := s.tenants[c.TenantID]
	if !ok {
		return false, gateway.ErrNotFound
	}
	k, ok := s.keys[c.APIKeyID]
	if !ok {
		return false, gateway.ErrNotFound
	}
	s.settled[c.RequestID] = true
	cost := c.Cost()
	t.Credits -= cost
	k.CreditsConsumed += cost
	now := time.Now()
	k.LastUsedAt = &now
	return true, nil
}

// --- RequestLogStore ---

func (s *FakeStore) InsertRequestLogs(_ context.Context, logs []gateway.RequestLog) error {
	if s.LogErr != nil {
		return s.LogErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return nil
}

func (s *FakeStore) UpdateRequestLogUsage(_ context.Context, requestID string, promptTokens, completionTokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.logs {
		if s.logs[i].RequestID == requestID {
			s.logs[i].PromptTokens = promptTokens
			s.logs[i].CompletionTokens = completionTokens
			s.logs[i].Cost = cost
		}
	}
	return nil
}

// --- EvaluationStore ---

func (s *FakeStore) InsertEvaluationPairs(_ context.Context, pairs []gateway.EvaluationPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, pairs...)
	return nil
}

func (s *FakeStore) Ping(context.Context) error { return nil }
func (s *FakeStore) Close() error               { return nil }

// --- Inspection helpers ---

// RequestLogs returns a snapshot of recorded logs.
func (s *FakeStore) RequestLogs() []gateway.RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.RequestLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// EvaluationPairs returns a snapshot of recorded shadow pairs.
func (s *FakeStore) EvaluationPairs() []gateway.EvaluationPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.EvaluationPair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Settled reports whether a request ID has been settled.
func (s *FakeStore) Settled(requestID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settled[requestID]
}

func credKey(userID int64, provider string) string {
	return fmt.Sprintf("%d/%s", userID, provider)
}

func prefixOf(raw string) string {
	if len(raw) > gateway.KeyPrefixLen {
		return raw[:gateway.KeyPrefixLen]
	}
	return raw
}
