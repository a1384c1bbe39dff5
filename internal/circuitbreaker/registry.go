package circuitbreaker

import "sync"

// Registry holds one Breaker per canonical provider name. The provider
// set is small and fixed by the catalog, so entries are never evicted.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates a registry that hands out breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns the breaker for provider, creating it on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[provider] = b
	return b
}
