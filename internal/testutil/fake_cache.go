package testutil

import (
	"context"
	"sync"
)

// FakeCache is a recording semcache.Cache: exact-match only, with error
// injection and call counting for pipeline tests.
type FakeCache struct {
	mu      sync.Mutex
	entries map[string]string

	LookupErr error
	StoreErr  error
	Lookups   int
	Stores    int
}

// NewFakeCache returns an empty FakeCache.
func NewFakeCache() *FakeCache {
	return &FakeCache{entries: make(map[string]string)}
}

// Lookup returns the stored response for an exact prompt match.
func (c *FakeCache) Lookup(_ context.Context, prompt string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lookups++
	if c.LookupErr != nil {
		return "", false, c.LookupErr
	}
	resp, ok := c.entries[prompt]
	return resp, ok, nil
}

// Store records the pair under the exact prompt.
func (c *FakeCache) Store(_ context.Context, prompt, response string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Stores++
	if c.StoreErr != nil {
		return c.StoreErr
	}
	c.entries[prompt] = response
	return nil
}

func (c *FakeCache) Close() error { return nil }

// Preload inserts an entry directly.
func (c *FakeCache) Preload(prompt, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[prompt] = response
}
