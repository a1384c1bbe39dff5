// Package semcache implements the semantic response cache: a
// vector-similarity lookup from a prompt fingerprint to a previously
// returned response. The cache is intentionally coarse -- only the last
// user message is fingerprinted -- and always optional: every
// implementation degrades to a miss instead of failing a request.
package semcache

import "context"

// Cache is the semantic cache consumed by the pipeline's cache_lookup and
// cache_store stages. Implementations must be safe for concurrent use.
type Cache interface {
	// Lookup returns the cached response for a semantically similar
	// prompt. A miss is (_, false, nil); errors are reported for
	// observability but callers treat them as misses.
	Lookup(ctx context.Context, prompt string) (response string, ok bool, err error)
	// Store records a (prompt, response) pair for future lookups.
	Store(ctx context.Context, prompt, response string) error
	Close() error
}

// Disabled is the permanent-miss cache used when no backend is configured.
type Disabled struct{}

func (Disabled) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }
func (Disabled) Store(context.Context, string, string) error          { return nil }
func (Disabled) Close() error                                         { return nil }
