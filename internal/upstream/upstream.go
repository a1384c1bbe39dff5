// Package upstream implements the adapter registry for LLM upstream
// protocols. Each adapter speaks one wire protocol (OpenAI-compatible,
// Anthropic messages, Gemini generateContent, Ollama) and normalizes
// responses to the OpenAI chat completion shape.
package upstream

import (
	"fmt"
	"slices"
	"sync"

	gateway "github.com/himmiroute/himmi/internal"
)

// Registry maps canonical provider names to gateway.Upstream adapters.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]gateway.Upstream
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]gateway.Upstream)}
}

// Register adds an adapter under the given canonical name.
// It overwrites any previously registered adapter with the same name.
func (r *Registry) Register(name string, u gateway.Upstream) {
	r.mu.Lock()
	r.adapters[name] = u
	r.mu.Unlock()
}

// Get returns the adapter registered under name, or an error if not found.
func (r *Registry) Get(name string) (gateway.Upstream, error) {
	r.mu.RLock()
	u, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("upstream %q not registered", name)
	}
	return u, nil
}

// List returns a sorted slice of all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.adapters {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
