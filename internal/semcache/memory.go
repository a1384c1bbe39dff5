package semcache

import (
	"context"
	"sync"
)

// Memory is an in-process cache with the same matching semantics as the
// Redis implementation. Used in tests and single-node dev setups.
type Memory struct {
	mu      sync.RWMutex
	entries []memEntry
	limit   int
}

type memEntry struct {
	prompt   string
	response string
	vector   []float32
}

// NewMemory returns a Memory cache holding at most limit entries
// (0 means the default bound).
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = maxEntries
	}
	return &Memory{limit: limit}
}

// Lookup scans entries newest-first for a fingerprint match.
func (m *Memory) Lookup(_ context.Context, prompt string) (string, bool, error) {
	query := Embed(prompt)

	m.mu.RLock()
	defer m.mu.RUnlock()

	bestSim := 0.0
	bestResponse := ""
	for i := len(m.entries) - 1; i >= 0; i-- {
		if sim := Cosine(query, m.entries[i].vector); sim > bestSim {
			bestSim = sim
			bestResponse = m.entries[i].response
		}
	}
	if bestSim >= SimilarityThreshold {
		return bestResponse, true, nil
	}
	return "", false, nil
}

// Store appends an entry, replacing any existing entry with the same
// prompt and evicting the oldest entry at the bound.
func (m *Memory) Store(_ context.Context, prompt, response string) error {
	entry := memEntry{prompt: prompt, response: response, vector: Embed(prompt)}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].prompt == prompt {
			m.entries[i] = entry
			return nil
		}
	}
	m.entries = append(m.entries, entry)
	if len(m.entries) > m.limit {
		m.entries = m.entries[1:]
	}
	return nil
}

func (m *Memory) Close() error { return nil }
