package store

import (
	"context"
	"sync"
)

// Memory is an in-memory table adapter. Entries are deep-copied at the
// boundary so callers cannot alias stored state.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// LoadAll implements Store.
func (m *Memory) LoadAll(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

// Persist implements Store.
func (m *Memory) Persist(ctx context.Context, upserts []Entry, removals []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range upserts {
		m.entries[e.ID] = cloneEntry(e)
	}
	for _, id := range removals {
		delete(m.entries, id)
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
