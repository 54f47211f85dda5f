// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"sync"
)

// MemoryStore keeps rules in a map. Used in tests and when no database
// path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	rules map[string]Rule
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]Rule)}
}

func (m *MemoryStore) LoadRules(context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) SaveRule(_ context.Context, r Rule) error {
	m.mu.Lock()
	m.rules[r.ID] = r
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.rules, id)
	m.mu.Unlock()
	return nil
}
