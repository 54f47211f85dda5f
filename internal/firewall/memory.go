// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"sync"

	"grimm.is/procwall/internal/errors"
)

// MemoryBackend keeps tables in memory. Fault fields make it fail on demand.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string][]RuleSpec

	// ApplyErr, when set, is returned by Apply after a partial install.
	ApplyErr error
	// DeleteErr, when set, is returned by DeleteTable without removing anything.
	DeleteErr error
	// DropRules removes that many rules after Apply, to fail verification.
	DropRules int

	deletes int
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string][]RuleSpec)}
}

func (m *MemoryBackend) Apply(spec Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := spec.Rules()
	if m.ApplyErr != nil {
		m.tables[spec.Table] = rules[:len(rules)/2]
		return m.ApplyErr
	}
	if m.DropRules > 0 && m.DropRules <= len(rules) {
		rules = rules[:len(rules)-m.DropRules]
	}
	m.tables[spec.Table] = rules
	return nil
}

func (m *MemoryBackend) RuleCounts(table string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, ok := m.tables[table]
	if !ok {
		return nil, errors.Attr(errors.New(errors.KindNotFound, "table not found"), "table", table)
	}
	return ruleCounts(rules), nil
}

func (m *MemoryBackend) DeleteTable(table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.tables, table)
	return nil
}

// Installed reports whether table exists.
func (m *MemoryBackend) Installed(table string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[table]
	return ok
}

// Rules returns the rules of table.
func (m *MemoryBackend) Rules(table string) []RuleSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RuleSpec(nil), m.tables[table]...)
}

// Deletes counts DeleteTable calls.
func (m *MemoryBackend) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}
