// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dns snoops DNS responses to annotate addresses with the names
// that resolved to them.
package dns

import (
	"net/netip"
	"sync"
)

// ReverseTable maps resolved addresses back to the domain that produced
// them. The most recent answer for an address wins. When full, the address
// inserted earliest is evicted.
type ReverseTable struct {
	max int

	mu     sync.RWMutex
	v4     map[[4]byte]string
	v6     map[[16]byte]string
	order4 [][4]byte
	order6 [][16]byte
}

// NewReverseTable creates a table holding at most max addresses per family.
// max <= 0 means unbounded.
func NewReverseTable(max int) *ReverseTable {
	return &ReverseTable{
		max: max,
		v4:  make(map[[4]byte]string),
		v6:  make(map[[16]byte]string),
	}
}

// Add records that addr resolved from domain.
func (t *ReverseTable) Add(addr netip.Addr, domain string) {
	addr = addr.Unmap()
	t.mu.Lock()
	defer t.mu.Unlock()

	if addr.Is4() {
		k := addr.As4()
		if _, ok := t.v4[k]; !ok {
			if t.max > 0 && len(t.v4) >= t.max {
				delete(t.v4, t.order4[0])
				t.order4 = t.order4[1:]
			}
			t.order4 = append(t.order4, k)
		}
		t.v4[k] = domain
		return
	}

	k := addr.As16()
	if _, ok := t.v6[k]; !ok {
		if t.max > 0 && len(t.v6) >= t.max {
			delete(t.v6, t.order6[0])
			t.order6 = t.order6[1:]
		}
		t.order6 = append(t.order6, k)
	}
	t.v6[k] = domain
}

// Lookup returns the domain addr was last resolved from.
func (t *ReverseTable) Lookup(addr netip.Addr) (string, bool) {
	if !addr.IsValid() {
		return "", false
	}
	addr = addr.Unmap()
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		d  string
		ok bool
	)
	if addr.Is4() {
		d, ok = t.v4[addr.As4()]
	} else {
		d, ok = t.v6[addr.As16()]
	}
	return d, ok
}

// Len returns the number of IPv4 and IPv6 entries.
func (t *ReverseTable) Len() (v4, v6 int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.v4), len(t.v6)
}
