// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package correlator

import (
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/process"
)

// connEntry binds one open socket to its owning process. The snapshot is
// swapped atomically so readers that loaded the old pointer keep a valid,
// unchanged value.
type connEntry struct {
	info   atomic.Pointer[process.Info]
	socket uint64
	since  time.Time
}

// connMap is the set of sockets believed open, keyed by signature.
type connMap struct {
	mu sync.Mutex
	m  map[kernel.Signature]*connEntry
}

func newConnMap() *connMap {
	return &connMap{m: make(map[kernel.Signature]*connEntry)}
}

// lookup returns the process bound to sig, or nil.
func (c *connMap) lookup(sig kernel.Signature) *process.Info {
	c.mu.Lock()
	e := c.m[sig]
	c.mu.Unlock()
	if e == nil {
		return nil
	}
	return e.info.Load()
}

// upsert binds sig to info, replacing the snapshot of an existing entry.
func (c *connMap) upsert(sig kernel.Signature, info *process.Info, socket uint64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[sig]; ok {
		e.info.Store(info)
		e.socket = socket
		return
	}
	e := &connEntry{socket: socket, since: now}
	e.info.Store(info)
	c.m[sig] = e
}

// remove evicts sig and reports whether it was present.
func (c *connMap) remove(sig kernel.Signature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[sig]; !ok {
		return false
	}
	delete(c.m, sig)
	return true
}

func (c *connMap) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

type connSnapshot struct {
	sig   kernel.Signature
	info  *process.Info
	since time.Time
}

func (c *connMap) snapshot() []connSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]connSnapshot, 0, len(c.m))
	for sig, e := range c.m {
		out = append(out, connSnapshot{sig: sig, info: e.info.Load(), since: e.since})
	}
	return out
}
