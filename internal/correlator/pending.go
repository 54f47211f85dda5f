// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package correlator

import (
	"sync"
	"time"

	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/process"
)

// pendingPacket is a packet the kernel still holds, waiting for either an
// owner (unassociated) or a decision (undecided).
type pendingPacket struct {
	ev       kernel.PacketEvent
	sig      kernel.Signature
	info     *process.Info
	enqueued time.Time
}

// pendingQueue is a FIFO of held packets.
//
// mu guards the slice and is only held for O(1) swaps and splices. drainMu
// serializes whole drains so an entry taken out for processing is owned by
// exactly one goroutine until it is dispositioned or put back.
type pendingQueue struct {
	name string
	max  int

	drainMu sync.Mutex

	mu    sync.Mutex
	items []*pendingPacket
	// inflight counts entries taken out by a running drain.
	inflight int
	sigs     map[kernel.Signature]int
}

func newPendingQueue(name string, max int) *pendingQueue {
	return &pendingQueue{
		name: name,
		max:  max,
		sigs: make(map[kernel.Signature]int),
	}
}

// push appends p. first reports whether no other entry with the same
// signature was pending. If the queue was full the oldest queued entry is
// returned for disposal. While a drain runs the oldest entries are the ones
// it holds, so the bound is enforced when the drain splices them back.
func (q *pendingQueue) push(p *pendingPacket) (evicted *pendingPacket, first bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.max > 0 && q.inflight == 0 && len(q.items) >= q.max {
		evicted = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.forgetLocked(evicted)
	}

	first = q.sigs[p.sig] == 0
	q.sigs[p.sig]++
	q.items = append(q.items, p)
	return evicted, first
}

// drain hands every queued entry to fn in FIFO order. Entries for which fn
// returns true are kept and go back ahead of anything that arrived during
// the drain. fn runs with no queue lock held. Entries pushed out by the
// depth bound after the splice are returned for disposal.
func (q *pendingQueue) drain(fn func(p *pendingPacket) bool) (overflow []*pendingPacket) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.inflight = len(batch)
	q.mu.Unlock()

	if len(batch) == 0 {
		q.mu.Lock()
		q.inflight = 0
		q.mu.Unlock()
		return nil
	}

	kept := batch[:0]
	var done []*pendingPacket
	for _, p := range batch {
		if fn(p) {
			kept = append(kept, p)
		} else {
			done = append(done, p)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range done {
		q.forgetLocked(p)
	}
	q.inflight = 0
	q.items = append(kept, q.items...)
	if q.max > 0 && len(q.items) > q.max {
		n := len(q.items) - q.max
		overflow = append(overflow, q.items[:n]...)
		q.items = q.items[n:]
		for _, p := range overflow {
			q.forgetLocked(p)
		}
	}
	return overflow
}

// takeAll removes every entry. Used on shutdown.
func (q *pendingQueue) takeAll() []*pendingPacket {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	all := q.items
	q.items = nil
	clear(q.sigs)
	return all
}

func (q *pendingQueue) forgetLocked(p *pendingPacket) {
	if n := q.sigs[p.sig]; n <= 1 {
		delete(q.sigs, p.sig)
	} else {
		q.sigs[p.sig] = n - 1
	}
}

func (q *pendingQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inflight
}

// snapshot copies the queued entries. Entries currently inside a drain are
// not included.
func (q *pendingQueue) snapshot() []pendingPacket {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]pendingPacket, len(q.items))
	for i, p := range q.items {
		out[i] = *p
	}
	return out
}
