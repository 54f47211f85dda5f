// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"
	"sync"
	"time"
)

// VerdictRecord is one disposition observed by a SimPacketSource.
type VerdictRecord struct {
	Handle  Handle
	Verdict Verdict
	At      time.Time
}

// SimPacketSource is an in-memory packet queue. It mimics nfqueue semantics:
// every injected packet is held until exactly one verdict is issued for it,
// and a second verdict for the same handle fails with ErrStaleHandle.
type SimPacketSource struct {
	queue     uint16
	direction Direction

	ch     chan PacketEvent
	done   chan struct{}
	closed sync.Once

	mu       sync.Mutex
	nextID   uint32
	held     map[uint32]PacketEvent
	verdicts []VerdictRecord
	notify   chan struct{}
}

// NewSimPacketSource creates a source for the given queue number.
func NewSimPacketSource(queue uint16, dir Direction, capacity int) *SimPacketSource {
	if capacity <= 0 {
		capacity = 64
	}
	return &SimPacketSource{
		queue:     queue,
		direction: dir,
		ch:        make(chan PacketEvent, capacity),
		done:      make(chan struct{}),
		held:      make(map[uint32]PacketEvent),
		notify:    make(chan struct{}, 1),
	}
}

func (s *SimPacketSource) Queue() uint16        { return s.queue }
func (s *SimPacketSource) Direction() Direction { return s.direction }

// Inject queues a packet as the kernel would and returns its handle.
func (s *SimPacketSource) Inject(ev PacketEvent) Handle {
	s.mu.Lock()
	s.nextID++
	ev.Handle = Handle{Queue: s.queue, ID: s.nextID}
	ev.Direction = s.direction
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.held[ev.Handle.ID] = ev
	s.mu.Unlock()

	s.ch <- ev
	return ev.Handle
}

// Next blocks until a packet is available, the source is closed, or ctx ends.
func (s *SimPacketSource) Next(ctx context.Context) (PacketEvent, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		return PacketEvent{}, ErrClosed
	case <-ctx.Done():
		return PacketEvent{}, ctx.Err()
	}
}

// SetVerdict releases a held packet.
func (s *SimPacketSource) SetVerdict(h Handle, v Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Queue != s.queue {
		return ErrStaleHandle
	}
	if _, ok := s.held[h.ID]; !ok {
		return ErrStaleHandle
	}
	delete(s.held, h.ID)
	s.verdicts = append(s.verdicts, VerdictRecord{Handle: h, Verdict: v, At: time.Now()})

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Expire drops a held packet without a verdict, as the kernel does when a
// queued packet times out. A later SetVerdict for it reports ErrStaleHandle.
func (s *SimPacketSource) Expire(h Handle) {
	s.mu.Lock()
	delete(s.held, h.ID)
	s.mu.Unlock()
}

// Verdicts returns a copy of every disposition issued so far.
func (s *SimPacketSource) Verdicts() []VerdictRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VerdictRecord, len(s.verdicts))
	copy(out, s.verdicts)
	return out
}

// Held returns the number of packets still awaiting a verdict.
func (s *SimPacketSource) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// WaitVerdicts blocks until at least n verdicts were issued or ctx ends.
func (s *SimPacketSource) WaitVerdicts(ctx context.Context, n int) ([]VerdictRecord, bool) {
	for {
		if v := s.Verdicts(); len(v) >= n {
			return v, true
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return s.Verdicts(), false
		}
	}
}

// Close unblocks Next.
func (s *SimPacketSource) Close() {
	s.closed.Do(func() { close(s.done) })
}

// SimProbeSource is an in-memory probe ring buffer.
type SimProbeSource struct {
	ch     chan ProbeEvent
	done   chan struct{}
	closed sync.Once
}

// NewSimProbeSource creates a probe source with the given buffer capacity.
func NewSimProbeSource(capacity int) *SimProbeSource {
	if capacity <= 0 {
		capacity = 64
	}
	return &SimProbeSource{
		ch:   make(chan ProbeEvent, capacity),
		done: make(chan struct{}),
	}
}

// Inject emits a probe record.
func (s *SimProbeSource) Inject(ev ProbeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.ch <- ev
}

// Next blocks until a record is available, the source is closed, or ctx ends.
func (s *SimProbeSource) Next(ctx context.Context) (ProbeEvent, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		return ProbeEvent{}, ErrClosed
	case <-ctx.Done():
		return ProbeEvent{}, ctx.Err()
	}
}

// Close unblocks Next.
func (s *SimProbeSource) Close() {
	s.closed.Do(func() { close(s.done) })
}
