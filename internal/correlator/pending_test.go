// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package correlator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/kernel"
)

func pkt(port uint16) *pendingPacket {
	t := curlTuple
	t.SrcPort = port
	return &pendingPacket{ev: kernel.PacketEvent{Tuple: t}, sig: t.Signature()}
}

func ports(ps []*pendingPacket) []uint16 {
	var out []uint16
	for _, p := range ps {
		out = append(out, p.ev.SrcPort)
	}
	return out
}

func TestPendingQueue_PushEvictsOldest(t *testing.T) {
	q := newPendingQueue("test", 2)
	q.push(pkt(1))
	q.push(pkt(2))
	evicted, first := q.push(pkt(3))
	require.NotNil(t, evicted)
	assert.Equal(t, uint16(1), evicted.ev.SrcPort)
	assert.True(t, first)
	assert.Equal(t, 2, q.depth())
}

func TestPendingQueue_OldestEvictedWhenFullDuringDrain(t *testing.T) {
	q := newPendingQueue("test", 3)
	for _, p := range []uint16{1, 2, 3} {
		q.push(pkt(p))
	}

	var pushedEvictions []*pendingPacket
	overflow := q.drain(func(p *pendingPacket) bool {
		if p.ev.SrcPort == 1 {
			for _, late := range []uint16{4, 5} {
				if ev, _ := q.push(pkt(late)); ev != nil {
					pushedEvictions = append(pushedEvictions, ev)
				}
			}
		}
		return true
	})

	assert.Empty(t, pushedEvictions)
	assert.Equal(t, []uint16{1, 2}, ports(overflow))
	assert.Equal(t, 3, q.depth())

	var rest []uint16
	for _, p := range q.snapshot() {
		rest = append(rest, p.ev.SrcPort)
	}
	assert.Equal(t, []uint16{3, 4, 5}, rest)
}

func TestPendingQueue_DrainKeepsFIFO(t *testing.T) {
	q := newPendingQueue("test", 0)
	for _, p := range []uint16{1, 2, 3} {
		q.push(pkt(p))
	}
	overflow := q.drain(func(p *pendingPacket) bool {
		if p.ev.SrcPort == 1 {
			q.push(pkt(4))
		}
		return p.ev.SrcPort != 2
	})
	assert.Empty(t, overflow)

	var rest []uint16
	for _, p := range q.snapshot() {
		rest = append(rest, p.ev.SrcPort)
	}
	assert.Equal(t, []uint16{1, 3, 4}, rest)
}
