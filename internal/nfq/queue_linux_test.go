// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package nfq

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/florianl/go-nfqueue/v2"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
)

type recordedVerdict struct {
	id      uint32
	verdict int
}

type fakeVerdicter struct {
	mu       sync.Mutex
	verdicts []recordedVerdict
	err      error
}

func (f *fakeVerdicter) SetVerdict(id uint32, verdict int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, recordedVerdict{id, verdict})
	return f.err
}

func testQueue(nf verdicter, buffer int) *Queue {
	cfg := Config{Queue: 2, Family: kernel.FamilyIPv4, Direction: kernel.Inbound}
	cfg.setDefaults()
	return &Queue{
		cfg:     cfg,
		nf:      nf,
		decoder: NewDecoder(kernel.FamilyIPv4),
		logger:  logging.WithComponent("nfq"),
		ch:      make(chan kernel.PacketEvent, buffer),
		done:    make(chan struct{}),
	}
}

func dnsReplyPayload(t *testing.T) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("1.1.1.1").To4(), DstIP: net.ParseIP("10.0.0.5").To4(),
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 41000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, udp, gopacket.Payload([]byte{0x12, 0x34}))
}

func TestHook_CarriesConntrackState(t *testing.T) {
	q := testQueue(&fakeVerdicter{}, 1)
	id, ctinfo := uint32(7), uint32(3)
	payload := dnsReplyPayload(t)

	q.hook(context.Background())(nfqueue.Attribute{PacketID: &id, Payload: &payload, CtInfo: &ctinfo})

	ev, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kernel.ConnReply, ev.State)
	assert.Equal(t, kernel.Handle{Queue: 2, ID: 7}, ev.Handle)
	assert.Equal(t, kernel.Inbound, ev.Direction)
}

func TestHook_DropsWhenStoppedAndToleratesVerdictError(t *testing.T) {
	nf := &fakeVerdicter{err: errors.New(errors.KindStale, "netlink gone")}
	q := testQueue(nf, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id := uint32(9)
	payload := dnsReplyPayload(t)
	assert.NotPanics(t, func() {
		q.hook(ctx)(nfqueue.Attribute{PacketID: &id, Payload: &payload})
	})
	assert.Equal(t, []recordedVerdict{{9, nfqueue.NfDrop}}, nf.verdicts)
}

func TestHook_AcceptsUndecodable(t *testing.T) {
	nf := &fakeVerdicter{}
	q := testQueue(nf, 1)
	id := uint32(3)
	payload := []byte{0xde, 0xad}

	q.hook(context.Background())(nfqueue.Attribute{PacketID: &id, Payload: &payload})
	assert.Equal(t, []recordedVerdict{{3, nfqueue.NfAccept}}, nf.verdicts)
}
