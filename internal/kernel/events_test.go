// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature_DirectionNormalized(t *testing.T) {
	local := netip.MustParseAddr("10.0.0.5")
	remote := netip.MustParseAddr("93.184.216.34")

	out := Tuple{Direction: Outbound, Protocol: ProtoTCP, SrcAddr: local, SrcPort: 51000, DstAddr: remote, DstPort: 443}
	in := Tuple{Direction: Inbound, Protocol: ProtoTCP, SrcAddr: remote, SrcPort: 443, DstAddr: local, DstPort: 51000}
	probe := ProbeEvent{Protocol: ProtoTCP, LocalAddr: local, LocalPort: 51000, RemoteAddr: remote, RemotePort: 443}

	assert.Equal(t, out.Signature(), in.Signature())
	assert.Equal(t, out.Signature(), probe.Signature())
	assert.Equal(t, remote, in.Remote())
	assert.Equal(t, remote, out.Remote())
}

func TestSignature_MappedAddressesUnmapped(t *testing.T) {
	mapped := netip.MustParseAddr("::ffff:10.0.0.5")
	plain := netip.MustParseAddr("10.0.0.5")
	remote := netip.MustParseAddr("1.1.1.1")

	a := Tuple{Protocol: ProtoUDP, SrcAddr: mapped, SrcPort: 4000, DstAddr: remote, DstPort: 53}
	b := ProbeEvent{Protocol: ProtoUDP, LocalAddr: plain, LocalPort: 4000, RemoteAddr: remote, RemotePort: 53}

	assert.Equal(t, a.Signature(), b.Signature())
}

func TestProbeSignature_UnconnectedIsWildcard(t *testing.T) {
	ev := ProbeEvent{
		Protocol:   ProtoUDP,
		LocalAddr:  netip.IPv4Unspecified(),
		LocalPort:  5353,
		RemoteAddr: netip.IPv4Unspecified(),
	}
	sig := ev.Signature()
	assert.True(t, sig.IsWildcard())

	pkt := Tuple{
		Protocol: ProtoUDP,
		SrcAddr:  netip.MustParseAddr("192.168.1.2"), SrcPort: 5353,
		DstAddr: netip.MustParseAddr("224.0.0.251"), DstPort: 5353,
	}
	assert.Equal(t, sig, pkt.Signature().Wildcard())
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("tcp")
	require.NoError(t, err)
	assert.Equal(t, ProtoTCP, p)

	p, err = ParseProtocol("132")
	require.NoError(t, err)
	assert.Equal(t, Protocol(132), p)
	assert.Equal(t, "132", p.String())

	_, err = ParseProtocol("quic")
	assert.Error(t, err)
}

func TestSimPacketSource_SingleVerdict(t *testing.T) {
	src := NewSimPacketSource(3, Inbound, 4)
	h := src.Inject(PacketEvent{Tuple: Tuple{Protocol: ProtoTCP}})

	ev, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h, ev.Handle)
	assert.Equal(t, Inbound, ev.Direction)
	assert.Equal(t, 1, src.Held())

	require.NoError(t, src.SetVerdict(h, VerdictAccept))
	assert.ErrorIs(t, src.SetVerdict(h, VerdictDrop), ErrStaleHandle)
	assert.Equal(t, 0, src.Held())
	assert.Len(t, src.Verdicts(), 1)
}

func TestSimPacketSource_ExpireMakesHandleStale(t *testing.T) {
	src := NewSimPacketSource(0, Outbound, 4)
	h := src.Inject(PacketEvent{})
	src.Expire(h)

	assert.ErrorIs(t, src.SetVerdict(h, VerdictAccept), ErrStaleHandle)
}

func TestSimSources_CloseAndCancel(t *testing.T) {
	src := NewSimPacketSource(0, Outbound, 1)
	src.Close()
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	probes := NewSimProbeSource(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = probes.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnStateFromCtInfo(t *testing.T) {
	cases := map[uint32]ConnState{
		0:  ConnEstablished,
		1:  ConnRelated,
		2:  ConnNew,
		3:  ConnReply,
		4:  ConnRelated,
		99: ConnUnknown,
	}
	for ctinfo, want := range cases {
		assert.Equal(t, want, ConnStateFromCtInfo(ctinfo), "ctinfo %d", ctinfo)
	}
	assert.Equal(t, "reply", ConnReply.String())
	assert.Equal(t, "unknown", PacketEvent{}.State.String())
}
