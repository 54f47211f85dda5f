// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/kernel"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func TestDecode_TCPv4(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP("10.0.0.5").To4(), DstIP: net.ParseIP("93.184.216.34").To4(),
	}
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 443, SYN: true, Window: 64240}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	var ev kernel.PacketEvent
	require.NoError(t, NewDecoder(kernel.FamilyIPv4).Decode(serialize(t, ip, tcp), &ev))

	assert.Equal(t, kernel.FamilyIPv4, ev.Family)
	assert.Equal(t, kernel.ProtoTCP, ev.Protocol)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), ev.SrcAddr)
	assert.Equal(t, netip.MustParseAddr("93.184.216.34"), ev.DstAddr)
	assert.Equal(t, uint16(51000), ev.SrcPort)
	assert.Equal(t, uint16(443), ev.DstPort)
	assert.Nil(t, ev.Payload)
}

func TestDecode_UDPv6KeepsPayload(t *testing.T) {
	ip := &layers.IPv6{
		Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::53"), DstIP: net.ParseIP("2001:db8::5"),
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 40000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	payload := []byte{0x12, 0x34, 0x81, 0x80, 0, 0, 0, 0, 0, 0, 0, 0}

	dec := NewDecoder(kernel.FamilyIPv6)
	raw := serialize(t, ip, udp, gopacket.Payload(payload))

	var ev kernel.PacketEvent
	require.NoError(t, dec.Decode(raw, &ev))
	assert.Equal(t, kernel.FamilyIPv6, ev.Family)
	assert.Equal(t, kernel.ProtoUDP, ev.Protocol)
	assert.Equal(t, uint16(53), ev.SrcPort)
	assert.Equal(t, payload, ev.Payload)

	// The payload must not alias the input buffer.
	for i := range raw {
		raw[i] = 0
	}
	assert.Equal(t, payload, ev.Payload)
}

func TestDecode_ICMP(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.ParseIP("10.0.0.5").To4(), DstIP: net.ParseIP("1.1.1.1").To4(),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}

	var ev kernel.PacketEvent
	require.NoError(t, NewDecoder(kernel.FamilyIPv4).Decode(serialize(t, ip, icmp), &ev))
	assert.Equal(t, kernel.ProtoICMP, ev.Protocol)
	assert.Zero(t, ev.SrcPort)
}

func TestDecode_Garbage(t *testing.T) {
	var ev kernel.PacketEvent
	assert.Error(t, NewDecoder(kernel.FamilyIPv4).Decode([]byte{0x45, 0x00}, &ev))
	assert.Error(t, NewDecoder(kernel.FamilyIPv4).Decode(nil, &ev))
}
