// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nfq reads packets from netfilter queues and writes verdicts back.
package nfq

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/procwall/internal/kernel"
)

// Decoder turns raw queued packets into events. It reuses its layer
// buffers and is not safe for concurrent use; each queue owns one.
type Decoder struct {
	family  kernel.Family
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP
	icmp4 layers.ICMPv4
	icmp6 layers.ICMPv6
}

// NewDecoder creates a decoder for packets of the given family.
func NewDecoder(family kernel.Family) *Decoder {
	d := &Decoder{family: family, decoded: make([]gopacket.LayerType, 0, 4)}
	first := layers.LayerTypeIPv4
	if family == kernel.FamilyIPv6 {
		first = layers.LayerTypeIPv6
	}
	d.parser = gopacket.NewDecodingLayerParser(first, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp4, &d.icmp6)
	// Application layers and extension headers stop the walk without
	// failing it.
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode fills ev's addressing, family, and UDP payload from a raw IP
// packet. Direction and handle are left to the caller. Packets whose
// transport header is not reachable (fragments, unknown extension headers)
// decode with zero ports.
func (d *Decoder) Decode(data []byte, ev *kernel.PacketEvent) error {
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return fmt.Errorf("decode packet: %w", err)
	}
	if len(d.decoded) == 0 {
		return fmt.Errorf("decode packet: no layers")
	}

	switch d.decoded[0] {
	case layers.LayerTypeIPv4:
		ev.Family = kernel.FamilyIPv4
		ev.SrcAddr = addrFrom(d.ip4.SrcIP)
		ev.DstAddr = addrFrom(d.ip4.DstIP)
		ev.Protocol = kernel.Protocol(d.ip4.Protocol)
	case layers.LayerTypeIPv6:
		ev.Family = kernel.FamilyIPv6
		ev.SrcAddr = addrFrom(d.ip6.SrcIP)
		ev.DstAddr = addrFrom(d.ip6.DstIP)
		ev.Protocol = kernel.Protocol(d.ip6.NextHeader)
	default:
		return fmt.Errorf("decode packet: unexpected first layer %s", d.decoded[0])
	}
	if !ev.SrcAddr.IsValid() || !ev.DstAddr.IsValid() {
		return fmt.Errorf("decode packet: bad address")
	}

	ev.SrcPort, ev.DstPort, ev.Payload = 0, 0, nil
	for _, lt := range d.decoded[1:] {
		switch lt {
		case layers.LayerTypeTCP:
			ev.Protocol = kernel.ProtoTCP
			ev.SrcPort = uint16(d.tcp.SrcPort)
			ev.DstPort = uint16(d.tcp.DstPort)
		case layers.LayerTypeUDP:
			ev.Protocol = kernel.ProtoUDP
			ev.SrcPort = uint16(d.udp.SrcPort)
			ev.DstPort = uint16(d.udp.DstPort)
			// The netlink buffer is reused after the hook returns.
			ev.Payload = append([]byte(nil), d.udp.LayerPayload()...)
		case layers.LayerTypeICMPv4:
			ev.Protocol = kernel.ProtoICMP
		case layers.LayerTypeICMPv6:
			ev.Protocol = kernel.ProtoICMPv6
		}
	}
	return nil
}

func addrFrom(ip []byte) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}
