// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"fmt"
	"net/netip"
	"time"
)

// Tuple is the addressing of a packet as seen on the wire, plus its direction.
type Tuple struct {
	Direction Direction
	Protocol  Protocol
	SrcAddr   netip.Addr
	SrcPort   uint16
	DstAddr   netip.Addr
	DstPort   uint16
}

// Signature returns the direction-independent connection key. For outbound
// packets the source is the local endpoint, for inbound the destination is.
func (t Tuple) Signature() Signature {
	if t.Direction == Inbound {
		return Signature{
			Protocol:   t.Protocol,
			LocalAddr:  t.DstAddr.Unmap(),
			LocalPort:  t.DstPort,
			RemoteAddr: t.SrcAddr.Unmap(),
			RemotePort: t.SrcPort,
		}
	}
	return Signature{
		Protocol:   t.Protocol,
		LocalAddr:  t.SrcAddr.Unmap(),
		LocalPort:  t.SrcPort,
		RemoteAddr: t.DstAddr.Unmap(),
		RemotePort: t.DstPort,
	}
}

// Remote returns the peer endpoint address.
func (t Tuple) Remote() netip.Addr {
	if t.Direction == Inbound {
		return t.SrcAddr
	}
	return t.DstAddr
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s %s %s -> %s", t.Direction, t.Protocol,
		netip.AddrPortFrom(t.SrcAddr, t.SrcPort), netip.AddrPortFrom(t.DstAddr, t.DstPort))
}

// Signature joins packets to the socket that owns them. It is comparable
// and used directly as a map key.
type Signature struct {
	Protocol   Protocol
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
}

// Wildcard keeps only the protocol and local port. Unconnected UDP sockets
// are reported by the probe without a peer and often without a bound
// address, so their packets are matched on the local port alone.
func (s Signature) Wildcard() Signature {
	return Signature{Protocol: s.Protocol, LocalPort: s.LocalPort}
}

// IsWildcard reports whether s carries no addresses.
func (s Signature) IsWildcard() bool {
	return !s.LocalAddr.IsValid() && !s.RemoteAddr.IsValid()
}

func (s Signature) String() string {
	return fmt.Sprintf("%s %s <-> %s", s.Protocol,
		netip.AddrPortFrom(s.LocalAddr, s.LocalPort), netip.AddrPortFrom(s.RemoteAddr, s.RemotePort))
}

// PacketEvent is one intercepted packet awaiting a verdict.
type PacketEvent struct {
	Tuple
	Family    Family
	Handle    Handle
	Timestamp time.Time
	// State is the conntrack state reported with the packet.
	State ConnState
	// Payload is the transport payload, kept for DNS snooping.
	Payload []byte

	// Filled in once the packet is attributed.
	UID uint32
	PID uint32
}

// ConnState is the conntrack view of a queued packet. The zero value means
// the queue did not report one.
type ConnState uint8

const (
	ConnUnknown ConnState = iota
	ConnNew
	ConnEstablished
	ConnRelated
	// ConnReply is an established flow seen in its reply direction.
	ConnReply
)

// Conntrack ctinfo values as carried in NFQA_CT_INFO.
const (
	ctinfoEstablished      = 0
	ctinfoRelated          = 1
	ctinfoNew              = 2
	ctinfoEstablishedReply = 3
	ctinfoRelatedReply     = 4
)

// ConnStateFromCtInfo maps the kernel's ctinfo to a ConnState.
func ConnStateFromCtInfo(ctinfo uint32) ConnState {
	switch ctinfo {
	case ctinfoEstablished:
		return ConnEstablished
	case ctinfoRelated, ctinfoRelatedReply:
		return ConnRelated
	case ctinfoNew:
		return ConnNew
	case ctinfoEstablishedReply:
		return ConnReply
	}
	return ConnUnknown
}

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnEstablished:
		return "established"
	case ConnRelated:
		return "related"
	case ConnReply:
		return "reply"
	}
	return "unknown"
}

// ProbeEvent is one socket lifecycle notification from the eBPF probe.
type ProbeEvent struct {
	Family     Family
	Socket     uint64 // kernel socket pointer, opaque
	Remove     bool
	UID        uint32
	PID        uint32
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
	Timestamp  time.Time
	Protocol   Protocol
}

// Signature returns the key this socket explains packets under. A socket
// without a peer yields the wildcard form.
func (e ProbeEvent) Signature() Signature {
	sig := Signature{
		Protocol:   e.Protocol,
		LocalAddr:  e.LocalAddr.Unmap(),
		LocalPort:  e.LocalPort,
		RemoteAddr: e.RemoteAddr.Unmap(),
		RemotePort: e.RemotePort,
	}
	if e.RemotePort == 0 && (!e.RemoteAddr.IsValid() || e.RemoteAddr.IsUnspecified()) {
		return sig.Wildcard()
	}
	return sig
}
