// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernel defines the values exchanged between the kernel-facing
// adapters (netfilter queues, eBPF probes) and the correlator, plus in-memory
// sources used for simulation and tests.
package kernel

import (
	"fmt"
	"strconv"
)

// Family is the IP address family of a packet or socket.
type Family uint8

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	}
	return "unknown"
}

// Protocol is an IANA transport protocol number.
type Protocol uint8

const (
	ProtoICMP   Protocol = 1
	ProtoTCP    Protocol = 6
	ProtoUDP    Protocol = 17
	ProtoICMPv6 Protocol = 58
)

func (p Protocol) String() string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMPv6:
		return "icmpv6"
	}
	return strconv.Itoa(int(p))
}

// ParseProtocol accepts a protocol name or number.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "icmp":
		return ProtoICMP, nil
	case "tcp":
		return ProtoTCP, nil
	case "udp":
		return ProtoUDP, nil
	case "icmpv6":
		return ProtoICMPv6, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
	return Protocol(n), nil
}

// Direction tells which way a packet travels relative to this host.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// ParseDirection accepts "inbound" or "outbound".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "outbound":
		return Outbound, nil
	case "inbound":
		return Inbound, nil
	}
	return Outbound, fmt.Errorf("unknown direction %q", s)
}

// Verdict is the disposition handed back to the kernel.
type Verdict uint8

const (
	VerdictDrop Verdict = iota
	VerdictAccept
)

func (v Verdict) String() string {
	if v == VerdictAccept {
		return "accept"
	}
	return "drop"
}

// Handle identifies a queued packet for a later verdict. It is only
// meaningful to the packet source that produced it.
type Handle struct {
	Queue uint16
	ID    uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.Queue, h.ID)
}
