// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
)

// Port is the DNS server port whose responses are inspected.
const Port = 53

// Snooper feeds DNS answers seen on the wire into a ReverseTable.
type Snooper struct {
	table  *ReverseTable
	logger *logging.Logger
}

// NewSnooper creates a snooper writing to table.
func NewSnooper(table *ReverseTable, logger *logging.Logger) *Snooper {
	if logger == nil {
		logger = logging.WithComponent("dns")
	}
	return &Snooper{table: table, logger: logger}
}

// Table returns the table the snooper writes to.
func (s *Snooper) Table() *ReverseTable {
	return s.table
}

// IsCandidate reports whether ev could carry a DNS response.
func IsCandidate(ev kernel.PacketEvent) bool {
	return ev.Direction == kernel.Inbound &&
		ev.Protocol == kernel.ProtoUDP &&
		ev.SrcPort == Port &&
		len(ev.Payload) > 0
}

// Observe inspects a packet. It returns whether the payload was a DNS
// response and how many address records were stored. Anything that does
// not parse is ignored.
func (s *Snooper) Observe(ev kernel.PacketEvent) (response bool, stored int) {
	if !IsCandidate(ev) {
		return false, 0
	}

	var msg dns.Msg
	if err := msg.Unpack(ev.Payload); err != nil {
		s.logger.Debug("ignoring malformed dns payload", "src", ev.SrcAddr, "error", err)
		return false, 0
	}
	if !msg.Response {
		return false, 0
	}

	question := ""
	if len(msg.Question) > 0 {
		question = normalize(msg.Question[0].Name)
	}

	for _, rr := range msg.Answer {
		var addr netip.Addr
		switch v := rr.(type) {
		case *dns.A:
			addr, _ = netip.AddrFromSlice(v.A.To4())
		case *dns.AAAA:
			addr, _ = netip.AddrFromSlice(v.AAAA.To16())
		default:
			continue
		}
		if !addr.IsValid() {
			continue
		}

		name := question
		if name == "" {
			name = normalize(rr.Header().Name)
		}
		s.table.Add(addr, name)
		stored++
	}

	if stored > 0 {
		s.logger.Debug("dns answers recorded", "domain", question, "count", stored)
	}
	return true, stored
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
