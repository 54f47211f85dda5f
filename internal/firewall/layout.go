// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import "grimm.is/procwall/internal/kernel"

// Chain names inside the guard's table.
const (
	ChainOutput = "output"
	ChainInput  = "input"
)

// Queues holds the four netfilter queue numbers.
type Queues struct {
	OutboundV4 uint16
	OutboundV6 uint16
	InboundV4  uint16
	InboundV6  uint16
}

// Spec describes the redirection table to install.
type Spec struct {
	Table        string
	Queues       Queues
	SkipLoopback bool
	// SnoopDNS also queues inbound UDP from port 53 so responses on
	// established flows reach the snooper.
	SnoopDNS bool
}

// RuleKind identifies the shape of a generated rule.
type RuleKind int

const (
	// RuleLoopback accepts traffic on the loopback interface.
	RuleLoopback RuleKind = iota
	// RuleQueueNew queues packets in ct state new or related.
	RuleQueueNew
	// RuleQueueDNS queues UDP packets with source port 53 on established
	// flows.
	RuleQueueDNS
)

func (k RuleKind) String() string {
	switch k {
	case RuleLoopback:
		return "loopback"
	case RuleQueueNew:
		return "queue-new"
	case RuleQueueDNS:
		return "queue-dns"
	}
	return "unknown"
}

// RuleSpec is one rule in backend-neutral form.
type RuleSpec struct {
	Chain  string
	Kind   RuleKind
	Family kernel.Family // zero for RuleLoopback
	Queue  uint16
}

// Rules returns the ordered rules for spec. Loopback rules come first so
// local traffic never reaches a queue.
func (s Spec) Rules() []RuleSpec {
	var out []RuleSpec
	if s.SkipLoopback {
		out = append(out,
			RuleSpec{Chain: ChainOutput, Kind: RuleLoopback},
			RuleSpec{Chain: ChainInput, Kind: RuleLoopback},
		)
	}
	out = append(out,
		RuleSpec{Chain: ChainOutput, Kind: RuleQueueNew, Family: kernel.FamilyIPv4, Queue: s.Queues.OutboundV4},
		RuleSpec{Chain: ChainOutput, Kind: RuleQueueNew, Family: kernel.FamilyIPv6, Queue: s.Queues.OutboundV6},
	)
	if s.SnoopDNS {
		out = append(out,
			RuleSpec{Chain: ChainInput, Kind: RuleQueueDNS, Family: kernel.FamilyIPv4, Queue: s.Queues.InboundV4},
			RuleSpec{Chain: ChainInput, Kind: RuleQueueDNS, Family: kernel.FamilyIPv6, Queue: s.Queues.InboundV6},
		)
	}
	out = append(out,
		RuleSpec{Chain: ChainInput, Kind: RuleQueueNew, Family: kernel.FamilyIPv4, Queue: s.Queues.InboundV4},
		RuleSpec{Chain: ChainInput, Kind: RuleQueueNew, Family: kernel.FamilyIPv6, Queue: s.Queues.InboundV6},
	)
	return out
}

// ruleCounts tallies rules per chain.
func ruleCounts(rules []RuleSpec) map[string]int {
	counts := map[string]int{ChainOutput: 0, ChainInput: 0}
	for _, r := range rules {
		counts[r.Chain]++
	}
	return counts
}
