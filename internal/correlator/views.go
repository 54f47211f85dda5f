// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package correlator

import (
	"net/netip"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"grimm.is/procwall/internal/metrics"
	"grimm.is/procwall/internal/process"
)

// Prompt asks the operator to decide a connection.
type Prompt struct {
	ID        string        `json:"id"`
	Time      time.Time     `json:"time"`
	Direction string        `json:"direction"`
	Protocol  string        `json:"protocol"`
	Local     string        `json:"local"`
	Remote    string        `json:"remote"`
	Domain    string        `json:"domain,omitempty"`
	Process   *process.Info `json:"process"`
}

// ConnectionView is one entry of the connection map.
type ConnectionView struct {
	Protocol string        `json:"protocol"`
	Local    string        `json:"local"`
	Remote   string        `json:"remote,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Process  *process.Info `json:"process"`
	Since    time.Time     `json:"since"`
}

// PendingView is one held packet.
type PendingView struct {
	Queue     string        `json:"queue"`
	Handle    string        `json:"handle"`
	Direction string        `json:"direction"`
	Protocol  string        `json:"protocol"`
	Source    string        `json:"source"`
	Dest      string        `json:"destination"`
	Domain    string        `json:"domain,omitempty"`
	Process   *process.Info `json:"process,omitempty"`
	Enqueued  time.Time     `json:"enqueued"`
}

// Depths are the current pending queue sizes.
type Depths struct {
	Unassociated int `json:"unassociated"`
	Undecided    int `json:"undecided"`
}

func (c *Correlator) prompt(p *pendingPacket) Prompt {
	t := p.ev.Tuple
	return Prompt{
		ID:        uuid.NewString(),
		Time:      p.enqueued,
		Direction: t.Direction.String(),
		Protocol:  t.Protocol.String(),
		Local:     endpoint(p.sig.LocalAddr, p.sig.LocalPort),
		Remote:    endpoint(p.sig.RemoteAddr, p.sig.RemotePort),
		Domain:    c.domain(t.Remote()),
		Process:   p.info,
	}
}

// Connections returns the connection map sorted by local endpoint.
func (c *Correlator) Connections() []ConnectionView {
	snap := c.conns.snapshot()
	out := make([]ConnectionView, 0, len(snap))
	for _, s := range snap {
		v := ConnectionView{
			Protocol: s.sig.Protocol.String(),
			Local:    endpoint(s.sig.LocalAddr, s.sig.LocalPort),
			Process:  s.info,
			Since:    s.since,
		}
		if !s.sig.IsWildcard() && s.sig.RemoteAddr.IsValid() {
			v.Remote = endpoint(s.sig.RemoteAddr, s.sig.RemotePort)
			v.Domain = c.domain(s.sig.RemoteAddr)
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Local != out[j].Local {
			return out[i].Local < out[j].Local
		}
		return out[i].Remote < out[j].Remote
	})
	return out
}

// PendingDepths returns the current queue sizes.
func (c *Correlator) PendingDepths() Depths {
	return Depths{
		Unassociated: c.unassociated.depth(),
		Undecided:    c.undecided.depth(),
	}
}

// Pending lists held packets, unassociated first, each queue in FIFO order.
func (c *Correlator) Pending() []PendingView {
	var out []PendingView
	for _, q := range []*pendingQueue{c.unassociated, c.undecided} {
		for _, p := range q.snapshot() {
			t := p.ev.Tuple
			out = append(out, PendingView{
				Queue:     q.name,
				Handle:    p.ev.Handle.String(),
				Direction: t.Direction.String(),
				Protocol:  t.Protocol.String(),
				Source:    endpoint(t.SrcAddr, t.SrcPort),
				Dest:      endpoint(t.DstAddr, t.DstPort),
				Domain:    c.domain(t.Remote()),
				Process:   p.info,
				Enqueued:  p.enqueued,
			})
		}
	}
	return out
}

// Started returns when Run began, or the zero time.
func (c *Correlator) Started() time.Time {
	ns := c.started.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Correlator) UnassociatedDepth() int { return c.unassociated.depth() }
func (c *Correlator) UndecidedDepth() int    { return c.undecided.depth() }
func (c *Correlator) ConnectionCount() int   { return c.conns.len() }

var _ metrics.Sizes = (*Correlator)(nil)

func endpoint(addr netip.Addr, port uint16) string {
	if !addr.IsValid() {
		return "*:" + strconv.Itoa(int(port))
	}
	return netip.AddrPortFrom(addr, port).String()
}
