// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package firewall

import (
	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
)

// NFTablesBackend programs the kernel through nf_tables netlink.
type NFTablesBackend struct {
	conn *nftables.Conn
}

// NewNFTablesBackend opens a netlink connection.
func NewNFTablesBackend() (*NFTablesBackend, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open nftables connection")
	}
	return &NFTablesBackend{conn: conn}, nil
}

func (b *NFTablesBackend) Apply(spec Spec) error {
	table := b.conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyINet,
		Name:   spec.Table,
	})

	accept := nftables.ChainPolicyAccept
	chains := map[string]*nftables.Chain{
		ChainOutput: b.conn.AddChain(&nftables.Chain{
			Name:     ChainOutput,
			Table:    table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookOutput,
			Priority: nftables.ChainPriorityMangle,
			Policy:   &accept,
		}),
		ChainInput: b.conn.AddChain(&nftables.Chain{
			Name:     ChainInput,
			Table:    table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookInput,
			Priority: nftables.ChainPriorityMangle,
			Policy:   &accept,
		}),
	}

	for _, r := range spec.Rules() {
		b.conn.AddRule(&nftables.Rule{
			Table: table,
			Chain: chains[r.Chain],
			Exprs: ruleExprs(r),
		})
	}

	return b.conn.Flush()
}

func (b *NFTablesBackend) RuleCounts(table string) (map[string]int, error) {
	chains, err := b.conn.ListChainsOfTableFamily(nftables.TableFamilyINet)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	found := false
	for _, c := range chains {
		if c.Table == nil || c.Table.Name != table {
			continue
		}
		found = true
		rules, err := b.conn.GetRules(c.Table, c)
		if err != nil {
			return nil, errors.Attr(err, "chain", c.Name)
		}
		counts[c.Name] = len(rules)
	}
	if !found {
		return nil, errors.Attr(errors.New(errors.KindNotFound, "table not found"), "table", table)
	}
	return counts, nil
}

func (b *NFTablesBackend) DeleteTable(table string) error {
	tables, err := b.conn.ListTablesOfFamily(nftables.TableFamilyINet)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t.Name == table {
			b.conn.DelTable(t)
			return b.conn.Flush()
		}
	}
	return nil
}

func ruleExprs(r RuleSpec) []expr.Any {
	var exprs []expr.Any

	if r.Kind == RuleLoopback {
		key := expr.MetaKeyOIFNAME
		if r.Chain == ChainInput {
			key = expr.MetaKeyIIFNAME
		}
		return []expr.Any{
			&expr.Meta{Key: key, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname("lo")},
			&expr.Verdict{Kind: expr.VerdictAccept},
		}
	}

	// meta nfproto
	proto := byte(unix.NFPROTO_IPV4)
	if r.Family == kernel.FamilyIPv6 {
		proto = unix.NFPROTO_IPV6
	}
	exprs = append(exprs,
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
	)

	switch r.Kind {
	case RuleQueueDNS:
		// udp sport 53 ct state established
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_UDP}},
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 0, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(53)},
		)
		exprs = append(exprs, ctState(expr.CtStateBitESTABLISHED)...)
	case RuleQueueNew:
		// ct state new,related
		exprs = append(exprs, ctState(expr.CtStateBitNEW|expr.CtStateBitRELATED)...)
	}

	// No bypass flag: with the daemon gone, queued traffic is dropped.
	return append(exprs, &expr.Queue{Num: r.Queue})
}

// ctState matches packets whose conntrack state has any bit of mask set.
func ctState(mask uint32) []expr.Any {
	return []expr.Any{
		&expr.Ct{Register: 1, Key: expr.CtKeySTATE},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           binaryutil.NativeEndian.PutUint32(mask),
			Xor:            binaryutil.NativeEndian.PutUint32(0),
		},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: binaryutil.NativeEndian.PutUint32(0)},
	}
}

// ifname pads an interface name to IFNAMSIZ.
func ifname(n string) []byte {
	b := make([]byte, unix.IFNAMSIZ)
	copy(b, n)
	return b
}
