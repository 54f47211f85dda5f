// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"fmt"
	"net/netip"
	"path"
	"strconv"
	"strings"

	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/process"
)

// predicate tests one clause against a connection.
type predicate func(info *process.Info, t kernel.Tuple) bool

// compile parses a clause into its predicate.
func compile(c Clause) (predicate, error) {
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return nil, fmt.Errorf("%s: empty value", c.Field)
	}

	switch c.Field {
	case FieldExecutable:
		if _, err := path.Match(v, ""); err != nil {
			return nil, fmt.Errorf("%s: bad pattern %q", c.Field, v)
		}
		return func(info *process.Info, _ kernel.Tuple) bool {
			return info != nil && MatchExecutable(v, info.Executable)
		}, nil

	case FieldUserID:
		if uid, err := strconv.ParseUint(v, 10, 32); err == nil {
			return func(info *process.Info, _ kernel.Tuple) bool {
				return info != nil && info.UID == uint32(uid)
			}, nil
		}
		return func(info *process.Info, _ kernel.Tuple) bool {
			return info != nil && info.User == v
		}, nil

	case FieldDirection:
		dir, err := kernel.ParseDirection(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Field, err)
		}
		return func(_ *process.Info, t kernel.Tuple) bool { return t.Direction == dir }, nil

	case FieldProtocol:
		proto, err := kernel.ParseProtocol(strings.ToLower(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Field, err)
		}
		return func(_ *process.Info, t kernel.Tuple) bool { return MatchProtocol(proto, t.Protocol) }, nil

	case FieldSourceAddress, FieldDestinationAddress:
		prefix, err := ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Field, err)
		}
		if c.Field == FieldSourceAddress {
			return func(_ *process.Info, t kernel.Tuple) bool { return MatchIP(prefix, t.SrcAddr) }, nil
		}
		return func(_ *process.Info, t kernel.Tuple) bool { return MatchIP(prefix, t.DstAddr) }, nil

	case FieldSourcePort, FieldDestinationPort:
		ranges, err := ParsePorts(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Field, err)
		}
		if c.Field == FieldSourcePort {
			return func(_ *process.Info, t kernel.Tuple) bool { return MatchPort(ranges, t.SrcPort) }, nil
		}
		return func(_ *process.Info, t kernel.Tuple) bool { return MatchPort(ranges, t.DstPort) }, nil
	}

	return nil, fmt.Errorf("unknown field %q", c.Field)
}

// MatchExecutable compares an executable path against an exact path or a
// glob pattern.
func MatchExecutable(pattern, exe string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == exe
	}
	ok, _ := path.Match(pattern, exe)
	return ok
}

// MatchProtocol checks if protocols match.
func MatchProtocol(rule, pkt kernel.Protocol) bool {
	return rule == pkt
}

// ParsePrefix accepts a single address or a CIDR.
func ParsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// MatchIP checks if an address belongs to a prefix.
func MatchIP(prefix netip.Prefix, addr netip.Addr) bool {
	return addr.IsValid() && prefix.Contains(addr.Unmap())
}

// PortRange is an inclusive port interval.
type PortRange struct{ Lo, Hi uint16 }

// ParsePorts accepts "443", "8000-8100", or a comma separated mix.
func ParsePorts(s string) ([]PortRange, error) {
	var out []PortRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		l, err := strconv.ParseUint(lo, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad port %q", part)
		}
		h := l
		if isRange {
			if h, err = strconv.ParseUint(hi, 10, 16); err != nil || h < l {
				return nil, fmt.Errorf("bad port range %q", part)
			}
		}
		out = append(out, PortRange{Lo: uint16(l), Hi: uint16(h)})
	}
	return out, nil
}

// MatchPort checks if a port falls in any of the ranges.
func MatchPort(ranges []PortRange, port uint16) bool {
	for _, r := range ranges {
		if port >= r.Lo && port <= r.Hi {
			return true
		}
	}
	return false
}
