// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a config with defaults applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if q := c.Queues; q != nil {
		seen := map[uint16]string{}
		for _, n := range []struct {
			name string
			num  uint16
		}{
			{"queues.outbound_v4", q.OutboundV4},
			{"queues.outbound_v6", q.OutboundV6},
			{"queues.inbound_v4", q.InboundV4},
			{"queues.inbound_v6", q.InboundV6},
		} {
			if prev, ok := seen[n.num]; ok {
				errs.add(n.name, "queue %d already used by %s", n.num, prev)
				continue
			}
			seen[n.num] = n.name
		}
		if q.ChannelSize < 0 {
			errs.add("queues.channel_size", "must not be negative")
		}
	}

	if p := c.Probe; p != nil {
		if p.ObjectPath != "" && !filepath.IsAbs(p.ObjectPath) {
			errs.add("probe.object_path", "must be absolute, got %q", p.ObjectPath)
		}
		for i, a := range p.Attach {
			field := fmt.Sprintf("probe.attach[%d]", i)
			if a.Symbol == "" {
				errs.add(field, "symbol is required")
			}
			if a.Kind != "kprobe" && a.Kind != "kretprobe" {
				errs.add(field, "kind must be kprobe or kretprobe, got %q", a.Kind)
			}
		}
	}

	if p := c.Pending; p != nil {
		checkDuration(&errs, "pending.unassociated_ttl", p.UnassociatedTTL)
		checkDuration(&errs, "pending.undecided_ttl", p.UndecidedTTL)
		checkDuration(&errs, "pending.scan_interval", p.ScanInterval)
		if p.MaxDepth < 1 {
			errs.add("pending.max_depth", "must be positive")
		}
		if p.ExpiredVerdict != "drop" && p.ExpiredVerdict != "accept" {
			errs.add("pending.expired_verdict", "must be drop or accept, got %q", p.ExpiredVerdict)
		}
	}

	if r := c.Rules; r != nil {
		switch r.DefaultAction {
		case "ask", "allow", "deny":
		default:
			errs.add("rules.default_action", "must be ask, allow or deny, got %q", r.DefaultAction)
		}
	}

	if d := c.DNS; d != nil && d.MaxEntries < 0 {
		errs.add("dns.max_entries", "must not be negative")
	}

	if f := c.Firewall; f != nil && f.Table == "" {
		errs.add("firewall.table", "must not be empty")
	}

	if m := c.Metrics; m != nil && m.Listen != "" {
		if _, _, err := net.SplitHostPort(m.Listen); err != nil {
			errs.add("metrics.listen", "invalid address: %v", err)
		}
	}

	if l := c.Logging; l != nil {
		switch strings.ToLower(l.Level) {
		case "", "debug", "info", "warn", "warning", "error":
		default:
			errs.add("logging.level", "unknown level %q", l.Level)
		}
		if s := l.Syslog; s != nil {
			if s.Host == "" {
				errs.add("logging.syslog.host", "is required")
			}
			if s.Protocol != "udp" && s.Protocol != "tcp" {
				errs.add("logging.syslog.protocol", "must be udp or tcp, got %q", s.Protocol)
			}
		}
	}

	return errs
}

func checkDuration(errs *ValidationErrors, field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		errs.add(field, "invalid duration %q", value)
		return
	}
	if d <= 0 {
		errs.add(field, "must be positive")
	}
}
