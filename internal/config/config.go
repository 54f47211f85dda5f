// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config holds the daemon configuration and its HCL loader.
package config

import "time"

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Config is the top-level daemon configuration. Every block is optional;
// missing blocks and attributes fall back to the values in Default.
type Config struct {
	// Schema version for backward compatibility.
	// @default: "1.0"
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	Queues   *QueuesConfig   `hcl:"queues,block" json:"queues,omitempty"`
	Probe    *ProbeConfig    `hcl:"probe,block" json:"probe,omitempty"`
	Pending  *PendingConfig  `hcl:"pending,block" json:"pending,omitempty"`
	Rules    *RulesConfig    `hcl:"rules,block" json:"rules,omitempty"`
	DNS      *DNSConfig      `hcl:"dns,block" json:"dns,omitempty"`
	Control  *ControlConfig  `hcl:"control,block" json:"control,omitempty"`
	Firewall *FirewallConfig `hcl:"firewall,block" json:"firewall,omitempty"`
	Metrics  *MetricsConfig  `hcl:"metrics,block" json:"metrics,omitempty"`
	Logging  *LoggingConfig  `hcl:"logging,block" json:"logging,omitempty"`
}

// QueuesConfig assigns netfilter queue numbers. When the block is present
// all four numbers must be given.
type QueuesConfig struct {
	// @default: 0
	OutboundV4 uint16 `hcl:"outbound_v4,optional" json:"outbound_v4"`
	// @default: 1
	OutboundV6 uint16 `hcl:"outbound_v6,optional" json:"outbound_v6"`
	// @default: 2
	InboundV4 uint16 `hcl:"inbound_v4,optional" json:"inbound_v4"`
	// @default: 3
	InboundV6 uint16 `hcl:"inbound_v6,optional" json:"inbound_v6"`
	// Kernel-side queue length per queue.
	// @default: 1024
	MaxQueueLen uint32 `hcl:"max_queue_len,optional" json:"max_queue_len,omitempty"`
	// Buffered packets between the netlink callback and the correlator.
	// @default: 256
	ChannelSize int `hcl:"channel_size,optional" json:"channel_size,omitempty"`
}

// ProbeConfig locates the compiled eBPF object and its attach points.
type ProbeConfig struct {
	// @default: "/usr/lib/procwall/procwall.bpf.o"
	ObjectPath string `hcl:"object_path,optional" json:"object_path,omitempty"`
	// Name of the ring buffer map carrying socket lifecycle records.
	// @default: "events"
	RingBuffer string       `hcl:"ring_buffer,optional" json:"ring_buffer,omitempty"`
	Attach     []AttachSpec `hcl:"attach,block" json:"attach,omitempty"`
}

// AttachSpec binds one program from the object to a kernel symbol.
type AttachSpec struct {
	Program string `hcl:"program,label" json:"program"`
	Symbol  string `hcl:"symbol" json:"symbol"`
	// @enum: kprobe, kretprobe
	// @default: "kprobe"
	Kind string `hcl:"kind,optional" json:"kind,omitempty"`
}

// PendingConfig bounds the two pending-packet queues.
type PendingConfig struct {
	// @default: "10s"
	UnassociatedTTL string `hcl:"unassociated_ttl,optional" json:"unassociated_ttl,omitempty"`
	// @default: "60s"
	UndecidedTTL string `hcl:"undecided_ttl,optional" json:"undecided_ttl,omitempty"`
	// @default: 4096
	MaxDepth int `hcl:"max_depth,optional" json:"max_depth,omitempty"`
	// @default: "250ms"
	ScanInterval string `hcl:"scan_interval,optional" json:"scan_interval,omitempty"`
	// Verdict for packets that expire or are evicted.
	// @enum: drop, accept
	// @default: "drop"
	ExpiredVerdict string `hcl:"expired_verdict,optional" json:"expired_verdict,omitempty"`
}

// RulesConfig configures the rule engine and its store.
type RulesConfig struct {
	// @default: "/var/lib/procwall/rules.db"
	Database string `hcl:"database,optional" json:"database,omitempty"`
	// Result when no rule matches.
	// @enum: ask, allow, deny
	// @default: "ask"
	DefaultAction string `hcl:"default_action,optional" json:"default_action,omitempty"`
}

// DNSConfig controls response snooping.
type DNSConfig struct {
	// @default: true
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	// @default: 65536
	MaxEntries int `hcl:"max_entries,optional" json:"max_entries,omitempty"`
}

// ControlConfig configures the administrative unix socket.
type ControlConfig struct {
	// @default: "/run/procwall/control.sock"
	Socket string `hcl:"socket,optional" json:"socket,omitempty"`
	// Group granted access to the socket.
	// @example: "procwall"
	Group string `hcl:"group,optional" json:"group,omitempty"`
}

// FirewallConfig configures the netfilter redirection rules.
type FirewallConfig struct {
	// @default: "procwall"
	Table string `hcl:"table,optional" json:"table,omitempty"`
	// @default: true
	SkipLoopback *bool `hcl:"skip_loopback,optional" json:"skip_loopback,omitempty"`
}

// MetricsConfig optionally exposes metrics on TCP as well as the socket.
type MetricsConfig struct {
	// @example: "127.0.0.1:9641"
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// @enum: debug, info, warn, error
	// @default: "info"
	Level  string        `hcl:"level,optional" json:"level,omitempty"`
	JSON   bool          `hcl:"json,optional" json:"json,omitempty"`
	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogConfig forwards logs to a remote syslog server.
type SyslogConfig struct {
	Host string `hcl:"host" json:"host"`
	// @default: 514
	Port int `hcl:"port,optional" json:"port,omitempty"`
	// @enum: udp, tcp
	// @default: "udp"
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	// @default: "procwall"
	Tag string `hcl:"tag,optional" json:"tag,omitempty"`
	// @default: 1
	Facility int `hcl:"facility,optional" json:"facility,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	enabled := true
	skip := true
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Queues: &QueuesConfig{
			OutboundV4:  0,
			OutboundV6:  1,
			InboundV4:   2,
			InboundV6:   3,
			MaxQueueLen: 1024,
			ChannelSize: 256,
		},
		Probe: &ProbeConfig{
			ObjectPath: "/usr/lib/procwall/procwall.bpf.o",
			RingBuffer: "events",
			Attach:     DefaultAttach(),
		},
		Pending: &PendingConfig{
			UnassociatedTTL: "10s",
			UndecidedTTL:    "60s",
			MaxDepth:        4096,
			ScanInterval:    "250ms",
			ExpiredVerdict:  "drop",
		},
		Rules: &RulesConfig{
			Database:      "/var/lib/procwall/rules.db",
			DefaultAction: "ask",
		},
		DNS: &DNSConfig{
			Enabled:    &enabled,
			MaxEntries: 65536,
		},
		Control: &ControlConfig{
			Socket: "/run/procwall/control.sock",
		},
		Firewall: &FirewallConfig{
			Table:        "procwall",
			SkipLoopback: &skip,
		},
		Metrics: &MetricsConfig{},
		Logging: &LoggingConfig{Level: "info"},
	}
}

// DefaultAttach lists the socket lifecycle hooks the stock probe object exports.
func DefaultAttach() []AttachSpec {
	return []AttachSpec{
		{Program: "kprobe_tcp_v4_connect", Symbol: "tcp_v4_connect", Kind: "kprobe"},
		{Program: "kretprobe_tcp_v4_connect", Symbol: "tcp_v4_connect", Kind: "kretprobe"},
		{Program: "kprobe_tcp_v6_connect", Symbol: "tcp_v6_connect", Kind: "kprobe"},
		{Program: "kretprobe_tcp_v6_connect", Symbol: "tcp_v6_connect", Kind: "kretprobe"},
		{Program: "kretprobe_inet_csk_accept", Symbol: "inet_csk_accept", Kind: "kretprobe"},
		{Program: "kprobe_security_socket_send_msg", Symbol: "security_socket_sendmsg", Kind: "kprobe"},
		{Program: "kprobe_inet_release", Symbol: "inet_release", Kind: "kprobe"},
	}
}

// applyDefaults fills every block and attribute the file left unset.
func (c *Config) applyDefaults() {
	def := Default()
	if c.SchemaVersion == "" {
		c.SchemaVersion = def.SchemaVersion
	}
	if c.Queues == nil {
		c.Queues = def.Queues
	}
	if c.Queues.MaxQueueLen == 0 {
		c.Queues.MaxQueueLen = def.Queues.MaxQueueLen
	}
	if c.Queues.ChannelSize == 0 {
		c.Queues.ChannelSize = def.Queues.ChannelSize
	}

	if c.Probe == nil {
		c.Probe = def.Probe
	}
	if c.Probe.ObjectPath == "" {
		c.Probe.ObjectPath = def.Probe.ObjectPath
	}
	if c.Probe.RingBuffer == "" {
		c.Probe.RingBuffer = def.Probe.RingBuffer
	}
	if len(c.Probe.Attach) == 0 {
		c.Probe.Attach = def.Probe.Attach
	}
	for i := range c.Probe.Attach {
		if c.Probe.Attach[i].Kind == "" {
			c.Probe.Attach[i].Kind = "kprobe"
		}
	}

	if c.Pending == nil {
		c.Pending = def.Pending
	}
	setString(&c.Pending.UnassociatedTTL, def.Pending.UnassociatedTTL)
	setString(&c.Pending.UndecidedTTL, def.Pending.UndecidedTTL)
	setString(&c.Pending.ScanInterval, def.Pending.ScanInterval)
	setString(&c.Pending.ExpiredVerdict, def.Pending.ExpiredVerdict)
	if c.Pending.MaxDepth == 0 {
		c.Pending.MaxDepth = def.Pending.MaxDepth
	}

	if c.Rules == nil {
		c.Rules = def.Rules
	}
	setString(&c.Rules.Database, def.Rules.Database)
	setString(&c.Rules.DefaultAction, def.Rules.DefaultAction)

	if c.DNS == nil {
		c.DNS = def.DNS
	}
	if c.DNS.Enabled == nil {
		c.DNS.Enabled = def.DNS.Enabled
	}
	if c.DNS.MaxEntries == 0 {
		c.DNS.MaxEntries = def.DNS.MaxEntries
	}

	if c.Control == nil {
		c.Control = def.Control
	}
	setString(&c.Control.Socket, def.Control.Socket)

	if c.Firewall == nil {
		c.Firewall = def.Firewall
	}
	setString(&c.Firewall.Table, def.Firewall.Table)
	if c.Firewall.SkipLoopback == nil {
		c.Firewall.SkipLoopback = def.Firewall.SkipLoopback
	}

	if c.Metrics == nil {
		c.Metrics = def.Metrics
	}
	if c.Logging == nil {
		c.Logging = def.Logging
	}
	setString(&c.Logging.Level, def.Logging.Level)
	if s := c.Logging.Syslog; s != nil {
		if s.Port == 0 {
			s.Port = 514
		}
		setString(&s.Protocol, "udp")
		setString(&s.Tag, "procwall")
		if s.Facility == 0 {
			s.Facility = 1
		}
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// SnoopingEnabled reports whether DNS responses are inspected.
func (d *DNSConfig) SnoopingEnabled() bool {
	return d == nil || d.Enabled == nil || *d.Enabled
}

// ShouldSkipLoopback reports whether loopback traffic bypasses the queues.
func (f *FirewallConfig) ShouldSkipLoopback() bool {
	return f == nil || f.SkipLoopback == nil || *f.SkipLoopback
}

// Timings returns the parsed pending-queue durations. Call Validate first;
// unparsable values fall back to the defaults.
func (p *PendingConfig) Timings() (unassociated, undecided, scan time.Duration) {
	return parseDuration(p.UnassociatedTTL, 10*time.Second),
		parseDuration(p.UndecidedTTL, 60*time.Second),
		parseDuration(p.ScanInterval, 250*time.Millisecond)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
