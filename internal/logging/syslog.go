// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"net"
	"strconv"
)

// SyslogConfig configures remote syslog forwarding.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int // syslog facility number (1 = user)
}

// DefaultSyslogConfig returns forwarding disabled with standard defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "procwall",
		Facility: 1,
	}
}

// NewSyslogWriter dials the configured syslog server.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "procwall"
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	prio := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, addr, prio, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s/%s: %w", cfg.Protocol, addr, err)
	}
	return w, nil
}
