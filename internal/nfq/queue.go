// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import "grimm.is/procwall/internal/kernel"

// Config describes one queue.
type Config struct {
	Queue     uint16
	Family    kernel.Family
	Direction kernel.Direction
	// MaxQueueLen is the kernel-side backlog.
	MaxQueueLen uint32
	// ChannelSize buffers decoded packets ahead of the correlator.
	ChannelSize int
}

func (c *Config) setDefaults() {
	if c.MaxQueueLen == 0 {
		c.MaxQueueLen = 1024
	}
	if c.ChannelSize <= 0 {
		c.ChannelSize = 256
	}
}
