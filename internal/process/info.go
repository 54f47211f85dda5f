// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package process resolves process ids to immutable metadata snapshots.
package process

import (
	"fmt"
	"time"
)

// Info is a snapshot of one process. It is shared by pointer and never
// modified after construction.
type Info struct {
	PID        uint32    `json:"pid"`
	PPID       uint32    `json:"ppid"`
	UID        uint32    `json:"uid"`
	User       string    `json:"user,omitempty"`
	Executable string    `json:"executable"`
	Name       string    `json:"name,omitempty"`
	Cmdline    string    `json:"cmdline,omitempty"`
	StartTime  time.Time `json:"start_time"`
}

func (i *Info) String() string {
	if i == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%s[%d] uid=%d", i.Executable, i.PID, i.UID)
}
