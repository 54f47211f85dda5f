// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package probe

import (
	"time"

	"golang.org/x/sys/unix"
)

// KtimeToWall converts a bpf_ktime_get_ns() value (CLOCK_MONOTONIC) to
// wall-clock time.
func KtimeToWall(ktime uint64) time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	mono := uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
	if ktime > mono {
		return time.Now()
	}
	return time.Now().Add(-time.Duration(mono - ktime))
}
