// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package probe

import "time"

// KtimeToWall falls back to the current time off Linux.
func KtimeToWall(uint64) time.Time {
	return time.Now()
}
