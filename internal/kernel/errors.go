// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import "grimm.is/procwall/internal/errors"

var (
	// ErrStaleHandle is returned when a verdict targets a packet the kernel
	// no longer holds.
	ErrStaleHandle = errors.New(errors.KindStale, "packet handle is stale")

	// ErrClosed is returned by Next once a source has been closed.
	ErrClosed = errors.New(errors.KindUnavailable, "source closed")
)
