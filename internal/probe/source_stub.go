// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package probe

import (
	"context"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
)

// Source is unavailable off Linux.
type Source struct{}

// Open always fails off Linux.
func Open(Config, *logging.Logger, *metrics.Metrics) (*Source, error) {
	return nil, errors.New(errors.KindUnavailable, "eBPF probes require linux")
}

func (s *Source) Next(context.Context) (kernel.ProbeEvent, error) {
	return kernel.ProbeEvent{}, kernel.ErrClosed
}

func (s *Source) Close() error { return nil }
