// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package nfq

import (
	"context"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
)

// Queue is unavailable off Linux.
type Queue struct{ cfg Config }

// Open always fails off Linux.
func Open(_ context.Context, cfg Config, _ *logging.Logger, _ *metrics.Metrics) (*Queue, error) {
	return nil, errors.New(errors.KindUnavailable, "netfilter queues require linux")
}

func (q *Queue) Queue() uint16               { return q.cfg.Queue }
func (q *Queue) Direction() kernel.Direction { return q.cfg.Direction }

func (q *Queue) Next(context.Context) (kernel.PacketEvent, error) {
	return kernel.PacketEvent{}, kernel.ErrClosed
}

func (q *Queue) SetVerdict(kernel.Handle, kernel.Verdict) error { return kernel.ErrStaleHandle }
func (q *Queue) Close() error                                   { return nil }
