// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package probe

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
)

// pollInterval bounds how long Next waits on the ring buffer before
// checking for cancellation.
const pollInterval = 250 * time.Millisecond

// Source reads records from the probe's ring buffer.
type Source struct {
	coll    *ebpf.Collection
	links   []link.Link
	rd      *ringbuf.Reader
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex // serializes Next; the record buffer is reused
	rec ringbuf.Record

	closed sync.Once
}

// Open loads the object, attaches its programs, and opens the ring buffer.
func Open(cfg Config, logger *logging.Logger, m *metrics.Metrics) (*Source, error) {
	if logger == nil {
		logger = logging.WithComponent("probe")
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to remove memlock limit")
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to load probe object"), "path", cfg.ObjectPath)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to create probe collection")
	}

	s := &Source{coll: coll, logger: logger, metrics: m}

	for _, a := range cfg.Attach {
		prog, ok := coll.Programs[a.Program]
		if !ok {
			s.Close()
			return nil, errors.Attr(errors.New(errors.KindUnavailable, "program not found in probe object"), "program", a.Program)
		}
		var l link.Link
		if a.Return {
			l, err = link.Kretprobe(a.Symbol, prog, nil)
		} else {
			l, err = link.Kprobe(a.Symbol, prog, nil)
		}
		if err != nil {
			s.Close()
			return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to attach probe"), "symbol", a.Symbol)
		}
		s.links = append(s.links, l)
	}

	events, ok := coll.Maps[cfg.RingBuffer]
	if !ok {
		s.Close()
		return nil, errors.Attr(errors.New(errors.KindUnavailable, "ring buffer not found in probe object"), "map", cfg.RingBuffer)
	}
	s.rd, err = ringbuf.NewReader(events)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open ring buffer")
	}

	logger.Info("probe attached", "object", cfg.ObjectPath, "programs", len(s.links))
	return s, nil
}

// Next returns the next decodable record. Malformed records are counted
// and skipped.
func (s *Source) Next(ctx context.Context) (kernel.ProbeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return kernel.ProbeEvent{}, err
		}
		s.rd.SetDeadline(time.Now().Add(pollInterval))
		if err := s.rd.ReadInto(&s.rec); err != nil {
			if stderrors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if stderrors.Is(err, ringbuf.ErrClosed) {
				return kernel.ProbeEvent{}, kernel.ErrClosed
			}
			s.logger.Debug("ring buffer read error", "error", err)
			continue
		}

		ev, err := Decode(s.rec.RawSample, KtimeToWall)
		if err != nil {
			s.metrics.DecodeError("probe")
			s.logger.Debug("skipping probe record", "error", err)
			continue
		}
		return ev, nil
	}
}

// Close detaches the programs and releases the object.
func (s *Source) Close() error {
	s.closed.Do(func() {
		if s.rd != nil {
			s.rd.Close()
		}
		for _, l := range s.links {
			if err := l.Close(); err != nil {
				s.logger.WithError(err).Warn("failed to detach probe")
			}
		}
		s.coll.Close()
	})
	return nil
}
