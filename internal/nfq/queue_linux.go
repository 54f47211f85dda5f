// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package nfq

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/florianl/go-nfqueue/v2"
	"github.com/mdlayher/netlink"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
)

// verdicter is the part of *nfqueue.Nfqueue that releases packets.
type verdicter interface {
	SetVerdict(id uint32, verdict int) error
}

// Queue is a netfilter queue bound to one queue number.
type Queue struct {
	cfg     Config
	conn    *nfqueue.Nfqueue
	nf      verdicter
	decoder *Decoder
	logger  *logging.Logger
	metrics *metrics.Metrics

	ch     chan kernel.PacketEvent
	done   chan struct{}
	closed sync.Once
}

// Open binds the queue and starts receiving. The registration stops when
// ctx ends, but the socket stays open for verdicts until Close.
func Open(ctx context.Context, cfg Config, logger *logging.Logger, m *metrics.Metrics) (*Queue, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = logging.WithComponent("nfq")
	}
	logger = logger.With("queue", cfg.Queue, "family", cfg.Family, "direction", cfg.Direction)

	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      cfg.Queue,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  cfg.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		Flags:        nfqueue.NfQaCfgFlagConntrack,
		WriteTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to open nfqueue"), "queue", cfg.Queue)
	}

	// A burst that overruns the socket buffer must not tear down the
	// registration.
	if err := nf.Con.SetOption(netlink.NoENOBUFS, true); err != nil {
		nf.Close()
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to set NoENOBUFS"), "queue", cfg.Queue)
	}

	q := &Queue{
		cfg:     cfg,
		conn:    nf,
		nf:      nf,
		decoder: NewDecoder(cfg.Family),
		logger:  logger,
		metrics: m,
		ch:      make(chan kernel.PacketEvent, cfg.ChannelSize),
		done:    make(chan struct{}),
	}

	if err := nf.RegisterWithErrorFunc(ctx, q.hook(ctx), q.onError); err != nil {
		nf.Close()
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to register nfqueue"), "queue", cfg.Queue)
	}
	logger.Info("started nfqueue")
	return q, nil
}

func (q *Queue) hook(ctx context.Context) nfqueue.HookFunc {
	return func(a nfqueue.Attribute) int {
		if a.PacketID == nil {
			return 0
		}
		id := *a.PacketID
		if a.Payload == nil {
			q.accept(id)
			return 0
		}

		ev := kernel.PacketEvent{
			Handle:    kernel.Handle{Queue: q.cfg.Queue, ID: id},
			Timestamp: time.Now(),
		}
		if a.Timestamp != nil {
			ev.Timestamp = *a.Timestamp
		}
		if a.CtInfo != nil {
			ev.State = kernel.ConnStateFromCtInfo(*a.CtInfo)
		}
		if err := q.decoder.Decode(*a.Payload, &ev); err != nil {
			// Not IP traffic we can attribute.
			q.metrics.DecodeError("nfq")
			q.logger.Debug("accepting undecodable packet", "error", err)
			q.accept(id)
			return 0
		}
		ev.Direction = q.cfg.Direction

		select {
		case q.ch <- ev:
		case <-ctx.Done():
			q.drop(id)
		}
		return 0
	}
}

func (q *Queue) accept(id uint32) {
	if err := q.nf.SetVerdict(id, nfqueue.NfAccept); err != nil {
		q.logger.Debug("verdict failed", "id", id, "error", err)
	}
}

func (q *Queue) drop(id uint32) {
	if err := q.nf.SetVerdict(id, nfqueue.NfDrop); err != nil {
		q.logger.Debug("verdict failed", "id", id, "error", err)
	}
}

func (q *Queue) onError(err error) int {
	var opErr *netlink.OpError
	if stderrors.As(err, &opErr) {
		msg := err.Error()
		if strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "use of closed file") {
			return 0
		}
	}
	q.logger.WithError(err).Error("netlink error")
	return 0
}

func (q *Queue) Queue() uint16               { return q.cfg.Queue }
func (q *Queue) Direction() kernel.Direction { return q.cfg.Direction }

// Next returns the next decoded packet.
func (q *Queue) Next(ctx context.Context) (kernel.PacketEvent, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	case <-q.done:
		return kernel.PacketEvent{}, kernel.ErrClosed
	case <-ctx.Done():
		return kernel.PacketEvent{}, ctx.Err()
	}
}

// SetVerdict releases a packet.
func (q *Queue) SetVerdict(h kernel.Handle, v kernel.Verdict) error {
	if h.Queue != q.cfg.Queue {
		return kernel.ErrStaleHandle
	}
	nv := nfqueue.NfDrop
	if v == kernel.VerdictAccept {
		nv = nfqueue.NfAccept
	}
	if err := q.nf.SetVerdict(h.ID, nv); err != nil {
		return errors.Wrap(err, errors.KindStale, "verdict rejected")
	}
	return nil
}

// Close releases the netlink socket. Packets still queued in the kernel
// are dropped by it.
func (q *Queue) Close() error {
	var err error
	q.closed.Do(func() {
		close(q.done)
		err = q.conn.Close()
	})
	return err
}
