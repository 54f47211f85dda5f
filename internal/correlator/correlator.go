// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package correlator joins intercepted packets to the processes that own
// them and hands each packet exactly one verdict.
//
// Packets arrive from netfilter queues before the probe has necessarily
// reported the socket they belong to. Such packets wait on the
// unassociated queue until a probe insertion or the periodic scan finds
// their owner. Packets the rule engine cannot decide wait on the undecided
// queue until the policy changes. Both queues are bounded in age and depth;
// whatever leaves them without a decision gets the configured expired
// verdict, so the kernel is never left holding a packet.
package correlator

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/procwall/internal/dns"
	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
	"grimm.is/procwall/internal/process"
)

// PacketSource is one netfilter queue.
type PacketSource interface {
	Queue() uint16
	Direction() kernel.Direction
	Next(ctx context.Context) (kernel.PacketEvent, error)
	SetVerdict(h kernel.Handle, v kernel.Verdict) error
}

// ProbeSource delivers socket lifecycle events.
type ProbeSource interface {
	Next(ctx context.Context) (kernel.ProbeEvent, error)
}

// Resolver maps a pid to a process snapshot.
type Resolver interface {
	Resolve(ctx context.Context, pid uint32) (*process.Info, error)
}

// RuleEngine answers verdict queries. Evaluate must not block.
type RuleEngine interface {
	Evaluate(info *process.Info, t kernel.Tuple) engine.Decision
	OnPolicyChanged(fn func())
}

// Notifier receives a prompt for the first undecided packet of each
// connection.
type Notifier interface {
	Undecided(p Prompt)
}

// Config bounds the pending queues.
type Config struct {
	UnassociatedTTL time.Duration
	UndecidedTTL    time.Duration
	MaxDepth        int
	ScanInterval    time.Duration
	// ExpiredVerdict is issued to packets that leave a pending queue
	// without a decision.
	ExpiredVerdict kernel.Verdict
}

// DefaultConfig returns the default queue bounds.
func DefaultConfig() Config {
	return Config{
		UnassociatedTTL: 10 * time.Second,
		UndecidedTTL:    60 * time.Second,
		MaxDepth:        4096,
		ScanInterval:    250 * time.Millisecond,
		ExpiredVerdict:  kernel.VerdictDrop,
	}
}

// Deps are the collaborators of a Correlator. Resolver and Engine are
// required. Snooper, Notifier and Metrics may be nil.
type Deps struct {
	Sources  []PacketSource
	Probes   ProbeSource
	Resolver Resolver
	Engine   RuleEngine
	Notifier Notifier
	Snooper  *dns.Snooper
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// Correlator is the verdict engine.
type Correlator struct {
	cfg      Config
	sources  map[uint16]PacketSource
	order    []PacketSource
	probes   ProbeSource
	resolver Resolver
	engine   RuleEngine
	notifier Notifier
	snooper  *dns.Snooper
	metrics  *metrics.Metrics
	logger   *logging.Logger

	conns        *connMap
	unassociated *pendingQueue
	undecided    *pendingQueue

	now func() time.Time
	// started holds the unix nanoseconds at which Run began.
	started atomic.Int64
}

// New wires a correlator and subscribes it to policy changes.
func New(cfg Config, deps Deps) (*Correlator, error) {
	if deps.Resolver == nil || deps.Engine == nil {
		return nil, errors.New(errors.KindValidation, "correlator needs a resolver and a rule engine")
	}
	def := DefaultConfig()
	if cfg.UnassociatedTTL <= 0 {
		cfg.UnassociatedTTL = def.UnassociatedTTL
	}
	if cfg.UndecidedTTL <= 0 {
		cfg.UndecidedTTL = def.UndecidedTTL
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.WithComponent("correlator")
	}

	c := &Correlator{
		cfg:          cfg,
		sources:      make(map[uint16]PacketSource, len(deps.Sources)),
		probes:       deps.Probes,
		resolver:     deps.Resolver,
		engine:       deps.Engine,
		notifier:     deps.Notifier,
		snooper:      deps.Snooper,
		metrics:      deps.Metrics,
		logger:       logger,
		conns:        newConnMap(),
		unassociated: newPendingQueue(metrics.QueueUnassociated, cfg.MaxDepth),
		undecided:    newPendingQueue(metrics.QueueUndecided, cfg.MaxDepth),
		now:          time.Now,
	}
	for _, src := range deps.Sources {
		if _, dup := c.sources[src.Queue()]; dup {
			return nil, errors.Attr(errors.New(errors.KindValidation, "duplicate packet source queue"), "queue", src.Queue())
		}
		c.sources[src.Queue()] = src
		c.order = append(c.order, src)
	}

	c.engine.OnPolicyChanged(c.DrainUndecided)
	c.metrics.WatchSizes(c)
	return c, nil
}

// Run reads every source until ctx is cancelled or a source fails, then
// dispositions whatever is still pending. It returns nil on cancellation.
func (c *Correlator) Run(ctx context.Context) error {
	c.started.Store(c.now().UnixNano())
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range c.order {
		g.Go(recovered(func() error { return c.readPackets(gctx, src) }))
	}
	if c.probes != nil {
		g.Go(recovered(func() error { return c.readProbes(gctx) }))
	}
	g.Go(recovered(func() error { return c.scan(gctx) }))

	c.logger.Info("correlator running", "queues", len(c.order), "probe", c.probes != nil)
	err := g.Wait()
	c.Flush()

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// recovered turns a panic in fn into an error so the group unwinds and the
// caller's deferred cleanup runs.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf(errors.KindInternal, "panic in correlator: %v", r)
			}
		}()
		return fn()
	}
}

func (c *Correlator) readPackets(ctx context.Context, src PacketSource) error {
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "packet source stopped"), "queue", src.Queue())
		}
		c.HandlePacket(ev)
	}
}

func (c *Correlator) readProbes(ctx context.Context) error {
	for {
		ev, err := c.probes.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.KindUnavailable, "probe source stopped")
		}
		c.HandleProbe(ctx, ev)
	}
}

func (c *Correlator) scan(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.DrainUnassociated()
			c.DrainUndecided()
		}
	}
}

// HandlePacket routes one intercepted packet. It either dispositions the
// packet or places it on exactly one pending queue.
func (c *Correlator) HandlePacket(ev kernel.PacketEvent) {
	if c.snooper != nil && dns.IsCandidate(ev) {
		response, n := c.snooper.Observe(ev)
		if response {
			c.metrics.DNS(n)
		}
		// Replies to queries already let out pass straight through.
		// Anything conntrack has not tied to an outgoing query is
		// attributed and judged like other traffic.
		if response && ev.State == kernel.ConnReply {
			c.issue(ev.Handle, kernel.VerdictAccept, "dns")
			return
		}
	}

	sig := ev.Signature()
	info := c.owner(sig)
	if info == nil {
		c.enqueueUnassociated(&pendingPacket{ev: ev, sig: sig, enqueued: c.now()})
		return
	}
	c.decide(ev, sig, info)
}

// owner finds the process for sig, falling back to the wildcard form for
// UDP sockets that were never connected.
func (c *Correlator) owner(sig kernel.Signature) *process.Info {
	if info := c.conns.lookup(sig); info != nil {
		return info
	}
	if sig.Protocol == kernel.ProtoUDP {
		return c.conns.lookup(sig.Wildcard())
	}
	return nil
}

func (c *Correlator) enqueueUnassociated(p *pendingPacket) {
	evicted, _ := c.unassociated.push(p)
	c.metrics.Enqueue(metrics.QueueUnassociated)
	c.logger.Debug("packet unassociated", "packet", p.ev.Tuple, "handle", p.ev.Handle)
	if evicted != nil {
		c.expire(evicted, metrics.QueueUnassociated, metrics.ReasonEvicted)
	}
}

// decide queries the engine for an attributed packet.
func (c *Correlator) decide(ev kernel.PacketEvent, sig kernel.Signature, info *process.Info) {
	ev.UID, ev.PID = info.UID, info.PID
	d := c.engine.Evaluate(info, ev.Tuple)

	switch d.Verdict {
	case engine.Allow, engine.Deny:
		c.apply(ev, info, d)
		return
	}

	p := &pendingPacket{ev: ev, sig: sig, info: info, enqueued: c.now()}
	evicted, first := c.undecided.push(p)
	c.metrics.Enqueue(metrics.QueueUndecided)
	if evicted != nil {
		c.expire(evicted, metrics.QueueUndecided, metrics.ReasonEvicted)
	}
	if first && c.notifier != nil {
		c.metrics.Prompt()
		c.notifier.Undecided(c.prompt(p))
	}
}

func (c *Correlator) apply(ev kernel.PacketEvent, info *process.Info, d engine.Decision) {
	v := kernel.VerdictDrop
	if d.Verdict == engine.Allow {
		v = kernel.VerdictAccept
	}
	origin := "rule"
	if d.RuleID == "" {
		origin = "default"
	}
	c.logger.Debug("verdict",
		"packet", ev.Tuple,
		"process", info,
		"verdict", v,
		"rule", d.RuleID,
		"domain", c.domain(ev.Remote()),
	)
	c.issue(ev.Handle, v, origin)
}

// issue hands a verdict to the source that produced the handle. Failures
// mean the kernel already released the packet and are never fatal.
func (c *Correlator) issue(h kernel.Handle, v kernel.Verdict, origin string) {
	src, ok := c.sources[h.Queue]
	if !ok {
		c.logger.Error("verdict for unknown queue", "handle", h)
		return
	}
	if err := src.SetVerdict(h, v); err != nil {
		c.metrics.StaleHandle()
		c.logger.Debug("verdict not delivered", "handle", h, "verdict", v, "error", err)
		return
	}
	c.metrics.Verdict(v.String(), origin)
}

func (c *Correlator) expire(p *pendingPacket, queue, reason string) {
	c.metrics.Expire(queue, reason)
	c.logger.Debug("pending packet expired",
		"queue", queue,
		"reason", reason,
		"packet", p.ev.Tuple,
		"age", c.now().Sub(p.enqueued),
	)
	c.issue(p.ev.Handle, c.cfg.ExpiredVerdict, "expired")
}

// HandleProbe applies one socket lifecycle event.
func (c *Correlator) HandleProbe(ctx context.Context, ev kernel.ProbeEvent) {
	sig := ev.Signature()

	if ev.Remove {
		c.metrics.Probe("remove")
		if c.conns.remove(sig) {
			c.logger.Debug("socket closed", "signature", sig)
		}
		return
	}

	c.metrics.Probe("add")
	info, err := c.resolver.Resolve(ctx, ev.PID)
	if err != nil {
		c.metrics.ResolveFailure()
		c.logger.Debug("dropping probe event", "pid", ev.PID, "signature", sig, "error", err)
		return
	}

	c.conns.upsert(sig, info, ev.Socket, c.now())
	c.logger.Debug("socket opened", "signature", sig, "process", info)
	c.DrainUnassociated()
}

// DrainUnassociated retries attribution for every unassociated packet.
func (c *Correlator) DrainUnassociated() {
	now := c.now()
	overflow := c.unassociated.drain(func(p *pendingPacket) bool {
		if info := c.owner(p.sig); info != nil {
			c.decide(p.ev, p.sig, info)
			return false
		}
		if now.Sub(p.enqueued) >= c.cfg.UnassociatedTTL {
			c.expire(p, metrics.QueueUnassociated, metrics.ReasonTTL)
			return false
		}
		return true
	})
	for _, p := range overflow {
		c.expire(p, metrics.QueueUnassociated, metrics.ReasonEvicted)
	}
}

// DrainUndecided re-queries the engine for every undecided packet.
func (c *Correlator) DrainUndecided() {
	now := c.now()
	overflow := c.undecided.drain(func(p *pendingPacket) bool {
		d := c.engine.Evaluate(p.info, p.ev.Tuple)
		if d.Verdict == engine.Allow || d.Verdict == engine.Deny {
			c.apply(p.ev, p.info, d)
			return false
		}
		if now.Sub(p.enqueued) >= c.cfg.UndecidedTTL {
			c.expire(p, metrics.QueueUndecided, metrics.ReasonTTL)
			return false
		}
		return true
	})
	for _, p := range overflow {
		c.expire(p, metrics.QueueUndecided, metrics.ReasonEvicted)
	}
}

// Flush dispositions every pending packet with the expired verdict.
func (c *Correlator) Flush() {
	unassoc := c.unassociated.takeAll()
	undecided := c.undecided.takeAll()
	for _, p := range unassoc {
		c.expire(p, metrics.QueueUnassociated, metrics.ReasonShutdown)
	}
	for _, p := range undecided {
		c.expire(p, metrics.QueueUndecided, metrics.ReasonShutdown)
	}
	if n := len(unassoc) + len(undecided); n > 0 {
		c.logger.Info("flushed pending packets", "count", n, "verdict", c.cfg.ExpiredVerdict)
	}
}

func (c *Correlator) domain(addr netip.Addr) string {
	if c.snooper == nil {
		return ""
	}
	d, _ := c.snooper.Table().Lookup(addr)
	return d
}
