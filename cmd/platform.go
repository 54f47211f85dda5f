// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"

	"grimm.is/procwall/internal/config"
	"grimm.is/procwall/internal/correlator"
	"grimm.is/procwall/internal/firewall"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
	"grimm.is/procwall/internal/nfq"
	"grimm.is/procwall/internal/probe"
	"grimm.is/procwall/internal/process"
)

// Platform opens the kernel-facing parts of the daemon. Sources that
// implement Close are closed when the daemon returns.
type Platform interface {
	OpenQueues(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) ([]correlator.PacketSource, error)
	OpenProbe(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (correlator.ProbeSource, error)
	Firewall() (firewall.Backend, error)
	Resolver() correlator.Resolver
}

// KernelPlatform uses netfilter queues, the eBPF probe, nftables and /proc.
func KernelPlatform() Platform { return kernelPlatform{} }

type kernelPlatform struct{}

func (kernelPlatform) OpenQueues(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) ([]correlator.PacketSource, error) {
	q := cfg.Queues
	specs := []nfq.Config{
		{Queue: q.OutboundV4, Family: kernel.FamilyIPv4, Direction: kernel.Outbound},
		{Queue: q.OutboundV6, Family: kernel.FamilyIPv6, Direction: kernel.Outbound},
		{Queue: q.InboundV4, Family: kernel.FamilyIPv4, Direction: kernel.Inbound},
		{Queue: q.InboundV6, Family: kernel.FamilyIPv6, Direction: kernel.Inbound},
	}

	var opened []correlator.PacketSource
	for _, spec := range specs {
		spec.MaxQueueLen = q.MaxQueueLen
		spec.ChannelSize = q.ChannelSize
		nq, err := nfq.Open(ctx, spec, logger, m)
		if err != nil {
			for _, s := range opened {
				s.(*nfq.Queue).Close()
			}
			return nil, err
		}
		opened = append(opened, nq)
	}
	return opened, nil
}

func (kernelPlatform) OpenProbe(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (correlator.ProbeSource, error) {
	pc := probe.Config{
		ObjectPath: cfg.Probe.ObjectPath,
		RingBuffer: cfg.Probe.RingBuffer,
	}
	for _, a := range cfg.Probe.Attach {
		pc.Attach = append(pc.Attach, probe.Attach{
			Program: a.Program,
			Symbol:  a.Symbol,
			Return:  a.Kind == "kretprobe",
		})
	}
	src, err := probe.Open(pc, logger, m)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (kernelPlatform) Firewall() (firewall.Backend, error) {
	b, err := firewall.NewNFTablesBackend()
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (kernelPlatform) Resolver() correlator.Resolver {
	return process.NewResolver(process.DefaultConfig())
}
