// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	stderrors "errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/procwall/internal/config"
	"grimm.is/procwall/internal/correlator"
	"grimm.is/procwall/internal/ctlplane"
	"grimm.is/procwall/internal/dns"
	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/firewall"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
	"grimm.is/procwall/internal/state"
)

// RunDaemon runs the firewall until SIGINT or SIGTERM.
// args should be the arguments after `procwall run`
func RunDaemon(args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := flags.String("config", DefaultConfigPath, "Path to the HCL or JSON configuration")
	flags.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Serve(ctx, cfg, KernelPlatform(), logger)
}

// Serve wires every component and runs until ctx is done or a component
// fails. The redirection rules are installed last and removed on every
// return path.
func Serve(ctx context.Context, cfg *config.Config, platform Platform, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	m := metrics.New()

	store, err := state.Open(cfg.Rules.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	def, err := engine.ParseVerdict(cfg.Rules.DefaultAction)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid rules.default_action")
	}
	eng := engine.NewRuleEngine(engine.Config{DefaultAction: def}, store, logger.WithComponent("engine"))
	if err := eng.Load(ctx); err != nil {
		return err
	}

	var (
		table   *dns.ReverseTable
		snooper *dns.Snooper
	)
	if cfg.DNS.SnoopingEnabled() {
		table = dns.NewReverseTable(cfg.DNS.MaxEntries)
		snooper = dns.NewSnooper(table, logger.WithComponent("dns"))
	}

	probes, err := platform.OpenProbe(cfg, logger.WithComponent("probe"), m)
	if err != nil {
		return err
	}
	defer closeSource(probes, logger)

	sources, err := platform.OpenQueues(ctx, cfg, logger.WithComponent("nfq"), m)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sources {
			closeSource(s, logger)
		}
	}()

	hub := ctlplane.NewHub(logger.WithComponent("ctlplane"))
	corr, err := correlator.New(correlatorConfig(cfg.Pending), correlator.Deps{
		Sources:  sources,
		Probes:   probes,
		Resolver: platform.Resolver(),
		Engine:   eng,
		Notifier: hub,
		Snooper:  snooper,
		Metrics:  m,
		Logger:   logger.WithComponent("correlator"),
	})
	if err != nil {
		return err
	}

	ctl, err := ctlplane.NewServer(ctlplane.Config{
		Socket: cfg.Control.Socket,
		Group:  cfg.Control.Group,
	}, ctlplane.Deps{
		Daemon:  corr,
		Rules:   eng,
		DNS:     table,
		Metrics: m,
		Hub:     hub,
		Logger:  logger.WithComponent("ctlplane"),
	})
	if err != nil {
		return err
	}

	backend, err := platform.Firewall()
	if err != nil {
		return err
	}
	guard, err := firewall.Install(backend, firewallSpec(cfg), logger.WithComponent("firewall"))
	if err != nil {
		return err
	}
	defer guard.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return corr.Run(gctx) })
	g.Go(func() error { return ctl.Serve(gctx) })
	if addr := cfg.Metrics.Listen; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr, m, logger) })
	}

	logger.Info("procwall started",
		"queues", len(sources),
		"rules", len(eng.Rules()),
		"default_action", def,
		"dns_snooping", snooper != nil,
		"control", cfg.Control.Socket)

	err = g.Wait()
	if err != nil {
		logger.WithError(err).Error("procwall stopping on error")
	} else {
		logger.Info("procwall stopped")
	}
	return err
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "metrics listener failed"), "addr", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == DefaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.LoadFile(path)
}

func newLogger(lc *config.LoggingConfig) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	if lc == nil {
		return logging.New(cfg), nil
	}
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "invalid logging.level")
	}
	cfg.Level = level
	cfg.JSON = lc.JSON
	if s := lc.Syslog; s != nil {
		cfg.Syslog = logging.SyslogConfig{
			Enabled:  true,
			Host:     s.Host,
			Port:     s.Port,
			Protocol: s.Protocol,
			Tag:      s.Tag,
			Facility: s.Facility,
		}
	}
	return logging.New(cfg), nil
}

func correlatorConfig(p *config.PendingConfig) correlator.Config {
	c := correlator.DefaultConfig()
	c.UnassociatedTTL, c.UndecidedTTL, c.ScanInterval = p.Timings()
	if p.MaxDepth > 0 {
		c.MaxDepth = p.MaxDepth
	}
	if strings.EqualFold(p.ExpiredVerdict, "accept") {
		c.ExpiredVerdict = kernel.VerdictAccept
	}
	return c
}

func firewallSpec(cfg *config.Config) firewall.Spec {
	q := cfg.Queues
	return firewall.Spec{
		Table: cfg.Firewall.Table,
		Queues: firewall.Queues{
			OutboundV4: q.OutboundV4,
			OutboundV6: q.OutboundV6,
			InboundV4:  q.InboundV4,
			InboundV6:  q.InboundV6,
		},
		SkipLoopback: cfg.Firewall.ShouldSkipLoopback(),
		SnoopDNS:     cfg.DNS.SnoopingEnabled(),
	}
}

func closeSource(s any, logger *logging.Logger) {
	switch c := s.(type) {
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			logger.WithError(err).Warn("failed to close source")
		}
	case interface{ Close() }:
		c.Close()
	}
}
