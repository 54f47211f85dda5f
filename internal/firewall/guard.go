// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package firewall installs and removes the netfilter rules that redirect
// new connections to the daemon's queues.
package firewall

import (
	"sync"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/logging"
)

// Backend applies and inspects the guard's table.
type Backend interface {
	// Apply installs the table, its two chains and rules in one batch.
	Apply(spec Spec) error
	// RuleCounts reads back the number of rules per chain of a table.
	RuleCounts(table string) (map[string]int, error)
	// DeleteTable removes a table. A missing table is not an error.
	DeleteTable(table string) error
}

// Guard owns an installed table and removes it exactly once.
type Guard struct {
	backend Backend
	table   string
	logger  *logging.Logger
	once    sync.Once
}

// Install replaces any stale table of the same name, applies spec and
// verifies the result. On any failure the table is removed before the
// error is returned.
func Install(backend Backend, spec Spec, logger *logging.Logger) (*Guard, error) {
	if logger == nil {
		logger = logging.WithComponent("firewall")
	}
	if spec.Table == "" {
		return nil, errors.New(errors.KindValidation, "firewall table name is required")
	}

	if err := backend.DeleteTable(spec.Table); err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to remove stale table"), "table", spec.Table)
	}

	fail := func(err error, msg string) (*Guard, error) {
		if cerr := backend.DeleteTable(spec.Table); cerr != nil {
			logger.WithError(cerr).Error("failed to clean up partial table", "table", spec.Table)
		}
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, msg), "table", spec.Table)
	}

	if err := backend.Apply(spec); err != nil {
		return fail(err, "failed to install redirection rules")
	}

	want := ruleCounts(spec.Rules())
	got, err := backend.RuleCounts(spec.Table)
	if err != nil {
		return fail(err, "failed to read back redirection rules")
	}
	for chain, n := range want {
		if got[chain] != n {
			return fail(errors.Errorf(errors.KindInternal, "chain %s has %d rules, want %d", chain, got[chain], n),
				"redirection rules did not verify")
		}
	}

	logger.Info("redirection rules installed", "table", spec.Table,
		"output_rules", want[ChainOutput], "input_rules", want[ChainInput])
	return &Guard{backend: backend, table: spec.Table, logger: logger}, nil
}

// Table returns the name of the guarded table.
func (g *Guard) Table() string { return g.table }

// Close removes the table. Only the first call acts; failures are logged.
func (g *Guard) Close() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		if err := g.backend.DeleteTable(g.table); err != nil {
			g.logger.WithError(err).Error("failed to remove redirection rules", "table", g.table)
			return
		}
		g.logger.Info("redirection rules removed", "table", g.table)
	})
	return nil
}
