// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package firewall

import "grimm.is/procwall/internal/errors"

// NFTablesBackend is unavailable off Linux.
type NFTablesBackend struct{}

// NewNFTablesBackend always fails off Linux.
func NewNFTablesBackend() (*NFTablesBackend, error) {
	return nil, errors.New(errors.KindUnavailable, "nftables requires linux")
}

func (b *NFTablesBackend) Apply(Spec) error { return errors.New(errors.KindUnavailable, "nftables requires linux") }

func (b *NFTablesBackend) RuleCounts(string) (map[string]int, error) {
	return nil, errors.New(errors.KindUnavailable, "nftables requires linux")
}

func (b *NFTablesBackend) DeleteTable(string) error { return nil }
