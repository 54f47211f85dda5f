// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package firewall

import (
	"testing"

	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/testutil"
)

func TestNFTablesGuardRoundTrip(t *testing.T) {
	testutil.RequireKernel(t)

	backend, err := NewNFTablesBackend()
	require.NoError(t, err)

	spec := testSpec()
	spec.Table = "procwall_test"
	spec.Queues = Queues{OutboundV4: 4000, OutboundV6: 4001, InboundV4: 4002, InboundV6: 4003}

	guard, err := Install(backend, spec, logging.Default())
	require.NoError(t, err)

	counts, err := backend.RuleCounts(spec.Table)
	require.NoError(t, err)
	assert.Equal(t, ruleCounts(spec.Rules()), counts)

	require.NoError(t, guard.Close())
	_, err = backend.RuleCounts(spec.Table)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func ctMask(exprs []expr.Any) (uint32, bool) {
	for i, e := range exprs {
		ct, ok := e.(*expr.Ct)
		if !ok || ct.Key != expr.CtKeySTATE || i+1 >= len(exprs) {
			continue
		}
		if bw, ok := exprs[i+1].(*expr.Bitwise); ok {
			return binaryutil.NativeEndian.Uint32(bw.Mask), true
		}
	}
	return 0, false
}

func TestRuleExprs_ConntrackStates(t *testing.T) {
	dns := ruleExprs(RuleSpec{Chain: ChainInput, Kind: RuleQueueDNS, Family: kernel.FamilyIPv4, Queue: 2})
	mask, ok := ctMask(dns)
	require.True(t, ok)
	assert.Equal(t, uint32(expr.CtStateBitESTABLISHED), mask)
	assert.Equal(t, &expr.Queue{Num: 2}, dns[len(dns)-1])

	newRule := ruleExprs(RuleSpec{Chain: ChainInput, Kind: RuleQueueNew, Family: kernel.FamilyIPv6, Queue: 3})
	mask, ok = ctMask(newRule)
	require.True(t, ok)
	assert.Equal(t, uint32(expr.CtStateBitNEW|expr.CtStateBitRELATED), mask)
}
