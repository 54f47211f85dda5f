// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSizes struct{ unassoc, undecided, conns int }

func (f fixedSizes) UnassociatedDepth() int { return f.unassoc }
func (f fixedSizes) UndecidedDepth() int    { return f.undecided }
func (f fixedSizes) ConnectionCount() int   { return f.conns }

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Verdict("accept", "rule")
		m.Enqueue(QueueUnassociated)
		m.Expire(QueueUndecided, ReasonTTL)
		m.Probe("add")
		m.ResolveFailure()
		m.StaleHandle()
		m.DNS(3)
		m.DecodeError("nfq")
		m.Prompt()
		m.WatchSizes(fixedSizes{})
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Verdict("drop", "expired")
	m.Verdict("drop", "expired")
	m.Expire(QueueUnassociated, ReasonEvicted)
	m.DNS(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("drop", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Expired.WithLabelValues(QueueUnassociated, ReasonEvicted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DNSRecords))
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.WatchSizes(fixedSizes{unassoc: 4, undecided: 1, conns: 9})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `procwall_pending_depth{queue="unassociated"} 4`)
	assert.Contains(t, string(body), `procwall_connections 9`)
}
