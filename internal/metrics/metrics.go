// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes daemon counters to Prometheus. All recording
// methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "procwall"

// Queue labels.
const (
	QueueUnassociated = "unassociated"
	QueueUndecided    = "undecided"
)

// Expiry reasons.
const (
	ReasonTTL      = "ttl"
	ReasonEvicted  = "evicted"
	ReasonShutdown = "shutdown"
)

// Metrics holds every procwall metric on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Verdicts     *prometheus.CounterVec
	Enqueued     *prometheus.CounterVec
	Expired      *prometheus.CounterVec
	ProbeEvents  *prometheus.CounterVec
	ResolveFails prometheus.Counter
	StaleHandles prometheus.Counter
	DNSRecords   prometheus.Counter
	DecodeErrors *prometheus.CounterVec
	Prompts      prometheus.Counter
}

// New creates and registers the metric set, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts issued to the kernel by verdict and origin",
		}, []string{"verdict", "origin"}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_enqueued_total",
			Help:      "Packets placed on a pending queue",
		}, []string{"queue"}),
		Expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_expired_total",
			Help:      "Pending packets dispositioned without a rule decision",
		}, []string{"queue", "reason"}),
		ProbeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_events_total",
			Help:      "Socket lifecycle events received from the probe",
		}, []string{"kind"}),
		ResolveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_failures_total",
			Help:      "Probe events dropped because the process could not be resolved",
		}),
		StaleHandles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_handles_total",
			Help:      "Verdicts rejected because the kernel no longer held the packet",
		}),
		DNSRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_records_total",
			Help:      "Address records learned from DNS responses",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Records that could not be decoded, by source",
		}, []string{"source"}),
		Prompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_total",
			Help:      "Operator prompts published for undecided connections",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Verdicts,
		m.Enqueued,
		m.Expired,
		m.ProbeEvents,
		m.ResolveFails,
		m.StaleHandles,
		m.DNSRecords,
		m.DecodeErrors,
		m.Prompts,
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Sizes reports live queue depths and connection map size.
type Sizes interface {
	UnassociatedDepth() int
	UndecidedDepth() int
	ConnectionCount() int
}

// WatchSizes exports gauges that read from s on every scrape.
func (m *Metrics) WatchSizes(s Sizes) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pending_depth",
			Help:        "Packets currently waiting on a pending queue",
			ConstLabels: prometheus.Labels{"queue": QueueUnassociated},
		}, func() float64 { return float64(s.UnassociatedDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pending_depth",
			Help:        "Packets currently waiting on a pending queue",
			ConstLabels: prometheus.Labels{"queue": QueueUndecided},
		}, func() float64 { return float64(s.UndecidedDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Sockets currently mapped to a process",
		}, func() float64 { return float64(s.ConnectionCount()) }),
	)
}

// Verdict counts one verdict. origin is "rule", "default", "expired" or "dns".
func (m *Metrics) Verdict(verdict, origin string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(verdict, origin).Inc()
}

// Enqueue counts a packet entering a pending queue.
func (m *Metrics) Enqueue(queue string) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(queue).Inc()
}

// Expire counts a pending packet leaving without a rule decision.
func (m *Metrics) Expire(queue, reason string) {
	if m == nil {
		return
	}
	m.Expired.WithLabelValues(queue, reason).Inc()
}

// Probe counts a probe event of kind "add" or "remove".
func (m *Metrics) Probe(kind string) {
	if m == nil {
		return
	}
	m.ProbeEvents.WithLabelValues(kind).Inc()
}

// ResolveFailure counts a dropped probe event.
func (m *Metrics) ResolveFailure() {
	if m == nil {
		return
	}
	m.ResolveFails.Inc()
}

// StaleHandle counts a rejected verdict.
func (m *Metrics) StaleHandle() {
	if m == nil {
		return
	}
	m.StaleHandles.Inc()
}

// DNS counts learned address records.
func (m *Metrics) DNS(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DNSRecords.Add(float64(n))
}

// DecodeError counts an undecodable record from source.
func (m *Metrics) DecodeError(source string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(source).Inc()
}

// Prompt counts a published operator prompt.
func (m *Metrics) Prompt() {
	if m == nil {
		return
	}
	m.Prompts.Inc()
}
