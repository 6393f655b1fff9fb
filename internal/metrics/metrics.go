// Package metrics exposes Prometheus instrumentation for a KV node: request
// counters, WAL/snapshot latency histograms, and election transition counts.
// Metrics are served on a dedicated admin HTTP port, kept deliberately
// separate from the raw TCP client port so the two protocols never share a
// listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector a node registers. Construct one per node
// with New and pass it down to the protocol/store/cluster layers that
// observe it.
type Metrics struct {
	Requests            *prometheus.CounterVec
	WALAppendSeconds    prometheus.Histogram
	SnapshotSeconds     prometheus.Histogram
	ElectionTransitions *prometheus.CounterVec

	registry *prometheus.Registry
}

// New builds and registers every collector on a fresh registry, so multiple
// nodes running in the same test process never collide on the default
// global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvstore_requests_total",
			Help: "Total requests handled, labeled by method and outcome.",
		}, []string{"method", "outcome"}),
		WALAppendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvstore_wal_append_seconds",
			Help:    "Latency of WAL append+fsync calls.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvstore_snapshot_seconds",
			Help:    "Latency of snapshot writes.",
			Buckets: prometheus.DefBuckets,
		}),
		ElectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvstore_election_transitions_total",
			Help: "Election state machine transitions, labeled by target state.",
		}, []string{"state"}),
		registry: reg,
	}

	reg.MustRegister(m.Requests, m.WALAppendSeconds, m.SnapshotSeconds, m.ElectionTransitions)
	return m
}

// ObserveRequest records one completed request's method and outcome
// ("ok" or the error token returned to the client).
func (m *Metrics) ObserveRequest(method, outcome string) {
	m.Requests.WithLabelValues(method, outcome).Inc()
}

// Handler returns the HTTP handler to mount on the admin port's /metrics
// route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
