// Package metrics exposes Prometheus instrumentation for the MicroView
// host and NIC agents.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics (C1)
	PodsRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "microview_pods_registered_total",
			Help: "Total number of pods successfully admitted by the shared-memory registry",
		},
	)

	RegistrationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microview_registration_failures_total",
			Help: "Total number of aborted pod registrations by reason",
		},
		[]string{"reason"},
	)

	// Session / connection metrics (C2)
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "microview_active_connections",
			Help: "Number of live RDMA connections currently tracked by the NIC agent",
		},
	)

	ConnectionsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "microview_connections_accepted_total",
			Help: "Total number of RDMA connections accepted by the NIC agent",
		},
	)

	ProtocolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microview_protocol_errors_total",
			Help: "Total number of protocol violations observed, by kind",
		},
		[]string{"kind"},
	)

	// Read-scheduler metrics (C3)
	ReadsPostedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "microview_reads_posted_total",
			Help: "Total number of one-sided RDMA READ work requests posted",
		},
	)

	BatchesCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "microview_batches_completed_total",
			Help: "Total number of per-connection read batches completed",
		},
	)

	ConnectionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "microview_connection_read_latency_seconds",
			Help:    "Per-connection batch completion latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GlobalLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "microview_tick_read_latency_seconds",
			Help:    "Fan-out-to-complete-all latency per tick, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Liveness metrics (C4)
	PodsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "microview_pods_evicted_total",
			Help: "Total number of pods disconnected after failing a liveness probe",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PodsRegisteredTotal,
		RegistrationFailuresTotal,
		ActiveConnections,
		ConnectionsAcceptedTotal,
		ProtocolErrorsTotal,
		ReadsPostedTotal,
		BatchesCompletedTotal,
		ConnectionLatencySeconds,
		GlobalLatencySeconds,
		PodsEvictedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
