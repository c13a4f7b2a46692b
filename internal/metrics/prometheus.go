// Package metrics defines the Prometheus instrumentation exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by endpoint, method and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botpulse_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration tracks HTTP request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botpulse_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// EventsReceived counts accepted telemetry events by kind.
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botpulse_events_received_total",
			Help: "Total number of telemetry events received",
		},
		[]string{"kind"},
	)

	// CurrentConnections mirrors the recomputed connected-instance count.
	CurrentConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botpulse_current_connections",
			Help: "Number of instances currently reporting as connected",
		},
	)

	// PeakConnections mirrors the historical peak ratchet.
	PeakConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botpulse_peak_connections",
			Help: "Historical maximum of concurrently connected instances",
		},
	)

	// TrackedInstances is the total instance count in the dataset.
	TrackedInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botpulse_tracked_instances",
			Help: "Total number of tracked instances",
		},
	)

	// TrackedUsers is the total user count in the dataset.
	TrackedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botpulse_tracked_users",
			Help: "Total number of tracked users",
		},
	)

	// StoreLoadFailures counts dataset loads that fell back to defaults.
	StoreLoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botpulse_store_load_failures_total",
			Help: "Total number of dataset load failures",
		},
	)

	// StoreSaveFailures counts swallowed dataset save failures.
	StoreSaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botpulse_store_save_failures_total",
			Help: "Total number of dataset save failures",
		},
	)

	// MaintenanceSweeps counts completed maintenance sweeps.
	MaintenanceSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botpulse_maintenance_sweeps_total",
			Help: "Total number of completed maintenance sweeps",
		},
	)

	// EvictedInstances counts stale instances removed by maintenance.
	EvictedInstances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botpulse_evicted_instances_total",
			Help: "Total number of stale instances evicted",
		},
	)

	// CacheHits counts read-model cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botpulse_cache_hits_total",
			Help: "Total number of read-model cache hits",
		},
	)

	// CacheMisses counts read-model cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botpulse_cache_misses_total",
			Help: "Total number of read-model cache misses",
		},
	)
)

// UpdateDatasetGauges refreshes the dataset-shape gauges after a mutation.
func UpdateDatasetGauges(instances, users, current, peak int) {
	TrackedInstances.Set(float64(instances))
	TrackedUsers.Set(float64(users))
	CurrentConnections.Set(float64(current))
	PeakConnections.Set(float64(peak))
}
