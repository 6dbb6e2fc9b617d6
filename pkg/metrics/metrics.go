package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcpden_instances_total",
			Help: "Number of instances by status",
		},
		[]string{"status"},
	)

	InstanceStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpden_instance_starts_total",
			Help: "Total instance start attempts",
		},
	)

	InstanceCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpden_instance_crashes_total",
			Help: "Total unexpected instance exits",
		},
	)

	InstanceRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpden_instance_retries_total",
			Help: "Total automatic restart attempts",
		},
	)

	// Port metrics
	PortsReserved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpden_ports_reserved",
			Help: "Loopback ports currently reserved for instances",
		},
	)

	// Gateway metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpden_gateway_requests_total",
			Help: "Gateway requests by upstream status class",
		},
		[]string{"status"},
	)

	GatewayUpstreamErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpden_gateway_upstream_errors_total",
			Help: "Gateway requests that failed to reach the instance",
		},
	)

	GatewayRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mcpden_gateway_request_duration_seconds",
			Help:    "Gateway round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpden_events_published_total",
			Help: "Events published by topic",
		},
		[]string{"topic"},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpden_event_subscribers",
			Help: "Currently connected event subscribers",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpden_sessions_active",
			Help: "Live sessions tracked by the session store",
		},
	)

	// Store metrics
	StoreWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpden_store_write_failures_total",
			Help: "Persisted-store write failures by store",
		},
		[]string{"store"},
	)
)

var registerOnce sync.Once

// Register registers all mcpden collectors with the default registry.
// Safe to call more than once; only the first call registers.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		InstancesTotal,
		InstanceStartsTotal,
		InstanceCrashesTotal,
		InstanceRetriesTotal,
		PortsReserved,
		GatewayRequestsTotal,
		GatewayUpstreamErrors,
		GatewayRequestDuration,
		EventsPublishedTotal,
		EventSubscribers,
		SessionsActive,
		StoreWriteFailures,
	)
}
