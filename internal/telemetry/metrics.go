package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency for the admin API.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hostfleet",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ProvisionDuration tracks end-to-end Provisioner.Execute duration by outcome.
var ProvisionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hostfleet",
		Subsystem: "provisioner",
		Name:      "duration_seconds",
		Help:      "Provisioning workflow duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
	[]string{"outcome"},
)

// ProvisionStepFailures counts step failures by step name and error kind.
var ProvisionStepFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hostfleet",
		Subsystem: "provisioner",
		Name:      "step_failures_total",
		Help:      "Provisioning step failures by step and error kind.",
	},
	[]string{"step", "kind"},
)

// LifecycleTransitions counts lifecycle state transitions.
var LifecycleTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hostfleet",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Lifecycle state transitions by from/to state.",
	},
	[]string{"from", "to"},
)

// DunningTicksSkipped counts dunning ticks skipped because the leader lock
// could not be acquired within the configured timeout.
var DunningTicksSkipped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hostfleet",
		Subsystem: "dunning",
		Name:      "ticks_skipped_total",
		Help:      "Dunning ticks skipped due to lost leader election.",
	},
)

// BackupSizeBytes observes the size of completed backup archives.
var BackupSizeBytes = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hostfleet",
		Subsystem: "backup",
		Name:      "size_bytes",
		Help:      "Size of completed backup archives in bytes.",
		Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 10),
	},
	[]string{"kind"},
)

// BackupFailuresTotal counts failed backup attempts by kind.
var BackupFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hostfleet",
		Subsystem: "backup",
		Name:      "failures_total",
		Help:      "Failed backup attempts by kind.",
	},
	[]string{"kind"},
)

// WebhookSignatureFailures counts rejected webhook deliveries by reason.
var WebhookSignatureFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hostfleet",
		Subsystem: "webhook",
		Name:      "invalid_total",
		Help:      "Webhook deliveries dropped by reason (bad_signature, unknown_event).",
	},
	[]string{"reason"},
)

// BusOverflow counts events dropped from the EventBus by backpressure: events
// older than the max age, and the oldest events once a tenant's queue is full.
var BusOverflow = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hostfleet",
		Subsystem: "eventbus",
		Name:      "overflow_total",
		Help:      "Events dropped from the bus after exceeding max queue age or max queue length.",
	},
	[]string{"event_type"},
)

// All returns the service-specific collectors to register alongside the
// shared Go/process collectors.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProvisionDuration,
		ProvisionStepFailures,
		LifecycleTransitions,
		DunningTicksSkipped,
		BackupSizeBytes,
		BackupFailuresTotal,
		WebhookSignatureFailures,
		BusOverflow,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
