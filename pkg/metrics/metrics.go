package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_containers_total",
			Help: "Number of registered containers by lifecycle state",
		},
		[]string{"state"},
	)

	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_state_transitions_total",
			Help: "Committed lifecycle transitions by source and target state",
		},
		[]string{"from", "to"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_operation_duration_seconds",
			Help:    "Duration of lifecycle operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_operation_errors_total",
			Help: "Failed lifecycle operations by operation",
		},
		[]string{"operation"},
	)

	CrashRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_crash_restarts_total",
			Help: "Containers restarted after crashing",
		},
	)

	RuntimeExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_runtime_exits_total",
			Help: "Observed container init exits by outcome",
		},
		[]string{"outcome"},
	)

	// Plugin metrics
	HookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_hook_duration_seconds",
			Help:    "Plugin hook execution time in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
		[]string{"plugin", "stage"},
	)

	HookFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_hook_failures_total",
			Help: "Failed plugin hooks by plugin and stage",
		},
		[]string{"plugin", "stage"},
	)

	// Work queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_workqueue_depth",
			Help: "Tasks queued but not yet started",
		},
	)

	QueueLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_workqueue_wait_seconds",
			Help:    "Time tasks spend queued before a worker picks them up",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Network metrics
	AddressesAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_addresses_allocated",
			Help: "Container addresses currently allocated from the pool",
		},
	)

	RuleSetsApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_rule_sets_applied",
			Help: "Firewall rule sets currently installed",
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(StateTransitions)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(OperationErrors)
	prometheus.MustRegister(CrashRestarts)
	prometheus.MustRegister(RuntimeExits)
	prometheus.MustRegister(HookDuration)
	prometheus.MustRegister(HookFailures)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueLatency)
	prometheus.MustRegister(AddressesAllocated)
	prometheus.MustRegister(RuleSetsApplied)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
