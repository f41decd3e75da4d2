package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., bifrost_...).
const namespace = "bifrost"

// lowLatencyBuckets defines custom buckets for hot-path operations.
// Standard buckets are too coarse (starting at 5ms): local flag evaluation
// runs in the microsecond range, so sub-millisecond resolution is added.
// Range: 10µs to 100ms.
var lowLatencyBuckets = []float64{.00001, .00005, .0001, .0005, .001, .002, .005, .010, .025, .050, .100}

var (
	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvalDuration measures the latency of flag evaluations.
	// Metric: bifrost_evaluation_duration_seconds
	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "duration_seconds",
		Help:      "Time taken to evaluate one flag locally",
		Buckets:   lowLatencyBuckets,
	})

	// EvalTotal counts evaluations by outcome reason kind.
	// Metric: bifrost_evaluation_total
	EvalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "total",
		Help:      "Total flag evaluations by reason kind",
	}, []string{"reason"})

	// -------------------------------------------------------------------------
	// DATA SYNCHRONIZATION
	// -------------------------------------------------------------------------

	// DataSourceStateGauge tracks the current data source lifecycle state as
	// a one-hot gauge per state label.
	// Metric: bifrost_datasource_state
	DataSourceStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "datasource",
		Name:      "state",
		Help:      "Current data source state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	// DataSourceStatusChangesTotal counts data source status transitions.
	// Metric: bifrost_datasource_status_changes_total
	DataSourceStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "datasource",
		Name:      "status_changes_total",
		Help:      "Total data source status transitions, by resulting state",
	}, []string{"state"})

	// StoreItemsCount tracks how many live items the data store holds.
	// Metric: bifrost_store_items_count
	StoreItemsCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "items_count",
		Help:      "Current number of live items in the data store",
	}, []string{"kind"})

	// -------------------------------------------------------------------------
	// DAEMON (HTTP)
	// -------------------------------------------------------------------------

	// DaemonReqDuration measures the latency of bifrostd HTTP requests.
	// Metric: bifrost_daemon_http_handling_seconds
	DaemonReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "daemon",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in bifrostd",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// DaemonReqTotal counts bifrostd HTTP requests.
	// Metric: bifrost_daemon_http_requests_total
	DaemonReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "daemon",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in bifrostd",
	}, []string{"method", "path", "code"})
)

// SetDataSourceState flips the one-hot state gauge to the given state.
func SetDataSourceState(state string) {
	for _, s := range []string{"INITIALIZING", "VALID", "INTERRUPTED", "OFF"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		DataSourceStateGauge.WithLabelValues(s).Set(v)
	}
}
