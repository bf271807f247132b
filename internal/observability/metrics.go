// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Job runner metrics
	JobsProcessed    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	JobsInFlight     *prometheus.GaugeVec

	// Execution metrics
	ExecutionsTotal     *prometheus.CounterVec
	ExecutionLatency    *prometheus.HistogramVec
	ExecutionsSkipped   *prometheus.CounterVec
	DuplicateSignatures prometheus.Counter

	// Solana metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Scheduler metrics
	AggregatorTicks      prometheus.Counter
	AggregatorDispatches prometheus.Counter
	AggregatorDebounced  prometheus.Counter

	// Funds metrics
	WalletsDistributed prometheus.Counter
	LamportsGathered   prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulJob prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "volume_engine"
	}

	return &Metrics{
		// Job runner metrics
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of jobs completed successfully by queue",
		}, []string{"queue"}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of failed job attempts by queue",
		}, []string{"queue"}),
		JobsDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "dead_lettered_total",
			Help:      "Total number of jobs archived to a dead-letter queue",
		}, []string{"queue"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"queue", "status"}),
		JobsInFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of jobs currently executing by queue",
		}, []string{"queue"}),

		// Execution metrics
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total number of on-chain executions by executor kind and side",
		}, []string{"executor", "side"}),
		ExecutionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "confirmation_latency_seconds",
			Help:      "Submission to confirmation latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"executor"}),
		ExecutionsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "skipped_total",
			Help:      "Total number of trade steps skipped by reason",
		}, []string{"reason"}),
		DuplicateSignatures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "duplicate_signatures_total",
			Help:      "Total number of signatures already present in the execution log",
		}),

		// Solana metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),

		// Scheduler metrics
		AggregatorTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "ticks_total",
			Help:      "Total number of aggregator ticks",
		}),
		AggregatorDispatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "dispatches_total",
			Help:      "Total number of status jobs dispatched",
		}),
		AggregatorDebounced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "debounced_total",
			Help:      "Total number of runs skipped by the debounce window",
		}),

		// Funds metrics
		WalletsDistributed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "wallets_distributed_total",
			Help:      "Total number of wallets generated and funded",
		}),
		LamportsGathered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "lamports_gathered_total",
			Help:      "Total lamports swept back to funding wallets",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulJob: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_job_timestamp",
			Help:      "Unix timestamp of last successful job",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordJobStarted increments the in-flight gauge of a queue.
func RecordJobStarted(queue string) {
	DefaultMetrics.JobsInFlight.WithLabelValues(queue).Inc()
}

// RecordJobFinished records the outcome and duration of one job attempt.
func RecordJobFinished(queue string, d time.Duration, err error) {
	DefaultMetrics.JobsInFlight.WithLabelValues(queue).Dec()
	status := "succeeded"
	if err != nil {
		status = "failed"
		DefaultMetrics.JobsFailed.WithLabelValues(queue).Inc()
	} else {
		DefaultMetrics.JobsProcessed.WithLabelValues(queue).Inc()
		DefaultMetrics.LastSuccessfulJob.SetToCurrentTime()
	}
	DefaultMetrics.JobDuration.WithLabelValues(queue, status).Observe(d.Seconds())
}

// RecordDeadLetter increments the dead-lettered counter of a queue.
func RecordDeadLetter(queue string) {
	DefaultMetrics.JobsDeadLettered.WithLabelValues(queue).Inc()
}

// RecordExecution records a confirmed on-chain execution.
func RecordExecution(executor, side string, latency time.Duration) {
	DefaultMetrics.ExecutionsTotal.WithLabelValues(executor, side).Inc()
	DefaultMetrics.ExecutionLatency.WithLabelValues(executor).Observe(latency.Seconds())
}

// RecordSkipped records a trade step that did not trade.
func RecordSkipped(reason string) {
	DefaultMetrics.ExecutionsSkipped.WithLabelValues(reason).Inc()
}

// RecordDuplicateSignature records a signature already seen by the idempotency ledger.
func RecordDuplicateSignature() {
	DefaultMetrics.DuplicateSignatures.Inc()
}

// RecordRPCCall records RPC call latency and errors. Matches the solana client observer signature.
func RecordRPCCall(method string, d time.Duration, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordAggregatorTick records one aggregator tick and its outcome.
func RecordAggregatorTick(dispatched, debounced int) {
	DefaultMetrics.AggregatorTicks.Inc()
	DefaultMetrics.AggregatorDispatches.Add(float64(dispatched))
	DefaultMetrics.AggregatorDebounced.Add(float64(debounced))
}

// RecordDistributed records funded wallets.
func RecordDistributed(n int) {
	DefaultMetrics.WalletsDistributed.Add(float64(n))
}

// RecordGathered records lamports swept back to a funding wallet.
func RecordGathered(lamports uint64) {
	DefaultMetrics.LamportsGathered.Add(float64(lamports))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
