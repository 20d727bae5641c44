// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFatal    = "fatal"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	OperationsTotal     *prometheus.CounterVec
	OperationLatency    *prometheus.HistogramVec
	InvariantViolations *prometheus.CounterVec
	SwapVolume          *prometheus.CounterVec

	// Market metrics
	OracleObservation *prometheus.GaugeVec
	PoolReserves      *prometheus.GaugeVec

	// Governance metrics
	ProposalsCreated   prometheus.Counter
	ProposalsFinalized *prometheus.CounterVec
	ProposalsExecuted  prometheus.Counter
	CrankerRuns        *prometheus.CounterVec

	// Event metrics
	EventsEmitted    *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	EventSinkErrors  *prometheus.CounterVec
	EventQueueDepth  prometheus.Gauge
	WSClients        prometheus.Gauge

	// Clock metrics
	CurrentSlot    prometheus.Gauge
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "futarchy"
	}

	return &Metrics{
		// Engine metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of operations by name and outcome",
		}, []string{"op", "outcome"}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_latency_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"op"}),
		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Total number of aborted operations that violated a consistency invariant",
		}, []string{"op"}),
		SwapVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "swap_input_total",
			Help:      "Total swap input in base units by direction",
		}, []string{"swap_type"}),

		// Market metrics
		OracleObservation: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "oracle_last_observation",
			Help:      "Last oracle observation in quote per base",
		}, []string{"amm"}),
		PoolReserves: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "reserves",
			Help:      "Pool reserves in real units",
		}, []string{"amm", "side"}),

		// Governance metrics
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_created_total",
			Help:      "Total number of proposals created",
		}),
		ProposalsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_finalized_total",
			Help:      "Total number of proposals finalized by resulting state",
		}, []string{"state"}),
		ProposalsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_executed_total",
			Help:      "Total number of proposals executed",
		}),
		CrankerRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cranker",
			Name:      "runs_total",
			Help:      "Total number of cranker passes by status",
		}, []string{"status"}),

		// Event metrics
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total number of events emitted by name",
		}, []string{"event"}),
		EventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Total number of events delivered by sink",
		}, []string{"sink"}),
		EventSinkErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Total number of failed sink deliveries",
		}, []string{"sink"}),
		EventQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Number of event batches waiting for dispatch",
		}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),

		// Clock metrics
		CurrentSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "clock",
			Name:      "current_slot",
			Help:      "Current slot",
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

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
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records an engine operation.
func RecordOperation(op, outcome string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	DefaultMetrics.OperationLatency.WithLabelValues(op).Observe(seconds)
	if outcome == OutcomeFatal {
		DefaultMetrics.InvariantViolations.WithLabelValues(op).Inc()
	}
}

// RecordSwap adds a swap's input to the volume counter.
func RecordSwap(swapType string, input uint64) {
	DefaultMetrics.SwapVolume.WithLabelValues(swapType).Add(float64(input))
}

// UpdatePool sets the oracle and reserve gauges of an AMM.
func UpdatePool(amm string, observation, baseReserve, quoteReserve float64) {
	DefaultMetrics.OracleObservation.WithLabelValues(amm).Set(observation)
	DefaultMetrics.PoolReserves.WithLabelValues(amm, "base").Set(baseReserve)
	DefaultMetrics.PoolReserves.WithLabelValues(amm, "quote").Set(quoteReserve)
}

// RecordProposalCreated increments the proposals created counter.
func RecordProposalCreated() {
	DefaultMetrics.ProposalsCreated.Inc()
}

// RecordProposalFinalized records a finalized proposal.
func RecordProposalFinalized(state string) {
	DefaultMetrics.ProposalsFinalized.WithLabelValues(state).Inc()
}

// RecordProposalExecuted increments the executed counter.
func RecordProposalExecuted() {
	DefaultMetrics.ProposalsExecuted.Inc()
}

// RecordCrankerRun records one cranker pass.
func RecordCrankerRun(status string) {
	DefaultMetrics.CrankerRuns.WithLabelValues(status).Inc()
}

// RecordEventEmitted counts an emitted event.
func RecordEventEmitted(name string) {
	DefaultMetrics.EventsEmitted.WithLabelValues(name).Inc()
}

// RecordSinkDelivery records a sink delivery of n events.
func RecordSinkDelivery(sink string, n int, err error) {
	if err != nil {
		DefaultMetrics.EventSinkErrors.WithLabelValues(sink).Inc()
		return
	}
	DefaultMetrics.EventsDispatched.WithLabelValues(sink).Add(float64(n))
}

// UpdateEventQueueDepth sets the dispatcher queue gauge.
func UpdateEventQueueDepth(n int) {
	DefaultMetrics.EventQueueDepth.Set(float64(n))
}

// UpdateWSClients sets the websocket client gauge.
func UpdateWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}

// UpdateCurrentSlot updates the slot gauge.
func UpdateCurrentSlot(slot uint64) {
	DefaultMetrics.CurrentSlot.Set(float64(slot))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
