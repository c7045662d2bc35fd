// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Flow ingestion metrics
	FlowsDetected        *prometheus.CounterVec
	FlowsBelowMinimum    prometheus.Counter
	FlowAmountBTC        prometheus.Histogram
	FlowDetectionLag     prometheus.Histogram
	FlowProcessingErrors *prometheus.CounterVec

	// Pipeline metrics
	DecisionsTotal   *prometheus.CounterVec
	GateRejections   *prometheus.CounterVec
	GateFallbacks    *prometheus.CounterVec
	EvaluateDuration prometheus.Histogram

	// Position metrics
	PositionsOpened *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	CurrentCapital  prometheus.Gauge
	RealizedPnLUSD  prometheus.Counter
	RealizedLossUSD prometheus.Counter

	// Execution metrics
	OrderFailures *prometheus.CounterVec

	// Market data metrics
	BookFetchLatency    *prometheus.HistogramVec
	BookFetchErrors     *prometheus.CounterVec
	BreakerStateChanges *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastFlowDetected prometheus.Gauge
	LastDecision     prometheus.Gauge
	WSReconnects     prometheus.Counter
	UptimeSeconds    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "btc_flow_trader"
	}

	return &Metrics{
		// Flow ingestion metrics
		FlowsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flows",
			Name:      "detected_total",
			Help:      "Total number of flow events received by type",
		}, []string{"flow_type"}),
		FlowsBelowMinimum: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flows",
			Name:      "below_minimum_total",
			Help:      "Total number of flows filtered for being under the size floor",
		}),
		FlowAmountBTC: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flows",
			Name:      "amount_btc",
			Help:      "Flow sizes in BTC",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		FlowDetectionLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flows",
			Name:      "detection_lag_seconds",
			Help:      "Broadcast-to-detection lag reported by the flow monitor",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FlowProcessingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flows",
			Name:      "processing_errors_total",
			Help:      "Total number of flow processing errors by type",
		}, []string{"error_type"}),

		// Pipeline metrics
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Total number of pipeline decisions by status",
		}, []string{"status"}),
		GateRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "gate_rejections_total",
			Help:      "Total number of rejections by gate",
		}, []string{"gate"}),
		GateFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "gate_fallbacks_total",
			Help:      "Total number of fallback passes by gate",
		}, []string{"gate"}),
		EvaluateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "evaluate_duration_seconds",
			Help:      "Flow evaluation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Position metrics
		PositionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened by venue and instrument",
		}, []string{"venue", "instrument"}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by reason",
		}, []string{"reason"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Current number of open positions",
		}),
		CurrentCapital: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "capital_usd",
			Help:      "Current account capital in USD",
		}),
		RealizedPnLUSD: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "realized_profit_usd_total",
			Help:      "Total realized profit in USD from winning closes",
		}),
		RealizedLossUSD: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "realized_loss_usd_total",
			Help:      "Total realized loss in USD from losing closes",
		}),

		// Execution metrics
		OrderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_failures_total",
			Help:      "Total number of venue orders that failed to place",
		}, []string{"venue", "side"}),

		// Market data metrics
		BookFetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_latency_seconds",
			Help:      "Venue data fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue", "kind"}),
		BookFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_errors_total",
			Help:      "Total number of venue data fetch errors",
		}, []string{"venue", "kind"}),
		BreakerStateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "breaker_state_changes_total",
			Help:      "Total number of circuit breaker state transitions",
		}, []string{"breaker", "to"}),

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
		LastFlowDetected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_flow_timestamp",
			Help:      "Unix timestamp of the last flow event received",
		}),
		LastDecision: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_decision_timestamp",
			Help:      "Unix timestamp of the last pipeline decision",
		}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "ws_reconnects_total",
			Help:      "Total number of flow source reconnects",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFlowDetected counts one received flow event. A zero lag means the
// monitor did not report one.
func RecordFlowDetected(flowType string, amountBTC, lagSeconds float64, unixNow float64) {
	DefaultMetrics.FlowsDetected.WithLabelValues(flowType).Inc()
	DefaultMetrics.FlowAmountBTC.Observe(amountBTC)
	if lagSeconds > 0 {
		DefaultMetrics.FlowDetectionLag.Observe(lagSeconds)
	}
	DefaultMetrics.LastFlowDetected.Set(unixNow)
}

// RecordDecision counts one pipeline decision with its gate outcomes.
func RecordDecision(status, rejectedAt string, fallbackGates []string, durationSeconds float64, unixNow float64) {
	DefaultMetrics.DecisionsTotal.WithLabelValues(status).Inc()
	if rejectedAt != "" {
		DefaultMetrics.GateRejections.WithLabelValues(rejectedAt).Inc()
	}
	for _, gate := range fallbackGates {
		DefaultMetrics.GateFallbacks.WithLabelValues(gate).Inc()
	}
	DefaultMetrics.EvaluateDuration.Observe(durationSeconds)
	DefaultMetrics.LastDecision.Set(unixNow)
}

// RecordPositionOpened counts one opened position.
func RecordPositionOpened(venue, instrument string, openCount int) {
	DefaultMetrics.PositionsOpened.WithLabelValues(venue, instrument).Inc()
	DefaultMetrics.OpenPositions.Set(float64(openCount))
}

// RecordPositionClosed counts one closed position and its realized result.
func RecordPositionClosed(reason string, pnlUSD float64, openCount int, capital float64) {
	DefaultMetrics.PositionsClosed.WithLabelValues(reason).Inc()
	DefaultMetrics.OpenPositions.Set(float64(openCount))
	DefaultMetrics.CurrentCapital.Set(capital)
	if pnlUSD >= 0 {
		DefaultMetrics.RealizedPnLUSD.Add(pnlUSD)
	} else {
		DefaultMetrics.RealizedLossUSD.Add(-pnlUSD)
	}
}

// RecordOrderFailure counts one venue order that failed to place.
func RecordOrderFailure(venue, side string) {
	DefaultMetrics.OrderFailures.WithLabelValues(venue, side).Inc()
}

// RecordFetch records a venue data fetch.
func RecordFetch(venue, kind string, seconds float64, err error) {
	DefaultMetrics.BookFetchLatency.WithLabelValues(venue, kind).Observe(seconds)
	if err != nil {
		DefaultMetrics.BookFetchErrors.WithLabelValues(venue, kind).Inc()
	}
}

// RecordBreakerChange records a circuit breaker transition.
func RecordBreakerChange(breaker, to string) {
	DefaultMetrics.BreakerStateChanges.WithLabelValues(breaker, to).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordUptimeTick adds elapsed seconds to the uptime counter.
func RecordUptimeTick(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}

// RecordWSReconnect counts one flow source reconnect.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordFlowError records a flow processing error.
func RecordFlowError(errorType string) {
	DefaultMetrics.FlowProcessingErrors.WithLabelValues(errorType).Inc()
}

// RecordFlowBelowMinimum counts one flow dropped for being under the size floor.
func RecordFlowBelowMinimum() {
	DefaultMetrics.FlowsBelowMinimum.Inc()
}
