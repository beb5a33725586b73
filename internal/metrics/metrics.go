// Package metrics exposes Prometheus counters for the trading pipeline.
//
//   - sigtrader_decisions_total{decision_type,reason_code}  terminal traces by outcome
//   - sigtrader_trace_write_failures_total                   traces that could not be stored
//   - sigtrader_orders_total{role,side,result}               order submissions
//   - sigtrader_fills_total{role,side}                       fill deltas applied to exposure
//   - sigtrader_dedup_total                                  ledger collisions
//   - sigtrader_unit_abandoned_total                         units still running at tick deadline
//   - sigtrader_unit_duration_seconds                        per-symbol unit latency
//   - sigtrader_tick_duration_seconds                        whole tick latency
//
// Registered in init() and served at /metrics by the web server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrader_decisions_total",
			Help: "Terminal decision traces by type and reason",
		},
		[]string{"decision_type", "reason_code"},
	)

	traceWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sigtrader_trace_write_failures_total",
			Help: "Decision traces that could not be persisted",
		},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrader_orders_total",
			Help: "Order submissions by role, side and result",
		},
		[]string{"role", "side", "result"}, // result: placed|rejected|transient
	)

	fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrader_fills_total",
			Help: "Fill deltas applied to exposure",
		},
		[]string{"role", "side"},
	)

	dedup = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sigtrader_dedup_total",
			Help: "Signals suppressed by an idempotency key collision",
		},
	)

	abandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sigtrader_unit_abandoned_total",
			Help: "Per-symbol units still running when the tick deadline passed",
		},
	)

	unitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigtrader_unit_duration_seconds",
			Help:    "Per-symbol unit duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigtrader_tick_duration_seconds",
			Help:    "Whole tick duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, traceWriteFailures)
	prometheus.MustRegister(orders, fills, dedup)
	prometheus.MustRegister(abandoned, unitDuration, tickDuration)
}

func IncDecision(decisionType, reason string) { decisions.WithLabelValues(decisionType, reason).Inc() }
func IncTraceWriteFailure()                   { traceWriteFailures.Inc() }
func IncOrder(role, side, result string)      { orders.WithLabelValues(role, side, result).Inc() }
func IncFill(role, side string)               { fills.WithLabelValues(role, side).Inc() }
func IncDedup()                               { dedup.Inc() }
func IncAbandoned()                           { abandoned.Inc() }

func ObserveUnit(d time.Duration) { unitDuration.Observe(d.Seconds()) }
func ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }
