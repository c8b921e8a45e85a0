// Package metrics holds the Prometheus collectors of the execution core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exec_core"

// OrdersPlaced counts orders by backend, side and resulting status.
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Orders submitted to a backend",
	},
	[]string{"backend", "side", "status"},
)

// LimitViolations counts orders rejected by the trading limits guard.
var LimitViolations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "limits",
		Name:      "violations_total",
		Help:      "Orders rejected before reaching a backend",
	},
	[]string{"rule"},
)

// BreakerBlocks counts entries refused by a circuit breaker.
var BreakerBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "breaker_blocks_total",
		Help:      "Entry signals blocked by a circuit breaker",
	},
	[]string{"breaker"},
)

// PhaseTransitions counts lifecycle phase changes by target phase.
var PhaseTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "phase_transitions_total",
		Help:      "Trade phase transitions",
	},
	[]string{"phase"},
)

// TradeCloses counts full and partial closes by reason.
var TradeCloses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "closes_total",
		Help:      "Trade closes by exit reason",
	},
	[]string{"reason"},
)

// CloseFailures counts failed closing-order placements.
var CloseFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "close_failures_total",
		Help:      "Closing orders that failed to place",
	},
	[]string{"symbol"},
)

// CloseFailureAlerts counts trades whose consecutive close failures reached the alert threshold.
var CloseFailureAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "close_failure_alerts_total",
		Help:      "Trades with repeated close failures",
	},
	[]string{"symbol"},
)

// BackendLatency observes backend call latency in seconds.
var BackendLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "call_duration_seconds",
		Help:      "Backend call latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"backend", "operation"},
)

// OpenTrades tracks open trades per user.
var OpenTrades = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "open_trades",
		Help:      "Currently open trades",
	},
	[]string{"user"},
)
