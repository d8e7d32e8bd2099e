// Package metrics exposes the engine's Prometheus collectors.
//
// Collectors are registered with the default registry in init and served by
// the /metrics handler started in cmd/spotengine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Decisions counts final per-pair actions after gating.
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotengine_decisions_total",
			Help: "Final actions per evaluated pair",
		},
		[]string{"action"},
	)

	// Orders counts executed orders; mode is live or dry.
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotengine_orders_total",
			Help: "Executed orders",
		},
		[]string{"mode", "side"},
	)

	// GateRejections counts actions cancelled by a gate.
	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotengine_gate_rejections_total",
			Help: "Actions cancelled by a risk gate",
		},
		[]string{"gate"},
	)

	// SkippedOrders counts orders refused before reaching the exchange.
	SkippedOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotengine_skipped_orders_total",
			Help: "Orders skipped by pre-trade checks",
		},
		[]string{"reason"},
	)

	// PairErrors counts pairs skipped for the cycle because of an error.
	PairErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spotengine_pair_errors_total",
			Help: "Pairs skipped for a cycle after an error",
		},
	)

	// BreakerActive is 1 while the circuit breaker suppresses buys.
	BreakerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotengine_breaker_active",
			Help: "Circuit breaker state (1 active)",
		},
	)

	// LastProgress is the unix time of the latest engine progress.
	LastProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spotengine_last_progress_timestamp_seconds",
			Help: "Unix time of the latest engine progress",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spotengine_cycle_duration_seconds",
			Help:    "Duration of one scheduling cycle",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(Decisions, Orders, GateRejections, SkippedOrders, PairErrors)
	prometheus.MustRegister(BreakerActive, LastProgress, CycleDuration)
}

// Mode returns the orders label for dry-run or live execution.
func Mode(dryRun bool) string {
	if dryRun {
		return "dry"
	}
	return "live"
}

// SetBreaker updates the breaker gauge.
func SetBreaker(active bool) {
	if active {
		BreakerActive.Set(1)
		return
	}
	BreakerActive.Set(0)
}

// MarkProgress records t as the latest progress.
func MarkProgress(t time.Time) {
	LastProgress.Set(float64(t.UnixNano()) / float64(time.Second))
}
