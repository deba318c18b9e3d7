// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics covers both execution paths.
type EngineMetrics struct {
	Attempts         *prometheus.CounterVec // by path and terminal status
	Profit           *prometheus.HistogramVec
	SubmitLatency    prometheus.Histogram
	InclusionLatency prometheus.Histogram
	NonceAllocations prometheus.Counter
	PartialFills     prometheus.Counter
}

// NewEngineMetrics registers engine metrics with the given registerer.
func NewEngineMetrics(reg prometheus.Registerer, namespace string) *EngineMetrics {
	factory := promauto.With(reg)
	return &EngineMetrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Arbitrage attempts by execution path and terminal status",
		}, []string{"path", "status"}),
		Profit: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_profit_wei",
			Help:      "Signed profit per attempt in wei",
			// Observations are signed, so the negative half resolves losses
			// instead of lumping them into a single underflow bucket.
			Buckets: []float64{
				-1e18, -1e17, -1e16, -1e15, -1e12, 0,
				1e12, 1e15, 1e16, 1e17, 1e18,
			},
		}, []string{"path"}),
		SubmitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_seconds",
			Help:      "Time from signing to transaction acceptance by the node",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		InclusionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inclusion_latency_seconds",
			Help:      "Time from submission to inclusion result",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		NonceAllocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_allocations_total",
			Help:      "Nonce windows allocated for parallel attempts",
		}),
		PartialFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_fills_total",
			Help:      "Parallel attempts where exactly one leg settled",
		}),
	}
}

// ObserveProfit records a signed profit value, tolerating magnitudes beyond
// float precision; audit records remain the exact source of truth.
func (m *EngineMetrics) ObserveProfit(path string, profit *big.Int) {
	f, _ := new(big.Float).SetInt(profit).Float64()
	m.Profit.WithLabelValues(path).Observe(f)
}
