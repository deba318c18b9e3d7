package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestEngineMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg, "arbot")

	m.Attempts.WithLabelValues("atomic", "committed").Inc()
	m.Attempts.WithLabelValues("atomic", "committed").Inc()
	m.Attempts.WithLabelValues("parallel", "partially_filled").Inc()
	m.PartialFills.Inc()
	m.ObserveProfit("atomic", big.NewInt(300))

	attempts := gatherFamily(t, reg, "arbot_attempts_total")
	require.NotNil(t, attempts)
	require.Len(t, attempts.Metric, 2)

	total := 0.0
	for _, metric := range attempts.Metric {
		total += metric.GetCounter().GetValue()
	}
	assert.Equal(t, 3.0, total)

	partials := gatherFamily(t, reg, "arbot_partial_fills_total")
	require.NotNil(t, partials)
	assert.Equal(t, 1.0, partials.Metric[0].GetCounter().GetValue())

	profit := gatherFamily(t, reg, "arbot_attempt_profit_wei")
	require.NotNil(t, profit)
	assert.Equal(t, uint64(1), profit.Metric[0].GetHistogram().GetSampleCount())
	assert.Equal(t, 300.0, profit.Metric[0].GetHistogram().GetSampleSum())
}

func TestObserveProfitResolvesLosses(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg, "arbot")

	m.ObserveProfit("parallel", big.NewInt(-5_000_000_000_000_000)) // -5e15 wei

	profit := gatherFamily(t, reg, "arbot_attempt_profit_wei")
	require.NotNil(t, profit)
	hist := profit.Metric[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.Equal(t, -5e15, hist.GetSampleSum())

	// The loss lands between -1e16 and -1e15, not in the lowest bucket.
	for _, b := range hist.GetBucket() {
		switch b.GetUpperBound() {
		case -1e16:
			assert.Equal(t, uint64(0), b.GetCumulativeCount())
		case -1e15:
			assert.Equal(t, uint64(1), b.GetCumulativeCount())
		}
	}
}

func TestEngineMetricsDoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewEngineMetrics(reg, "arbot")
	assert.Panics(t, func() { NewEngineMetrics(reg, "arbot") })
}
