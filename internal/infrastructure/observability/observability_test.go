package observability

import (
	"testing"

	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderResolvesRegisteredInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := prometrics.Standard(prometrics.New("minishop", "", reg))
	tel := New(nil, nil, counters, histograms)

	tel.Metrics().Counter(observability.MStockOperations).Add(2,
		observability.L("op", "reserve"), observability.L("outcome", observability.Outcome(nil)))
	// unknown keys drop samples instead of panicking
	tel.Metrics().Counter("not_registered").Add(1)
	tel.Metrics().Histogram("not_registered").Observe(1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "minishop_stock_operations_total", mfs[0].GetName())
	assert.InDelta(t, 2, mfs[0].GetMetric()[0].GetCounter().GetValue(), 0.0001)

	assert.NotNil(t, tel.Tracer())
	assert.NotNil(t, tel.Logger())
}
