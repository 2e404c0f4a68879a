package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"igcrawler/pkg/config"
	"igcrawler/pkg/models"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestCountersRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.ItemFinished(ctx, models.StateSucceeded)
	m.ItemFinished(ctx, models.StateTerminalFailure)
	m.Rotation(ctx, "rate_limited")
	m.RateLimited(ctx)
	m.RateLimited(ctx)
	m.Discovered(ctx, "lens", 7)
	m.Discovered(ctx, "lens", 0)
	m.Flushed(ctx, true)

	totals := collect(t, reader)
	assert.Equal(t, int64(2), totals["igcrawler.items"])
	assert.Equal(t, int64(1), totals["igcrawler.proxy.rotations"])
	assert.Equal(t, int64(2), totals["igcrawler.rate_limits"])
	assert.Equal(t, int64(7), totals["igcrawler.scan.discovered"])
	assert.Equal(t, int64(1), totals["igcrawler.flushes"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.ItemFinished(ctx, models.StateSucceeded)
	m.Rotation(ctx, "x")
	m.RateLimited(ctx)
	m.Discovered(ctx, "x", 1)
	m.Flushed(ctx, false)
	assert.NoError(t, m.Shutdown(ctx))
}

func TestSetupDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = false

	m, err := Setup(context.Background(), cfg, nil)
	require.NoError(t, err)
	m.ItemFinished(context.Background(), models.StateSucceeded)
	assert.NoError(t, m.Shutdown(context.Background()))
}
