package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.FramesProcessed.Add(ctx, 3)
	m.RecordInferenceFailure(ctx, ReasonTimeout)
	m.RecordInferenceFailure(ctx, ReasonTimeout)
	m.RecordInferenceFailure(ctx, ReasonPanic)
	m.RecordFallback(ctx, FallbackCorruptInput)

	rm := collect(t, reader)

	frames := findMetric(rm, "denoise.frames.processed")
	require.NotNil(t, frames)
	sum, ok := frames.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	failures := findMetric(rm, "denoise.inference.failures")
	require.NotNil(t, failures)
	sum, ok = failures.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byReason := map[string]int64{}
	for _, dp := range sum.DataPoints {
		reason, ok := dp.Attributes.Value(attribute.Key("reason"))
		require.True(t, ok)
		byReason[reason.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{ReasonTimeout: 2, ReasonPanic: 1}, byReason)

	require.NotNil(t, findMetric(rm, "denoise.fallbacks"))
}

func TestLatency(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordLatency(ctx, 4*time.Millisecond)

	latency := findMetric(collect(t, reader), "denoise.processing.duration")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 4.0, hist.DataPoints[0].Sum, 1e-9)
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	unregister, err := m.ObserveGauges(func() Gauges {
		return Gauges{State: 2, MemoryPressure: 1, InputLevel: 0.5}
	})
	require.NoError(t, err)

	rm := collect(t, reader)
	state := findMetric(rm, "denoise.state")
	require.NotNil(t, state)
	gauge, ok := state.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)

	level := findMetric(rm, "denoise.input.level")
	require.NotNil(t, level)
	fgauge, ok := level.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, 0.5, fgauge.DataPoints[0].Value)

	require.NoError(t, unregister())
}

func TestNop(t *testing.T) {
	m := Nop()
	m.FramesProcessed.Add(context.Background(), 1)
	m.RecordLatency(context.Background(), time.Millisecond)
}
