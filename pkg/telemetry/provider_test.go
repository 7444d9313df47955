package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewPrometheusProvider(t *testing.T) {
	mp, err := NewPrometheusProvider()
	require.NoError(t, err)
	t.Cleanup(func() {
		otel.SetMeterProvider(noop.NewMeterProvider())
		_ = mp.Shutdown(context.Background())
	})

	m, err := New(mp)
	require.NoError(t, err)
	m.FramesProcessed.Add(context.Background(), 3)
	m.RecordLatency(context.Background(), 0)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.True(t, hasPrefix(names, "denoise_frames_processed"), "%v", names)
	require.True(t, hasPrefix(names, "denoise_processing_duration"), "%v", names)
}

func hasPrefix(names []string, prefix string) bool {
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
