// Package telemetry holds the OpenTelemetry instruments of the denoiser.
//
// Tests should use New with a dedicated metric.MeterProvider; Default uses
// the global provider.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/xaionaro-go/denoise"

// Failure reasons used as the "reason" attribute.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
	ReasonPanic   = "panic"
	ReasonBusy    = "busy"
)

// Fallback kinds used as the "kind" attribute.
const (
	FallbackCorruptInput   = "corrupt_input"
	FallbackQueueFull      = "queue_full"
	FallbackMemoryPressure = "memory_pressure"
)

type Metrics struct {
	FramesProcessed   metric.Int64Counter
	InferenceFailures metric.Int64Counter
	BufferOverflows   metric.Int64Counter
	BreakerTrips      metric.Int64Counter
	Fallbacks         metric.Int64Counter
	Underruns         metric.Int64Counter
	ProcessingLatency metric.Float64Histogram

	meter metric.Meter
}

var latencyBucketsMS = []float64{
	0.5, 1, 2, 3, 5, 7.5, 10, 15, 20, 30, 50, 100,
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{meter: m}
	var err error

	if met.FramesProcessed, err = m.Int64Counter("denoise.frames.processed",
		metric.WithDescription("Chunks passed through the model."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the frames counter: %w", err)
	}
	if met.InferenceFailures, err = m.Int64Counter("denoise.inference.failures",
		metric.WithDescription("Failed inference calls by reason."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the inference failures counter: %w", err)
	}
	if met.BufferOverflows, err = m.Int64Counter("denoise.buffer.overflows",
		metric.WithDescription("Appends exceeding the capacity of the input buffer."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the overflows counter: %w", err)
	}
	if met.BreakerTrips, err = m.Int64Counter("denoise.buffer.breaker_trips",
		metric.WithDescription("Times the input buffer stopped accepting audio."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the breaker counter: %w", err)
	}
	if met.Fallbacks, err = m.Int64Counter("denoise.fallbacks",
		metric.WithDescription("Chunks that bypassed the model by kind."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the fallbacks counter: %w", err)
	}
	if met.Underruns, err = m.Int64Counter("denoise.output.underruns",
		metric.WithDescription("Render requests that were not fully satisfied."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the underruns counter: %w", err)
	}
	if met.ProcessingLatency, err = m.Float64Histogram("denoise.processing.duration",
		metric.WithDescription("Time spent processing one chunk."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMS...),
	); err != nil {
		return nil, fmt.Errorf("unable to create the latency histogram: %w", err)
	}
	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	met, err := New(noop.NewMeterProvider())
	if err != nil {
		panic(err)
	}
	return met
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns instruments of the global meter provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic(fmt.Sprintf("unable to create the default metrics: %v", err))
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordLatency(ctx context.Context, d time.Duration) {
	m.ProcessingLatency.Record(ctx, float64(d)/float64(time.Millisecond))
}

func (m *Metrics) RecordInferenceFailure(ctx context.Context, reason string) {
	m.InferenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordFallback(ctx context.Context, kind string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Gauges is sampled on every collection.
type Gauges struct {
	// State is the numeric lifecycle state of the processor.
	State int64

	// MemoryPressure is the numeric memory pressure level.
	MemoryPressure int64

	// InputLevel is the last observed input level within [0, 1].
	InputLevel float64
}

// ObserveGauges registers the observable gauges backed by the sampler. The
// returned function unregisters them.
func (m *Metrics) ObserveGauges(sample func() Gauges) (func() error, error) {
	state, err := m.meter.Int64ObservableGauge("denoise.state",
		metric.WithDescription("Lifecycle state of the processor."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create the state gauge: %w", err)
	}
	pressure, err := m.meter.Int64ObservableGauge("denoise.memory_pressure",
		metric.WithDescription("Current memory pressure level."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create the memory pressure gauge: %w", err)
	}
	level, err := m.meter.Float64ObservableGauge("denoise.input.level",
		metric.WithDescription("Peak level of the captured audio."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create the level gauge: %w", err)
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		g := sample()
		o.ObserveInt64(state, g.State)
		o.ObserveInt64(pressure, g.MemoryPressure)
		o.ObserveFloat64(level, g.InputLevel)
		return nil
	}, state, pressure, level)
	if err != nil {
		return nil, fmt.Errorf("unable to register the gauges callback: %w", err)
	}
	return reg.Unregister, nil
}
