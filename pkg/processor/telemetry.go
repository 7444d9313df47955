package processor

import (
	"context"
	"time"

	"github.com/xaionaro-go/denoise/pkg/audiobuffer"
	"github.com/xaionaro-go/denoise/pkg/level"
	"github.com/xaionaro-go/denoise/pkg/memorypressure"
	"github.com/xaionaro-go/denoise/pkg/telemetry"
)

// Snapshot is a read-only view of the processor for UIs and monitoring.
type Snapshot struct {
	State              State
	SuspendReason      string
	IsProcessingActive bool

	// InputLevel and OutputLevel are peak levels within [0, 1].
	InputLevel  float32
	OutputLevel float32

	ProcessingLatencyMs float64

	MemoryPressure memorypressure.Level

	// Degraded is set when inference continues under memory pressure.
	Degraded bool

	FramesProcessed     uint64
	InferenceFailures   uint64
	BufferOverflows     uint64
	CircuitBreakerTrips uint64
	CircuitBreakerOpen  bool
	Fallbacks           uint64
}

func (p *Processor) Telemetry() Snapshot {
	p.controlLocker.Lock()
	reason := p.suspendReason
	p.controlLocker.Unlock()

	state := p.State()
	pressure := p.memory.Level()
	return Snapshot{
		State:               state,
		SuspendReason:       reason,
		IsProcessingActive:  state == StateActive,
		InputLevel:          level.Validate(p.inputMeter.Level()),
		OutputLevel:         level.Validate(p.outputMeter.Level()),
		ProcessingLatencyMs: float64(p.latencyNS.Load()) / float64(time.Millisecond),
		MemoryPressure:      pressure,
		Degraded:            state == StateActive && pressure.IsDegraded(),
		FramesProcessed:     p.framesProcessed.Load(),
		InferenceFailures:   p.inferenceFailures.Load(),
		BufferOverflows:     p.bufferOverflows.Load(),
		CircuitBreakerTrips: p.breakerTrips.Load(),
		CircuitBreakerOpen:  p.breakerOpen.Load(),
		Fallbacks:           p.fallbacks.Load(),
	}
}

// ObserveGauges exports the state, the memory pressure and the input level
// as observable gauges.
func (p *Processor) ObserveGauges() (func() error, error) {
	return p.metrics.ObserveGauges(func() telemetry.Gauges {
		return telemetry.Gauges{
			State:          int64(p.State()),
			MemoryPressure: int64(p.memory.Level()),
			InputLevel:     float64(p.inputMeter.Level()),
		}
	})
}

var _ audiobuffer.Observer = (*Processor)(nil)

func (p *Processor) OnOverflow(ev audiobuffer.OverflowEvent) {
	p.bufferOverflows.Add(1)
	p.metrics.BufferOverflows.Add(context.Background(), 1)
}

func (p *Processor) OnCircuitBreakerTripped(time.Time) {
	p.breakerTrips.Add(1)
	p.breakerOpen.Store(true)
	p.metrics.BreakerTrips.Add(context.Background(), 1)
}

func (p *Processor) OnCircuitBreakerReset() {
	p.breakerOpen.Store(false)
}
