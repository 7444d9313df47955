package level

import (
	"math"
	"sync/atomic"
)

// Peak returns the validated peak absolute amplitude of the samples.
func Peak(samples []float32) float32 {
	var peak float32
	for _, v := range samples {
		if !IsFinite(v) {
			continue
		}
		a := float32(math.Abs(float64(v)))
		if a > peak {
			peak = a
		}
	}
	return Validate(peak)
}

// Meter is a peak meter with exponential release. It is safe for one writer
// and any amount of concurrent readers.
type Meter struct {
	Release float32
	value   atomic.Uint32
}

func NewMeter(release float32) *Meter {
	return &Meter{Release: release}
}

// Observe feeds a chunk to the meter and returns the updated level.
func (m *Meter) Observe(samples []float32) float32 {
	peak := Peak(samples)
	prev := m.Level()
	next := peak
	if peak < prev {
		next = prev * m.Release
		if next < peak {
			next = peak
		}
	}
	next = Validate(next)
	m.value.Store(math.Float32bits(next))
	return next
}

func (m *Meter) Level() float32 {
	return math.Float32frombits(m.value.Load())
}

func (m *Meter) Reset() {
	m.value.Store(0)
}
