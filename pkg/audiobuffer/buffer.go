// Package audiobuffer accumulates irregular capture callbacks into fixed-size
// chunks under a bounded capacity, with a circuit breaker that rejects
// appends after sustained overflows.
package audiobuffer

import (
	"fmt"
	"math"
	"sync"
	"time"
)

type CircuitBreakerState struct {
	ConsecutiveOverflows int
	Suspended            bool
	ResumeAt             time.Time
}

type Buffer struct {
	config   Config
	observer Observer

	locker      sync.Mutex
	samples     ring
	breaker     CircuitBreakerState
	resumeTimer *time.Timer
	generation  uint64
	closed      bool
}

func New(cfg Config, observer Observer) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Buffer{
		config:   cfg,
		observer: observer,
		samples:  newRing(cfg.MaxCapacity),
	}, nil
}

func (b *Buffer) Config() Config {
	return b.config
}

type notifications struct {
	overflow *OverflowEvent
	tripped  bool
	resumeAt time.Time
	reset    bool
}

func (b *Buffer) notify(n notifications) {
	if n.reset {
		b.observer.OnCircuitBreakerReset()
	}
	if n.overflow != nil {
		b.observer.OnOverflow(*n.overflow)
	}
	if n.tripped {
		b.observer.OnCircuitBreakerTripped(n.resumeAt)
	}
}

// AppendAndExtract appends the samples and returns a chunk of exactly
// Config.MinExtractSize samples if enough are accumulated, or nil otherwise.
//
// The call never blocks for longer than a single short critical section and
// the buffer never holds more than Config.MaxCapacity samples after it returns.
// The caller keeps the ownership of the samples slice.
func (b *Buffer) AppendAndExtract(samples []float32) []float32 {
	var n notifications
	b.locker.Lock()
	chunk := b.appendAndExtractLocked(samples, &n)
	b.locker.Unlock()
	b.notify(n)
	return chunk
}

func (b *Buffer) appendAndExtractLocked(
	samples []float32,
	n *notifications,
) []float32 {
	if b.closed {
		return nil
	}

	if b.breaker.Suspended && !time.Now().Before(b.breaker.ResumeAt) {
		b.resumeLocked()
		n.reset = true
	}
	if b.breaker.Suspended {
		n.overflow = &OverflowEvent{
			Requested:            len(samples),
			Rejected:             true,
			ConsecutiveOverflows: b.breaker.ConsecutiveOverflows,
		}
		return nil
	}

	current := b.samples.Len()
	projected, overflowed := addInts(current, len(samples))
	maxCapacity := b.config.MaxCapacity
	if overflowed || projected > maxCapacity {
		b.breaker.ConsecutiveOverflows++
		ev := &OverflowEvent{
			Requested:            len(samples),
			ConsecutiveOverflows: b.breaker.ConsecutiveOverflows,
		}
		n.overflow = ev

		if b.breaker.ConsecutiveOverflows > b.config.OverflowThreshold {
			ev.Rejected = true
			b.tripLocked()
			n.tripped = true
			n.resumeAt = b.breaker.ResumeAt
			return nil
		}

		excess := len(samples) - (maxCapacity - current)
		trimmed := b.samples.dropFront(excess)
		if skip := len(samples) - maxCapacity; skip > 0 {
			samples = samples[skip:]
			trimmed += skip
		}
		ev.Trimmed = trimmed

		start := b.samples.Len()
		b.samples.pushBack(samples)
		b.fadeInLocked(start, min(b.config.CrossfadeLength, trimmed, len(samples)))
	} else {
		b.breaker.ConsecutiveOverflows = 0
		b.samples.pushBack(samples)
	}

	if b.samples.Len() < b.config.MinExtractSize {
		return nil
	}
	chunk := make([]float32, b.config.MinExtractSize)
	b.samples.popFront(chunk)
	return chunk
}

func (b *Buffer) fadeInLocked(start, length int) {
	for i := 0; i < length; i++ {
		gain := float32(i+1) / float32(length+1)
		*b.samples.at(start+i) *= gain
	}
}

func (b *Buffer) tripLocked() {
	b.breaker.Suspended = true
	b.breaker.ResumeAt = time.Now().Add(b.config.CooldownDuration)
	b.generation++
	generation := b.generation
	if b.resumeTimer != nil {
		b.resumeTimer.Stop()
	}
	b.resumeTimer = time.AfterFunc(b.config.CooldownDuration, func() {
		b.onCooldownElapsed(generation)
	})
}

func (b *Buffer) onCooldownElapsed(generation uint64) {
	b.locker.Lock()
	if b.closed || !b.breaker.Suspended || b.generation != generation {
		b.locker.Unlock()
		return
	}
	b.resumeLocked()
	b.locker.Unlock()
	b.observer.OnCircuitBreakerReset()
}

func (b *Buffer) resumeLocked() {
	b.breaker = CircuitBreakerState{}
	if b.resumeTimer != nil {
		b.resumeTimer.Stop()
		b.resumeTimer = nil
	}
}

func (b *Buffer) Len() int {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.samples.Len()
}

func (b *Buffer) CircuitBreaker() CircuitBreakerState {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.breaker
}

// Reset drops all accumulated samples and closes the circuit breaker.
func (b *Buffer) Reset() {
	b.locker.Lock()
	defer b.locker.Unlock()
	b.samples.reset()
	b.generation++
	b.resumeLocked()
}

// Flush returns the accumulated samples zero-padded to a full chunk, or nil
// if the buffer is empty.
func (b *Buffer) Flush() []float32 {
	b.locker.Lock()
	defer b.locker.Unlock()
	size := b.samples.Len()
	if size == 0 {
		return nil
	}
	chunk := make([]float32, max(size, b.config.MinExtractSize))
	b.samples.popFront(chunk[:size])
	return chunk
}

func (b *Buffer) Close() error {
	b.locker.Lock()
	defer b.locker.Unlock()
	b.closed = true
	b.generation++
	b.resumeLocked()
	return nil
}

func addInts(a, b int) (int, bool) {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt, true
	}
	return a + b, false
}
