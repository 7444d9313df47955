package audiobuffer

import (
	"time"
)

type OverflowEvent struct {
	Requested            int
	Trimmed              int
	Rejected             bool
	ConsecutiveOverflows int
}

// Observer receives buffer events. Methods are never called while the buffer
// lock is held, so an Observer may call back into the Buffer.
type Observer interface {
	OnOverflow(OverflowEvent)
	OnCircuitBreakerTripped(resumeAt time.Time)
	OnCircuitBreakerReset()
}

type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) OnOverflow(OverflowEvent)          {}
func (NopObserver) OnCircuitBreakerTripped(time.Time) {}
func (NopObserver) OnCircuitBreakerReset()            {}
