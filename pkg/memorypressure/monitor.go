// Package memorypressure tracks the memory pressure level of the process.
package memorypressure

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Monitor holds the current Level. Reads are lock-free.
type Monitor struct {
	level atomic.Int32

	subscribersLocker sync.Mutex
	subscribers       map[uint64]chan Level
	nextSubscriberID  uint64
}

func NewMonitor() *Monitor {
	return &Monitor{
		subscribers: map[uint64]chan Level{},
	}
}

func (m *Monitor) Level() Level {
	return Level(m.level.Load())
}

// SetLevel returns the previous level. Subscribers are notified only on
// actual changes.
func (m *Monitor) SetLevel(ctx context.Context, level Level, source string) Level {
	prev := Level(m.level.Swap(int32(level)))
	if prev == level {
		return prev
	}
	logger.Debugf(ctx, "memory pressure: %s -> %s (source: %s)", prev, level, source)

	m.subscribersLocker.Lock()
	defer m.subscribersLocker.Unlock()
	for _, ch := range m.subscribers {
		// only the latest level matters to a slow subscriber
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- level:
		default:
		}
	}
	return prev
}

func (m *Monitor) Reset(ctx context.Context) {
	m.SetLevel(ctx, LevelNormal, "reset")
}

// Subscribe returns a channel receiving level changes and a function
// to cancel the subscription (which also closes the channel).
func (m *Monitor) Subscribe() (<-chan Level, context.CancelFunc) {
	ch := make(chan Level, 1)
	m.subscribersLocker.Lock()
	id := m.nextSubscriberID
	m.nextSubscriberID++
	m.subscribers[id] = ch
	m.subscribersLocker.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subscribersLocker.Lock()
			defer m.subscribersLocker.Unlock()
			delete(m.subscribers, id)
			close(ch)
		})
	}
}
