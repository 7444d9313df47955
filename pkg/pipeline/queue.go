package pipeline

import (
	"sync"
)

type queueItem struct {
	chunk       []float32
	passThrough bool
}

// chunkQueue is the FIFO between the capture callback and the worker. At
// most processLimit queued chunks are handed to the processor, the others
// are marked to be passed through, still in their order. At most totalLimit
// chunks are kept, the oldest is dropped first.
type chunkQueue struct {
	locker       sync.Mutex
	items        []queueItem
	processing   int
	processLimit int
	totalLimit   int
	signalCh     chan struct{}
}

func newChunkQueue(processLimit, totalLimit int) *chunkQueue {
	return &chunkQueue{
		items:        make([]queueItem, 0, totalLimit),
		processLimit: processLimit,
		totalLimit:   max(processLimit, totalLimit),
		signalCh:     make(chan struct{}, 1),
	}
}

// push never blocks. It reports whether the chunk will be passed through
// and returns the chunk dropped to make room, if any.
func (q *chunkQueue) push(chunk []float32) (passThrough bool, dropped []float32) {
	q.locker.Lock()
	if len(q.items) >= q.totalLimit {
		oldest := q.items[0]
		q.items[0] = queueItem{}
		q.items = q.items[1:]
		if !oldest.passThrough {
			q.processing--
		}
		dropped = oldest.chunk
	}
	item := queueItem{chunk: chunk}
	if q.processing >= q.processLimit {
		item.passThrough = true
	} else {
		q.processing++
	}
	q.items = append(q.items, item)
	q.locker.Unlock()

	select {
	case q.signalCh <- struct{}{}:
	default:
	}
	return item.passThrough, dropped
}

func (q *chunkQueue) pop() (queueItem, bool) {
	q.locker.Lock()
	defer q.locker.Unlock()
	if len(q.items) == 0 {
		return queueItem{}, false
	}
	item := q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	if !item.passThrough {
		q.processing--
	}
	return item, true
}

func (q *chunkQueue) Len() int {
	q.locker.Lock()
	defer q.locker.Unlock()
	return len(q.items)
}
