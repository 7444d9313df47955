package audiobuffer

// ring is a fixed-capacity FIFO of samples. It is not thread-safe.
type ring struct {
	data []float32
	head int
	size int
}

func newRing(capacity int) ring {
	return ring{data: make([]float32, capacity)}
}

func (r *ring) Len() int {
	return r.size
}

func (r *ring) Cap() int {
	return len(r.data)
}

func (r *ring) dropFront(n int) int {
	if n > r.size {
		n = r.size
	}
	r.head = (r.head + n) % len(r.data)
	r.size -= n
	return n
}

// pushBack expects len(samples) <= Cap()-Len().
func (r *ring) pushBack(samples []float32) {
	tail := (r.head + r.size) % len(r.data)
	n := copy(r.data[tail:], samples)
	copy(r.data, samples[n:])
	r.size += len(samples)
}

func (r *ring) at(idx int) *float32 {
	return &r.data[(r.head+idx)%len(r.data)]
}

func (r *ring) popFront(dst []float32) {
	n := copy(dst, r.data[r.head:min(len(r.data), r.head+len(dst))])
	copy(dst[n:], r.data)
	r.dropFront(len(dst))
}

func (r *ring) reset() {
	r.head = 0
	r.size = 0
}
