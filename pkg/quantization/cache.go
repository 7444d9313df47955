package quantization

import (
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/x448/float16"
)

const DefaultCacheEntries = 256

const negativeZeroBits = 0x80000000

// Fingerprint is a content hash of a float32 slice. Values equal as numbers
// have equal fingerprints: -0 is hashed as +0.
type Fingerprint struct {
	Hash   uint64
	Length int
}

func FingerprintOf(values []float32) Fingerprint {
	fp := Fingerprint{Length: len(values)}
	if !hasNegativeZero(values) {
		var b []byte
		if len(values) > 0 {
			b = unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*4)
		}
		fp.Hash = xxhash.Sum64(b)
		return fp
	}

	var block [256]float32
	d := xxhash.New()
	for len(values) > 0 {
		n := copy(block[:], values)
		values = values[n:]
		for idx, v := range block[:n] {
			if math.Float32bits(v) == negativeZeroBits {
				block[idx] = 0
			}
		}
		_, _ = d.Write(unsafe.Slice((*byte)(unsafe.Pointer(&block[0])), n*4))
	}
	fp.Hash = d.Sum64()
	return fp
}

func hasNegativeZero(values []float32) bool {
	for _, v := range values {
		if math.Float32bits(v) == negativeZeroBits {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	params Params
	int8   []int8
	fp16   []float16.Float16
}

func (e *cacheEntry) size() uint64 {
	return uint64(len(e.int8)) + uint64(len(e.fp16))*2
}

type CacheStats struct {
	Entries int
	Bytes   uint64
	Hits    uint64
	Misses  uint64
}

// Cache keeps quantization parameters and quantized tensors keyed by the
// fingerprint of the source weights, evicting the least recently used entry.
// It is safe for concurrent use.
type Cache struct {
	maxEntries int

	locker  sync.Mutex
	entries map[Fingerprint]*cacheEntry
	order   []Fingerprint
	bytes   uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		entries:    map[Fingerprint]*cacheEntry{},
	}
}

func (c *Cache) get(fp Fingerprint) (*cacheEntry, bool) {
	c.locker.Lock()
	defer c.locker.Unlock()
	e, ok := c.entries[fp]
	if ok {
		c.hits.Add(1)
		c.touchLocked(fp)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

func (c *Cache) put(fp Fingerprint, e *cacheEntry) {
	c.locker.Lock()
	defer c.locker.Unlock()
	if old, ok := c.entries[fp]; ok {
		c.bytes -= old.size()
		if e.params.IsNoQuantization() {
			e.params = old.params
		}
		if e.int8 == nil {
			e.int8 = old.int8
		}
		if e.fp16 == nil {
			e.fp16 = old.fp16
		}
		c.entries[fp] = e
		c.bytes += e.size()
		return
	}
	for len(c.order) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		if old, ok := c.entries[oldest]; ok {
			c.bytes -= old.size()
			delete(c.entries, oldest)
		}
	}
	c.entries[fp] = e
	c.order = append(c.order, fp)
	c.bytes += e.size()
}

// touchLocked moves fp to the most recently used end of the eviction order.
func (c *Cache) touchLocked(fp Fingerprint) {
	for idx, item := range c.order {
		if item != fp {
			continue
		}
		copy(c.order[idx:], c.order[idx+1:])
		c.order[len(c.order)-1] = fp
		return
	}
}

// Clear drops every cached entry and returns the amount of released bytes.
func (c *Cache) Clear() uint64 {
	c.locker.Lock()
	defer c.locker.Unlock()
	released := c.bytes
	c.entries = map[Fingerprint]*cacheEntry{}
	c.order = nil
	c.bytes = 0
	return released
}

func (c *Cache) Stats() CacheStats {
	c.locker.Lock()
	defer c.locker.Unlock()
	return CacheStats{
		Entries: len(c.entries),
		Bytes:   c.bytes,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
