// Package mock provides a deterministic scripted inference backend.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
)

type Behavior struct {
	// Gain is returned for every band.
	Gain float32

	LoadDelay      time.Duration
	LoadErr        error
	InferenceDelay time.Duration
	InferenceErr   error
	InferencePanic bool
	ReleaseErr     error

	// OnInference is called with the 1-based number of the call after
	// InferenceDelay elapsed.
	OnInference func(call uint64)
}

type Backend struct {
	Bands int

	locker   sync.Mutex
	behavior Behavior
	closed   bool

	loads      atomic.Uint64
	inferences atomic.Uint64
	releases   atomic.Uint64
	unloads    atomic.Uint64
}

var (
	_ inference.Backend       = (*Backend)(nil)
	_ inference.CacheReleaser = (*Backend)(nil)
)

func New(bands int, behavior Behavior) *Backend {
	return &Backend{
		Bands:    bands,
		behavior: behavior,
	}
}

func (b *Backend) SetBehavior(behavior Behavior) {
	b.locker.Lock()
	defer b.locker.Unlock()
	b.behavior = behavior
}

func (b *Backend) Behavior() Behavior {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.behavior
}

type handle struct {
	backend *Backend
	info    inference.ModelInfo
}

func (h *handle) Info() inference.ModelInfo {
	return h.info
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *Backend) LoadModel(ctx context.Context, path string) (inference.Handle, error) {
	b.loads.Add(1)
	behavior := b.Behavior()
	if err := sleep(ctx, behavior.LoadDelay); err != nil {
		return nil, err
	}
	if behavior.LoadErr != nil {
		return nil, behavior.LoadErr
	}
	return &handle{
		backend: b,
		info: inference.ModelInfo{
			Name:      "mock",
			Path:      path,
			Bands:     b.Bands,
			Precision: quantization.PrecisionFP32,
		},
	}, nil
}

// RunInference ignores the context while sleeping InferenceDelay, to behave
// like a backend stuck in a long computation.
func (b *Backend) RunInference(
	ctx context.Context,
	input erb.FeatureVector,
	h inference.Handle,
) (erb.FeatureVector, error) {
	call := b.inferences.Add(1)
	if hh, ok := h.(*handle); !ok || hh.backend != b {
		return erb.FeatureVector{}, inference.ErrInvalidHandle
	}
	behavior := b.Behavior()
	if behavior.InferenceDelay > 0 {
		time.Sleep(behavior.InferenceDelay)
	}
	if behavior.OnInference != nil {
		behavior.OnInference(call)
	}
	if behavior.InferencePanic {
		panic(fmt.Errorf("mock inference panic"))
	}
	if behavior.InferenceErr != nil {
		return erb.FeatureVector{}, behavior.InferenceErr
	}
	out := erb.FeatureVector{
		Bands:         make([]float32, len(input.Bands)),
		VoiceActivity: input.VoiceActivity,
	}
	for i := range out.Bands {
		out.Bands[i] = behavior.Gain
	}
	return out, nil
}

func (b *Backend) Unload(context.Context, inference.Handle) error {
	b.unloads.Add(1)
	return nil
}

func (b *Backend) ReleaseCaches(context.Context) error {
	b.releases.Add(1)
	return b.Behavior().ReleaseErr
}

func (b *Backend) Close() error {
	b.locker.Lock()
	defer b.locker.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) IsClosed() bool {
	b.locker.Lock()
	defer b.locker.Unlock()
	return b.closed
}

func (b *Backend) Loads() uint64      { return b.loads.Load() }
func (b *Backend) Inferences() uint64 { return b.inferences.Load() }
func (b *Backend) Releases() uint64   { return b.releases.Load() }
func (b *Backend) Unloads() uint64    { return b.unloads.Load() }
