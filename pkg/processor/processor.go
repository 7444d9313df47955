// Package processor is the per-chunk denoising cycle together with its
// lifecycle: the model is loaded asynchronously, inference may be suspended
// and resumed, and any backend misbehavior is contained here.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/level"
	"github.com/xaionaro-go/denoise/pkg/memorypressure"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
	"github.com/xaionaro-go/denoise/pkg/spectral/stft"
	"github.com/xaionaro-go/denoise/pkg/telemetry"
	"github.com/xaionaro-go/denoise/pkg/vad"
	"github.com/xaionaro-go/observability"
)

var (
	ErrNotInitialized = errors.New("the processor is not initialized")
	ErrNotActive      = errors.New("the processor is not active")
	ErrStopped        = errors.New("the processor was stopped")
	ErrClosed         = errors.New("the processor is closed")
	ErrBusy           = errors.New("a previous inference call is still running")
	ErrDeadline       = errors.New("the inference deadline is exceeded")
	ErrMemoryPressure = errors.New("the memory pressure became critical")
)

// PanicError is a recovered panic of the backend.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("the backend panicked: %v", e.Value)
}

type Option func(*Processor)

func WithVAD(v vad.VAD) Option {
	return func(p *Processor) { p.vad = v }
}

func WithMemoryMonitor(m *memorypressure.Monitor) Option {
	return func(p *Processor) { p.memory = m }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

type readiness struct {
	ch   chan struct{}
	once sync.Once
	err  error
}

func newReadiness() *readiness {
	return &readiness{ch: make(chan struct{})}
}

func (r *readiness) done(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.ch)
	})
}

// Processor owns the backend it was constructed with.
type Processor struct {
	config    Config
	backend   inference.Backend
	vad       vad.VAD
	memory    *memorypressure.Monitor
	metrics   *telemetry.Metrics
	stft      *stft.STFT
	extractor *erb.Extractor

	// lifecycle fields are written only under controlLocker
	controlLocker sync.Mutex
	state         atomic.Int32
	epoch         atomic.Uint64
	handle        atomic.Pointer[inference.Handle]
	ready         *readiness
	initCancel    context.CancelFunc
	suspendReason string
	closed        bool

	processLocker  sync.Mutex
	inFlight       atomic.Bool
	criticalCycles atomic.Int64

	consecutiveFailures atomic.Uint64
	framesProcessed     atomic.Uint64
	inferenceFailures   atomic.Uint64
	bufferOverflows     atomic.Uint64
	breakerTrips        atomic.Uint64
	fallbacks           atomic.Uint64
	breakerOpen         atomic.Bool
	latencyNS           atomic.Int64

	inputMeter  *level.Meter
	outputMeter *level.Meter
}

func New(
	cfg Config,
	backend inference.Backend,
	opts ...Option,
) (*Processor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is not set")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s, err := stft.New(cfg.STFT)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the STFT: %w", err)
	}
	extractor, err := erb.New(cfg.ERB)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the feature extractor: %w", err)
	}
	p := &Processor{
		config:      cfg,
		backend:     backend,
		stft:        s,
		extractor:   extractor,
		inputMeter:  level.NewMeter(cfg.LevelRelease),
		outputMeter: level.NewMeter(cfg.LevelRelease),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.memory == nil {
		p.memory = memorypressure.NewMonitor()
	}
	if p.metrics == nil {
		p.metrics = telemetry.Nop()
	}
	return p, nil
}

func (p *Processor) Config() Config {
	return p.config
}

func (p *Processor) Metrics() *telemetry.Metrics {
	return p.metrics
}

func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) MemoryMonitor() *memorypressure.Monitor {
	return p.memory
}

func (p *Processor) setStateLocked(ctx context.Context, state State) {
	prev := State(p.state.Swap(int32(state)))
	if prev != state {
		logger.Debugf(ctx, "processor state: %s -> %s", prev, state)
	}
}

// Initialize starts loading the model and returns without waiting for it;
// use WaitReady to wait. It is a no-op when already initializing or active,
// and resumes a suspended processor.
func (p *Processor) Initialize(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Initialize")
	defer func() { logger.Tracef(ctx, "/Initialize: %v", _err) }()

	p.controlLocker.Lock()
	defer p.controlLocker.Unlock()
	if p.closed {
		return ErrClosed
	}

	switch p.State() {
	case StateInitializing, StateActive:
		return nil
	case StateSuspended:
		p.resumeLocked(ctx)
		return nil
	}

	path := p.config.ModelPath
	if path != "" {
		if err := inference.ValidateModelPath(path, p.config.PathPolicy); err != nil {
			return fmt.Errorf("unable to use model '%s': %w", path, err)
		}
	}

	loadCtx, cancel := context.WithCancel(ctx)
	ready := newReadiness()
	epoch := p.epoch.Add(1)
	p.initCancel = cancel
	p.ready = ready
	p.setStateLocked(ctx, StateInitializing)

	observability.Go(loadCtx, func(ctx context.Context) {
		defer cancel()
		h, err := p.backend.LoadModel(ctx, path)

		p.controlLocker.Lock()
		defer p.controlLocker.Unlock()
		if p.epoch.Load() != epoch || p.State() != StateInitializing {
			logger.Debugf(ctx, "the initialization was cancelled")
			if h != nil {
				if err := p.backend.Unload(ctx, h); err != nil {
					logger.Errorf(ctx, "unable to unload the abandoned model: %v", err)
				}
			}
			ready.done(ErrStopped)
			return
		}
		if err != nil {
			logger.Errorf(ctx, "unable to load the model '%s': %v", path, err)
			p.setStateLocked(ctx, StateInactive)
			ready.done(fmt.Errorf("unable to load the model: %w", err))
			return
		}
		p.handle.Store(&h)
		p.consecutiveFailures.Store(0)
		p.criticalCycles.Store(0)
		p.setStateLocked(ctx, StateActive)
		ready.done(nil)
	})
	return nil
}

// WaitReady blocks until the initialization started by Initialize completes.
func (p *Processor) WaitReady(ctx context.Context) error {
	p.controlLocker.Lock()
	state, ready := p.State(), p.ready
	p.controlLocker.Unlock()

	switch state {
	case StateActive, StateSuspended:
		return nil
	case StateInactive:
		if ready == nil {
			return ErrNotInitialized
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready.ch:
		return ready.err
	}
}

// Suspend makes Process a no-op until Resume or Initialize. Results of
// inference calls in flight are discarded.
func (p *Processor) Suspend(ctx context.Context, reason string) error {
	p.controlLocker.Lock()
	defer p.controlLocker.Unlock()
	switch p.State() {
	case StateSuspended:
		return nil
	case StateActive:
	default:
		return fmt.Errorf("%w: %s", ErrNotActive, p.State())
	}
	p.epoch.Add(1)
	p.suspendReason = reason
	logger.Infof(ctx, "suspending the noise suppression: %s", reason)
	p.setStateLocked(ctx, StateSuspended)
	return nil
}

func (p *Processor) Resume(ctx context.Context) error {
	p.controlLocker.Lock()
	defer p.controlLocker.Unlock()
	switch p.State() {
	case StateActive:
		return nil
	case StateSuspended:
		p.resumeLocked(ctx)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotActive, p.State())
	}
}

func (p *Processor) resumeLocked(ctx context.Context) {
	logger.Infof(ctx, "resuming the noise suppression (was suspended: %s)", p.suspendReason)
	p.suspendReason = ""
	p.consecutiveFailures.Store(0)
	p.criticalCycles.Store(0)
	p.setStateLocked(ctx, StateActive)
}

// Stop cancels a pending initialization, unloads the model and resets the
// state and the memory pressure level. It is safe to call in any state.
func (p *Processor) Stop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Stop")
	defer func() { logger.Tracef(ctx, "/Stop: %v", _err) }()

	p.controlLocker.Lock()
	defer p.controlLocker.Unlock()
	return p.stopLocked(ctx)
}

func (p *Processor) stopLocked(ctx context.Context) error {
	p.epoch.Add(1)
	if p.initCancel != nil {
		p.initCancel()
		p.initCancel = nil
	}
	if p.ready != nil {
		p.ready.done(ErrStopped)
	}

	var err error
	if h := p.handle.Swap(nil); h != nil {
		if uerr := p.backend.Unload(ctx, *h); uerr != nil {
			err = fmt.Errorf("unable to unload the model: %w", uerr)
		}
	}
	p.suspendReason = ""
	p.setStateLocked(ctx, StateInactive)
	p.memory.Reset(ctx)
	p.inputMeter.Reset()
	p.outputMeter.Reset()
	return err
}

// Close stops the processor and closes the backend and the VAD.
func (p *Processor) Close() error {
	ctx := context.Background()
	p.controlLocker.Lock()
	defer p.controlLocker.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var result *multierror.Error
	result = multierror.Append(result, p.stopLocked(ctx))
	if err := p.backend.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close the backend: %w", err))
	}
	if p.vad != nil {
		if err := p.vad.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to close the VAD: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Process denoises one chunk. It returns nil when nothing was produced:
// the processor is not active, the backend failed or timed out, or the
// memory pressure is critical before or between the frames of the chunk. A corrupted chunk is never fed to the model
// and is replaced with the configured fallback.
func (p *Processor) Process(
	ctx context.Context,
	chunk []float32,
	sensitivity float32,
) []float32 {
	p.processLocker.Lock()
	defer p.processLocker.Unlock()

	p.inputMeter.Observe(chunk)
	if p.State() != StateActive {
		return nil
	}
	epoch := p.epoch.Load()

	if err := level.ValidateChunk(chunk, p.config.Chunk); err != nil {
		logger.Tracef(ctx, "corrupted input: %v", err)
		p.fallbacks.Add(1)
		p.metrics.RecordFallback(ctx, telemetry.FallbackCorruptInput)
		out := make([]float32, len(chunk))
		if p.config.CorruptInputFallback == FallbackPassThrough {
			copy(out, chunk)
			out = level.Sanitize(out)
		}
		p.outputMeter.Observe(out)
		return out
	}

	if !p.checkMemoryPressure(ctx) {
		return nil
	}

	handle := p.handle.Load()
	if handle == nil {
		return nil
	}

	startedAt := time.Now()
	out, err := p.denoise(ctx, chunk, clampSensitivity(sensitivity), *handle)
	latency := time.Since(startedAt)
	p.latencyNS.Store(int64(latency))
	p.metrics.RecordLatency(ctx, latency)
	switch {
	case errors.Is(err, ErrMemoryPressure):
		logger.Tracef(ctx, "inference aborted: %v", err)
		p.fallbacks.Add(1)
		p.metrics.RecordFallback(ctx, telemetry.FallbackMemoryPressure)
		return nil
	case err != nil:
		p.onFailure(ctx, err)
		return nil
	}
	if p.epoch.Load() != epoch || p.State() != StateActive {
		logger.Tracef(ctx, "discarding the result: the processor was suspended or stopped meanwhile")
		return nil
	}
	p.consecutiveFailures.Store(0)
	p.framesProcessed.Add(1)
	p.metrics.FramesProcessed.Add(ctx, 1)
	p.outputMeter.Observe(out)
	return out
}

func clampSensitivity(s float32) float32 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	return max(0, min(1, s))
}

// checkMemoryPressure returns false if this cycle must not run inference.
func (p *Processor) checkMemoryPressure(ctx context.Context) bool {
	if p.memory.Level() != memorypressure.LevelCritical {
		p.criticalCycles.Store(0)
		return true
	}

	if releaser, ok := p.backend.(inference.CacheReleaser); ok {
		err := releaser.ReleaseCaches(ctx)
		if err == nil {
			p.memory.SetLevel(ctx, memorypressure.LevelNormal, "cache release")
			p.criticalCycles.Store(0)
			return true
		}
		logger.Debugf(ctx, "unable to release the caches of the backend: %v", err)
	}

	cycles := p.criticalCycles.Add(1)
	if cycles >= int64(p.config.MaxCriticalCycles) {
		if err := p.Suspend(ctx, "critical memory pressure"); err != nil {
			logger.Debugf(ctx, "unable to suspend: %v", err)
		}
	}
	return false
}

func (p *Processor) onFailure(ctx context.Context, err error) {
	reason := telemetry.ReasonError
	var panicErr *PanicError
	switch {
	case errors.Is(err, ErrDeadline):
		reason = telemetry.ReasonTimeout
	case errors.Is(err, ErrBusy):
		reason = telemetry.ReasonBusy
	case errors.As(err, &panicErr):
		reason = telemetry.ReasonPanic
	}
	logger.Tracef(ctx, "inference failed (%s): %v", reason, err)
	p.inferenceFailures.Add(1)
	p.metrics.RecordInferenceFailure(ctx, reason)

	failures := p.consecutiveFailures.Add(1)
	threshold := p.config.FailureSuspendThreshold
	if threshold > 0 && failures >= uint64(threshold) {
		if err := p.Suspend(ctx, fmt.Sprintf("%d consecutive inference failures", failures)); err != nil {
			logger.Debugf(ctx, "unable to suspend: %v", err)
		}
	}
}

func (p *Processor) denoise(
	ctx context.Context,
	chunk []float32,
	sensitivity float32,
	handle inference.Handle,
) ([]float32, error) {
	spectrum, err := p.stft.Transform(chunk)
	if err != nil {
		return nil, fmt.Errorf("unable to transform: %w", err)
	}
	features, err := p.extractor.Extract(spectrum)
	if err != nil {
		return nil, fmt.Errorf("unable to extract features: %w", err)
	}

	voiceActivity := float32(1)
	if p.vad != nil {
		v, err := p.vad.VoiceActivity(ctx, chunk)
		if err != nil {
			logger.Tracef(ctx, "unable to detect voice activity: %v", err)
		} else {
			voiceActivity = float32(v)
		}
	}
	for idx := range features {
		features[idx].VoiceActivity = voiceActivity
	}

	gains, err := p.infer(ctx, features, handle)
	if err != nil {
		return nil, err
	}

	for idx, frameGains := range gains {
		for band, g := range frameGains {
			if math.IsNaN(float64(g)) {
				g = 1
			}
			g = max(0, min(1, g))
			frameGains[band] = 1 - sensitivity*(1-g)
		}
		binGains, err := p.extractor.BandGainsToBins(frameGains)
		if err != nil {
			return nil, fmt.Errorf("frame #%d: %w", idx, err)
		}
		spectrum.Frames[idx].Scale(binGains)
	}

	out, err := p.stft.Inverse(spectrum)
	if err != nil {
		return nil, fmt.Errorf("unable to inverse-transform: %w", err)
	}
	return level.Sanitize(out), nil
}

// infer runs the backend for every frame. Only one call may be in flight: if
// a previous call exceeded the deadline and is still running, this one fails
// immediately.
func (p *Processor) infer(
	ctx context.Context,
	features []erb.FeatureVector,
	handle inference.Handle,
) ([][]float32, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	deadline := p.config.InferenceDeadline
	if deadline <= 0 {
		defer p.inFlight.Store(false)
		return p.runFrames(ctx, features, handle)
	}

	type result struct {
		gains [][]float32
		err   error
	}
	resultCh := make(chan result, 1)
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	observability.Go(ctx, func(ctx context.Context) {
		defer p.inFlight.Store(false)
		gains, err := p.runFrames(ctx, features, handle)
		resultCh <- result{gains: gains, err: err}
	})

	select {
	case r := <-resultCh:
		return r.gains, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w (%v): %w", ErrDeadline, deadline, ctx.Err())
	}
}

func (p *Processor) runFrames(
	ctx context.Context,
	features []erb.FeatureVector,
	handle inference.Handle,
) (_ [][]float32, _err error) {
	defer func() {
		if r := recover(); r != nil {
			_err = &PanicError{Value: r}
		}
	}()

	bands := p.config.ERB.Bands
	gains := make([][]float32, 0, len(features))
	for idx, fv := range features {
		if idx > 0 && p.memory.Level() == memorypressure.LevelCritical {
			return nil, fmt.Errorf("%w before frame #%d", ErrMemoryPressure, idx)
		}
		out, err := p.backend.RunInference(ctx, fv, handle)
		if err != nil {
			return nil, fmt.Errorf("unable to run the inference on frame #%d: %w", idx, err)
		}
		if len(out.Bands) != bands {
			return nil, fmt.Errorf("the backend returned %d gains, expected %d", len(out.Bands), bands)
		}
		gains = append(gains, out.Bands)
	}
	return gains, nil
}
