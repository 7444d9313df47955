// Package pipeline connects a capture callback to a playback callback
// through an audio buffer, a processing worker and an output ring.
//
// PushCapturedSamples and PullProcessedSamples are safe to call from audio
// callbacks: they never wait for the processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/iamcalledrob/circular"
	"github.com/xaionaro-go/denoise/pkg/audio/types"
	"github.com/xaionaro-go/denoise/pkg/audiobuffer"
	"github.com/xaionaro-go/denoise/pkg/level"
	"github.com/xaionaro-go/denoise/pkg/processor"
	"github.com/xaionaro-go/denoise/pkg/telemetry"
	"github.com/xaionaro-go/observability"
)

const (
	// Format is the PCM format of Write and Read.
	Format = types.PCMFormatFloat32LE

	sampleSize = 4
)

var ErrClosed = errors.New("the pipeline is closed")

type Pipeline struct {
	config     Config
	processor  *processor.Processor
	metrics    *telemetry.Metrics
	buffer     *audiobuffer.Buffer
	queue      *chunkQueue
	ctx        context.Context
	cancelFunc context.CancelFunc
	waitGroup  sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
	isClosed   atomic.Bool

	sensitivity atomic.Uint32

	writeLocker    sync.Mutex
	writeRemainder [sampleSize]byte
	writeRemainLen int
	writeSamples   []float32

	outputLocker       sync.Mutex
	output             *circular.Buffer
	outputLen          int
	outputScratch      []byte
	encodeScratch      []byte
	outputProgressedCh chan struct{}

	underruns          atomic.Uint64
	queueFullFallbacks atomic.Uint64
	droppedSamples     atomic.Uint64
}

var (
	_ io.Writer = (*Pipeline)(nil)
	_ io.Reader = (*Pipeline)(nil)
)

// New creates a pipeline around the processor and starts the processing
// worker. The pipeline owns the processor: Close closes it.
func New(
	ctx context.Context,
	cfg Config,
	proc *processor.Processor,
) (*Pipeline, error) {
	if proc == nil {
		return nil, fmt.Errorf("processor is not set")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	buffer, err := audiobuffer.New(cfg.Buffer, proc)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the audio buffer: %w", err)
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	p := &Pipeline{
		config:             cfg,
		processor:          proc,
		metrics:            proc.Metrics(),
		buffer:             buffer,
		queue:              newChunkQueue(cfg.QueueLength, cfg.QueueLength+cfg.OutputCapacity/cfg.Buffer.MinExtractSize),
		ctx:                ctx,
		cancelFunc:         cancelFunc,
		output:             circular.NewBuffer((cfg.OutputCapacity + 1) * sampleSize),
		outputProgressedCh: make(chan struct{}),
	}
	p.SetSensitivity(proc.Config().Sensitivity)

	p.waitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer p.waitGroup.Done()
		err := p.workerLoop(ctx)
		logger.Debugf(ctx, "the processing worker finished: %v", err)
	})
	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.config
}

func (p *Pipeline) Processor() *processor.Processor {
	return p.processor
}

// SetSensitivity sets the suppression strength within [0, 1] for the
// following chunks.
func (p *Pipeline) SetSensitivity(s float32) {
	switch {
	case math.IsNaN(float64(s)), s < 0:
		s = 0
	case s > 1:
		s = 1
	}
	p.sensitivity.Store(math.Float32bits(s))
}

func (p *Pipeline) Sensitivity() float32 {
	return math.Float32frombits(p.sensitivity.Load())
}

// PushCapturedSamples feeds captured mono samples. The caller keeps the
// ownership of the slice. Chunks leave the pipeline in the order they were
// captured; when the processor falls behind by more than QueueLength chunks
// the following ones are passed through unprocessed.
func (p *Pipeline) PushCapturedSamples(samples []float32) {
	if p.isClosed.Load() {
		return
	}
	chunk := p.buffer.AppendAndExtract(samples)
	if chunk == nil {
		return
	}
	passThrough, dropped := p.queue.push(chunk)
	if passThrough {
		logger.Tracef(p.ctx, "the processing queue is full, the chunk will be passed through")
		p.queueFullFallbacks.Add(1)
		p.metrics.RecordFallback(p.ctx, telemetry.FallbackQueueFull)
	}
	if dropped != nil {
		logger.Tracef(p.ctx, "the queue is overfilled, dropped the oldest chunk")
		p.droppedSamples.Add(uint64(len(dropped)))
	}
}

func (p *Pipeline) workerLoop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "workerLoop")
	defer func() { logger.Tracef(ctx, "/workerLoop: %v", _err) }()

	for {
		item, ok := p.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.queue.signalCh:
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var out []float32
		if !item.passThrough {
			out = p.processor.Process(ctx, item.chunk, p.Sensitivity())
		}
		if out == nil {
			out = level.Sanitize(item.chunk)
		}
		p.writeOutput(out)
	}
}

func (p *Pipeline) writeOutput(samples []float32) {
	p.outputLocker.Lock()
	defer p.outputLocker.Unlock()
	if p.isClosed.Load() {
		return
	}

	capacity := p.config.OutputCapacity
	if skip := len(samples) - capacity; skip > 0 {
		p.droppedSamples.Add(uint64(skip))
		samples = samples[skip:]
	}
	if cap(p.encodeScratch) < len(samples)*sampleSize {
		p.encodeScratch = make([]byte, len(samples)*sampleSize)
	}
	buf := p.encodeScratch[:len(samples)*sampleSize]
	if _, err := types.EncodeFloat32(Format, buf, samples); err != nil {
		logger.Errorf(p.ctx, "unable to encode the samples: %v", err)
		return
	}

	if excess := p.outputLen + len(buf) - capacity*sampleSize; excess > 0 {
		p.discardOutputLocked(excess)
	}
	w, err := p.output.Write(buf)
	if errors.Is(err, circular.ErrNoSpace) {
		p.discardOutputLocked(p.outputLen)
		w, err = p.output.Write(buf)
	}
	if err != nil {
		logger.Errorf(p.ctx, "unable to write to the output ring: %v", err)
		return
	}
	p.outputLen += w

	var oldCh chan struct{}
	oldCh, p.outputProgressedCh = p.outputProgressedCh, make(chan struct{})
	close(oldCh)
}

func (p *Pipeline) discardOutputLocked(n int) {
	n = min(n, p.outputLen)
	if cap(p.outputScratch) < n {
		p.outputScratch = make([]byte, n)
	}
	discarded := p.readOutputLocked(p.outputScratch[:n])
	p.droppedSamples.Add(uint64(discarded / sampleSize))
}

func (p *Pipeline) readOutputLocked(dst []byte) int {
	dst = dst[:min(len(dst), p.outputLen)]
	total := 0
	for total < len(dst) {
		n, err := p.output.Read(dst[total:])
		total += n
		if err != nil || n == 0 {
			break
		}
	}
	p.outputLen -= total
	return total
}

// PullProcessedSamples fills dst with processed samples without waiting.
// Missing samples are zeroed and counted as an underrun. It returns the
// amount of processed samples copied.
func (p *Pipeline) PullProcessedSamples(dst []float32) int {
	if len(dst) == 0 {
		return 0
	}
	p.outputLocker.Lock()
	if cap(p.outputScratch) < len(dst)*sampleSize {
		p.outputScratch = make([]byte, len(dst)*sampleSize)
	}
	buf := p.outputScratch[:len(dst)*sampleSize]
	n := p.readOutputLocked(buf) / sampleSize
	decoded, _ := types.DecodeFloat32(Format, dst[:n], buf[:n*sampleSize])
	p.outputLocker.Unlock()

	if decoded < len(dst) {
		clear(dst[decoded:])
		p.onUnderrun()
	}
	return decoded
}

func (p *Pipeline) onUnderrun() {
	p.underruns.Add(1)
	p.metrics.Underruns.Add(p.ctx, 1)
}

// Write decodes float32 little-endian mono PCM and pushes it as captured
// samples. A trailing partial sample is kept until the next call.
func (p *Pipeline) Write(b []byte) (int, error) {
	if p.isClosed.Load() {
		return 0, ErrClosed
	}
	p.writeLocker.Lock()
	defer p.writeLocker.Unlock()

	data := b
	if p.writeRemainLen > 0 {
		fill := min(sampleSize-p.writeRemainLen, len(b))
		copy(p.writeRemainder[p.writeRemainLen:], b[:fill])
		p.writeRemainLen += fill
		data = b[fill:]
		if p.writeRemainLen == sampleSize {
			p.writeRemainLen = 0
			p.pushBytesLocked(p.writeRemainder[:])
		}
	}

	whole := len(data) - len(data)%sampleSize
	p.pushBytesLocked(data[:whole])
	p.writeRemainLen += copy(p.writeRemainder[p.writeRemainLen:], data[whole:])
	return len(b), nil
}

func (p *Pipeline) pushBytesLocked(data []byte) {
	count := len(data) / sampleSize
	if count == 0 {
		return
	}
	if cap(p.writeSamples) < count {
		p.writeSamples = make([]float32, count)
	}
	samples := p.writeSamples[:count]
	n, _ := types.DecodeFloat32(Format, samples, data)
	p.PushCapturedSamples(samples[:n])
}

// Read blocks until processed float32 little-endian PCM is available and
// returns io.EOF after Close.
func (p *Pipeline) Read(b []byte) (int, error) {
	if len(b) < sampleSize {
		return 0, fmt.Errorf("the provided buffer is too short: %d < %d", len(b), sampleSize)
	}
	want := len(b) - len(b)%sampleSize

	p.outputLocker.Lock()
	defer p.outputLocker.Unlock()
	for p.outputLen == 0 {
		if p.isClosed.Load() {
			return 0, io.EOF
		}
		ch := p.outputProgressedCh
		p.outputLocker.Unlock()
		select {
		case <-p.ctx.Done():
		case <-ch:
		}
		p.outputLocker.Lock()
		if p.ctx.Err() != nil && p.outputLen == 0 {
			return 0, io.EOF
		}
	}
	return p.readOutputLocked(b[:want]), nil
}

// RealtimeReader returns a reader for players that never blocks: it zero
// fills what was not processed in time.
func (p *Pipeline) RealtimeReader() io.Reader {
	return realtimeReader{Pipeline: p}
}

type realtimeReader struct {
	*Pipeline
}

func (r realtimeReader) Read(b []byte) (int, error) {
	if r.isClosed.Load() {
		return 0, io.EOF
	}
	want := len(b) - len(b)%sampleSize
	if want == 0 {
		return 0, fmt.Errorf("the provided buffer is too short: %d < %d", len(b), sampleSize)
	}
	r.outputLocker.Lock()
	n := r.readOutputLocked(b[:want])
	r.outputLocker.Unlock()
	if n < want {
		clear(b[n:want])
		r.onUnderrun()
	}
	return want, nil
}

type Snapshot struct {
	processor.Snapshot

	Sensitivity        float32
	QueuedChunks       int
	BufferedSamples    int
	OutputSamples      int
	Underruns          uint64
	QueueFullFallbacks uint64
	DroppedSamples     uint64
}

func (p *Pipeline) Telemetry() Snapshot {
	p.outputLocker.Lock()
	outputSamples := p.outputLen / sampleSize
	p.outputLocker.Unlock()
	return Snapshot{
		Snapshot:           p.processor.Telemetry(),
		Sensitivity:        p.Sensitivity(),
		QueuedChunks:       p.queue.Len(),
		BufferedSamples:    p.buffer.Len(),
		OutputSamples:      outputSamples,
		Underruns:          p.underruns.Load(),
		QueueFullFallbacks: p.queueFullFallbacks.Load(),
		DroppedSamples:     p.droppedSamples.Load(),
	}
}

// Close stops the worker and closes the buffer and the processor.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.isClosed.Store(true)
		p.cancelFunc()
		p.waitGroup.Wait()

		p.outputLocker.Lock()
		close(p.outputProgressedCh)
		p.outputLocker.Unlock()

		var result *multierror.Error
		if err := p.buffer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to close the audio buffer: %w", err))
		}
		if err := p.processor.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to close the processor: %w", err))
		}
		p.closeErr = result.ErrorOrNil()
	})
	return p.closeErr
}
