package pipeline

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/inference/implementations/mock"
	"github.com/xaionaro-go/denoise/pkg/processor"
)

const chunkSize = 960

func sine(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	return out
}

func encode(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func newPipeline(
	t *testing.T,
	cfg Config,
	behavior mock.Behavior,
	activate bool,
) (*Pipeline, *mock.Backend) {
	t.Helper()
	ctx := context.Background()

	procCfg := processor.DefaultConfig()
	procCfg.InferenceDeadline = 0
	backend := mock.New(procCfg.ERB.Bands, behavior)
	proc, err := processor.New(procCfg, backend)
	require.NoError(t, err)
	if activate {
		require.NoError(t, proc.Initialize(ctx))
		require.NoError(t, proc.WaitReady(ctx))
	}

	p, err := New(ctx, cfg, proc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, backend
}

func pushChunks(p *Pipeline, samples []float32) {
	for len(samples) > 0 {
		n := min(chunkSize, len(samples))
		p.PushCapturedSamples(samples[:n])
		samples = samples[n:]
	}
}

func waitOutput(t *testing.T, p *Pipeline, samples int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Telemetry().OutputSamples >= samples
	}, 2*time.Second, time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.QueueLength = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.OutputCapacity = cfg.Buffer.MinExtractSize - 1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Buffer.MinExtractSize = 0
	require.Error(t, cfg.Validate())

	_, err := New(context.Background(), DefaultConfig(), nil)
	require.Error(t, err)
}

func TestUnityRoundTrip(t *testing.T) {
	p, backend := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 1}, true)

	in := sine(chunkSize*2, 0.5)
	pushChunks(p, in)
	waitOutput(t, p, len(in))
	assert.Equal(t, uint64(2*3), backend.Inferences())

	out := make([]float32, len(in))
	require.Equal(t, len(in), p.PullProcessedSamples(out))
	for idx := range in {
		require.InDelta(t, in[idx], out[idx], 1e-4, "sample %d", idx)
	}

	snapshot := p.Telemetry()
	assert.Equal(t, uint64(2), snapshot.FramesProcessed)
	assert.Equal(t, uint64(0), snapshot.Underruns)
	assert.Equal(t, 0, snapshot.OutputSamples)
}

func TestSuppression(t *testing.T) {
	p, _ := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 0}, true)

	in := sine(chunkSize, 0.5)
	pushChunks(p, in)
	waitOutput(t, p, len(in))

	out := make([]float32, len(in))
	require.Equal(t, len(in), p.PullProcessedSamples(out))
	for idx := range out {
		require.InDelta(t, 0, out[idx], 1e-4, "sample %d", idx)
	}

	p.SetSensitivity(0)
	pushChunks(p, in)
	waitOutput(t, p, len(in))
	require.Equal(t, len(in), p.PullProcessedSamples(out))
	for idx := range in {
		require.InDelta(t, in[idx], out[idx], 1e-4, "sample %d", idx)
	}
}

func TestPassThroughWhenInactive(t *testing.T) {
	p, backend := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 0}, false)

	in := sine(chunkSize, 0.5)
	in[10] = 3
	pushChunks(p, in)
	waitOutput(t, p, len(in))
	assert.Equal(t, uint64(0), backend.Inferences())

	out := make([]float32, len(in))
	require.Equal(t, len(in), p.PullProcessedSamples(out))
	assert.Equal(t, float32(1), out[10])
	assert.Equal(t, in[11], out[11])
}

func TestUnderrun(t *testing.T) {
	p, _ := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 1}, false)

	out := []float32{1, 1, 1}
	require.Equal(t, 0, p.PullProcessedSamples(out))
	assert.Equal(t, []float32{0, 0, 0}, out)
	assert.Equal(t, 0, p.PullProcessedSamples(nil))

	b := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	n, err := p.RealtimeReader().Read(b)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 9}, b)

	assert.Equal(t, uint64(2), p.Telemetry().Underruns)
}

func TestOutputCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputCapacity = chunkSize * 2
	cfg.QueueLength = 8
	p, _ := newPipeline(t, cfg, mock.Behavior{Gain: 1}, false)

	in := make([]float32, chunkSize*5)
	for idx := range in {
		in[idx] = float32(idx/chunkSize) / 10
	}
	pushChunks(p, in)
	require.Eventually(t, func() bool {
		return p.Telemetry().DroppedSamples == chunkSize*3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, chunkSize*2, p.Telemetry().OutputSamples)

	out := make([]float32, chunkSize*2)
	require.Equal(t, len(out), p.PullProcessedSamples(out))
	assert.InDelta(t, 0.3, out[0], 1e-6)
	assert.InDelta(t, 0.4, out[len(out)-1], 1e-6)
}

func TestQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueLength = 4
	p, backend := newPipeline(t, cfg, mock.Behavior{Gain: 1, InferenceDelay: 20 * time.Millisecond}, true)

	const chunks = 6
	for i := 0; i < chunks; i++ {
		in := make([]float32, chunkSize)
		for idx := range in {
			in[idx] = float32(i+1) / 10
		}
		pushChunks(p, in)
	}
	snapshot := p.Telemetry()
	assert.GreaterOrEqual(t, snapshot.QueueFullFallbacks, uint64(1))

	waitOutput(t, p, chunks*chunkSize)
	snapshot = p.Telemetry()
	assert.Zero(t, snapshot.DroppedSamples)
	assert.Equal(t, uint64(chunks)-snapshot.QueueFullFallbacks, snapshot.FramesProcessed)
	assert.Equal(t, 3*snapshot.FramesProcessed, backend.Inferences())

	out := make([]float32, chunks*chunkSize)
	require.Equal(t, len(out), p.PullProcessedSamples(out))
	for i := 0; i < chunks; i++ {
		require.InDelta(t, float32(i+1)/10, out[i*chunkSize+chunkSize/2], 1e-3, "chunk %d", i)
	}
}

func TestWriteRead(t *testing.T) {
	p, _ := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 1}, false)

	in := sine(chunkSize, 0.25)
	raw := encode(in)
	for _, part := range [][]byte{raw[:3], raw[3:5], raw[5:1001], raw[1001:]} {
		n, err := p.Write(part)
		require.NoError(t, err)
		require.Equal(t, len(part), n)
	}

	got := make([]byte, 0, len(raw))
	buf := make([]byte, 1000)
	for len(got) < len(raw) {
		n, err := p.Read(buf)
		require.NoError(t, err)
		require.Zero(t, n%4)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, raw, got)

	_, err := p.Read(make([]byte, 3))
	require.Error(t, err)
}

func TestBlockingReadWakesUp(t *testing.T) {
	p, _ := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 1}, false)

	type result struct {
		n   int
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		n, err := p.Read(make([]byte, 64))
		resultCh <- result{n, err}
	}()

	select {
	case r := <-resultCh:
		t.Fatalf("Read returned too early: %d %v", r.n, r.err)
	case <-time.After(20 * time.Millisecond):
	}

	pushChunks(p, sine(chunkSize, 0.5))
	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		require.Equal(t, 64, r.n)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not wake up")
	}
}

func TestClose(t *testing.T) {
	p, backend := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 1}, true)

	resultCh := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 64))
		resultCh <- err
	}()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, backend.IsClosed())
	assert.Equal(t, processor.StateInactive, p.Processor().State())

	select {
	case err := <-resultCh:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return after Close")
	}

	_, err := p.Write(encode(sine(chunkSize, 0.5)))
	require.ErrorIs(t, err, ErrClosed)
	_, err = p.RealtimeReader().Read(make([]byte, 8))
	require.ErrorIs(t, err, io.EOF)
	p.PushCapturedSamples(sine(chunkSize, 0.5))
	assert.Equal(t, 0, p.Telemetry().OutputSamples)
}

func TestSensitivity(t *testing.T) {
	p, _ := newPipeline(t, DefaultConfig(), mock.Behavior{Gain: 1}, false)
	assert.Equal(t, float32(1), p.Sensitivity())

	p.SetSensitivity(0.3)
	assert.Equal(t, float32(0.3), p.Sensitivity())
	p.SetSensitivity(2)
	assert.Equal(t, float32(1), p.Sensitivity())
	p.SetSensitivity(-1)
	assert.Equal(t, float32(0), p.Sensitivity())
	p.SetSensitivity(float32(math.NaN()))
	assert.Equal(t, float32(0), p.Sensitivity())
	assert.Equal(t, float32(0), p.Telemetry().Sensitivity)
}
