package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/inference/implementations/spectralgate"
	"github.com/xaionaro-go/denoise/pkg/processor"
	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/denoise/pkg/vad"
	"github.com/xaionaro-go/denoise/pkg/vad/implementations/fvad"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSpectralGate, cfg.Backend.Name)
	assert.Equal(t, 960, cfg.Pipeline.Buffer.MinExtractSize)
	assert.Equal(t, 960, cfg.Processor.STFT.FFTSize)
	assert.Equal(t, 480, cfg.Processor.STFT.HopSize)
	assert.Equal(t, 32, cfg.Processor.ERB.Bands)
	assert.Equal(t, audio.SampleRate(48000), cfg.Audio.SampleRate)
}

func TestParse(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		cfg, err := Parse(strings.NewReader(""))
		require.NoError(t, err)
		require.Equal(t, Default(), cfg, spew.Sdump(cfg))
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := Parse(strings.NewReader(`
backend:
  name: spectralgate
  spectralgate:
    precision: int8
vad:
  enabled: false
processor:
  sensitivity: 0.5
  inference_deadline: 15ms
  corrupt_input_fallback: pass_through
pipeline:
  queue_length: 2
  buffer:
    cooldown_duration: 1s
audio:
  format: s16le
`))
		require.NoError(t, err)
		assert.Equal(t, quantization.PrecisionINT8, cfg.Backend.SpectralGate.Precision)
		assert.False(t, cfg.VAD.Enabled)
		assert.Equal(t, float32(0.5), cfg.Processor.Sensitivity)
		assert.Equal(t, 15*time.Millisecond, cfg.Processor.InferenceDeadline)
		assert.Equal(t, processor.FallbackPassThrough, cfg.Processor.CorruptInputFallback)
		assert.Equal(t, 2, cfg.Pipeline.QueueLength)
		assert.Equal(t, time.Second, cfg.Pipeline.Buffer.CooldownDuration)
		assert.Equal(t, audio.PCMFormatS16LE, cfg.Audio.Format)

		// untouched fields keep their defaults
		assert.Equal(t, 960, cfg.Pipeline.Buffer.MinExtractSize)
		assert.Equal(t, 8, cfg.Processor.MaxCriticalCycles)
	})

	t.Run("unknown_field", func(t *testing.T) {
		_, err := Parse(strings.NewReader("processor:\n  sensitivty: 0.5\n"))
		require.Error(t, err)
	})

	t.Run("invalid_enum", func(t *testing.T) {
		_, err := Parse(strings.NewReader("backend:\n  spectralgate:\n    precision: fp8\n"))
		require.Error(t, err)
	})

	t.Run("all_errors_reported", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`
backend:
  name: tensorflow
processor:
  sensitivity: 2
pipeline:
  queue_length: 0
`))
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "backend:")
		assert.Contains(t, msg, "processor:")
		assert.Contains(t, msg, "pipeline:")
	})

	t.Run("mismatches", func(t *testing.T) {
		_, err := Parse(strings.NewReader("audio:\n  sample_rate: 16000\n"))
		require.Error(t, err)

		_, err = Parse(strings.NewReader("vad:\n  fvad:\n    sample_rate: 16000\n"))
		require.Error(t, err)

		_, err = Parse(strings.NewReader("vad:\n  enabled: false\n  fvad:\n    sample_rate: 16000\n"))
		require.NoError(t, err)

		_, err = Parse(strings.NewReader("backend:\n  name: onnx\n  onnx:\n    bands: 24\n"))
		require.Error(t, err)
	})
}

func TestLoadAndWrite(t *testing.T) {
	cfg := Default()
	cfg.Processor.Sensitivity = 0.25
	cfg.Backend.Name = BackendDummy
	cfg.Audio.Format = audio.PCMFormatS32LE
	cfg.Processor.PathPolicy.AllowedDirs = []string{"/opt/denoise/models"}

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))

	path := filepath.Join(t.TempDir(), "denoise.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err, buf.String())
	require.Equal(t, cfg, loaded, buf.String())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBackendNew(t *testing.T) {
	cfg := DefaultBackendConfig()

	b, err := cfg.New(32)
	require.NoError(t, err)
	_, ok := b.(*spectralgate.Backend)
	assert.True(t, ok)
	require.NoError(t, b.Close())

	cfg.Name = BackendDummy
	b, err = cfg.New(32)
	require.NoError(t, err)
	_, ok = b.(*inference.Dummy)
	assert.True(t, ok)
	require.NoError(t, b.Close())

	cfg.Name = "unknown"
	_, err = cfg.New(32)
	require.Error(t, err)
}

func TestVADNew(t *testing.T) {
	cfg := DefaultVADConfig()
	v, err := cfg.New()
	require.NoError(t, err)
	_, ok := v.(*fvad.VAD)
	assert.True(t, ok)
	require.NoError(t, v.Close())

	cfg.Enabled = false
	v, err = cfg.New()
	require.NoError(t, err)
	assert.Equal(t, vad.Dummy{}, v)
}
