package stft

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, sampleRate float64, count int) []float32 {
	out := make([]float32, count)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func noise(seed uint64, count int) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float32, count)
	for i := range out {
		out[i] = float32(rng.Float64()*2 - 1)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{FFTSize: 960, HopSize: 0}.Validate())
	require.Error(t, Config{FFTSize: 960, HopSize: 961}.Validate())
	require.Error(t, Config{FFTSize: 1, HopSize: 1}.Validate())
	assert.Equal(t, 481, DefaultConfig().Bins())
}

func TestRoundTrip(t *testing.T) {
	for _, cfg := range []Config{
		DefaultConfig(),
		{FFTSize: 512, HopSize: 128},
		{FFTSize: 1024, HopSize: 512},
		{FFTSize: 15, HopSize: 5},
	} {
		for name, signal := range map[string][]float32{
			"sine":        sine(440, 48000, 4800),
			"noise":       noise(1, 3000),
			"short":       noise(2, cfg.FFTSize),
			"partialTail": noise(3, cfg.FFTSize*3+7),
		} {
			t.Run(name, func(t *testing.T) {
				s, err := New(cfg)
				require.NoError(t, err)

				spectrogram, err := s.Transform(signal)
				require.NoError(t, err)
				require.Len(t, spectrogram.Frames, s.FrameCount(len(signal)))
				for _, frame := range spectrogram.Frames {
					require.Equal(t, cfg.Bins(), frame.Bins())
				}

				out, err := s.Inverse(spectrogram)
				require.NoError(t, err)
				require.Len(t, out, len(signal))
				for i := range signal {
					require.InDelta(t, signal[i], out[i], 1e-4, "cfg:%#+v sample:%d", cfg, i)
				}
			})
		}
	}
}

func TestSilence(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	spectrogram, err := s.Transform(make([]float32, 960))
	require.NoError(t, err)
	for _, frame := range spectrogram.Frames {
		for _, p := range frame.Power() {
			require.Zero(t, p)
		}
	}
	out, err := s.Inverse(spectrogram)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 960), out)
}

func TestSinePeak(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	// 1 kHz at 48 kHz with a 960-point FFT falls exactly into bin 20.
	spectrogram, err := s.Transform(sine(1000, 48000, 4800))
	require.NoError(t, err)
	frame := spectrogram.Frames[len(spectrogram.Frames)/2]
	mag := frame.Magnitude()
	peak := 0
	for k := range mag {
		if mag[k] > mag[peak] {
			peak = k
		}
	}
	assert.Equal(t, 20, peak)
}

func TestScaledSpectrum(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	signal := noise(5, 1920)
	spectrogram, err := s.Transform(signal)
	require.NoError(t, err)

	gains := make([]float32, DefaultConfig().Bins())
	for k := range gains {
		gains[k] = 0.5
	}
	for _, frame := range spectrogram.Frames {
		frame.Scale(gains)
	}
	out, err := s.Inverse(spectrogram)
	require.NoError(t, err)
	for i := range signal {
		require.InDelta(t, signal[i]*0.5, out[i], 1e-4)
	}
}

func TestInverseEdgeCases(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	out, err := s.Inverse(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	spectrogram, err := s.Transform(nil)
	require.NoError(t, err)
	assert.Empty(t, spectrogram.Frames)

	_, err = s.Inverse(&Spectrogram{
		Frames:       []Frame{newFrame(3)},
		SignalLength: 10,
	})
	require.Error(t, err)
}

func TestRealTimeBudget(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	signal := noise(7, 4800)

	startTS := time.Now()
	const iterations = 10
	for i := 0; i < iterations; i++ {
		spectrogram, err := s.Transform(signal)
		require.NoError(t, err)
		_, err = s.Inverse(spectrogram)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(startTS)/iterations, 50*time.Millisecond)
}

func BenchmarkRoundTrip(b *testing.B) {
	for _, cfg := range []Config{DefaultConfig(), {FFTSize: 1024, HopSize: 512}} {
		s, err := New(cfg)
		require.NoError(b, err)
		signal := noise(9, 4800)
		b.Run(fmt.Sprintf("fft%d_hop%d", cfg.FFTSize, cfg.HopSize), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				spectrogram, _ := s.Transform(signal)
				_, _ = s.Inverse(spectrogram)
			}
		})
	}
}
