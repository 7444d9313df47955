// Package stft implements a Hann-windowed short-time Fourier transform with
// an exact weighted overlap-add inverse.
package stft

import (
	"fmt"
	"sync"
)

type Config struct {
	FFTSize int `yaml:"fft_size"`
	HopSize int `yaml:"hop_size"`
}

func DefaultConfig() Config {
	return Config{
		FFTSize: 960,
		HopSize: 480,
	}
}

func (cfg Config) Validate() error {
	if cfg.FFTSize < 2 {
		return fmt.Errorf("FFT size must be at least 2, but is %d", cfg.FFTSize)
	}
	if cfg.HopSize <= 0 || cfg.HopSize > cfg.FFTSize/2 {
		return fmt.Errorf("hop size must be within [1, %d], but is %d", cfg.FFTSize/2, cfg.HopSize)
	}
	return nil
}

// Bins is the amount of one-sided frequency bins per frame.
func (cfg Config) Bins() int {
	return cfg.FFTSize/2 + 1
}

// STFT is safe for concurrent use.
type STFT struct {
	config          Config
	engine          engine
	analysisWindow  []float64
	synthesisWindow []float64
	bufferPool      sync.Pool
}

func New(cfg Config) (*STFT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &STFT{
		config:          cfg,
		engine:          newEngine(cfg.FFTSize),
		analysisWindow:  hann(cfg.FFTSize),
		synthesisWindow: hann(cfg.FFTSize),
	}
	s.bufferPool.New = func() any {
		buf := make([]complex128, cfg.FFTSize)
		return &buf
	}
	return s, nil
}

func (s *STFT) Config() Config {
	return s.config
}

func (s *STFT) padding() int {
	return s.config.FFTSize - s.config.HopSize
}

// FrameCount returns the amount of frames Transform produces for a signal
// of the given length.
func (s *STFT) FrameCount(signalLength int) int {
	if signalLength <= 0 {
		return 0
	}
	total := s.padding() + signalLength
	return (total + s.config.HopSize - 1) / s.config.HopSize
}

// Transform computes one frame per hop. The signal is prefixed with
// FFTSize-HopSize zeros so that its first sample is covered by overlapping
// windows, and the last partial frame is zero-padded.
func (s *STFT) Transform(signal []float32) (*Spectrogram, error) {
	fftSize, hop, pad := s.config.FFTSize, s.config.HopSize, s.padding()
	frameCount := s.FrameCount(len(signal))
	result := &Spectrogram{
		Frames:       make([]Frame, 0, frameCount),
		SignalLength: len(signal),
	}

	bufPtr := s.bufferPool.Get().(*[]complex128)
	defer s.bufferPool.Put(bufPtr)

	for frameIdx := 0; frameIdx < frameCount; frameIdx++ {
		buf := (*bufPtr)[:fftSize]
		start := frameIdx*hop - pad
		for i := range buf {
			var v float64
			if pos := start + i; pos >= 0 && pos < len(signal) {
				v = float64(signal[pos]) * s.analysisWindow[i]
			}
			buf[i] = complex(v, 0)
		}

		spectrum, err := s.engine.Forward(buf)
		if err != nil {
			return nil, fmt.Errorf("frame #%d: %w", frameIdx, err)
		}

		frame := newFrame(s.config.Bins())
		for k := range frame.Real {
			frame.Real[k] = float32(real(spectrum[k]))
			frame.Imag[k] = float32(imag(spectrum[k]))
		}
		result.Frames = append(result.Frames, frame)
	}
	return result, nil
}

// Inverse reconstructs the time-domain signal by overlap-adding the windowed
// inverse transforms and normalizing every sample by the accumulated
// analysis*synthesis window weight, so an unmodified spectrogram
// reconstructs its source exactly (up to float rounding).
func (s *STFT) Inverse(spectrum *Spectrogram) ([]float32, error) {
	if spectrum == nil || spectrum.SignalLength <= 0 {
		return nil, nil
	}
	fftSize, hop, pad := s.config.FFTSize, s.config.HopSize, s.padding()
	bins := s.config.Bins()

	total := pad + spectrum.SignalLength
	acc := make([]float64, total+fftSize)
	norm := make([]float64, total+fftSize)

	bufPtr := s.bufferPool.Get().(*[]complex128)
	defer s.bufferPool.Put(bufPtr)

	for frameIdx, frame := range spectrum.Frames {
		if frame.Bins() != bins || len(frame.Imag) != bins {
			return nil, fmt.Errorf("frame #%d has %d bins, expected %d", frameIdx, frame.Bins(), bins)
		}
		buf := (*bufPtr)[:fftSize]
		for k := range buf {
			switch {
			case k < bins:
				buf[k] = complex(float64(frame.Real[k]), float64(frame.Imag[k]))
			default:
				mirror := fftSize - k
				buf[k] = complex(float64(frame.Real[mirror]), -float64(frame.Imag[mirror]))
			}
		}

		timeDomain, err := s.engine.Inverse(buf)
		if err != nil {
			return nil, fmt.Errorf("frame #%d: %w", frameIdx, err)
		}

		offset := frameIdx * hop
		for i := 0; i < fftSize && offset+i < len(acc); i++ {
			acc[offset+i] += real(timeDomain[i]) * s.synthesisWindow[i]
			norm[offset+i] += s.analysisWindow[i] * s.synthesisWindow[i]
		}
	}

	out := make([]float32, spectrum.SignalLength)
	for i := range out {
		if n := norm[pad+i]; n > 1e-12 {
			out[i] = float32(acc[pad+i] / n)
		}
	}
	return out, nil
}
