// Package fvad is a VAD based on the WebRTC voice activity detector.
package fvad

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/josharian/fvad"
	"github.com/xaionaro-go/denoise/pkg/vad"
)

type Mode int

const (
	ModeQuality = Mode(iota)
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

type Config struct {
	SampleRate int           `yaml:"sample_rate"`
	Mode       Mode          `yaml:"mode"`
	FrameSize  time.Duration `yaml:"frame_size"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		Mode:       ModeAggressive,
		FrameSize:  10 * time.Millisecond,
	}
}

func (cfg Config) Validate() error {
	switch cfg.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d, expected one of 8000, 16000, 32000, 48000", cfg.SampleRate)
	}
	switch cfg.FrameSize {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		return fmt.Errorf("unsupported frame size %v, expected 10ms, 20ms or 30ms", cfg.FrameSize)
	}
	if cfg.Mode < ModeQuality || cfg.Mode > ModeVeryAggressive {
		return fmt.Errorf("unsupported mode %d", cfg.Mode)
	}
	return nil
}

// FrameSamples is the amount of samples in one detector frame.
func (cfg Config) FrameSamples() int {
	return int(int64(cfg.SampleRate) * int64(cfg.FrameSize) / int64(time.Second))
}

type VAD struct {
	locker   sync.Mutex
	detector *fvad.Detector
	frame    []int16
	closed   bool
}

var _ vad.VAD = (*VAD)(nil)

func New(cfg Config) (*VAD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := fvad.NewDetector()
	if err := d.SetMode(int(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("unable to set mode %d: %w", cfg.Mode, err)
	}
	if err := d.SetSampleRate(cfg.SampleRate); err != nil {
		return nil, fmt.Errorf("unable to set sample rate %d: %w", cfg.SampleRate, err)
	}
	return &VAD{
		detector: d,
		frame:    make([]int16, cfg.FrameSamples()),
	}, nil
}

// VoiceActivity splits the samples into detector frames and returns the
// share of the frames detected as voice. A trailing partial frame is ignored.
func (v *VAD) VoiceActivity(
	ctx context.Context,
	samples []float32,
) (float64, error) {
	v.locker.Lock()
	defer v.locker.Unlock()
	if v.closed {
		return 0, fmt.Errorf("the VAD is closed")
	}

	frameSize := len(v.frame)
	frames := len(samples) / frameSize
	if frames == 0 {
		return 0, fmt.Errorf("received %d samples, while at least %d are required", len(samples), frameSize)
	}

	voiced := 0
	for idx := 0; idx < frames; idx++ {
		toInt16(v.frame, samples[idx*frameSize:(idx+1)*frameSize])
		isVoice, err := v.detector.Process(v.frame)
		if err != nil {
			return 0, fmt.Errorf("unable to process frame %d: %w", idx, err)
		}
		if isVoice {
			voiced++
		}
	}
	logger.Tracef(ctx, "voiced frames: %d/%d", voiced, frames)
	return float64(voiced) / float64(frames), nil
}

func toInt16(dst []int16, src []float32) {
	for i, s := range src {
		if math.IsNaN(float64(s)) {
			s = 0
		}
		s = max(-1, min(1, s))
		dst[i] = int16(math.Round(float64(s) * math.MaxInt16))
	}
}

func (v *VAD) Close() error {
	v.locker.Lock()
	defer v.locker.Unlock()
	v.closed = true
	return nil
}
