package config

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

// AudioConfig describes the device side of the live loopback.
type AudioConfig struct {
	SampleRate audio.SampleRate `yaml:"sample_rate"`
	Format     audio.PCMFormat  `yaml:"format"`

	// PlaybackBuffer is the buffer requested from the player.
	PlaybackBuffer time.Duration `yaml:"playback_buffer"`
}

func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:     48000,
		Format:         audio.PCMFormatFloat32LE,
		PlaybackBuffer: audio.BufferSize,
	}
}

func (cfg AudioConfig) Validate() error {
	if cfg.SampleRate == 0 {
		return fmt.Errorf("the sample rate is zero")
	}
	if cfg.Format.Size() == 0 {
		return fmt.Errorf("unsupported PCM format %v", cfg.Format)
	}
	if cfg.PlaybackBuffer <= 0 {
		return fmt.Errorf("the playback buffer must be positive, but is %v", cfg.PlaybackBuffer)
	}
	return nil
}
