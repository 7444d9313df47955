package processor

import (
	"fmt"
	"math"
	"time"

	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/level"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
	"github.com/xaionaro-go/denoise/pkg/spectral/stft"
)

type Config struct {
	// Sensitivity is the default suppression strength within [0, 1].
	Sensitivity float32 `yaml:"sensitivity"`

	Chunk level.ChunkPolicy `yaml:"chunk"`
	STFT  stft.Config       `yaml:"stft"`
	ERB   erb.Config        `yaml:"erb"`

	// ModelPath is handed to the backend on Initialize; empty selects the
	// built-in model of the backend.
	ModelPath  string               `yaml:"model_path"`
	PathPolicy inference.PathPolicy `yaml:"path_policy"`

	// InferenceDeadline is the longest a single Process may wait for the
	// backend; zero disables the deadline.
	InferenceDeadline time.Duration `yaml:"inference_deadline"`

	// MaxCriticalCycles is the amount of cycles spent at critical memory
	// pressure before inference is suspended.
	MaxCriticalCycles int `yaml:"max_critical_cycles"`

	// FailureSuspendThreshold suspends inference after this many
	// consecutive backend failures; zero disables it.
	FailureSuspendThreshold int `yaml:"failure_suspend_threshold"`

	CorruptInputFallback Fallback `yaml:"corrupt_input_fallback"`

	// LevelRelease is the per-chunk decay of the level meters.
	LevelRelease float32 `yaml:"level_release"`
}

func DefaultConfig() Config {
	return Config{
		Sensitivity:          1,
		Chunk:                level.DefaultChunkPolicy(),
		STFT:                 stft.DefaultConfig(),
		ERB:                  erb.DefaultConfig(),
		PathPolicy:           inference.DefaultPathPolicy(),
		InferenceDeadline:    20 * time.Millisecond,
		MaxCriticalCycles:    8,
		CorruptInputFallback: FallbackSilence,
		LevelRelease:         0.9,
	}
}

func (cfg Config) Validate() error {
	if math.IsNaN(float64(cfg.Sensitivity)) || cfg.Sensitivity < 0 || cfg.Sensitivity > 1 {
		return fmt.Errorf("sensitivity must be within [0, 1], but is %v", cfg.Sensitivity)
	}
	if err := cfg.Chunk.Validate(); err != nil {
		return fmt.Errorf("invalid chunk policy: %w", err)
	}
	if err := cfg.STFT.Validate(); err != nil {
		return fmt.Errorf("invalid STFT config: %w", err)
	}
	if err := cfg.ERB.Validate(); err != nil {
		return fmt.Errorf("invalid ERB config: %w", err)
	}
	if cfg.ERB.FFTSize != cfg.STFT.FFTSize {
		return fmt.Errorf("the ERB FFT size (%d) does not match the STFT FFT size (%d)", cfg.ERB.FFTSize, cfg.STFT.FFTSize)
	}
	if cfg.InferenceDeadline < 0 {
		return fmt.Errorf("the inference deadline cannot be negative: %v", cfg.InferenceDeadline)
	}
	if cfg.MaxCriticalCycles < 0 {
		return fmt.Errorf("max critical cycles cannot be negative: %d", cfg.MaxCriticalCycles)
	}
	if cfg.FailureSuspendThreshold < 0 {
		return fmt.Errorf("the failure suspend threshold cannot be negative: %d", cfg.FailureSuspendThreshold)
	}
	switch cfg.CorruptInputFallback {
	case FallbackSilence, FallbackPassThrough:
	default:
		return fmt.Errorf("unknown corrupt input fallback: %v", cfg.CorruptInputFallback)
	}
	if cfg.LevelRelease < 0 || cfg.LevelRelease >= 1 {
		return fmt.Errorf("the level release must be within [0, 1), but is %v", cfg.LevelRelease)
	}
	return nil
}
