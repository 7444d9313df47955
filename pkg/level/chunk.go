package level

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNonFinite         = errors.New("non-finite sample")
	ErrAmplitudeCeiling  = errors.New("sample amplitude is beyond the ceiling")
	ErrDenormalSaturated = errors.New("chunk is saturated with denormal samples")
)

const (
	DefaultAmplitudeCeiling   = float32(4)
	DefaultDenormalSaturation = 0.5
)

// ChunkPolicy defines which chunks are considered corrupted.
type ChunkPolicy struct {
	// AmplitudeCeiling is the maximal absolute sample value accepted.
	AmplitudeCeiling float32 `yaml:"amplitude_ceiling"`

	// DenormalSaturation is the maximal accepted fraction (0..1] of
	// denormal samples in a chunk.
	DenormalSaturation float64 `yaml:"denormal_saturation"`
}

func DefaultChunkPolicy() ChunkPolicy {
	return ChunkPolicy{
		AmplitudeCeiling:   DefaultAmplitudeCeiling,
		DenormalSaturation: DefaultDenormalSaturation,
	}
}

func (p ChunkPolicy) Validate() error {
	if !(p.AmplitudeCeiling > 0) || !IsFinite(p.AmplitudeCeiling) {
		return fmt.Errorf("amplitude ceiling must be a positive finite value, but is %v", p.AmplitudeCeiling)
	}
	if !(p.DenormalSaturation > 0 && p.DenormalSaturation <= 1) {
		return fmt.Errorf("denormal saturation must be within (0, 1], but is %v", p.DenormalSaturation)
	}
	return nil
}

// ChunkError describes the first offending sample of a rejected chunk.
type ChunkError struct {
	Index int
	Value float32
	Err   error
}

func (e *ChunkError) Error() string {
	if e.Index < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("sample #%d (%v): %v", e.Index, e.Value, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ValidateChunk returns nil if the chunk may be fed to a model.
func ValidateChunk(samples []float32, policy ChunkPolicy) error {
	ceiling := policy.AmplitudeCeiling
	if ceiling <= 0 {
		ceiling = DefaultAmplitudeCeiling
	}
	saturation := policy.DenormalSaturation
	if saturation <= 0 {
		saturation = DefaultDenormalSaturation
	}

	denormals := 0
	for idx, v := range samples {
		if !IsFinite(v) {
			return &ChunkError{Index: idx, Value: v, Err: ErrNonFinite}
		}
		if float32(math.Abs(float64(v))) > ceiling {
			return &ChunkError{Index: idx, Value: v, Err: ErrAmplitudeCeiling}
		}
		if IsDenormal(v) {
			denormals++
		}
	}
	if len(samples) > 0 && float64(denormals)/float64(len(samples)) > saturation {
		return &ChunkError{Index: -1, Err: ErrDenormalSaturated}
	}
	return nil
}

// Sanitize replaces non-finite and denormal samples with zeros and clamps
// everything else into [-1, 1], in place.
func Sanitize(samples []float32) []float32 {
	for idx, v := range samples {
		switch {
		case !IsFinite(v), IsDenormal(v):
			samples[idx] = 0
		case v > 1:
			samples[idx] = 1
		case v < -1:
			samples[idx] = -1
		}
	}
	return samples
}
