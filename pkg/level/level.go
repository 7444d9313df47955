// Package level sanitizes scalar audio levels and raw sample chunks.
package level

import (
	"math"
)

const (
	// DefaultCorruptionCeiling is the magnitude above which a level is
	// considered corrupted instead of merely clipped.
	DefaultCorruptionCeiling = float32(10)

	// SmallestNormal is the smallest positive normal float32.
	SmallestNormal = float32(1.1754943508222875e-38)
)

// Validator maps arbitrary float32 levels into [0, 1].
type Validator struct {
	CorruptionCeiling float32
}

// DefaultValidator uses DefaultCorruptionCeiling.
var DefaultValidator = Validator{CorruptionCeiling: DefaultCorruptionCeiling}

// Validate is DefaultValidator.Validate.
func Validate(v float32) float32 {
	return DefaultValidator.Validate(v)
}

// Validate returns v if it is within [0, 1], clamps modest excursions and
// returns 0 for everything that looks like corruption (non-finite, denormal,
// or above the corruption ceiling). The function is idempotent.
func (val Validator) Validate(v float32) float32 {
	ceiling := val.CorruptionCeiling
	if ceiling <= 1 {
		ceiling = DefaultCorruptionCeiling
	}

	f := float64(v)
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return 0
	case IsDenormal(v):
		return 0
	case v <= 0:
		return 0
	case v > ceiling:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// IsDenormal reports if v is a non-zero subnormal float32.
func IsDenormal(v float32) bool {
	return v != 0 && v > -SmallestNormal && v < SmallestNormal
}

// IsFinite reports if v is neither NaN nor ±Inf.
func IsFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
