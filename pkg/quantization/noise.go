package quantization

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// InjectNoise perturbs the weights in place by a uniform noise of the
// magnitude of the rounding error the given precision would introduce.
// It is meant for quantization-aware training; PrecisionNone is a no-op.
func InjectNoise(weights []float32, mode Precision, rng *rand.Rand) error {
	if mode == PrecisionNone {
		return nil
	}
	uniform := rand.Float64
	if rng != nil {
		uniform = rng.Float64
	}

	var step func(v float32) float64
	switch mode {
	case PrecisionFP16:
		if err := checkFinite("inject FP16 noise", weights); err != nil {
			return err
		}
		step = fp16Step
	case PrecisionINT8:
		params, err := SymmetricParams(weights)
		if err != nil {
			return err
		}
		step = func(float32) float64 { return float64(params.Scale) }
	case PrecisionDynamic:
		params := AnalyzeActivationRange(weights)
		if params.IsNoQuantization() {
			return checkFinite("inject dynamic noise", weights)
		}
		step = func(float32) float64 { return float64(params.Scale) }
	default:
		return fmt.Errorf("unsupported noise mode: %v", mode)
	}

	for idx, v := range weights {
		weights[idx] = v + float32((uniform()-0.5)*step(v))
	}
	return nil
}

// fp16Step returns the distance between adjacent float16 values around v.
func fp16Step(v float32) float64 {
	_, exp := math.Frexp(math.Abs(float64(v)))
	// float16 keeps 11 significant bits; subnormals have a fixed step of 2^-24
	return math.Ldexp(1, max(exp-11, -24))
}
