package quantization

import (
	"math"
)

const (
	activationQMin = -128
	activationQMax = 127
)

// AnalyzeActivationRange derives asymmetric INT8 parameters from the observed
// range of a live activation tensor. It returns NoQuantization for an empty
// tensor or a tensor with non-finite values.
func AnalyzeActivationRange(activations []float32) Params {
	if len(activations) == 0 {
		return NoQuantization
	}
	minVal, maxVal := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range activations {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return NoQuantization
		}
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}

	// the range must contain zero so that zero is exactly representable
	lo, hi := min(minVal, 0), max(maxVal, 0)
	scale := (hi - lo) / float32(activationQMax-activationQMin)
	if !(scale > 0) || math.IsInf(float64(scale), 0) {
		scale = 1
	}
	zeroPoint := math.Round(activationQMin - float64(lo)/float64(scale))
	zeroPoint = max(activationQMin, min(activationQMax, zeroPoint))
	return Params{
		Scale:     scale,
		ZeroPoint: int32(zeroPoint),
		MinVal:    minVal,
		MaxVal:    maxVal,
	}
}

// QuantizeActivations returns nil if params is NoQuantization.
func QuantizeActivations(activations []float32, params Params) []int8 {
	if params.IsNoQuantization() {
		return nil
	}
	out := make([]int8, len(activations))
	for idx, v := range activations {
		q := math.Round(float64(v)/float64(params.Scale)) + float64(params.ZeroPoint)
		out[idx] = int8(max(activationQMin, min(activationQMax, q)))
	}
	return out
}

func DequantizeActivations(values []int8, params Params) []float32 {
	return DequantizeFromINT8(values, params)
}
