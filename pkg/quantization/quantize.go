// Package quantization converts weights and activations between float32,
// float16 and 8-bit integer representations.
package quantization

import (
	"math"

	"github.com/x448/float16"
)

const (
	int8Max = 127

	// fp16Max is the largest finite float16 value.
	fp16Max = 65504
)

func checkFinite(op string, values []float32) error {
	if len(values) == 0 {
		return &Error{Op: op, Index: -1, Err: ErrEmptyInput}
	}
	for idx, v := range values {
		switch {
		case math.IsNaN(float64(v)):
			return &Error{Op: op, Index: idx, Value: v, Err: ErrNaN}
		case math.IsInf(float64(v), 0):
			return &Error{Op: op, Index: idx, Value: v, Err: ErrInfinite}
		}
	}
	return nil
}

func QuantizeToFP16(weights []float32) ([]float16.Float16, error) {
	if err := checkFinite("quantize to FP16", weights); err != nil {
		return nil, err
	}
	out := make([]float16.Float16, len(weights))
	for idx, v := range weights {
		if math.Abs(float64(v)) > fp16Max {
			return nil, &Error{Op: "quantize to FP16", Index: idx, Value: v, Err: ErrOutOfRange}
		}
		out[idx] = float16.Fromfloat32(v)
	}
	return out, nil
}

func DequantizeFromFP16(values []float16.Float16) []float32 {
	out := make([]float32, len(values))
	for idx, v := range values {
		out[idx] = v.Float32()
	}
	return out
}

// SymmetricParams returns the INT8 parameters for the weights: zero point 0
// and scale = max(|min|, |max|) / 127 (or 1 for an all-zero input).
func SymmetricParams(weights []float32) (Params, error) {
	if err := checkFinite("compute INT8 params", weights); err != nil {
		return NoQuantization, err
	}
	minVal, maxVal := weights[0], weights[0]
	for _, v := range weights[1:] {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	absMax := max(float32(math.Abs(float64(minVal))), float32(math.Abs(float64(maxVal))))
	scale := absMax / int8Max
	if !(scale > 0) {
		scale = 1
	}
	return Params{
		Scale:  scale,
		MinVal: minVal,
		MaxVal: maxVal,
	}, nil
}

func QuantizeToINT8(weights []float32) ([]int8, Params, error) {
	params, err := SymmetricParams(weights)
	if err != nil {
		return nil, NoQuantization, err
	}
	return quantizeINT8(weights, params), params, nil
}

func quantizeINT8(weights []float32, params Params) []int8 {
	out := make([]int8, len(weights))
	for idx, v := range weights {
		q := math.Round(float64(v)/float64(params.Scale)) + float64(params.ZeroPoint)
		out[idx] = int8(max(-int8Max, min(int8Max, q)))
	}
	return out
}

func DequantizeFromINT8(values []int8, params Params) []float32 {
	out := make([]float32, len(values))
	for idx, q := range values {
		out[idx] = float32(int32(q)-params.ZeroPoint) * params.Scale
	}
	return out
}
