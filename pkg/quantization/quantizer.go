package quantization

import (
	"fmt"

	"github.com/x448/float16"
)

// Quantizer is the cached front-end of the package-level functions.
// Returned slices are shared with the cache and must not be modified.
type Quantizer struct {
	Cache *Cache
}

func NewQuantizer(cache *Cache) *Quantizer {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Quantizer{Cache: cache}
}

// Params returns the symmetric INT8 parameters of the weights, computing them
// only once per distinct content.
func (q *Quantizer) Params(weights []float32) (Params, error) {
	fp := FingerprintOf(weights)
	if e, ok := q.Cache.get(fp); ok && !e.params.IsNoQuantization() {
		return e.params, nil
	}
	params, err := SymmetricParams(weights)
	if err != nil {
		return NoQuantization, err
	}
	q.Cache.put(fp, &cacheEntry{params: params})
	return params, nil
}

func (q *Quantizer) INT8(weights []float32) ([]int8, Params, error) {
	fp := FingerprintOf(weights)
	if e, ok := q.Cache.get(fp); ok && e.int8 != nil {
		return e.int8, e.params, nil
	}
	values, params, err := QuantizeToINT8(weights)
	if err != nil {
		return nil, NoQuantization, err
	}
	q.Cache.put(fp, &cacheEntry{params: params, int8: values})
	return values, params, nil
}

func (q *Quantizer) FP16(weights []float32) ([]float16.Float16, error) {
	fp := FingerprintOf(weights)
	if e, ok := q.Cache.get(fp); ok && e.fp16 != nil {
		return e.fp16, nil
	}
	values, err := QuantizeToFP16(weights)
	if err != nil {
		return nil, err
	}
	q.Cache.put(fp, &cacheEntry{fp16: values})
	return values, nil
}

// Effective returns the weights as they are seen after storing them at the
// given precision. Dynamic precision quantizes with the observed range of
// the weights themselves and keeps full precision if the range is unusable.
func (q *Quantizer) Effective(weights []float32, precision Precision) ([]float32, error) {
	switch precision {
	case PrecisionFP32:
		if err := checkFinite("check weights", weights); err != nil {
			return nil, err
		}
		out := make([]float32, len(weights))
		copy(out, weights)
		return out, nil
	case PrecisionFP16:
		values, err := q.FP16(weights)
		if err != nil {
			return nil, err
		}
		return DequantizeFromFP16(values), nil
	case PrecisionINT8:
		values, params, err := q.INT8(weights)
		if err != nil {
			return nil, err
		}
		return DequantizeFromINT8(values, params), nil
	case PrecisionDynamic:
		params := AnalyzeActivationRange(weights)
		if params.IsNoQuantization() {
			return nil, checkFinite("analyze activation range", weights)
		}
		return DequantizeActivations(QuantizeActivations(weights, params), params), nil
	default:
		return nil, fmt.Errorf("unsupported precision: %v", precision)
	}
}
