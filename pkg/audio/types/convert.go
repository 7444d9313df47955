package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeFloat64 decodes one sample into [-1, 1].
func DecodeFloat64(f PCMFormat, p []byte) float64 {
	switch f {
	case PCMFormatU8:
		return (float64(p[0]) - 128) / 128
	case PCMFormatS16LE:
		return float64(int16(binary.LittleEndian.Uint16(p))) / 32768
	case PCMFormatS16BE:
		return float64(int16(binary.BigEndian.Uint16(p))) / 32768
	case PCMFormatS24LE:
		return float64(signExtend24(uint32(p[0])|uint32(p[1])<<8|uint32(p[2])<<16)) / 8388608
	case PCMFormatS24BE:
		return float64(signExtend24(uint32(p[2])|uint32(p[1])<<8|uint32(p[0])<<16)) / 8388608
	case PCMFormatS32LE:
		return float64(int32(binary.LittleEndian.Uint32(p))) / 2147483648
	case PCMFormatS32BE:
		return float64(int32(binary.BigEndian.Uint32(p))) / 2147483648
	case PCMFormatS64LE:
		return float64(int64(binary.LittleEndian.Uint64(p))) / 9223372036854775808
	case PCMFormatS64BE:
		return float64(int64(binary.BigEndian.Uint64(p))) / 9223372036854775808
	case PCMFormatFloat32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case PCMFormatFloat32BE:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(p)))
	case PCMFormatFloat64LE:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	case PCMFormatFloat64BE:
		return math.Float64frombits(binary.BigEndian.Uint64(p))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func signExtend24(v uint32) int32 {
	val := int32(v)
	if val&0x800000 != 0 {
		val |= -16777216
	}
	return val
}

// quantize scales v to the integer range [-scale, scale-1].
func quantize(v, scale float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(-scale, min(scale-1, math.Round(v*scale)))
}

// EncodeFloat64 encodes one sample; integer formats are saturated.
func EncodeFloat64(f PCMFormat, p []byte, v float64) {
	switch f {
	case PCMFormatU8:
		p[0] = byte(quantize(v, 128) + 128)
	case PCMFormatS16LE:
		binary.LittleEndian.PutUint16(p, uint16(int16(quantize(v, 32768))))
	case PCMFormatS16BE:
		binary.BigEndian.PutUint16(p, uint16(int16(quantize(v, 32768))))
	case PCMFormatS24LE:
		val := int32(quantize(v, 8388608))
		p[0] = byte(val)
		p[1] = byte(val >> 8)
		p[2] = byte(val >> 16)
	case PCMFormatS24BE:
		val := int32(quantize(v, 8388608))
		p[0] = byte(val >> 16)
		p[1] = byte(val >> 8)
		p[2] = byte(val)
	case PCMFormatS32LE:
		binary.LittleEndian.PutUint32(p, uint32(int32(quantize(v, 2147483648))))
	case PCMFormatS32BE:
		binary.BigEndian.PutUint32(p, uint32(int32(quantize(v, 2147483648))))
	case PCMFormatS64LE:
		binary.LittleEndian.PutUint64(p, uint64(encodeS64(v)))
	case PCMFormatS64BE:
		binary.BigEndian.PutUint64(p, uint64(encodeS64(v)))
	case PCMFormatFloat32LE:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case PCMFormatFloat32BE:
		binary.BigEndian.PutUint32(p, math.Float32bits(float32(v)))
	case PCMFormatFloat64LE:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	case PCMFormatFloat64BE:
		binary.BigEndian.PutUint64(p, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

// float64 cannot represent MaxInt64, so the saturation is done explicitly.
func encodeS64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt64
	case v <= -1:
		return math.MinInt64
	}
	return int64(v * 9223372036854775808)
}

// DecodeFloat32 decodes as many whole samples of src as fit into dst and
// returns the amount of decoded samples.
func DecodeFloat32(f PCMFormat, dst []float32, src []byte) (int, error) {
	size := int(f.Size())
	if size == 0 {
		return 0, fmt.Errorf("unknown format: %v", f)
	}
	n := min(len(dst), len(src)/size)
	if f == PCMFormatFloat32LE {
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
		return n, nil
	}
	for i := 0; i < n; i++ {
		dst[i] = float32(DecodeFloat64(f, src[i*size:]))
	}
	return n, nil
}

// EncodeFloat32 encodes as many samples of src as fit into dst and returns
// the amount of encoded samples.
func EncodeFloat32(f PCMFormat, dst []byte, src []float32) (int, error) {
	size := int(f.Size())
	if size == 0 {
		return 0, fmt.Errorf("unknown format: %v", f)
	}
	n := min(len(src), len(dst)/size)
	if f == PCMFormatFloat32LE {
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(src[i]))
		}
		return n, nil
	}
	for i := 0; i < n; i++ {
		EncodeFloat64(f, dst[i*size:], float64(src[i]))
	}
	return n, nil
}
