package quantization

import (
	"fmt"
	"strings"
)

type Precision int

const (
	PrecisionUndefined = Precision(iota)
	PrecisionFP32
	PrecisionFP16
	PrecisionINT8
	PrecisionDynamic
)

// PrecisionNone is an alias used by noise injection, where full precision
// means "no noise".
const PrecisionNone = PrecisionFP32

func (p Precision) String() string {
	switch p {
	case PrecisionUndefined:
		return "undefined"
	case PrecisionFP32:
		return "fp32"
	case PrecisionFP16:
		return "fp16"
	case PrecisionINT8:
		return "int8"
	case PrecisionDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("unknown_precision_%d", int(p))
	}
}

func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fp32", "none", "float32":
		return PrecisionFP32, nil
	case "fp16", "half", "float16":
		return PrecisionFP16, nil
	case "int8":
		return PrecisionINT8, nil
	case "dynamic":
		return PrecisionDynamic, nil
	}
	return PrecisionUndefined, fmt.Errorf("unknown precision '%s'", s)
}

func (p Precision) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Precision) UnmarshalText(b []byte) error {
	v, err := ParsePrecision(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
