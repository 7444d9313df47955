package quantization

import (
	"fmt"
)

// Params describe an affine mapping between float32 and int8:
// real = (q - ZeroPoint) * Scale.
type Params struct {
	Scale     float32
	ZeroPoint int32
	MinVal    float32
	MaxVal    float32
}

// NoQuantization is the sentinel returned when the statistics of a tensor
// are unusable; the tensor must then be kept in full precision.
var NoQuantization = Params{}

func (p Params) IsNoQuantization() bool {
	return p.Scale == 0
}

func (p Params) String() string {
	if p.IsNoQuantization() {
		return "no-quantization"
	}
	return fmt.Sprintf("scale:%g zero:%d range:[%g, %g]", p.Scale, p.ZeroPoint, p.MinVal, p.MaxVal)
}
