package inference

import (
	"context"

	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
)

// Dummy is a backend with unity gains: it leaves the audio untouched.
type Dummy struct {
	Bands int
}

var _ Backend = (*Dummy)(nil)

func NewDummy(bands int) *Dummy {
	return &Dummy{Bands: bands}
}

type dummyHandle struct {
	info ModelInfo
}

func (h dummyHandle) Info() ModelInfo {
	return h.info
}

func (d *Dummy) LoadModel(_ context.Context, path string) (Handle, error) {
	return dummyHandle{info: ModelInfo{
		Name:      "dummy",
		Path:      path,
		Bands:     d.Bands,
		Precision: quantization.PrecisionFP32,
	}}, nil
}

func (d *Dummy) RunInference(
	_ context.Context,
	input erb.FeatureVector,
	handle Handle,
) (erb.FeatureVector, error) {
	if _, ok := handle.(dummyHandle); !ok {
		return erb.FeatureVector{}, ErrInvalidHandle
	}
	out := erb.FeatureVector{
		Bands:         make([]float32, len(input.Bands)),
		VoiceActivity: input.VoiceActivity,
	}
	for i := range out.Bands {
		out.Bands[i] = 1
	}
	return out, nil
}

func (*Dummy) Unload(context.Context, Handle) error {
	return nil
}

func (*Dummy) Close() error {
	return nil
}
