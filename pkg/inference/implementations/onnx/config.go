package onnx

import (
	"github.com/xaionaro-go/denoise/pkg/quantization"
)

// Config describes how a model graph is bound: it has to take the ERB band
// powers of one frame ([1, bands]) and return the band gains ([1, bands]).
type Config struct {
	SharedLibraryPath string                 `yaml:"shared_library_path"`
	InputName         string                 `yaml:"input_name"`
	OutputName        string                 `yaml:"output_name"`
	Bands             int                    `yaml:"bands"`
	Precision         quantization.Precision `yaml:"precision"`
}

func DefaultConfig() Config {
	return Config{
		InputName:  "feat_erb",
		OutputName: "gains",
		Bands:      32,
		Precision:  quantization.PrecisionFP32,
	}
}
