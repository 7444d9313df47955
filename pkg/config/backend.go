package config

import (
	"fmt"
	"strings"

	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/inference/implementations/onnx"
	"github.com/xaionaro-go/denoise/pkg/inference/implementations/spectralgate"
)

type BackendName string

const (
	BackendSpectralGate = BackendName("spectralgate")
	BackendONNX         = BackendName("onnx")
	BackendDummy        = BackendName("dummy")
)

func (n BackendName) Validate() error {
	switch n {
	case BackendSpectralGate, BackendONNX, BackendDummy:
		return nil
	}
	return fmt.Errorf("unknown backend '%s', expected one of: %s", n, strings.Join([]string{
		string(BackendSpectralGate), string(BackendONNX), string(BackendDummy),
	}, ", "))
}

type BackendConfig struct {
	Name         BackendName         `yaml:"name"`
	SpectralGate spectralgate.Config `yaml:"spectralgate"`
	ONNX         onnx.Config         `yaml:"onnx"`
}

func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Name:         BackendSpectralGate,
		SpectralGate: spectralgate.DefaultConfig(),
		ONNX:         onnx.DefaultConfig(),
	}
}

func (cfg BackendConfig) Validate() error {
	if err := cfg.Name.Validate(); err != nil {
		return err
	}
	if cfg.Name == BackendONNX {
		if cfg.ONNX.Bands <= 0 {
			return fmt.Errorf("onnx: the amount of bands must be positive, but is %d", cfg.ONNX.Bands)
		}
		if cfg.ONNX.InputName == "" || cfg.ONNX.OutputName == "" {
			return fmt.Errorf("onnx: input and output names are required")
		}
	}
	return nil
}

// New constructs the selected inference backend; bands is the amount of
// ERB bands the processor extracts.
func (cfg BackendConfig) New(bands int) (inference.Backend, error) {
	switch cfg.Name {
	case BackendSpectralGate:
		b, err := spectralgate.New(cfg.SpectralGate)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize the spectral gate backend: %w", err)
		}
		return b, nil
	case BackendONNX:
		b, err := onnx.New(cfg.ONNX)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize the ONNX backend: %w", err)
		}
		return b, nil
	case BackendDummy:
		return inference.NewDummy(bands), nil
	default:
		return nil, cfg.Name.Validate()
	}
}
