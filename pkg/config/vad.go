package config

import (
	"fmt"

	"github.com/xaionaro-go/denoise/pkg/vad"
	"github.com/xaionaro-go/denoise/pkg/vad/implementations/fvad"
)

type VADConfig struct {
	Enabled bool        `yaml:"enabled"`
	FVAD    fvad.Config `yaml:"fvad"`
}

func DefaultVADConfig() VADConfig {
	return VADConfig{
		Enabled: true,
		FVAD:    fvad.DefaultConfig(),
	}
}

func (cfg VADConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	return cfg.FVAD.Validate()
}

// New returns the configured detector, or vad.Dummy when disabled.
func (cfg VADConfig) New() (vad.VAD, error) {
	if !cfg.Enabled {
		return vad.Dummy{}, nil
	}
	v, err := fvad.New(cfg.FVAD)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the voice activity detector: %w", err)
	}
	return v, nil
}
