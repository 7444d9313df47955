// Package config is the YAML document configuring the whole denoiser.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/denoise/pkg/memorypressure"
	"github.com/xaionaro-go/denoise/pkg/pipeline"
	"github.com/xaionaro-go/denoise/pkg/processor"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend        BackendConfig                `yaml:"backend"`
	VAD            VADConfig                    `yaml:"vad"`
	Processor      processor.Config             `yaml:"processor"`
	Pipeline       pipeline.Config              `yaml:"pipeline"`
	MemoryPressure memorypressure.SamplerConfig `yaml:"memory_pressure"`
	Audio          AudioConfig                  `yaml:"audio"`
}

func Default() Config {
	return Config{
		Backend:        DefaultBackendConfig(),
		VAD:            DefaultVADConfig(),
		Processor:      processor.DefaultConfig(),
		Pipeline:       pipeline.DefaultConfig(),
		MemoryPressure: memorypressure.DefaultSamplerConfig(),
		Audio:          DefaultAudioConfig(),
	}
}

// Load reads the file at path on top of Default and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("unable to parse '%s': %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of Default and validates the result.
// Unknown fields are rejected; an empty document yields Default.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("unable to decode YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write encodes the config as YAML.
func (cfg Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("unable to encode YAML: %w", err)
	}
	return enc.Close()
}

// Validate reports every inconsistency found, not only the first one.
func (cfg Config) Validate() error {
	var result *multierror.Error
	add := func(section string, err error) {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", section, err))
		}
	}
	add("backend", cfg.Backend.Validate())
	add("vad", cfg.VAD.Validate())
	add("processor", cfg.Processor.Validate())
	add("pipeline", cfg.Pipeline.Validate())
	add("memory_pressure", cfg.MemoryPressure.Validate())
	add("audio", cfg.Audio.Validate())

	sampleRate := cfg.Processor.ERB.SampleRate
	if int(cfg.Audio.SampleRate) != sampleRate {
		add("audio", fmt.Errorf("sample rate %d does not match the processor sample rate %d", cfg.Audio.SampleRate, sampleRate))
	}
	if cfg.VAD.Enabled && cfg.VAD.FVAD.SampleRate != sampleRate {
		add("vad", fmt.Errorf("sample rate %d does not match the processor sample rate %d", cfg.VAD.FVAD.SampleRate, sampleRate))
	}
	if cfg.Backend.Name == BackendONNX && cfg.Backend.ONNX.Bands != cfg.Processor.ERB.Bands {
		add("backend", fmt.Errorf("the model takes %d bands, but the processor extracts %d", cfg.Backend.ONNX.Bands, cfg.Processor.ERB.Bands))
	}
	return result.ErrorOrNil()
}
