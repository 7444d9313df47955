package pipeline

import (
	"fmt"

	"github.com/xaionaro-go/denoise/pkg/audiobuffer"
)

type Config struct {
	Buffer audiobuffer.Config `yaml:"buffer"`

	// QueueLength is the amount of chunks allowed to wait for the processor.
	// Further chunks wait in the same queue to be passed through; at most
	// OutputCapacity worth of them is kept, the oldest are dropped.
	QueueLength int `yaml:"queue_length"`

	// OutputCapacity is the amount of processed samples kept for the
	// player; the oldest are dropped when it is exceeded.
	OutputCapacity int `yaml:"output_capacity"`
}

func DefaultConfig() Config {
	return Config{
		Buffer:         audiobuffer.DefaultConfig(),
		QueueLength:    4,
		OutputCapacity: 960 * 10,
	}
}

func (cfg Config) Validate() error {
	if err := cfg.Buffer.Validate(); err != nil {
		return fmt.Errorf("invalid buffer config: %w", err)
	}
	if cfg.QueueLength <= 0 {
		return fmt.Errorf("queue length must be positive, but is %d", cfg.QueueLength)
	}
	if cfg.OutputCapacity < cfg.Buffer.MinExtractSize {
		return fmt.Errorf("output capacity (%d) must be not less than the chunk size (%d)", cfg.OutputCapacity, cfg.Buffer.MinExtractSize)
	}
	return nil
}
