package audiobuffer

import (
	"fmt"
	"time"
)

type Config struct {
	// MinExtractSize is the size of the chunks returned by AppendAndExtract.
	MinExtractSize int `yaml:"min_extract_size"`

	// MaxCapacity is the upper bound of accumulated samples.
	MaxCapacity int `yaml:"max_capacity"`

	// OverflowThreshold is the amount of consecutive overflows tolerated
	// before the circuit breaker trips.
	OverflowThreshold int `yaml:"overflow_threshold"`

	// CooldownDuration is how long the circuit breaker stays open.
	CooldownDuration time.Duration `yaml:"cooldown_duration"`

	// CrossfadeLength is the maximal length of the fade-in applied after
	// trimming the oldest samples.
	CrossfadeLength int `yaml:"crossfade_length"`
}

func DefaultConfig() Config {
	return Config{
		MinExtractSize:    960,
		MaxCapacity:       960 * 10,
		OverflowThreshold: 8,
		CooldownDuration:  250 * time.Millisecond,
		CrossfadeLength:   64,
	}
}

func (cfg Config) Validate() error {
	if cfg.MinExtractSize <= 0 {
		return fmt.Errorf("min extract size must be positive, but is %d", cfg.MinExtractSize)
	}
	if cfg.MaxCapacity < cfg.MinExtractSize {
		return fmt.Errorf("max capacity (%d) must be not less than the min extract size (%d)", cfg.MaxCapacity, cfg.MinExtractSize)
	}
	if cfg.OverflowThreshold < 0 {
		return fmt.Errorf("overflow threshold must be non-negative, but is %d", cfg.OverflowThreshold)
	}
	if cfg.CooldownDuration <= 0 {
		return fmt.Errorf("cooldown duration must be positive, but is %v", cfg.CooldownDuration)
	}
	if cfg.CrossfadeLength < 0 {
		return fmt.Errorf("crossfade length must be non-negative, but is %d", cfg.CrossfadeLength)
	}
	return nil
}
