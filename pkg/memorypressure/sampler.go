package memorypressure

import (
	"context"
	"fmt"
	"math"
	"runtime/metrics"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
)

const (
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricMemoryLimit = "/gc/gomemlimit:bytes"
)

// SamplerConfig translates the Go heap usage against a soft limit into
// pressure levels, standing in for an OS memory pressure signal.
type SamplerConfig struct {
	// SoftLimit in bytes; zero means the GOMEMLIMIT of the process.
	SoftLimit uint64 `yaml:"soft_limit"`

	Interval      time.Duration `yaml:"interval"`
	WarningRatio  float64       `yaml:"warning_ratio"`
	UrgentRatio   float64       `yaml:"urgent_ratio"`
	CriticalRatio float64       `yaml:"critical_ratio"`
}

func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval:      time.Second,
		WarningRatio:  0.70,
		UrgentRatio:   0.85,
		CriticalRatio: 0.95,
	}
}

func (cfg SamplerConfig) Validate() error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive, but is %v", cfg.Interval)
	}
	if !(0 < cfg.WarningRatio && cfg.WarningRatio <= cfg.UrgentRatio && cfg.UrgentRatio <= cfg.CriticalRatio) {
		return fmt.Errorf("expected 0 < warning (%v) <= urgent (%v) <= critical (%v)", cfg.WarningRatio, cfg.UrgentRatio, cfg.CriticalRatio)
	}
	return nil
}

func (cfg SamplerConfig) LevelFor(used, limit uint64) Level {
	if limit == 0 || limit == math.MaxInt64 {
		return LevelNormal
	}
	ratio := float64(used) / float64(limit)
	switch {
	case ratio >= cfg.CriticalRatio:
		return LevelCritical
	case ratio >= cfg.UrgentRatio:
		return LevelUrgent
	case ratio >= cfg.WarningRatio:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// RunSampler periodically updates the monitor until the context is done.
func (m *Monitor) RunSampler(ctx context.Context, cfg SamplerConfig) (_err error) {
	logger.Tracef(ctx, "RunSampler")
	defer func() { logger.Tracef(ctx, "/RunSampler: %v", _err) }()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid sampler config: %w", err)
	}

	samples := []metrics.Sample{
		{Name: metricHeapObjects},
		{Name: metricMemoryLimit},
	}
	t := time.NewTicker(cfg.Interval)
	defer t.Stop()
	for {
		metrics.Read(samples)
		used := readUint64(samples[0])
		limit := cfg.SoftLimit
		if limit == 0 {
			limit = readUint64(samples[1])
		}
		m.SetLevel(ctx, cfg.LevelFor(used, limit), "runtime sampler")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func readUint64(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}
