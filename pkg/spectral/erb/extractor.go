// Package erb reduces STFT frames to perceptual (ERB-scaled) band features.
package erb

import (
	"fmt"
	"math"

	"github.com/xaionaro-go/denoise/pkg/spectral/stft"
)

const (
	// FloorDB is reported for bands without energy.
	FloorDB = float32(-100)

	// RolloffRatio is the power share used for SpectralStats.Rolloff.
	RolloffRatio = 0.85

	powerEpsilon = 1e-10
)

type Config struct {
	SampleRate     int  `yaml:"sample_rate"`
	FFTSize        int  `yaml:"fft_size"`
	Bands          int  `yaml:"bands"`
	MinBinsPerBand int  `yaml:"min_bins_per_band"`
	WithStats      bool `yaml:"with_stats"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     48000,
		FFTSize:        960,
		Bands:          32,
		MinBinsPerBand: 2,
		WithStats:      true,
	}
}

func (cfg Config) Validate() error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, but is %d", cfg.SampleRate)
	}
	if cfg.FFTSize < 2 {
		return fmt.Errorf("FFT size must be at least 2, but is %d", cfg.FFTSize)
	}
	if cfg.Bands <= 0 {
		return fmt.Errorf("the amount of bands must be positive, but is %d", cfg.Bands)
	}
	if cfg.MinBinsPerBand <= 0 {
		return fmt.Errorf("min bins per band must be positive, but is %d", cfg.MinBinsPerBand)
	}
	return nil
}

type Extractor struct {
	config   Config
	edges    []int
	binFreqs []float64
}

func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	widths, err := bandWidths(cfg.SampleRate, cfg.FFTSize, cfg.Bands, cfg.MinBinsPerBand)
	if err != nil {
		return nil, fmt.Errorf("unable to compute the ERB bands: %w", err)
	}
	bins := cfg.FFTSize/2 + 1
	binFreqs := make([]float64, bins)
	for k := range binFreqs {
		binFreqs[k] = float64(k) * float64(cfg.SampleRate) / float64(cfg.FFTSize)
	}
	return &Extractor{
		config:   cfg,
		edges:    bandEdges(widths),
		binFreqs: binFreqs,
	}, nil
}

func (e *Extractor) Config() Config {
	return e.config
}

// BandEdges returns Bands+1 bin indexes; band i spans [edges[i], edges[i+1]).
func (e *Extractor) BandEdges() []int {
	out := make([]int, len(e.edges))
	copy(out, e.edges)
	return out
}

func (e *Extractor) Bins() int {
	return len(e.binFreqs)
}

func (e *Extractor) Extract(spectrum *stft.Spectrogram) ([]FeatureVector, error) {
	if spectrum == nil {
		return nil, nil
	}
	result := make([]FeatureVector, 0, len(spectrum.Frames))
	for idx, frame := range spectrum.Frames {
		v, err := e.ExtractFrame(frame)
		if err != nil {
			return nil, fmt.Errorf("frame #%d: %w", idx, err)
		}
		result = append(result, v)
	}
	return result, nil
}

func (e *Extractor) ExtractFrame(frame stft.Frame) (FeatureVector, error) {
	if frame.Bins() != e.Bins() {
		return FeatureVector{}, fmt.Errorf("the frame has %d bins, but the extractor expects %d", frame.Bins(), e.Bins())
	}
	power := frame.Power()

	v := FeatureVector{
		Bands: make([]float32, e.config.Bands),
	}
	for band := range v.Bands {
		lo, hi := e.edges[band], e.edges[band+1]
		var sum float64
		for k := lo; k < hi; k++ {
			sum += float64(power[k])
		}
		v.Bands[band] = powerToDB(sum / float64(hi-lo))
	}
	if e.config.WithStats {
		stats := e.stats(power)
		v.Stats = &stats
	}
	return v, nil
}

func (e *Extractor) stats(power []float32) SpectralStats {
	var total, weighted, logSum float64
	for k, p := range power {
		p := float64(p)
		total += p
		weighted += p * e.binFreqs[k]
		logSum += math.Log(p + powerEpsilon)
	}
	mean := total / float64(len(power))

	stats := SpectralStats{
		EnergyDB: powerToDB(mean),
	}
	if mean <= powerEpsilon {
		return stats
	}
	stats.Centroid = float32(weighted / total)

	geometric := math.Exp(logSum / float64(len(power)))
	stats.Flatness = float32(math.Min(1, geometric/(mean+powerEpsilon)))

	threshold := total * RolloffRatio
	var cumulative float64
	for k, p := range power {
		cumulative += float64(p)
		if cumulative >= threshold {
			stats.Rolloff = float32(e.binFreqs[k])
			break
		}
	}
	return stats
}

func powerToDB(p float64) float32 {
	if !(p > powerEpsilon) || math.IsInf(p, 0) {
		return FloorDB
	}
	return float32(10 * math.Log10(p))
}

// BandGainsToBins expands per-band gains to per-bin gains.
func (e *Extractor) BandGainsToBins(gains []float32) ([]float32, error) {
	if len(gains) != e.config.Bands {
		return nil, fmt.Errorf("expected %d band gains, received %d", e.config.Bands, len(gains))
	}
	out := make([]float32, e.Bins())
	for band, g := range gains {
		for k := e.edges[band]; k < e.edges[band+1]; k++ {
			out[k] = g
		}
	}
	return out, nil
}
