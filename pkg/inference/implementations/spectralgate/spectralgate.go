// Package spectralgate is a pure-Go inference backend: a per-band Wiener-like
// gate with an adaptive noise floor. Its parameters are stored at the
// configured numeric precision.
package spectralgate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
)

type Config struct {
	Precision    quantization.Precision `yaml:"precision"`
	CacheEntries int                    `yaml:"cache_entries"`
}

func DefaultConfig() Config {
	return Config{
		Precision:    quantization.PrecisionFP16,
		CacheEntries: quantization.DefaultCacheEntries,
	}
}

type Backend struct {
	config    Config
	quantizer *quantization.Quantizer

	locker  sync.Mutex
	handles map[*handle]struct{}
	closed  bool
}

var (
	_ inference.Backend       = (*Backend)(nil)
	_ inference.CacheReleaser = (*Backend)(nil)
)

func New(cfg Config) (*Backend, error) {
	if cfg.Precision == quantization.PrecisionUndefined {
		cfg.Precision = DefaultConfig().Precision
	}
	switch cfg.Precision {
	case quantization.PrecisionFP32, quantization.PrecisionFP16, quantization.PrecisionINT8, quantization.PrecisionDynamic:
	default:
		return nil, fmt.Errorf("unsupported precision: %v", cfg.Precision)
	}
	return &Backend{
		config:    cfg,
		quantizer: quantization.NewQuantizer(quantization.NewCache(cfg.CacheEntries)),
		handles:   map[*handle]struct{}{},
	}, nil
}

type handle struct {
	backend *Backend
	info    inference.ModelInfo

	weights         []float32
	overSubtraction float32
	gainFloor       float32
	adaptationRate  float32
	voiceThreshold  float32

	locker  sync.Mutex
	noiseDB []float32
}

func (h *handle) Info() inference.ModelInfo {
	return h.info
}

func (b *Backend) LoadModel(ctx context.Context, path string) (_ inference.Handle, _err error) {
	logger.Tracef(ctx, "LoadModel(%q)", path)
	defer func() { logger.Tracef(ctx, "/LoadModel(%q): %v", path, _err) }()

	var r io.Reader
	if path == "" {
		r = bytes.NewReader(defaultModel)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open the model file: %w", err)
		}
		defer f.Close()
		r = f
	}

	model, err := ParseModel(r)
	if err != nil {
		return nil, fmt.Errorf("unable to parse the model '%s': %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	weights, err := b.quantizer.Effective(model.BandWeights, b.config.Precision)
	if err != nil {
		return nil, fmt.Errorf("unable to quantize the band weights to %s: %w", b.config.Precision, err)
	}
	noiseDB, err := b.quantizer.Effective(model.NoiseFloorDB, b.config.Precision)
	if err != nil {
		return nil, fmt.Errorf("unable to quantize the noise floor to %s: %w", b.config.Precision, err)
	}

	h := &handle{
		backend: b,
		info: inference.ModelInfo{
			Name:      model.Name,
			Path:      path,
			Bands:     model.Bands,
			Precision: b.config.Precision,
		},
		weights:         weights,
		overSubtraction: model.OverSubtraction,
		gainFloor:       model.GainFloor,
		adaptationRate:  model.AdaptationRate,
		voiceThreshold:  model.VoiceThreshold,
		noiseDB:         noiseDB,
	}

	b.locker.Lock()
	defer b.locker.Unlock()
	if b.closed {
		return nil, inference.ErrClosed
	}
	b.handles[h] = struct{}{}
	logger.Debugf(ctx, "loaded model '%s': %d bands at %s", model.Name, model.Bands, b.config.Precision)
	return h, nil
}

func (b *Backend) getHandle(h inference.Handle) (*handle, error) {
	hh, ok := h.(*handle)
	if !ok || hh.backend != b {
		return nil, inference.ErrInvalidHandle
	}
	b.locker.Lock()
	defer b.locker.Unlock()
	if b.closed {
		return nil, inference.ErrClosed
	}
	if _, ok := b.handles[hh]; !ok {
		return nil, inference.ErrNotLoaded
	}
	return hh, nil
}

func (b *Backend) RunInference(
	ctx context.Context,
	input erb.FeatureVector,
	h inference.Handle,
) (erb.FeatureVector, error) {
	hh, err := b.getHandle(h)
	if err != nil {
		return erb.FeatureVector{}, err
	}
	if len(input.Bands) != hh.info.Bands {
		return erb.FeatureVector{}, fmt.Errorf("expected %d bands, received %d", hh.info.Bands, len(input.Bands))
	}

	bands := input.Bands
	if b.config.Precision == quantization.PrecisionDynamic {
		params := quantization.AnalyzeActivationRange(bands)
		if params.IsNoQuantization() {
			return erb.FeatureVector{}, fmt.Errorf("the input features contain non-finite values")
		}
		bands = quantization.DequantizeActivations(quantization.QuantizeActivations(bands, params), params)
	}
	for _, v := range bands {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return erb.FeatureVector{}, fmt.Errorf("the input features contain non-finite values")
		}
	}
	if err := ctx.Err(); err != nil {
		return erb.FeatureVector{}, err
	}

	hh.locker.Lock()
	defer hh.locker.Unlock()

	gains := make([]float32, len(bands))
	for band, x := range bands {
		noise := hh.noiseDB[band]
		ratio := math.Pow(10, float64(noise-x)/10)
		g := 1 - float64(hh.overSubtraction*hh.weights[band])*ratio
		gains[band] = float32(max(float64(hh.gainFloor), min(1, g)))
	}

	if input.VoiceActivity < hh.voiceThreshold {
		for band, x := range bands {
			noise := hh.noiseDB[band]
			if x < noise {
				hh.noiseDB[band] = x
				continue
			}
			hh.noiseDB[band] = noise + hh.adaptationRate*(x-noise)
		}
	}

	return erb.FeatureVector{
		Bands:         gains,
		VoiceActivity: input.VoiceActivity,
	}, nil
}

// NoiseFloor returns a copy of the current noise estimate of the handle.
func (b *Backend) NoiseFloor(h inference.Handle) ([]float32, error) {
	hh, err := b.getHandle(h)
	if err != nil {
		return nil, err
	}
	hh.locker.Lock()
	defer hh.locker.Unlock()
	out := make([]float32, len(hh.noiseDB))
	copy(out, hh.noiseDB)
	return out, nil
}

func (b *Backend) Unload(_ context.Context, h inference.Handle) error {
	hh, err := b.getHandle(h)
	if err != nil {
		return err
	}
	b.locker.Lock()
	defer b.locker.Unlock()
	delete(b.handles, hh)
	return nil
}

// ReleaseCaches drops the cached quantized tensors; the loaded handles keep
// working since they own their effective weights.
func (b *Backend) ReleaseCaches(ctx context.Context) error {
	released := b.quantizer.Cache.Clear()
	logger.Debugf(ctx, "released %d bytes of quantization caches", released)
	return nil
}

func (b *Backend) CacheStats() quantization.CacheStats {
	return b.quantizer.Cache.Stats()
}

func (b *Backend) Close() error {
	b.locker.Lock()
	defer b.locker.Unlock()
	b.closed = true
	b.handles = map[*handle]struct{}{}
	b.quantizer.Cache.Clear()
	return nil
}
