//go:build onnx
// +build onnx

// Package onnx runs gain-predicting models through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/x448/float16"
	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initEnvironment(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

type Backend struct {
	config Config

	locker  sync.Mutex
	handles map[*handle]struct{}
	closed  bool
}

var _ inference.Backend = (*Backend)(nil)

func New(cfg Config) (inference.Backend, error) {
	def := DefaultConfig()
	if cfg.InputName == "" {
		cfg.InputName = def.InputName
	}
	if cfg.OutputName == "" {
		cfg.OutputName = def.OutputName
	}
	if cfg.Bands == 0 {
		cfg.Bands = def.Bands
	}
	if cfg.Precision == quantization.PrecisionUndefined {
		cfg.Precision = def.Precision
	}
	switch cfg.Precision {
	case quantization.PrecisionFP32, quantization.PrecisionFP16, quantization.PrecisionDynamic:
	default:
		return nil, fmt.Errorf("precision %s is not supported by the ONNX backend", cfg.Precision)
	}
	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("unable to initialize ONNX Runtime: %w", err)
	}
	return &Backend{
		config:  cfg,
		handles: map[*handle]struct{}{},
	}, nil
}

// tensor is the subset of ort.Value the handle needs to own.
type tensor interface {
	Destroy() error
}

type handle struct {
	backend *Backend
	info    inference.ModelInfo

	// a session is not reentrant: it reads and writes the bound tensors
	locker    sync.Mutex
	destroyed bool
	session   *ort.AdvancedSession

	inputF32  *ort.Tensor[float32]
	inputF16  *ort.CustomDataTensor
	outputF32 *ort.Tensor[float32]
	outputF16 *ort.CustomDataTensor
}

func (h *handle) Info() inference.ModelInfo {
	return h.info
}

// destroy releases the session and the tensors; the caller holds the locker.
func (h *handle) destroy() error {
	if h.destroyed {
		return nil
	}
	h.destroyed = true
	var result *multierror.Error
	if h.session != nil {
		result = multierror.Append(result, h.session.Destroy())
	}
	for _, t := range []tensor{h.inputF32, h.inputF16, h.outputF32, h.outputF16} {
		if t == nil || isNilTensor(t) {
			continue
		}
		result = multierror.Append(result, t.Destroy())
	}
	return result.ErrorOrNil()
}

func isNilTensor(t tensor) bool {
	switch t := t.(type) {
	case *ort.Tensor[float32]:
		return t == nil
	case *ort.CustomDataTensor:
		return t == nil
	}
	return false
}

func (b *Backend) LoadModel(
	ctx context.Context,
	path string,
) (_ inference.Handle, _err error) {
	logger.Tracef(ctx, "LoadModel(%q)", path)
	defer func() { logger.Tracef(ctx, "/LoadModel(%q): %v", path, _err) }()

	if path == "" {
		return nil, fmt.Errorf("the ONNX backend has no built-in model, a path is required")
	}

	h := &handle{
		backend: b,
		info: inference.ModelInfo{
			Name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path:      path,
			Bands:     b.config.Bands,
			Precision: b.config.Precision,
		},
	}

	shape := ort.NewShape(1, int64(b.config.Bands))
	var (
		in, out ort.Value
		err     error
	)
	if b.config.Precision == quantization.PrecisionFP16 {
		h.inputF16, err = ort.NewCustomDataTensor(shape, make([]byte, 2*b.config.Bands), ort.TensorElementDataTypeFloat16)
		if err != nil {
			return nil, fmt.Errorf("unable to create the input tensor: %w", err)
		}
		in = h.inputF16
		h.outputF16, err = ort.NewCustomDataTensor(shape, make([]byte, 2*b.config.Bands), ort.TensorElementDataTypeFloat16)
		if err != nil {
			h.destroy()
			return nil, fmt.Errorf("unable to create the output tensor: %w", err)
		}
		out = h.outputF16
	} else {
		h.inputF32, err = ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, fmt.Errorf("unable to create the input tensor: %w", err)
		}
		in = h.inputF32
		h.outputF32, err = ort.NewEmptyTensor[float32](shape)
		if err != nil {
			h.destroy()
			return nil, fmt.Errorf("unable to create the output tensor: %w", err)
		}
		out = h.outputF32
	}

	h.session, err = ort.NewAdvancedSession(
		path,
		[]string{b.config.InputName},
		[]string{b.config.OutputName},
		[]ort.Value{in},
		[]ort.Value{out},
		nil,
	)
	if err != nil {
		h.destroy()
		return nil, fmt.Errorf("unable to create a session for '%s': %w", path, err)
	}

	b.locker.Lock()
	defer b.locker.Unlock()
	if b.closed {
		h.destroy()
		return nil, inference.ErrClosed
	}
	b.handles[h] = struct{}{}
	logger.Debugf(ctx, "loaded ONNX model '%s' (%s)", path, b.config.Precision)
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
	if len(input.Bands) != b.config.Bands {
		return erb.FeatureVector{}, fmt.Errorf("expected %d bands, received %d", b.config.Bands, len(input.Bands))
	}

	bands := input.Bands
	if b.config.Precision == quantization.PrecisionDynamic {
		params := quantization.AnalyzeActivationRange(bands)
		if params.IsNoQuantization() {
			return erb.FeatureVector{}, fmt.Errorf("the input features contain non-finite values")
		}
		bands = quantization.DequantizeActivations(quantization.QuantizeActivations(bands, params), params)
	}

	hh.locker.Lock()
	defer hh.locker.Unlock()
	if hh.destroyed {
		return erb.FeatureVector{}, inference.ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return erb.FeatureVector{}, err
	}

	gains := make([]float32, len(bands))
	if hh.inputF16 != nil {
		halves, err := quantization.QuantizeToFP16(bands)
		if err != nil {
			return erb.FeatureVector{}, fmt.Errorf("unable to convert the input to fp16: %w", err)
		}
		raw := hh.inputF16.GetData()
		for i, v := range halves {
			bits := v.Bits()
			raw[2*i] = byte(bits)
			raw[2*i+1] = byte(bits >> 8)
		}
		if err := hh.session.Run(); err != nil {
			return erb.FeatureVector{}, fmt.Errorf("unable to run the session: %w", err)
		}
		raw = hh.outputF16.GetData()
		for i := range gains {
			gains[i] = float16.Frombits(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8).Float32()
		}
	} else {
		copy(hh.inputF32.GetData(), bands)
		if err := hh.session.Run(); err != nil {
			return erb.FeatureVector{}, fmt.Errorf("unable to run the session: %w", err)
		}
		copy(gains, hh.outputF32.GetData())
	}

	for i, g := range gains {
		if math.IsNaN(float64(g)) {
			return erb.FeatureVector{}, fmt.Errorf("the model returned NaN for band %d", i)
		}
		gains[i] = max(0, min(1, g))
	}
	return erb.FeatureVector{
		Bands:         gains,
		VoiceActivity: input.VoiceActivity,
	}, nil
}

func (b *Backend) Unload(
	ctx context.Context,
	h inference.Handle,
) error {
	hh, err := b.getHandle(h)
	if err != nil {
		return err
	}
	b.locker.Lock()
	delete(b.handles, hh)
	b.locker.Unlock()

	hh.locker.Lock()
	defer hh.locker.Unlock()
	return hh.destroy()
}

func (b *Backend) Close() error {
	b.locker.Lock()
	handles := b.handles
	b.handles = map[*handle]struct{}{}
	b.closed = true
	b.locker.Unlock()

	var result *multierror.Error
	for h := range handles {
		h.locker.Lock()
		result = multierror.Append(result, h.destroy())
		h.locker.Unlock()
	}
	return result.ErrorOrNil()
}
