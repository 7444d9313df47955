// Package inference defines the contract of a denoising model backend.
//
// A backend maps a FeatureVector of per-band log powers (dB) to a
// FeatureVector of per-band suppression gains within [0, 1].
package inference

import (
	"context"
	"errors"
	"io"

	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
)

var (
	ErrNotLoaded     = errors.New("the model is not loaded")
	ErrInvalidHandle = errors.New("the handle does not belong to this backend")
	ErrClosed        = errors.New("the backend is closed")
)

type ModelInfo struct {
	Name      string
	Path      string
	Bands     int
	Precision quantization.Precision
}

// Handle identifies a loaded model.
type Handle interface {
	Info() ModelInfo
}

type Backend interface {
	io.Closer

	// LoadModel loads the model at the path; an empty path selects the
	// built-in model of the backend (if it has one).
	LoadModel(ctx context.Context, path string) (Handle, error)

	RunInference(ctx context.Context, input erb.FeatureVector, handle Handle) (erb.FeatureVector, error)

	Unload(ctx context.Context, handle Handle) error
}

// CacheReleaser is implemented by backends that can give memory back when
// the process is under memory pressure.
type CacheReleaser interface {
	ReleaseCaches(ctx context.Context) error
}

/* for easier copy&paste:

func () LoadModel(
	ctx context.Context,
	path string,
) (inference.Handle, error) {
}

func () RunInference(
	ctx context.Context,
	input erb.FeatureVector,
	handle inference.Handle,
) (erb.FeatureVector, error) {
}

func () Unload(
	ctx context.Context,
	handle inference.Handle,
) error {
}

func () Close() error {
}

*/
