package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/inference"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
)

func TestMock(t *testing.T) {
	ctx := context.Background()
	b := New(2, Behavior{Gain: 0.25})

	h, err := b.LoadModel(ctx, "/models/x.onnx")
	require.NoError(t, err)
	assert.Equal(t, "/models/x.onnx", h.Info().Path)

	out, err := b.RunInference(ctx, erb.FeatureVector{Bands: []float32{1, 2}}, h)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.25}, out.Bands)
	assert.Equal(t, uint64(1), b.Inferences())

	failure := errors.New("boom")
	b.SetBehavior(Behavior{InferenceErr: failure})
	_, err = b.RunInference(ctx, erb.FeatureVector{Bands: []float32{1, 2}}, h)
	require.ErrorIs(t, err, failure)

	b.SetBehavior(Behavior{InferencePanic: true})
	require.Panics(t, func() {
		_, _ = b.RunInference(ctx, erb.FeatureVector{}, h)
	})

	other := New(2, Behavior{})
	_, err = other.RunInference(ctx, erb.FeatureVector{}, h)
	require.ErrorIs(t, err, inference.ErrInvalidHandle)

	require.NoError(t, b.ReleaseCaches(ctx))
	assert.Equal(t, uint64(1), b.Releases())
	require.NoError(t, b.Close())
	assert.True(t, b.IsClosed())
}

func TestMockLoadCancellation(t *testing.T) {
	b := New(2, Behavior{LoadDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.LoadModel(ctx, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), b.Loads())
}
