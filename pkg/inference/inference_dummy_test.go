package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/spectral/erb"
)

type foreignHandle struct{}

func (foreignHandle) Info() ModelInfo { return ModelInfo{} }

func TestDummy(t *testing.T) {
	ctx := context.Background()
	d := NewDummy(4)
	defer d.Close()

	h, err := d.LoadModel(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, h.Info().Bands)

	out, err := d.RunInference(ctx, erb.FeatureVector{Bands: []float32{-10, -20, -30, -40}, VoiceActivity: 0.3}, h)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, out.Bands)
	assert.Equal(t, float32(0.3), out.VoiceActivity)

	_, err = d.RunInference(ctx, erb.FeatureVector{}, foreignHandle{})
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.NoError(t, d.Unload(ctx, h))
}
