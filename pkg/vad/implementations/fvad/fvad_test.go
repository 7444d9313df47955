package fvad

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 480, DefaultConfig().FrameSamples())

	cfg := DefaultConfig()
	cfg.SampleRate = 44100
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.FrameSize = 15 * time.Millisecond
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Mode = 7
	require.Error(t, cfg.Validate())
}

func TestToInt16(t *testing.T) {
	dst := make([]int16, 5)
	toInt16(dst, []float32{0, 1, -1, 2, float32(math.NaN())})
	assert.Equal(t, []int16{0, math.MaxInt16, -math.MaxInt16, math.MaxInt16, 0}, dst)
}

func TestVoiceActivity(t *testing.T) {
	ctx := context.Background()
	v, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = v.VoiceActivity(ctx, make([]float32, 100))
	require.Error(t, err)

	confidence, err := v.VoiceActivity(ctx, make([]float32, 960))
	require.NoError(t, err)
	assert.Zero(t, confidence)

	require.NoError(t, v.Close())
	_, err = v.VoiceActivity(ctx, make([]float32, 960))
	require.Error(t, err)
}
