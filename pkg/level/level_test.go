package level

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for _, tc := range []struct {
		name     string
		in       float32
		expected float32
	}{
		{"zero", 0, 0},
		{"in_range", 0.25, 0.25},
		{"one", 1, 1},
		{"NaN", nan, 0},
		{"+Inf", inf, 0},
		{"-Inf", -inf, 0},
		{"negative", -0.5, 0},
		{"denormal", math.Float32frombits(1), 0},
		{"slightly_above", 1.5, 1},
		{"far_above", 100, 0},
		{"at_ceiling", DefaultCorruptionCeiling, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Validate(tc.in))
		})
	}
}

func TestValidateIdempotent(t *testing.T) {
	values := []float32{
		0, 0.5, 1, 1.0001, 9.99, 10.01, -1, 1e-40, 1e30,
		float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)),
	}
	for _, v := range values {
		once := Validate(v)
		assert.Equal(t, once, Validate(once), "value: %v", v)
	}
}

func TestValidatorCustomCeiling(t *testing.T) {
	v := Validator{CorruptionCeiling: 2}
	assert.Equal(t, float32(1), v.Validate(1.9))
	assert.Equal(t, float32(0), v.Validate(2.1))
}

func TestValidateChunk(t *testing.T) {
	policy := DefaultChunkPolicy()
	require.NoError(t, policy.Validate())

	t.Run("clean", func(t *testing.T) {
		require.NoError(t, ValidateChunk([]float32{0, 0.5, -0.5, 1}, policy))
	})
	t.Run("NaN", func(t *testing.T) {
		err := ValidateChunk([]float32{0, float32(math.NaN())}, policy)
		require.ErrorIs(t, err, ErrNonFinite)
		var chunkErr *ChunkError
		require.True(t, errors.As(err, &chunkErr))
		assert.Equal(t, 1, chunkErr.Index)
	})
	t.Run("Inf", func(t *testing.T) {
		require.ErrorIs(t, ValidateChunk([]float32{float32(math.Inf(-1))}, policy), ErrNonFinite)
	})
	t.Run("extreme", func(t *testing.T) {
		require.ErrorIs(t, ValidateChunk([]float32{0, 1000}, policy), ErrAmplitudeCeiling)
	})
	t.Run("denormal_saturated", func(t *testing.T) {
		d := math.Float32frombits(5)
		require.ErrorIs(t, ValidateChunk([]float32{d, d, d, 0.1}, policy), ErrDenormalSaturated)
	})
	t.Run("few_denormals", func(t *testing.T) {
		d := math.Float32frombits(5)
		require.NoError(t, ValidateChunk([]float32{d, 0.1, 0.1, 0.1}, policy))
	})
}

func TestSanitize(t *testing.T) {
	out := Sanitize([]float32{float32(math.NaN()), 2, -3, 0.5, math.Float32frombits(1)})
	assert.Equal(t, []float32{0, 1, -1, 0.5, 0}, out)
}

func TestMeter(t *testing.T) {
	m := NewMeter(0.5)
	assert.Equal(t, float32(0.8), m.Observe([]float32{0.1, -0.8}))
	assert.Equal(t, float32(0.4), m.Observe([]float32{0.1}))
	assert.Equal(t, float32(0.2), m.Observe([]float32{0.2}))
	assert.Equal(t, float32(0.1), m.Observe([]float32{float32(math.NaN()), 50}))
	m.Reset()
	assert.Zero(t, m.Level())
}
