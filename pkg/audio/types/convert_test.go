package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMFormat(t *testing.T) {
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		parsed, err := ParsePCMFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
		assert.NotZero(t, f.Size(), f.String())
	}
	_, err := ParsePCMFormat("s12le")
	require.Error(t, err)
	assert.Zero(t, PCMFormatUndefined.Size())
}

func TestConvertRoundTrip(t *testing.T) {
	values := []float32{0, 0.5, -0.5, 0.25, -1}
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		t.Run(f.String(), func(t *testing.T) {
			buf := make([]byte, len(values)*int(f.Size()))
			n, err := EncodeFloat32(f, buf, values)
			require.NoError(t, err)
			require.Equal(t, len(values), n)

			out := make([]float32, len(values))
			n, err = DecodeFloat32(f, out, buf)
			require.NoError(t, err)
			require.Equal(t, len(values), n)
			for i := range values {
				assert.InDelta(t, values[i], out[i], 1.0/64, "value #%d", i)
			}
		})
	}
}

func TestEncodeSaturates(t *testing.T) {
	buf := make([]byte, 2)
	EncodeFloat64(PCMFormatS16LE, buf, 2)
	assert.Equal(t, float64(32767)/32768, DecodeFloat64(PCMFormatS16LE, buf))
	EncodeFloat64(PCMFormatS16LE, buf, math.NaN())
	assert.Zero(t, DecodeFloat64(PCMFormatS16LE, buf))

	u8 := make([]byte, 1)
	EncodeFloat64(PCMFormatU8, u8, 1)
	assert.Equal(t, byte(255), u8[0])
	EncodeFloat64(PCMFormatU8, u8, -1)
	assert.Equal(t, byte(0), u8[0])
}

func TestDecodePartial(t *testing.T) {
	out := make([]float32, 4)
	n, err := DecodeFloat32(PCMFormatS16LE, out, []byte{0, 0x40, 0, 0xc0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float32{0.5, -0.5}, out[:2])

	_, err = DecodeFloat32(PCMFormatUndefined, out, []byte{1})
	require.Error(t, err)
}
