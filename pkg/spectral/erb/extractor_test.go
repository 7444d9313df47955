package erb

import (
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/spectral/stft"
)

func newTestSTFT(t *testing.T) *stft.STFT {
	s, err := stft.New(stft.DefaultConfig())
	require.NoError(t, err)
	return s
}

func sine(freq float64, count int) []float32 {
	out := make([]float32, count)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/48000))
	}
	return out
}

func TestBandEdges(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)

	edges := e.BandEdges()
	require.Len(t, edges, 33, spew.Sdump(edges))
	assert.Equal(t, 0, edges[0])
	assert.Equal(t, 481, edges[32])
	for i := 1; i < len(edges); i++ {
		assert.GreaterOrEqual(t, edges[i]-edges[i-1], 2, "band %d", i-1)
	}
	// low bands are narrower than the high ones
	assert.Less(t, edges[1]-edges[0], edges[32]-edges[31])
}

func TestTooManyBands(t *testing.T) {
	_, err := New(Config{SampleRate: 48000, FFTSize: 64, Bands: 32, MinBinsPerBand: 2})
	require.Error(t, err)

	require.Error(t, Config{}.Validate())
}

func TestSilenceIsFinite(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)

	spectrum, err := newTestSTFT(t).Transform(make([]float32, 960))
	require.NoError(t, err)
	vectors, err := e.Extract(spectrum)
	require.NoError(t, err)
	require.Len(t, vectors, len(spectrum.Frames))
	for _, v := range vectors {
		for _, b := range v.Bands {
			require.Equal(t, FloorDB, b)
		}
		require.NotNil(t, v.Stats)
		for _, s := range v.Stats.Slice() {
			require.False(t, math.IsNaN(float64(s)) || math.IsInf(float64(s), 0), spew.Sdump(v.Stats))
		}
	}
}

func TestDeterministic(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	s := newTestSTFT(t)

	signal := sine(700, 1920)
	spec1, err := s.Transform(signal)
	require.NoError(t, err)
	spec2, err := s.Transform(signal)
	require.NoError(t, err)

	v1, err := e.Extract(spec1)
	require.NoError(t, err)
	v2, err := e.Extract(spec2)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestToneEnergyLandsInItsBand(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)

	spectrum, err := newTestSTFT(t).Transform(sine(1000, 4800))
	require.NoError(t, err)
	v, err := e.ExtractFrame(spectrum.Frames[len(spectrum.Frames)/2])
	require.NoError(t, err)

	// 1 kHz is bin 20
	edges := e.BandEdges()
	toneBand := -1
	for band := 0; band < len(edges)-1; band++ {
		if edges[band] <= 20 && 20 < edges[band+1] {
			toneBand = band
		}
	}
	require.GreaterOrEqual(t, toneBand, 0)
	for band, b := range v.Bands {
		if band == toneBand {
			continue
		}
		assert.Less(t, b, v.Bands[toneBand], "band %d", band)
	}
	assert.InDelta(t, 1000, v.Stats.Centroid, 100)
	assert.Less(t, v.Stats.Flatness, float32(0.1))
}

func TestBandGainsToBins(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)

	gains := make([]float32, 32)
	for i := range gains {
		gains[i] = float32(i) / 31
	}
	perBin, err := e.BandGainsToBins(gains)
	require.NoError(t, err)
	require.Len(t, perBin, 481)
	assert.Equal(t, float32(0), perBin[0])
	assert.Equal(t, float32(1), perBin[480])

	_, err = e.BandGainsToBins(gains[:3])
	require.Error(t, err)
}

func TestFrameSizeMismatch(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	_, err = e.ExtractFrame(stft.Frame{Real: make([]float32, 3), Imag: make([]float32, 3)})
	require.Error(t, err)
}

func TestFlatten(t *testing.T) {
	v := FeatureVector{
		Bands:         []float32{1, 2},
		Stats:         &SpectralStats{EnergyDB: 3, Centroid: 4, Flatness: 5, Rolloff: 6},
		VoiceActivity: 0.5,
	}
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 0.5}, v.Flatten())

	c := v.Clone()
	c.Bands[0] = 100
	c.Stats.EnergyDB = 100
	assert.Equal(t, float32(1), v.Bands[0])
	assert.Equal(t, float32(3), v.Stats.EnergyDB)
}
