package erb

// SpectralStats are broadband statistics of a single frame.
type SpectralStats struct {
	// EnergyDB is the mean bin power in dB.
	EnergyDB float32

	// Centroid is the power-weighted mean frequency in Hz.
	Centroid float32

	// Flatness is the ratio of the geometric and arithmetic means of the bin
	// powers, within [0, 1].
	Flatness float32

	// Rolloff is the frequency in Hz below which RolloffRatio of the power
	// is concentrated.
	Rolloff float32
}

func (s SpectralStats) Slice() []float32 {
	return []float32{s.EnergyDB, s.Centroid, s.Flatness, s.Rolloff}
}

// FeatureVector is the model input (per-band log powers in dB) or output
// (per-band suppression gains within [0, 1]).
type FeatureVector struct {
	Bands []float32
	Stats *SpectralStats

	// VoiceActivity is the probability of voice in the frame, within [0, 1].
	VoiceActivity float32
}

func (v FeatureVector) Clone() FeatureVector {
	c := FeatureVector{
		Bands:         make([]float32, len(v.Bands)),
		VoiceActivity: v.VoiceActivity,
	}
	copy(c.Bands, v.Bands)
	if v.Stats != nil {
		stats := *v.Stats
		c.Stats = &stats
	}
	return c
}

// Flatten concatenates the bands, the statistics (if any) and the voice
// activity into a single model input row.
func (v FeatureVector) Flatten() []float32 {
	out := make([]float32, 0, len(v.Bands)+5)
	out = append(out, v.Bands...)
	if v.Stats != nil {
		out = append(out, v.Stats.Slice()...)
	}
	return append(out, v.VoiceActivity)
}
