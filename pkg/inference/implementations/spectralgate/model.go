package spectralgate

import (
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed default_model.yaml
var defaultModel []byte

// Model is the on-disk description of a spectral gate.
type Model struct {
	Name  string `yaml:"name"`
	Bands int    `yaml:"bands"`

	// NoiseFloorDB is the initial noise estimate per band.
	NoiseFloorDB []float32 `yaml:"noise_floor_db"`

	// BandWeights scale the suppression strength per band.
	BandWeights []float32 `yaml:"band_weights"`

	OverSubtraction float32 `yaml:"over_subtraction"`
	GainFloor       float32 `yaml:"gain_floor"`

	// AdaptationRate is the share of a non-voice frame mixed into the noise
	// estimate.
	AdaptationRate float32 `yaml:"adaptation_rate"`

	// VoiceThreshold is the voice activity above which the noise estimate
	// is frozen.
	VoiceThreshold float32 `yaml:"voice_threshold"`
}

func ParseModel(r io.Reader) (*Model, error) {
	var m Model
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(&m); err != nil {
		return nil, fmt.Errorf("unable to decode the model: %w", err)
	}
	m.setDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Model) setDefaults() {
	if len(m.NoiseFloorDB) == 0 {
		m.NoiseFloorDB = make([]float32, m.Bands)
		for i := range m.NoiseFloorDB {
			m.NoiseFloorDB[i] = -60
		}
	}
	if len(m.BandWeights) == 0 {
		m.BandWeights = make([]float32, m.Bands)
		for i := range m.BandWeights {
			m.BandWeights[i] = 1
		}
	}
	if m.OverSubtraction == 0 {
		m.OverSubtraction = 1
	}
	if m.VoiceThreshold == 0 {
		m.VoiceThreshold = 0.5
	}
}

func (m *Model) Validate() error {
	if m.Bands <= 0 {
		return fmt.Errorf("the amount of bands must be positive, but is %d", m.Bands)
	}
	if len(m.NoiseFloorDB) != m.Bands {
		return fmt.Errorf("expected %d noise floor values, but got %d", m.Bands, len(m.NoiseFloorDB))
	}
	if len(m.BandWeights) != m.Bands {
		return fmt.Errorf("expected %d band weights, but got %d", m.Bands, len(m.BandWeights))
	}
	if m.GainFloor < 0 || m.GainFloor > 1 {
		return fmt.Errorf("gain floor must be within [0, 1], but is %v", m.GainFloor)
	}
	if m.AdaptationRate < 0 || m.AdaptationRate > 1 {
		return fmt.Errorf("adaptation rate must be within [0, 1], but is %v", m.AdaptationRate)
	}
	if m.OverSubtraction <= 0 {
		return fmt.Errorf("over-subtraction must be positive, but is %v", m.OverSubtraction)
	}
	return nil
}
