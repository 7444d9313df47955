package stft

import (
	"math"
)

// Frame is the one-sided spectrum (FFTSize/2+1 bins) of one analysis window.
type Frame struct {
	Real []float32
	Imag []float32
}

func newFrame(bins int) Frame {
	return Frame{
		Real: make([]float32, bins),
		Imag: make([]float32, bins),
	}
}

func (f Frame) Bins() int {
	return len(f.Real)
}

// Power returns |X[k]|^2 per bin.
func (f Frame) Power() []float32 {
	out := make([]float32, len(f.Real))
	for k := range out {
		re, im := float64(f.Real[k]), float64(f.Imag[k])
		out[k] = float32(re*re + im*im)
	}
	return out
}

func (f Frame) Magnitude() []float32 {
	out := make([]float32, len(f.Real))
	for k := range out {
		out[k] = float32(math.Hypot(float64(f.Real[k]), float64(f.Imag[k])))
	}
	return out
}

// Scale multiplies every bin by the corresponding gain, in place.
func (f Frame) Scale(gains []float32) {
	for k := range f.Real {
		if k >= len(gains) {
			return
		}
		f.Real[k] *= gains[k]
		f.Imag[k] *= gains[k]
	}
}

func (f Frame) Clone() Frame {
	c := Frame{
		Real: make([]float32, len(f.Real)),
		Imag: make([]float32, len(f.Imag)),
	}
	copy(c.Real, f.Real)
	copy(c.Imag, f.Imag)
	return c
}

type Spectrogram struct {
	Frames []Frame

	// SignalLength is the length of the time-domain signal the frames were
	// computed from.
	SignalLength int
}
