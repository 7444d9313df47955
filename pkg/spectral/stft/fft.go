package stft

import (
	"fmt"
	"math/cmplx"

	"github.com/brettbuddin/fourier"
	"github.com/mjibson/go-dsp/fft"
)

type engine interface {
	Forward(buf []complex128) ([]complex128, error)
	Inverse(buf []complex128) ([]complex128, error)
}

func newEngine(size int) engine {
	if isPowerOfTwo(size) {
		return radix2Engine{}
	}
	return dspEngine{}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// radix2Engine transforms in place.
type radix2Engine struct{}

func (radix2Engine) Forward(buf []complex128) ([]complex128, error) {
	if err := fourier.Forward(buf); err != nil {
		return nil, fmt.Errorf("unable to compute the forward FFT of size %d: %w", len(buf), err)
	}
	return buf, nil
}

func (e radix2Engine) Inverse(buf []complex128) ([]complex128, error) {
	for i, c := range buf {
		buf[i] = cmplx.Conj(c)
	}
	if _, err := e.Forward(buf); err != nil {
		return nil, err
	}
	scale := 1 / float64(len(buf))
	for i, c := range buf {
		buf[i] = cmplx.Conj(c) * complex(scale, 0)
	}
	return buf, nil
}

// dspEngine handles arbitrary sizes (e.g. 960).
type dspEngine struct{}

func (dspEngine) Forward(buf []complex128) ([]complex128, error) {
	return fft.FFT(buf), nil
}

func (dspEngine) Inverse(buf []complex128) ([]complex128, error) {
	return fft.IFFT(buf), nil
}
