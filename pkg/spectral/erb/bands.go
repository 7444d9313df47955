package erb

import (
	"fmt"
	"math"
)

// freqToERB maps a frequency (Hz) to the ERB-rate scale.
func freqToERB(freq float64) float64 {
	return 9.265 * math.Log1p(freq/(24.7*9.265))
}

func erbToFreq(erb float64) float64 {
	return 24.7 * 9.265 * (math.Exp(erb/9.265) - 1)
}

// bandWidths splits the one-sided spectrum into bands equally spaced on
// the ERB-rate scale. Bands narrower than minBinsPerBand are widened and the
// excess is taken from the next band, so low frequencies get many narrow
// bands and high frequencies few wide ones.
func bandWidths(sampleRate, fftSize, bands, minBinsPerBand int) ([]int, error) {
	bins := fftSize/2 + 1
	nyquist := float64(sampleRate) / 2
	binWidth := float64(sampleRate) / float64(fftSize)
	erbLow := freqToERB(0)
	erbHigh := freqToERB(nyquist)
	step := (erbHigh - erbLow) / float64(bands)

	widths := make([]int, bands)
	prevBin, overflow := 0, 0
	for i := 1; i <= bands; i++ {
		freq := erbToFreq(erbLow + float64(i)*step)
		bin := int(math.Round(freq / binWidth))
		width := bin - prevBin - overflow
		if width < minBinsPerBand {
			overflow = minBinsPerBand - width
			width = minBinsPerBand
		} else {
			overflow = 0
		}
		widths[i-1] = width
		prevBin = bin
	}

	sum := 0
	for _, w := range widths {
		sum += w
	}
	widths[bands-1] -= sum - bins
	if widths[bands-1] <= 0 {
		return nil, fmt.Errorf("%d bands with at least %d bins each do not fit into %d bins", bands, minBinsPerBand, bins)
	}
	return widths, nil
}

func bandEdges(widths []int) []int {
	edges := make([]int, len(widths)+1)
	for i, w := range widths {
		edges[i+1] = edges[i] + w
	}
	return edges
}
