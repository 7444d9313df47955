// Package vad estimates whether a chunk of audio carries voice.
package vad

import (
	"context"
	"io"
)

type VAD interface {
	io.Closer

	// VoiceActivity returns the voice confidence of the mono float32 samples
	// within [0, 1].
	VoiceActivity(ctx context.Context, samples []float32) (float64, error)
}
