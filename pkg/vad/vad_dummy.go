package vad

import (
	"context"
)

// Dummy reports every chunk as voice, so nothing adapts to it as to noise.
type Dummy struct{}

var _ VAD = (*Dummy)(nil)

func (Dummy) VoiceActivity(context.Context, []float32) (float64, error) {
	return 1, nil
}

func (Dummy) Close() error {
	return nil
}
