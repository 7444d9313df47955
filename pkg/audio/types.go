package audio

import (
	"github.com/xaionaro-go/denoise/pkg/audio/types"
)

type (
	SampleRate   = types.SampleRate
	Channel      = types.Channel
	PCMFormat    = types.PCMFormat
	PlayerPCM    = types.PlayerPCM
	RecorderPCM  = types.RecorderPCM
	Stream       = types.Stream
	PlayStream   = types.PlayStream
	RecordStream = types.RecordStream
)

const (
	PCMFormatFloat32LE = types.PCMFormatFloat32LE
	PCMFormatS16LE     = types.PCMFormatS16LE
)
