package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/denoise/pkg/audio/types"
)

type output interface {
	WriteSamples(samples []float32) error
	BytesWritten() uint64
	Close() error
}

// openOutput creates a WAV file when the format is "wav" (or "auto" with a
// .wav extension) and a raw PCM file otherwise.
func openOutput(
	path string,
	format string,
	sampleRate int,
	wavBitDepth int,
) (output, error) {
	if format == "auto" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".wav", ".wave":
			format = "wav"
		default:
			format = types.PCMFormatFloat32LE.String()
		}
	}
	if format == "wav" {
		return newWAVOutput(path, sampleRate, wavBitDepth)
	}
	pcmFormat, err := types.ParsePCMFormat(format)
	if err != nil {
		return nil, fmt.Errorf("unknown output format '%s': %w", format, err)
	}
	return newRawOutput(path, pcmFormat)
}

type wavOutput struct {
	file     *os.File
	encoder  *wav.Encoder
	buffer   *goaudio.IntBuffer
	bitDepth int
}

func newWAVOutput(path string, sampleRate int, bitDepth int) (*wavOutput, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth %d, expected 16, 24 or 32", bitDepth)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create '%s': %w", path, err)
	}
	return &wavOutput{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, bitDepth, 1, 1),
		buffer: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: 1,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
		bitDepth: bitDepth,
	}, nil
}

func (o *wavOutput) WriteSamples(samples []float32) error {
	scale := float64(int64(1) << (o.bitDepth - 1))
	if cap(o.buffer.Data) < len(samples) {
		o.buffer.Data = make([]int, len(samples))
	}
	o.buffer.Data = o.buffer.Data[:len(samples)]
	for idx, v := range samples {
		o.buffer.Data[idx] = int(max(-scale, min(scale-1, math.Round(float64(v)*scale))))
	}
	if err := o.encoder.Write(o.buffer); err != nil {
		return fmt.Errorf("unable to write WAV samples: %w", err)
	}
	return nil
}

func (o *wavOutput) BytesWritten() uint64 {
	info, err := o.file.Stat()
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (o *wavOutput) Close() error {
	var result *multierror.Error
	if err := o.encoder.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to finalize the WAV file: %w", err))
	}
	if err := o.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close the file: %w", err))
	}
	return result.ErrorOrNil()
}

type rawOutput struct {
	file    *os.File
	counter *datacounter.WriterCounter
	format  types.PCMFormat
	buffer  []byte
}

func newRawOutput(path string, format types.PCMFormat) (*rawOutput, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create '%s': %w", path, err)
	}
	return &rawOutput{
		file:    f,
		counter: datacounter.NewWriterCounter(f),
		format:  format,
	}, nil
}

func (o *rawOutput) WriteSamples(samples []float32) error {
	size := len(samples) * int(o.format.Size())
	if cap(o.buffer) < size {
		o.buffer = make([]byte, size)
	}
	o.buffer = o.buffer[:size]
	if _, err := types.EncodeFloat32(o.format, o.buffer, samples); err != nil {
		return err
	}
	if _, err := o.counter.Write(o.buffer); err != nil {
		return fmt.Errorf("unable to write: %w", err)
	}
	return nil
}

func (o *rawOutput) BytesWritten() uint64 {
	return o.counter.Count()
}

func (o *rawOutput) Close() error {
	return o.file.Close()
}
