package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
	"github.com/xaionaro-go/denoise/pkg/audio/types"
)

type input struct {
	io.Reader
	Format  resampler.Format
	Counter *datacounter.ReaderCounter
	closer  io.Closer
}

func (in *input) Close() error {
	return in.closer.Close()
}

type rawParams struct {
	Format     types.PCMFormat
	SampleRate types.SampleRate
	Channels   types.Channel
}

func detectInputKind(path, kind string) string {
	if kind != "auto" {
		return kind
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return "wav"
	case ".ogg", ".oga":
		return "ogg"
	default:
		return "raw"
	}
}

// openInput returns the file content as float32 LE PCM together with its
// format, or the raw bytes for raw files.
func openInput(
	path string,
	kind string,
	raw rawParams,
) (_ *input, _err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer func() {
		if _err != nil {
			f.Close()
		}
	}()

	counter := datacounter.NewReaderCounter(f)
	switch detectInputKind(path, kind) {
	case "wav":
		samples, format, err := decodeWAV(f)
		if err != nil {
			return nil, err
		}
		return &input{Reader: bytes.NewReader(encodeFloat32LE(samples)), Format: format, Counter: counter, closer: f}, nil
	case "ogg":
		samples, format, err := decodeVorbis(counter)
		if err != nil {
			return nil, err
		}
		return &input{Reader: bytes.NewReader(encodeFloat32LE(samples)), Format: format, Counter: counter, closer: f}, nil
	case "raw":
		if raw.Format.Size() == 0 {
			return nil, fmt.Errorf("unsupported raw PCM format %v", raw.Format)
		}
		return &input{
			Reader: counter,
			Format: resampler.Format{
				Channels:   raw.Channels,
				SampleRate: raw.SampleRate,
				PCMFormat:  raw.Format,
			},
			Counter: counter,
			closer:  f,
		}, nil
	default:
		return nil, fmt.Errorf("unknown input kind '%s', expected one of: auto, wav, ogg, raw", kind)
	}
}

func decodeWAV(r io.ReadSeeker) ([]float32, resampler.Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, resampler.Format{}, fmt.Errorf("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, resampler.Format{}, fmt.Errorf("unable to decode the WAV file: %w", err)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, resampler.Format{}, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	return intsToFloat32(buf, bitDepth), resampler.Format{
		Channels:   types.Channel(dec.NumChans),
		SampleRate: types.SampleRate(dec.SampleRate),
		PCMFormat:  types.PCMFormatFloat32LE,
	}, nil
}

func intsToFloat32(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(buf.Data))
	for idx, v := range buf.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		out[idx] = float32(v) / scale
	}
	return out
}

func decodeVorbis(r io.Reader) ([]float32, resampler.Format, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, resampler.Format{}, fmt.Errorf("unable to open the Ogg Vorbis stream: %w", err)
	}
	channels := dec.Channels()
	buf := make([]float32, 4096*channels)
	var samples []float32
	for {
		n, err := dec.Read(buf)
		samples = append(samples, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, resampler.Format{}, fmt.Errorf("unable to decode the Ogg Vorbis stream: %w", err)
		}
	}
	return samples, resampler.Format{
		Channels:   types.Channel(channels),
		SampleRate: types.SampleRate(dec.SampleRate()),
		PCMFormat:  types.PCMFormatFloat32LE,
	}, nil
}

func encodeFloat32LE(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	types.EncodeFloat32(types.PCMFormatFloat32LE, b, samples)
	return b
}
