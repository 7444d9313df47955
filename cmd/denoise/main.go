package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
	"github.com/xaionaro-go/denoise/pkg/audio/types"
	"github.com/xaionaro-go/denoise/pkg/audiobuffer"
	"github.com/xaionaro-go/denoise/pkg/config"
	"github.com/xaionaro-go/denoise/pkg/level"
	"github.com/xaionaro-go/denoise/pkg/processor"
	"github.com/xaionaro-go/denoise/pkg/quantization"
	"github.com/xaionaro-go/observability"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "path to a YAML config file")
	backendName := pflag.String("backend", "", "inference backend: spectralgate, onnx or dummy")
	modelPath := pflag.String("model", "", "path to the model file; empty means the built-in model of the backend")
	precision := pflag.String("precision", "", "weight precision of the spectral gate backend: fp32, fp16, int8 or dynamic")
	sensitivity := pflag.Float32("sensitivity", 1, "suppression strength within [0, 1]")
	inputKind := pflag.String("input-format", "auto", "input container: auto, wav, ogg or raw")
	rawFormat := pflag.String("raw-format", "f32le", "PCM format of a raw input")
	rawSampleRate := pflag.Uint32("raw-sample-rate", 48000, "sample rate of a raw input")
	rawChannels := pflag.Uint32("raw-channels", 1, "amount of channels of a raw input")
	outputFormat := pflag.String("output-format", "auto", "output format: auto (by the extension), wav or a PCM format like f32le or s16le")
	wavBitDepth := pflag.Int("wav-bit-depth", 16, "bit depth of a WAV output")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	if pflag.NArg() != 2 {
		panic(fmt.Errorf("expected exactly two arguments: <input-file> <output-file>"))
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		assertNoError(err)
	}
	if pflag.CommandLine.Changed("backend") {
		cfg.Backend.Name = config.BackendName(*backendName)
	}
	if pflag.CommandLine.Changed("model") {
		cfg.Processor.ModelPath = *modelPath
	}
	if pflag.CommandLine.Changed("precision") {
		p, err := quantization.ParsePrecision(*precision)
		assertNoError(err)
		cfg.Backend.SpectralGate.Precision = p
		cfg.Backend.ONNX.Precision = p
	}
	if pflag.CommandLine.Changed("sensitivity") {
		cfg.Processor.Sensitivity = *sensitivity
	}
	// offline processing has no real-time deadline
	cfg.Processor.InferenceDeadline = 0
	assertNoError(cfg.Validate())

	rawPCMFormat, err := types.ParsePCMFormat(*rawFormat)
	assertNoError(err)
	in, err := openInput(pflag.Arg(0), *inputKind, rawParams{
		Format:     rawPCMFormat,
		SampleRate: types.SampleRate(*rawSampleRate),
		Channels:   types.Channel(*rawChannels),
	})
	assertNoError(err)
	defer in.Close()

	sampleRate := cfg.Processor.ERB.SampleRate
	procFormat := resampler.Format{
		Channels:   1,
		SampleRate: types.SampleRate(sampleRate),
		PCMFormat:  types.PCMFormatFloat32LE,
	}
	var reader io.Reader = in
	if in.Format != procFormat {
		logger.Infof(ctx, "converting %d Hz, %d channel(s), %s to %d Hz mono", in.Format.SampleRate, in.Format.Channels, in.Format.PCMFormat, sampleRate)
		reader, err = resampler.NewResampler(in.Format, in, procFormat)
		assertNoError(err)
	}

	backend, err := cfg.Backend.New(cfg.Processor.ERB.Bands)
	assertNoError(err)
	voiceDetector, err := cfg.VAD.New()
	assertNoError(err)
	proc, err := processor.New(cfg.Processor, backend, processor.WithVAD(voiceDetector))
	assertNoError(err)
	defer func() {
		assertNoError(proc.Close())
	}()

	assertNoError(proc.Initialize(ctx))
	assertNoError(proc.WaitReady(ctx))

	buffer, err := audiobuffer.New(cfg.Pipeline.Buffer, proc)
	assertNoError(err)
	defer buffer.Close()

	out, err := openOutput(pflag.Arg(1), *outputFormat, sampleRate, *wavBitDepth)
	assertNoError(err)

	err = denoise(ctx, reader, buffer, proc, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	assertNoError(err)

	snapshot := proc.Telemetry()
	logger.Infof(ctx, "done: read %d bytes, wrote %d bytes, processed %d chunks, %d inference failures, %d fallbacks",
		in.Counter.Count(), out.BytesWritten(), snapshot.FramesProcessed, snapshot.InferenceFailures, snapshot.Fallbacks)
	logger.Debugf(ctx, "telemetry: %s", spew.Sdump(snapshot))
}

func denoise(
	ctx context.Context,
	reader io.Reader,
	buffer *audiobuffer.Buffer,
	proc *processor.Processor,
	out output,
) (_err error) {
	logger.Tracef(ctx, "denoise")
	defer func() { logger.Tracef(ctx, "/denoise: %v", _err) }()

	sensitivity := proc.Config().Sensitivity
	process := func(chunk []float32) []float32 {
		processed := proc.Process(ctx, chunk, sensitivity)
		if processed == nil {
			return level.Sanitize(chunk)
		}
		return processed
	}

	chunkSize := buffer.Config().MinExtractSize
	raw := make([]byte, chunkSize*4)
	samples := make([]float32, chunkSize)
	for {
		n, err := io.ReadFull(reader, raw)
		count, _ := types.DecodeFloat32(types.PCMFormatFloat32LE, samples, raw[:n])
		if count > 0 {
			if chunk := buffer.AppendAndExtract(samples[:count]); chunk != nil {
				if err := out.WriteSamples(process(chunk)); err != nil {
					return err
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("unable to read the input: %w", err)
		}
	}

	tailLen := buffer.Len()
	tail := buffer.Flush()
	if tail == nil {
		return nil
	}
	return out.WriteSamples(process(tail)[:tailLen])
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
