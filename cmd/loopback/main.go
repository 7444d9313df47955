package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/denoise/pkg/audio"
	_ "github.com/xaionaro-go/denoise/pkg/audio/backends/oto"
	_ "github.com/xaionaro-go/denoise/pkg/audio/backends/portaudio"
	"github.com/xaionaro-go/denoise/pkg/audio/backends/pulseaudio"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
	"github.com/xaionaro-go/denoise/pkg/config"
	"github.com/xaionaro-go/denoise/pkg/memorypressure"
	"github.com/xaionaro-go/denoise/pkg/pipeline"
	"github.com/xaionaro-go/denoise/pkg/processor"
	"github.com/xaionaro-go/denoise/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "path to a YAML config file")
	backendName := pflag.String("backend", "", "inference backend: spectralgate, onnx or dummy")
	modelPath := pflag.String("model", "", "path to the model file; empty means the built-in model of the backend")
	sensitivity := pflag.Float32("sensitivity", 1, "suppression strength within [0, 1]")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections and to serve /metrics")
	statusInterval := pflag.Duration("status-interval", 5*time.Second, "how often to log the telemetry; zero disables it")
	noMemorySampler := pflag.Bool("no-memory-sampler", false, "do not derive the memory pressure from the Go heap usage")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

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
	if pflag.CommandLine.Changed("sensitivity") {
		cfg.Processor.Sensitivity = *sensitivity
	}
	assertNoError(cfg.Validate())

	ctx, cancelFunc := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	meterProvider, err := telemetry.NewPrometheusProvider()
	assertNoError(err)
	defer meterProvider.Shutdown(context.Background())
	metrics, err := telemetry.New(meterProvider)
	assertNoError(err)

	backend, err := cfg.Backend.New(cfg.Processor.ERB.Bands)
	assertNoError(err)
	voiceDetector, err := cfg.VAD.New()
	assertNoError(err)
	memoryMonitor := memorypressure.NewMonitor()
	proc, err := processor.New(
		cfg.Processor,
		backend,
		processor.WithVAD(voiceDetector),
		processor.WithMemoryMonitor(memoryMonitor),
		processor.WithMetrics(metrics),
	)
	assertNoError(err)
	unregisterGauges, err := proc.ObserveGauges()
	assertNoError(err)
	defer unregisterGauges()

	pipe, err := pipeline.New(ctx, cfg.Pipeline, proc)
	assertNoError(err)
	defer func() {
		assertNoError(pipe.Close())
	}()

	// the pipeline passes the audio through until the model is loaded
	assertNoError(proc.Initialize(ctx))

	logger.Infof(ctx, "starting...")
	recorder := audio.NewRecorderAuto(ctx)
	defer recorder.Close()
	if recorder.IsDummy() {
		panic(fmt.Errorf("unable to find a working audio recorder"))
	}
	player := audio.NewPlayerAuto(ctx)
	defer player.Close()

	g, gctx := errgroup.WithContext(ctx)

	captureWriter, captureLoop, err := newCaptureWriter(cfg.Audio, pipe)
	assertNoError(err)
	if captureLoop != nil {
		g.Go(func() error { return captureLoop(gctx) })
	}

	logger.Tracef(ctx, "recorder.RecordPCM")
	streamRecord, err := recorder.RecordPCM(ctx, cfg.Audio.SampleRate, 1, cfg.Audio.Format, captureWriter)
	logger.Tracef(ctx, "/recorder.RecordPCM: %v", err)
	assertNoError(err)
	defer streamRecord.Close()

	playbackReader, err := newPlaybackReader(cfg.Audio, pipe)
	assertNoError(err)

	logger.Tracef(ctx, "player.PlayPCM")
	streamPlay, err := player.PlayPCM(ctx, cfg.Audio.SampleRate, 1, cfg.Audio.Format, cfg.Audio.PlaybackBuffer, playbackReader)
	logger.Tracef(ctx, "/player.PlayPCM: %v", err)
	assertNoError(err)
	defer streamPlay.Close()

	logger.Infof(ctx, "started (%T -> %T)", recorder.RecorderPCM, player.PlayerPCM)

	if *netPprofAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *netPprofAddr}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("unable to serve HTTP: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if !*noMemorySampler {
		g.Go(func() error {
			return ignoreCanceled(memoryMonitor.RunSampler(gctx, cfg.MemoryPressure))
		})
	}

	if *statusInterval > 0 {
		g.Go(func() error {
			statusLoop(gctx, *statusInterval, pipe, streamRecord)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Infof(ctx, "stopping...")
		return nil
	})
	assertNoError(ignoreCanceled(g.Wait()))
}

// newCaptureWriter returns the writer for the recorder. Formats other than
// the pipeline format are converted by a loop that has to be run.
func newCaptureWriter(
	cfg config.AudioConfig,
	pipe *pipeline.Pipeline,
) (io.Writer, func(context.Context) error, error) {
	if cfg.Format == pipeline.Format {
		return pipe, nil, nil
	}
	r, w := io.Pipe()
	conv, err := resampler.NewResampler(
		resampler.Format{Channels: 1, SampleRate: cfg.SampleRate, PCMFormat: cfg.Format},
		r,
		resampler.Format{Channels: 1, SampleRate: cfg.SampleRate, PCMFormat: pipeline.Format},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to initialize the capture converter: %w", err)
	}
	loop := func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			r.CloseWithError(ctx.Err())
		}()
		_, err := io.Copy(pipe, conv)
		return ignoreCanceled(err)
	}
	return w, loop, nil
}

func newPlaybackReader(
	cfg config.AudioConfig,
	pipe *pipeline.Pipeline,
) (io.Reader, error) {
	if cfg.Format == pipeline.Format {
		return pipe.RealtimeReader(), nil
	}
	conv, err := resampler.NewResampler(
		resampler.Format{Channels: 1, SampleRate: cfg.SampleRate, PCMFormat: pipeline.Format},
		pipe.RealtimeReader(),
		resampler.Format{Channels: 1, SampleRate: cfg.SampleRate, PCMFormat: cfg.Format},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the playback converter: %w", err)
	}
	return conv, nil
}

func statusLoop(
	ctx context.Context,
	interval time.Duration,
	pipe *pipeline.Pipeline,
	streamRecord audio.RecordStream,
) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s := pipe.Telemetry()
		logger.Infof(ctx, "state:%s in:%.2f out:%.2f latency:%.1fms pressure:%s frames:%d failures:%d overflows:%d underruns:%d fallbacks:%d",
			s.State, s.InputLevel, s.OutputLevel, s.ProcessingLatencyMs, s.MemoryPressure,
			s.FramesProcessed, s.InferenceFailures, s.BufferOverflows, s.Underruns, s.Fallbacks+s.QueueFullFallbacks)
		if pulseStreamRecord, ok := streamRecord.(*pulseaudio.RecordStream); ok {
			logger.Debugf(ctx, "record stream status: running:%v, closed:%v, err:%v", pulseStreamRecord.Running(), pulseStreamRecord.Closed(), pulseStreamRecord.Error())
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
