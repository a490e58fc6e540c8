// Command lumen is the main entry point for the Lumen voice gateway: the
// voice-chat control API and the raw-audio streamer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumen-devotional/lumen/internal/app"
	"github.com/lumen-devotional/lumen/internal/config"
	"github.com/lumen-devotional/lumen/internal/observe"
	"github.com/lumen-devotional/lumen/pkg/audio"
	"github.com/lumen-devotional/lumen/pkg/audio/wavcapture"
	"github.com/lumen-devotional/lumen/pkg/room"
	"github.com/lumen-devotional/lumen/pkg/room/livekit"
	"github.com/lumen-devotional/lumen/pkg/stream"
	"github.com/lumen-devotional/lumen/pkg/stream/wssink"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	micPath := flag.String("mic", "", "raw s16le PCM file or FIFO published as the room microphone")
	playbackPath := flag.String("playback", "", "file that receives remote agent audio as raw s16le PCM")
	capturePath := flag.String("capture", "", `raw s16le PCM file or FIFO recorded by the chunker ("-" for stdin)`)
	captureRate := flag.Int("capture-rate", 16000, "sample rate of the -capture input")
	captureChannels := flag.Int("capture-channels", 1, "channel count of the -capture input")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lumen: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lumen: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("lumen starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Audio endpoints ───────────────────────────────────────────────────────
	mic, err := openSource(ctx, *micPath, audio.Format{
		SampleRate: cfg.Room.SampleRate,
		Channels:   cfg.Room.Channels,
		BitDepth:   16,
	})
	if err != nil {
		slog.Error("failed to open microphone input", "err", err)
		return 1
	}
	playback, closePlayback, err := openPlayback(*playbackPath)
	if err != nil {
		slog.Error("failed to open playback output", "err", err)
		return 1
	}
	defer closePlayback()

	capture, err := openSource(ctx, *capturePath, audio.Format{
		SampleRate: *captureRate,
		Channels:   *captureChannels,
		BitDepth:   16,
	})
	if err != nil {
		slog.Error("failed to open capture input", "err", err)
		return 1
	}

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg, mic, playback)

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
	var factory *wavcapture.Factory
	if capture != nil {
		factory = wavcapture.NewFactory(capture)
		opts = append(opts, app.WithRecorderFactory(factory))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfig(old, newCfg, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, *micPath, *capturePath)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if factory != nil {
		g.Go(func() error { return factory.Run(gctx) })
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Transport wiring ──────────────────────────────────────────────────────────

// registerBuiltins wires the transports and sinks that ship with Lumen.
func registerBuiltins(reg *config.Registry, mic audio.Source, playback func(audio.Frame)) {
	reg.RegisterRoom("livekit", func(_ config.RoomConfig, vc config.VoiceConfig) (room.Dialer, error) {
		opts := []livekit.Option{livekit.WithChatTopic(vc.ChatTopic)}
		if mic != nil {
			opts = append(opts, livekit.WithMicrophone(mic))
		}
		if playback != nil {
			opts = append(opts, livekit.WithPlayback(playback))
		}
		return livekit.New(opts...), nil
	})

	reg.RegisterSink(func(ctx context.Context, u *url.URL) (stream.Sink, error) {
		var opts []wssink.Option
		// Credentials in the URL become a bearer token instead of basic auth.
		if u.User != nil {
			if token, ok := u.User.Password(); ok {
				opts = append(opts, wssink.WithBearerToken(token))
			}
			stripped := *u
			stripped.User = nil
			u = &stripped
		}
		s, err := wssink.Dial(ctx, u.String(), opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, "ws", "wss")
}

// openSource starts a paced PCM source reading path, or returns nil when path
// is empty. Stdin is assumed to be produced in real time already.
func openSource(ctx context.Context, path string, format audio.Format) (audio.Source, error) {
	if path == "" {
		return nil, nil
	}
	var r io.ReadCloser = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r = f
	}
	src := audio.NewReaderSource(r, format, audio.WithRealtime(path != "-"))

	// The read blocks outside ctx, so the source is not part of the errgroup.
	go func() {
		defer r.Close()
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("audio source stopped", "path", path, "err", err)
			return
		}
		slog.Info("audio source finished", "path", path)
	}()
	return src, nil
}

// openPlayback returns a frame sink appending raw PCM to path.
func openPlayback(path string) (func(audio.Frame), func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	var mu sync.Mutex
	write := func(fr audio.Frame) {
		mu.Lock()
		defer mu.Unlock()
		if _, err := f.Write(fr.Data); err != nil {
			slog.Warn("playback write failed", "err", err)
		}
	}
	closeFn := func() {
		mu.Lock()
		defer mu.Unlock()
		if err := f.Close(); err != nil {
			slog.Warn("playback close failed", "err", err)
		}
	}
	return write, closeFn, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, micPath, capturePath string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Lumen · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Room transport", cfg.Room.Transport)
	printRow("Backends", fmt.Sprintf("%d", len(cfg.Backend.BaseURLs)))
	printRow("Microphone", orDisabled(micPath))
	printRow("Capture", orDisabled(capturePath))
	if cfg.Chunker.SinkURL != "" {
		printRow("Chunk sink", "configured")
	} else {
		printRow("Chunk sink", "(disabled)")
	}
	if cfg.History.PostgresDSN != "" {
		printRow("History", "postgres")
	} else {
		printRow("History", "memory")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
