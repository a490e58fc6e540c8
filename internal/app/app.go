// Package app wires the Lumen subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithIssuer,
// WithDialer, WithHistory, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lumen-devotional/lumen/internal/chunker"
	"github.com/lumen-devotional/lumen/internal/config"
	"github.com/lumen-devotional/lumen/internal/health"
	"github.com/lumen-devotional/lumen/internal/history"
	"github.com/lumen-devotional/lumen/internal/history/postgres"
	"github.com/lumen-devotional/lumen/internal/observe"
	"github.com/lumen-devotional/lumen/internal/resilience"
	"github.com/lumen-devotional/lumen/internal/voicechat"
	"github.com/lumen-devotional/lumen/pkg/audio"
	"github.com/lumen-devotional/lumen/pkg/credential"
	"github.com/lumen-devotional/lumen/pkg/credential/httpapi"
	"github.com/lumen-devotional/lumen/pkg/room"
	"github.com/lumen-devotional/lumen/pkg/stream"
)

// historyCapacity bounds the in-memory history used without PostgreSQL.
const historyCapacity = 256

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	issuer   credential.Issuer
	dialer   room.Dialer
	history  history.Recorder
	session  audio.Session
	factory  chunker.RecorderFactory
	sink     stream.Sink
	voice    *voicechat.Controller
	streamer *Streamer
	hub      *Hub
	health   *health.Handler

	metricsHandler http.Handler
	server         *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithIssuer injects a credential issuer instead of building HTTP clients
// from config.
func WithIssuer(is credential.Issuer) Option {
	return func(a *App) { a.issuer = is }
}

// WithDialer injects a room transport instead of creating one through the
// registry.
func WithDialer(d room.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithHistory injects a history recorder instead of creating one from config.
func WithHistory(h history.Recorder) Option {
	return func(a *App) { a.history = h }
}

// WithAudioSession sets the platform audio session shared by the controller
// and the chunker. Default: [audio.NopSession].
func WithAudioSession(s audio.Session) Option {
	return func(a *App) { a.session = s }
}

// WithRecorderFactory enables raw-audio streaming with the given capture
// devices. Without it the stream endpoints report 503.
func WithRecorderFactory(f chunker.RecorderFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithSink injects the chunk sink instead of dialing chunker.sink_url.
func WithSink(s stream.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithRegistry sets the registry used to build the room transport and the
// chunk sink.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	if a.session == nil {
		a.session = &audio.NopSession{}
	}

	// ── 1. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Credential backend ────────────────────────────────────────────
	if err := a.initIssuer(); err != nil {
		return nil, fmt.Errorf("app: init credential backend: %w", err)
	}

	// ── 3. Room transport ────────────────────────────────────────────────
	if a.dialer == nil {
		d, err := a.registry.CreateRoom(cfg)
		if err != nil {
			return nil, fmt.Errorf("app: init room transport: %w", err)
		}
		a.dialer = d
	}

	// ── 4. Voice controller ──────────────────────────────────────────────
	voice, err := voicechat.New(a.voiceConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("app: init voice controller: %w", err)
	}
	a.voice = voice
	a.hub = NewHub()
	a.voice.OnChange(a.hub.Publish)

	// ── 5. Raw-audio streaming ───────────────────────────────────────────
	if a.factory != nil {
		a.streamer = newStreamer(a.factory, a.registry, a.sink, cfg.Chunker,
			chunker.WithAudioSession(a.session),
			chunker.WithMetrics(a.metrics),
		)
	}

	a.health = health.New(health.CredentialChecker(a.issuer))
	return a, nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.history = history.NewMemoryStore(historyCapacity)
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("conversation history stored in postgres")
	return nil
}

// initIssuer builds one HTTP client per configured base URL, each behind its
// own circuit breaker, tried in order.
func (a *App) initIssuer() error {
	if a.issuer != nil {
		return nil
	}
	bc := a.cfg.Backend
	if len(bc.BaseURLs) == 0 {
		return errors.New("backend.base_urls is required when no issuer is injected")
	}

	clientOpts := []httpapi.Option{httpapi.WithTimeout(bc.Timeout)}
	if bc.APIKey != "" {
		clientOpts = append(clientOpts, httpapi.WithAPIKey(bc.APIKey))
	}

	fb := resilience.NewCredentialFallback(
		httpapi.New(bc.BaseURLs[0], clientOpts...), bc.BaseURLs[0],
		resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  bc.CircuitBreaker.MaxFailures,
				ResetTimeout: bc.CircuitBreaker.ResetTimeout,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("credential backend breaker changed state",
						"backend", name, "from", from.String(), "to", to.String())
					a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
			IsPermanent: httpapi.IsPermanent,
		},
	)
	for _, u := range bc.BaseURLs[1:] {
		fb.AddFallback(u, httpapi.New(u, clientOpts...))
	}
	a.issuer = fb
	return nil
}

func (a *App) voiceConfig(cfg *config.Config) voicechat.Config {
	return voicechat.Config{
		Issuer:              a.issuer,
		Dialer:              a.dialer,
		AudioSession:        a.session,
		History:             a.history,
		Metrics:             a.metrics,
		ServerURL:           cfg.Voice.ServerURL,
		DisplayName:         cfg.Voice.DisplayName,
		DurationMinutes:     cfg.Voice.DurationMinutes,
		AgentIdentityPrefix: cfg.Voice.AgentIdentityPrefix,
		RoomOptions:         RoomOptions(cfg.Room),
	}
}

// RoomOptions converts the room section to transport join options.
func RoomOptions(rc config.RoomConfig) room.Options {
	return room.Options{
		AdaptiveStream:   config.Bool(rc.AdaptiveStream),
		EchoCancellation: config.Bool(rc.EchoCancellation),
		NoiseSuppression: config.Bool(rc.NoiseSuppression),
		AutoGainControl:  config.Bool(rc.AutoGainControl),
	}
}

// Voice returns the voice-chat controller.
func (a *App) Voice() *voicechat.Controller { return a.voice }

// Streamer returns the raw-audio streamer, or nil when no capture devices
// were configured.
func (a *App) Streamer() *Streamer { return a.streamer }

// History returns the conversation history recorder.
func (a *App) History() history.Recorder { return a.history }

// Handler returns the full HTTP surface: health probes, metrics and the
// control API, wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.registerAPI(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.ChunkerChanged && a.streamer != nil {
		a.streamer.UpdateConfig(d.NewChunker)
		slog.Info("chunker config updated; applies to the next segment")
	}
	if d.VoiceChanged {
		slog.Warn("voice config changed; restart to apply",
			"display_name", newCfg.Voice.DisplayName)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "sections", d.RestartRequired)
	}
}

// Run serves HTTP on cfg.Server.ListenAddr until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown ends any conversation, stops streaming, stops the HTTP server and
// runs the closers. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// End the conversation first so history is written before the store
		// closes.
		a.voice.Close(ctx)

		if a.streamer != nil {
			a.streamer.Stop(ctx)
		}
		a.hub.Close()

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
