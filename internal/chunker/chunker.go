// Package chunker records fixed-duration audio segments and forwards their
// raw PCM payload to a caller-supplied sink.
//
// A [Chunker] drives one capture device at a time. On every tick it stops and
// finalizes the current device, reads the container file, strips the WAV
// header, hands the samples to the sink, deletes the file and opens a fresh
// device. Ticks are scheduled with a fixed delay after the previous tick
// completes, so they never overlap.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/lumen-devotional/lumen/internal/observe"
	"github.com/lumen-devotional/lumen/pkg/audio"
)

// ErrPermissionDenied is recorded as the last error when microphone
// permission is refused.
var ErrPermissionDenied = errors.New("chunker: microphone permission denied")

type (
	// Recorder is one capture device activation.
	Recorder = audio.Recorder

	// RecorderFactory prepares capture devices.
	RecorderFactory = audio.RecorderFactory

	// RecordingOptions configure a capture device.
	RecordingOptions = audio.CaptureOptions
)

// Chunk is raw PCM with the container header removed. The sink owns it once
// called; the chunker keeps no reference.
type Chunk []byte

// Sink receives chunks in order on the chunker's loop goroutine.
type Sink func(Chunk)

// FileSystem reads and deletes finalized capture files.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)

	// Remove deletes name. A missing file is not an error.
	Remove(name string) error
}

type osFS struct{}

func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (osFS) Remove(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Permissions asks the platform for microphone access.
type Permissions interface {
	RequestMicrophone(ctx context.Context) error
}

// PermissionFunc adapts a function to [Permissions].
type PermissionFunc func(ctx context.Context) error

// RequestMicrophone implements [Permissions].
func (f PermissionFunc) RequestMicrophone(ctx context.Context) error { return f(ctx) }

// Config describes the segments being recorded.
type Config struct {
	ChunkDuration time.Duration
	SampleRate    int
	Channels      int
	BitDepth      int

	// BitRate is the encoder target in bits per second. Ignored by
	// uncompressed devices.
	BitRate int
}

// DefaultConfig returns one-second mono 16 kHz 16-bit segments.
func DefaultConfig() Config {
	return Config{
		ChunkDuration: time.Second,
		SampleRate:    16000,
		Channels:      1,
		BitDepth:      16,
		BitRate:       128000,
	}
}

// merge returns c with every non-zero field of p applied.
func (c Config) merge(p Config) Config {
	if p.ChunkDuration > 0 {
		c.ChunkDuration = p.ChunkDuration
	}
	if p.SampleRate > 0 {
		c.SampleRate = p.SampleRate
	}
	if p.Channels > 0 {
		c.Channels = p.Channels
	}
	if p.BitDepth > 0 {
		c.BitDepth = p.BitDepth
	}
	if p.BitRate > 0 {
		c.BitRate = p.BitRate
	}
	return c
}

func (c Config) recordingOptions(dir string) RecordingOptions {
	return RecordingOptions{
		Dir: dir,
		Format: audio.Format{
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			BitDepth:   c.BitDepth,
		},
		BitRate:  c.BitRate,
		Duration: c.ChunkDuration,
	}
}

// Option configures a [Chunker].
type Option func(*Chunker)

// WithConfig sets the initial configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Chunker) { c.cfg = c.cfg.merge(cfg) }
}

// WithFileSystem replaces the os-backed file access.
func WithFileSystem(fsys FileSystem) Option {
	return func(c *Chunker) { c.fs = fsys }
}

// WithPermissions sets the microphone permission check. Without it access is
// assumed granted.
func WithPermissions(p Permissions) Option {
	return func(c *Chunker) { c.perms = p }
}

// WithAudioSession sets the platform audio session switched into recording
// mode on Start.
func WithAudioSession(s audio.Session) Option {
	return func(c *Chunker) { c.session = s }
}

// WithMetrics sets the instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Chunker) { c.metrics = m }
}

// WithTempDir sets the directory capture files are written to.
func WithTempDir(dir string) Option {
	return func(c *Chunker) { c.tempDir = dir }
}

// Status is a snapshot of the chunker.
type Status struct {
	// Streaming is false while stopped or paused.
	Streaming bool

	// Active is true while the tick loop runs.
	Active bool

	Config          Config
	ChunksDelivered int64
	TickFailures    int64
	LastError       string
}

type device struct {
	rec  Recorder
	opts RecordingOptions
}

// Chunker is safe for concurrent use.
type Chunker struct {
	factory RecorderFactory
	sink    Sink
	fs      FileSystem
	perms   Permissions
	session audio.Session
	metrics *observe.Metrics
	tempDir string

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu        sync.Mutex
	cfg       Config
	streaming bool
	cancel    context.CancelFunc
	done      chan struct{}
	delivered int64
	failures  int64
	lastErr   string

	// dev is owned by the loop goroutine while it runs, and by Start/Stop
	// otherwise.
	dev *device
}

// New returns a stopped chunker that prepares devices with factory and
// delivers chunks to sink.
func New(factory RecorderFactory, sink Sink, opts ...Option) *Chunker {
	c := &Chunker{
		factory: factory,
		sink:    sink,
		fs:      osFS{},
		session: &audio.NopSession{},
		cfg:     DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start opens the first capture device and starts the tick loop. It returns
// false when the loop is already running or any setup step fails; the
// failure is available through [Chunker.Status].
func (c *Chunker) Start(ctx context.Context) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	log := observe.Logger(ctx)

	c.mu.Lock()
	running := c.done != nil
	c.mu.Unlock()
	if running {
		log.Warn("chunker: already streaming")
		return false
	}

	if c.perms != nil {
		if err := c.perms.RequestMicrophone(ctx); err != nil {
			c.setLastError(fmt.Errorf("%w: %w", ErrPermissionDenied, err))
			log.Warn("chunker: microphone permission denied", "err", err)
			return false
		}
	}
	if err := c.session.SetMode(ctx, audio.ModeRecording); err != nil {
		c.setLastError(fmt.Errorf("chunker: set audio mode: %w", err))
		log.Error("chunker: failed to set recording mode", "err", err)
		return false
	}
	if err := c.openDevice(ctx); err != nil {
		c.setLastError(err)
		log.Error("chunker: failed to open capture device", "err", err)
		return false
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.streaming = true
	c.cancel = cancel
	c.done = done
	c.lastErr = ""
	c.mu.Unlock()

	log.Info("chunker: started", "chunk_duration", c.dev.opts.Duration, "format", c.dev.opts.Format.String())
	go c.loop(loopCtx, done)
	return true
}

// Stop ends streaming, waits for an in-flight tick, and finalizes and
// deletes the open device's file. Failures are logged only.
func (c *Chunker) Stop(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.streaming = false
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	dev := c.dev
	c.dev = nil
	if dev == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	log := observe.Logger(ctx)
	path, err := dev.rec.Stop(ctx)
	if err != nil {
		log.Warn("chunker: failed to finalize device on stop", "err", err)
	}
	if path == "" {
		path = dev.rec.Path()
	}
	if path != "" {
		if err := c.fs.Remove(path); err != nil {
			log.Warn("chunker: failed to remove capture file", "path", path, "err", err)
		}
	}
	log.Info("chunker: stopped")
}

// Pause makes ticks skip delivery while the loop keeps running.
func (c *Chunker) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		c.streaming = false
	}
}

// Resume re-enables delivery after [Chunker.Pause].
func (c *Chunker) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		c.streaming = true
	}
}

// UpdateConfig merges the non-zero fields of partial into the configuration.
// The change applies from the next device opened.
func (c *Chunker) UpdateConfig(partial Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = c.cfg.merge(partial)
}

// Status returns a snapshot.
func (c *Chunker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Streaming:       c.streaming,
		Active:          c.done != nil,
		Config:          c.cfg,
		ChunksDelivered: c.delivered,
		TickFailures:    c.failures,
		LastError:       c.lastErr,
	}
}

func (c *Chunker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		timer := time.NewTimer(c.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		// The tick runs to completion even if Stop cancels ctx meanwhile.
		c.tick(context.WithoutCancel(ctx))
	}
}

// nextDelay is the duration the current device was opened for.
func (c *Chunker) nextDelay() time.Duration {
	if c.dev != nil && c.dev.opts.Duration > 0 {
		return c.dev.opts.Duration
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.ChunkDuration
}

func (c *Chunker) tick(ctx context.Context) {
	c.mu.Lock()
	streaming := c.streaming
	c.mu.Unlock()
	if !streaming {
		return
	}

	ctx, span := observe.StartSpan(ctx, "chunker.tick")
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = c.stageError(ctx, "panic", fmt.Errorf("chunker: tick panicked: %v", r))
		}
		if err != nil {
			c.mu.Lock()
			c.failures++
			c.mu.Unlock()
		}
		c.metrics.ChunkTickDuration.Record(ctx, time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	err = c.cycle(ctx)
}

// cycle finalizes the current device, delivers its samples and opens the
// next device. Each stage runs even if an earlier one failed.
func (c *Chunker) cycle(ctx context.Context) error {
	var errs []error

	if dev := c.dev; dev != nil {
		c.dev = nil
		path, err := dev.rec.Stop(ctx)
		if err != nil {
			errs = append(errs, c.stageError(ctx, "finalize", err))
		}
		if path == "" {
			path = dev.rec.Path()
		}
		if path != "" {
			if data, err := c.fs.ReadFile(path); err != nil {
				errs = append(errs, c.stageError(ctx, "read", fmt.Errorf("chunker: read %s: %w", path, err)))
			} else if err := c.deliver(ctx, ExtractRawPCM(data)); err != nil {
				errs = append(errs, c.stageError(ctx, "sink", err))
			}
			if err := c.fs.Remove(path); err != nil {
				errs = append(errs, c.stageError(ctx, "cleanup", fmt.Errorf("chunker: remove %s: %w", path, err)))
			}
		}
	}

	c.mu.Lock()
	streaming := c.streaming
	c.mu.Unlock()
	if streaming {
		if err := c.openDevice(ctx); err != nil {
			errs = append(errs, c.stageError(ctx, "restart", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Chunker) deliver(ctx context.Context, pcm []byte) (err error) {
	if len(pcm) == 0 || c.sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunker: sink panicked: %v", r)
		}
	}()
	c.sink(Chunk(pcm))

	c.mu.Lock()
	c.delivered++
	c.mu.Unlock()
	c.metrics.RecordChunk(ctx, len(pcm))
	return nil
}

func (c *Chunker) openDevice(ctx context.Context) error {
	c.mu.Lock()
	opts := c.cfg.recordingOptions(c.tempDir)
	c.mu.Unlock()

	rec, err := c.factory.Prepare(ctx, opts)
	if err != nil {
		return fmt.Errorf("chunker: prepare device: %w", err)
	}
	if err := rec.Start(ctx); err != nil {
		path, _ := rec.Stop(ctx)
		if path == "" {
			path = rec.Path()
		}
		if path != "" {
			_ = c.fs.Remove(path)
		}
		return fmt.Errorf("chunker: start device: %w", err)
	}
	c.dev = &device{rec: rec, opts: opts}
	return nil
}

func (c *Chunker) stageError(ctx context.Context, stage string, err error) error {
	observe.Logger(ctx).Error("chunker: tick failed", "stage", stage, "err", err)
	c.metrics.RecordChunkFailure(ctx, stage)
	c.setLastError(err)
	return err
}

func (c *Chunker) setLastError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
}
