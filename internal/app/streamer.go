package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumen-devotional/lumen/internal/chunker"
	"github.com/lumen-devotional/lumen/internal/config"
	"github.com/lumen-devotional/lumen/pkg/stream"
)

var (
	// ErrStreamActive is returned by Streamer.Start while a stream is running.
	ErrStreamActive = errors.New("app: stream already active")

	// ErrNoSink is returned by Streamer.Start when neither an injected sink
	// nor chunker.sink_url is available.
	ErrNoSink = errors.New("app: no chunk sink configured")

	// ErrStreamUnavailable is returned by the stream endpoints when the app
	// has no capture devices.
	ErrStreamUnavailable = errors.New("app: raw-audio streaming not configured")
)

// sendTimeout bounds one chunk delivery so a stalled consumer cannot hold
// the chunker's loop indefinitely.
const sendTimeout = 5 * time.Second

// StreamStatus is a snapshot of a [Streamer].
type StreamStatus struct {
	chunker.Status

	// StartedAt is zero while stopped.
	StartedAt time.Time

	ChunksSent    int64
	ChunksDropped int64
}

// Streamer couples the raw-audio chunker with a chunk sink. At most one
// stream runs at a time. All exported methods are safe for concurrent use.
type Streamer struct {
	chunker  *chunker.Chunker
	registry *config.Registry

	// opMu serializes Start and Stop. It is never taken by deliver, which
	// runs on the chunker's loop.
	opMu sync.Mutex

	mu        sync.Mutex
	sinkURL   string
	sink      stream.Sink
	ownsSink  bool
	startedAt time.Time
	sent      int64
	dropped   int64
}

func newStreamer(factory chunker.RecorderFactory, reg *config.Registry, sink stream.Sink, cc config.ChunkerConfig, opts ...chunker.Option) *Streamer {
	s := &Streamer{
		registry: reg,
		sinkURL:  cc.SinkURL,
		sink:     sink,
	}
	opts = append(opts, chunker.WithConfig(chunkerConfig(cc)), chunker.WithTempDir(cc.TempDir))
	s.chunker = chunker.New(factory, s.deliver, opts...)
	return s
}

func chunkerConfig(cc config.ChunkerConfig) chunker.Config {
	return chunker.Config{
		ChunkDuration: cc.ChunkDuration,
		SampleRate:    cc.SampleRate,
		Channels:      cc.Channels,
		BitDepth:      cc.BitDepth,
		BitRate:       cc.BitRate,
	}
}

// Start opens the sink if needed and starts the chunker.
func (s *Streamer) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.chunker.Status().Active {
		return ErrStreamActive
	}

	s.mu.Lock()
	sink, sinkURL := s.sink, s.sinkURL
	s.mu.Unlock()

	owns := false
	if sink == nil {
		if sinkURL == "" {
			return ErrNoSink
		}
		var err error
		sink, err = s.registry.CreateSink(ctx, sinkURL)
		if err != nil {
			return fmt.Errorf("app: open chunk sink: %w", err)
		}
		owns = true
	}

	s.mu.Lock()
	s.sink, s.ownsSink = sink, owns
	s.mu.Unlock()

	if !s.chunker.Start(ctx) {
		s.closeSink()
		return fmt.Errorf("app: start chunker: %s", s.chunker.Status().LastError)
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	slog.Info("raw-audio stream started", "sink", sinkURL)
	return nil
}

// Stop stops the chunker and closes a sink opened by Start.
func (s *Streamer) Stop(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.chunker.Stop(ctx)
	s.closeSink()

	s.mu.Lock()
	s.startedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Streamer) closeSink() {
	s.mu.Lock()
	sink, owns := s.sink, s.ownsSink
	if owns {
		s.sink, s.ownsSink = nil, false
	}
	s.mu.Unlock()

	if owns && sink != nil {
		if err := sink.Close(); err != nil {
			slog.Warn("failed to close chunk sink", "err", err)
		}
	}
}

// Pause suspends delivery without closing the sink.
func (s *Streamer) Pause() { s.chunker.Pause() }

// Resume continues delivery after Pause.
func (s *Streamer) Resume() { s.chunker.Resume() }

// UpdateConfig applies new capture parameters from the next segment on. A
// changed sink URL takes effect on the next Start.
func (s *Streamer) UpdateConfig(cc config.ChunkerConfig) {
	s.chunker.UpdateConfig(chunkerConfig(cc))
	s.mu.Lock()
	s.sinkURL = cc.SinkURL
	s.mu.Unlock()
}

// Status returns a snapshot.
func (s *Streamer) Status() StreamStatus {
	st := StreamStatus{Status: s.chunker.Status()}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.StartedAt = s.startedAt
	st.ChunksSent = s.sent
	st.ChunksDropped = s.dropped
	return st
}

// deliver runs on the chunker's loop goroutine.
func (s *Streamer) deliver(ch chunker.Chunk) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		s.countDrop()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := sink.Send(ctx, ch); err != nil {
		slog.Warn("failed to send chunk", "bytes", len(ch), "err", err)
		s.countDrop()
		return
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

func (s *Streamer) countDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}
