package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultFrameDuration is the frame size emitted by [ReaderSource].
const DefaultFrameDuration = 20 * time.Millisecond

// Source delivers captured PCM frames. The channel is closed when capture
// ends.
type Source interface {
	Frames() <-chan Frame
}

// SourceOption configures a [ReaderSource].
type SourceOption func(*ReaderSource)

// WithFrameDuration sets the duration covered by each emitted frame.
func WithFrameDuration(d time.Duration) SourceOption {
	return func(s *ReaderSource) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithRealtime paces emission to wall-clock time, one frame per frame
// duration. Useful when replaying a recorded file as a live microphone.
func WithRealtime(on bool) SourceOption {
	return func(s *ReaderSource) {
		s.realtime = on
	}
}

// ReaderSource turns a raw PCM byte stream (for example a pipe from an
// external capture tool) into a [Source].
type ReaderSource struct {
	r        io.Reader
	format   Format
	frameDur time.Duration
	realtime bool
	ch       chan Frame
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource creates a source reading PCM in format from r. Call
// [ReaderSource.Run] to start reading.
func NewReaderSource(r io.Reader, format Format, opts ...SourceOption) *ReaderSource {
	s := &ReaderSource{
		r:        r,
		format:   format,
		frameDur: DefaultFrameDuration,
		ch:       make(chan Frame, 64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Frames implements [Source].
func (s *ReaderSource) Frames() <-chan Frame {
	return s.ch
}

// Format returns the PCM format of emitted frames.
func (s *ReaderSource) Format() Format {
	return s.format
}

// Run reads from the underlying reader until EOF or ctx is cancelled and
// closes the frame channel on exit. A clean EOF returns nil.
func (s *ReaderSource) Run(ctx context.Context) error {
	defer close(s.ch)

	size := s.format.FrameBytes(s.frameDur)
	if size <= 0 {
		return fmt.Errorf("audio: invalid source format %s", s.format)
	}

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.frameDur)
		defer ticker.Stop()
	}

	var ts time.Duration
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(s.r, buf)
		// Keep whole sample frames only.
		n -= n % s.format.BlockAlign()
		if n > 0 {
			frame := Frame{
				Data:       buf[:n],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  ts,
			}
			ts += s.frameDur
			select {
			case s.ch <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("audio: read source: %w", err)
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
