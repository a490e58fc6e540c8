// Package audio defines the audio primitives shared by the Lumen voice core:
// PCM frames, format conversion helpers, paced PCM sources, and the platform
// audio-session contract.
//
// The two consumers are the voice-chat controller, which activates the
// platform [Session] for the lifetime of a conversation, and the raw-audio
// chunker, which switches the session into [ModeRecording] before opening a
// capture device.
//
// This package lives under pkg/ because platform adapters (mobile bridges,
// desktop audio stacks) are expected to implement [Session].
package audio

import (
	"context"
	"sync"
)

// Mode selects how the platform audio session is configured.
type Mode int

const (
	// ModePlayback routes audio for output only.
	ModePlayback Mode = iota

	// ModeRecording enables microphone capture alongside playback.
	ModeRecording
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModePlayback:
		return "playback"
	case ModeRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Session is the platform audio session: a scoped resource that must be
// deactivated on every exit path once activated.
//
// Implementations must be safe for concurrent use. Activate and Deactivate
// must be idempotent.
type Session interface {
	// Activate claims the platform audio session. It returns an error when the
	// platform refuses (for example when microphone permission was revoked).
	Activate(ctx context.Context) error

	// Deactivate releases the platform audio session.
	Deactivate(ctx context.Context) error

	// SetMode reconfigures the session for playback or recording.
	SetMode(ctx context.Context, mode Mode) error
}

// NopSession is a [Session] for hosts without a managed audio session (for
// example server processes). It only tracks its own state.
type NopSession struct {
	mu     sync.Mutex
	active bool
	mode   Mode
}

var _ Session = (*NopSession)(nil)

// Activate implements [Session].
func (s *NopSession) Activate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	return nil
}

// Deactivate implements [Session].
func (s *NopSession) Deactivate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

// SetMode implements [Session].
func (s *NopSession) SetMode(_ context.Context, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

// Active reports whether the session is currently activated.
func (s *NopSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Mode returns the last mode set.
func (s *NopSession) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}
