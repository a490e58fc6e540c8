// Package room defines the media-room collaborator used by the voice-chat
// controller: a real-time audio session joined with a short-lived token.
//
// The two primary abstractions are:
//
//   - [Dialer]: opens a room session from a server URL and token.
//   - [Session]: the joined room, exposing microphone control, text chat,
//     and teardown.
//
// Room lifecycle changes are delivered as a closed set of typed [Event]
// variants to the [Handler] passed to [Dialer.Connect]. The handler is
// registered before the join completes so that no event is missed.
//
// Implementations are provided by adapter packages (room/livekit) and by
// room/mock for tests.
package room

import (
	"context"
	"errors"
)

// ErrTransport is wrapped by adapters when connecting, disconnecting, or
// publishing to the room fails.
var ErrTransport = errors.New("room transport failure")

// Options are the capture-quality settings requested when joining a room.
// They are requests: each transport documents which of them it honours.
type Options struct {
	// AdaptiveStream lets the transport adapt subscribed stream quality.
	AdaptiveStream bool

	// EchoCancellation, NoiseSuppression and AutoGainControl configure the
	// local microphone processing chain.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultOptions returns the options used for voice conversations: all
// processing enabled.
func DefaultOptions() Options {
	return Options{
		AdaptiveStream:   true,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Handler receives room events in the order the transport delivers them.
// It is invoked on a transport goroutine and must not block.
type Handler func(Event)

// Dialer opens room sessions.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	// Connect joins the room addressed by serverURL using token. handler is
	// registered before the join so that every event, including the initial
	// [Connected], is delivered to it.
	Connect(ctx context.Context, serverURL, token string, opts Options, handler Handler) (Session, error)
}

// Session is a joined room.
//
// Implementations must be safe for concurrent use.
type Session interface {
	// SetMicrophoneEnabled publishes or mutes the local microphone track.
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error

	// MicrophoneEnabled reports the current local microphone state as seen by
	// the transport.
	MicrophoneEnabled() bool

	// SendText publishes a text message to the other participants.
	SendText(ctx context.Context, text string) error

	// Disconnect leaves the room. It is safe to call more than once;
	// subsequent calls return nil.
	Disconnect(ctx context.Context) error
}

// TrackKind classifies a remote media track.
type TrackKind int

const (
	// KindAudio is an audio track.
	KindAudio TrackKind = iota

	// KindVideo is a video track.
	KindVideo
)

// String returns the human-readable name of the track kind.
func (k TrackKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Track is a remote media track subscribed by the local participant.
type Track interface {
	// SID is the transport-assigned track identifier.
	SID() string

	// Kind reports whether the track carries audio or video.
	Kind() TrackKind

	// Attach starts playback of the track. It is safe to call more than once.
	Attach() error
}
