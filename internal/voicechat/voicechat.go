// Package voicechat implements the voice-conversation controller: it obtains
// a room credential, joins the media room, tracks the connection, listening
// and playback sub-states, and maps asynchronous room events onto a small
// observable [State].
//
// A [Controller] owns at most one conversation at a time. [Controller.StartVoiceChat]
// is rejected while a conversation is connecting or connected, and every
// asynchronous result is tagged with a generation number so that work
// finishing after [Controller.EndVoiceChat] cannot resurrect an old session.
package voicechat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-devotional/lumen/internal/history"
	"github.com/lumen-devotional/lumen/internal/observe"
	"github.com/lumen-devotional/lumen/pkg/audio"
	"github.com/lumen-devotional/lumen/pkg/credential"
	"github.com/lumen-devotional/lumen/pkg/room"
)

var (
	// ErrSessionActive is returned by StartVoiceChat while another session is
	// connecting or connected.
	ErrSessionActive = errors.New("voicechat: session already active")

	// ErrNotConnected is returned by SendText when no room is joined.
	ErrNotConnected = errors.New("voicechat: not connected")

	// ErrPermissionDenied wraps a refusal to activate the audio session.
	ErrPermissionDenied = errors.New("voicechat: audio permission denied")

	// ErrSuperseded is returned by StartVoiceChat when EndVoiceChat (or a room
	// disconnect) overtook the attempt before it finished.
	ErrSuperseded = errors.New("voicechat: start superseded")
)

// Status is the top-level conversation state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is a snapshot of the conversation.
type State struct {
	Status Status

	// RoomName is the room assigned by the credential backend. Empty while
	// idle or before the credential arrives.
	RoomName string

	// Character is the persona for the current session.
	Character string

	// SessionID is the backend's session identifier.
	SessionID string

	// Listening is true while local speech is expected to be captured. It is
	// never true while Playing is.
	Listening bool

	// Recording mirrors the literal microphone enable state.
	Recording bool

	// Playing is true while a remote audio track is attached.
	Playing bool

	// Processing is true after a text message was sent and before the agent
	// answers.
	Processing bool

	// LastError is the last user-facing error message, or "".
	LastError string
}

// Connected reports whether the room is joined.
func (s State) Connected() bool { return s.Status == StatusConnected }

// Active reports whether a session is connecting or connected.
func (s State) Active() bool {
	return s.Status == StatusConnecting || s.Status == StatusConnected
}

// HasError reports whether LastError is set.
func (s State) HasError() bool { return s.LastError != "" }

// Config wires a [Controller] to its collaborators.
type Config struct {
	// Issuer obtains room credentials. Required.
	Issuer credential.Issuer

	// Dialer joins media rooms. Required.
	Dialer room.Dialer

	// AudioSession is activated for the lifetime of each conversation.
	// Defaults to an [audio.NopSession].
	AudioSession audio.Session

	// History receives one entry per session. Optional.
	History history.Recorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ServerURL is used when the credential response names no media server.
	ServerURL string

	// DisplayName is shown to other participants. Default: "Guest".
	DisplayName string

	// DurationMinutes is the requested token lifetime. Default: 30.
	DurationMinutes int

	// AgentIdentityPrefix marks agent participants. Default: "agent-".
	AgentIdentityPrefix string

	// RoomOptions are the capture settings used when joining. The zero value
	// selects [room.DefaultOptions].
	RoomOptions room.Options

	// DispatchTimeout bounds the background agent dispatch. Default: 10s.
	DispatchTimeout time.Duration

	// NewUserID generates the participant id for each session. Default:
	// "user-" followed by a random UUID.
	NewUserID func() string
}

func (cfg *Config) applyDefaults() {
	if cfg.AudioSession == nil {
		cfg.AudioSession = &audio.NopSession{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Guest"
	}
	if cfg.DurationMinutes == 0 {
		cfg.DurationMinutes = 30
	}
	if cfg.AgentIdentityPrefix == "" {
		cfg.AgentIdentityPrefix = "agent-"
	}
	if cfg.RoomOptions == (room.Options{}) {
		cfg.RoomOptions = room.DefaultOptions()
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.NewUserID == nil {
		cfg.NewUserID = func() string { return "user-" + uuid.NewString() }
	}
}
