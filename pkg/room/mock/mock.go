// Package mock provides in-memory implementations of the [room.Dialer],
// [room.Session], and [room.Track] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	sess := &mock.Session{}
//	dialer := &mock.Dialer{
//	    ConnectResult: sess,
//	    EmitOnConnect: []room.Event{room.Connected{}},
//	}
//	// ... later, simulate the agent speaking:
//	sess.Emit(room.TrackSubscribed{Track: &mock.Track{SIDValue: "TR_1"}, Participant: "agent-1"})
package mock

import (
	"context"
	"sync"

	"github.com/lumen-devotional/lumen/pkg/room"
)

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [room.Track].
type Track struct {
	mu sync.Mutex

	// SIDValue is returned by SID.
	SIDValue string

	// KindValue is returned by Kind. The zero value is [room.KindAudio].
	KindValue room.TrackKind

	// AttachError is returned by Attach.
	AttachError error

	// CallCountAttach records how many times Attach was called.
	CallCountAttach int
}

var _ room.Track = (*Track)(nil)

// SID implements [room.Track].
func (t *Track) SID() string { return t.SIDValue }

// Kind implements [room.Track].
func (t *Track) Kind() room.TrackKind { return t.KindValue }

// Attach implements [room.Track].
func (t *Track) Attach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountAttach++
	return t.AttachError
}

// Attached reports how many times Attach was called.
func (t *Track) Attached() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountAttach
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [room.Session]. Set the exported error
// fields before use; inspect the recorded calls after.
type Session struct {
	mu sync.Mutex

	// Mic is the microphone state returned by MicrophoneEnabled and updated by
	// successful SetMicrophoneEnabled calls.
	Mic bool

	// SetMicrophoneError is returned by SetMicrophoneEnabled. When non-nil the
	// microphone state is left unchanged.
	SetMicrophoneError error

	// SendTextError is returned by SendText.
	SendTextError error

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	// PanicOnDisconnect makes Disconnect panic with this value when non-nil.
	PanicOnDisconnect any

	// SetMicrophoneCalls records the argument of every SetMicrophoneEnabled call.
	SetMicrophoneCalls []bool

	// SentTexts records every SendText argument.
	SentTexts []string

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	handler room.Handler
}

var _ room.Session = (*Session)(nil)

// SetMicrophoneEnabled implements [room.Session].
func (s *Session) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetMicrophoneCalls = append(s.SetMicrophoneCalls, enabled)
	if s.SetMicrophoneError != nil {
		return s.SetMicrophoneError
	}
	s.Mic = enabled
	return nil
}

// MicrophoneEnabled implements [room.Session].
func (s *Session) MicrophoneEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Mic
}

// SendText implements [room.Session].
func (s *Session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentTexts = append(s.SentTexts, text)
	return s.SendTextError
}

// Texts returns a copy of the texts sent so far.
func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.SentTexts...)
}

// Disconnect implements [room.Session].
func (s *Session) Disconnect(context.Context) error {
	s.mu.Lock()
	s.CallCountDisconnect++
	p := s.PanicOnDisconnect
	err := s.DisconnectError
	s.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return err
}

// Disconnects returns how many times Disconnect was called.
func (s *Session) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountDisconnect
}

// Emit delivers ev to the handler registered at connect time. It is a no-op
// if the session was never connected through a [Dialer].
func (s *Session) Emit(ev room.Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (s *Session) setHandler(h room.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Dialer.Connect] invocation.
type ConnectCall struct {
	ServerURL string
	Token     string
	Options   room.Options
}

// Dialer is a mock implementation of [room.Dialer].
type Dialer struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect. A fresh Session is created if nil.
	ConnectResult *Session

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// EmitOnConnect lists events delivered to the handler before Connect
	// returns, mirroring transports that report the join synchronously.
	EmitOnConnect []room.Event

	// Gate, when non-nil, makes Connect wait until it is closed (or ctx is
	// done) before returning. Use it to simulate a slow join.
	Gate chan struct{}

	// ConnectCalls records every Connect invocation.
	ConnectCalls []ConnectCall
}

var _ room.Dialer = (*Dialer)(nil)

// Connect implements [room.Dialer].
func (d *Dialer) Connect(ctx context.Context, serverURL, token string, opts room.Options, handler room.Handler) (room.Session, error) {
	d.mu.Lock()
	d.ConnectCalls = append(d.ConnectCalls, ConnectCall{ServerURL: serverURL, Token: token, Options: opts})
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if d.ConnectError != nil {
		err := d.ConnectError
		d.mu.Unlock()
		return nil, err
	}
	if d.ConnectResult == nil {
		d.ConnectResult = &Session{}
	}
	sess := d.ConnectResult
	events := append([]room.Event(nil), d.EmitOnConnect...)
	d.mu.Unlock()

	sess.setHandler(handler)
	for _, ev := range events {
		handler(ev)
	}
	return sess, nil
}

// Calls returns a copy of the recorded Connect calls.
func (d *Dialer) Calls() []ConnectCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ConnectCall(nil), d.ConnectCalls...)
}
