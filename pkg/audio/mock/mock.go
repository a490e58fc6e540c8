// Package mock provides in-memory mock implementations of [audio.Session],
// [audio.Source], [audio.Recorder] and [audio.RecorderFactory] for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	sess := &mock.Session{ActivateError: errors.New("permission revoked")}
//	factory := &mock.RecorderFactory{StartError: errors.New("device busy")}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumen-devotional/lumen/pkg/audio"
)

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [audio.Session].
// Set the exported error fields before use; inspect the Call* fields after.
type Session struct {
	mu sync.Mutex

	// ActivateError is returned by [Session.Activate]. When non-nil the
	// session stays inactive.
	ActivateError error

	// DeactivateError is returned by [Session.Deactivate]. The session is
	// marked inactive regardless.
	DeactivateError error

	// SetModeError is returned by [Session.SetMode].
	SetModeError error

	// CallCountActivate records how many times Activate was called.
	CallCountActivate int

	// CallCountDeactivate records how many times Deactivate was called.
	CallCountDeactivate int

	// Modes records the argument of every SetMode call.
	Modes []audio.Mode

	active bool
}

var _ audio.Session = (*Session)(nil)

// Activate implements [audio.Session].
func (s *Session) Activate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountActivate++
	if s.ActivateError != nil {
		return s.ActivateError
	}
	s.active = true
	return nil
}

// Deactivate implements [audio.Session].
func (s *Session) Deactivate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDeactivate++
	s.active = false
	return s.DeactivateError
}

// SetMode implements [audio.Session].
func (s *Session) SetMode(_ context.Context, mode audio.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Modes = append(s.Modes, mode)
	return s.SetModeError
}

// Active reports whether the session is activated.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] backed by a channel the test feeds.
type Source struct {
	// C is returned by Frames. Close it to end the stream.
	C chan audio.Frame
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a Source with an unbuffered channel.
func NewSource() *Source {
	return &Source{C: make(chan audio.Frame)}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.C }

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder].
type Recorder struct {
	mu sync.Mutex

	// PathValue is returned by Path and Stop.
	PathValue string

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop alongside PathValue.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

var _ audio.Recorder = (*Recorder)(nil)

// Start implements [audio.Recorder].
func (r *Recorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStart++
	return r.StartError
}

// Stop implements [audio.Recorder].
func (r *Recorder) Stop(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	return r.PathValue, r.StopError
}

// Path implements [audio.Recorder].
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.PathValue
}

// Stops returns how many times Stop was called.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStop
}

// ─── RecorderFactory ──────────────────────────────────────────────────────────

// RecorderFactory is a mock implementation of [audio.RecorderFactory]. Each
// Prepare returns a new [Recorder] named "mock-<n>.wav" that inherits
// StartError and StopError.
type RecorderFactory struct {
	mu sync.Mutex

	// PrepareError is returned by Prepare when non-nil.
	PrepareError error

	// StartError and StopError are copied into every prepared Recorder.
	StartError error
	StopError  error

	// PrepareCalls records the options of every Prepare call.
	PrepareCalls []audio.CaptureOptions

	// Recorders holds every recorder returned by Prepare, in order.
	Recorders []*Recorder
}

var _ audio.RecorderFactory = (*RecorderFactory)(nil)

// Prepare implements [audio.RecorderFactory].
func (f *RecorderFactory) Prepare(_ context.Context, opts audio.CaptureOptions) (audio.Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PrepareCalls = append(f.PrepareCalls, opts)
	if f.PrepareError != nil {
		return nil, f.PrepareError
	}
	r := &Recorder{
		PathValue:  fmt.Sprintf("mock-%d.wav", len(f.Recorders)),
		StartError: f.StartError,
		StopError:  f.StopError,
	}
	f.Recorders = append(f.Recorders, r)
	return r, nil
}

// Prepared returns a copy of the recorders prepared so far.
func (f *RecorderFactory) Prepared() []*Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Recorder(nil), f.Recorders...)
}
