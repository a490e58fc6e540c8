package voicechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumen-devotional/lumen/internal/history"
	"github.com/lumen-devotional/lumen/internal/observe"
	"github.com/lumen-devotional/lumen/pkg/credential"
	"github.com/lumen-devotional/lumen/pkg/room"
)

// Controller owns the lifecycle of one voice conversation at a time.
//
// All methods are safe for concurrent use. The state lock is never held
// across calls into collaborators.
type Controller struct {
	cfg Config

	mu          sync.Mutex
	state       State
	gen         uint64
	sess        room.Session
	audioActive bool
	counted     bool // ActiveSessions was incremented for this session
	entry       *history.Entry
	roomErr     error // room.Error delivered for the current session
	onChange    func(State)

	// notifyMu keeps listener calls ordered.
	notifyMu sync.Mutex

	wg sync.WaitGroup
}

// New returns an idle [Controller].
func New(cfg Config) (*Controller, error) {
	if cfg.Issuer == nil {
		return nil, errors.New("voicechat: issuer is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("voicechat: dialer is required")
	}
	cfg.applyDefaults()
	return &Controller{cfg: cfg}, nil
}

// State returns a snapshot of the conversation.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers fn to be called with a fresh snapshot after every state
// change, replacing any previous listener. Calls are serialised. fn must not
// call StartVoiceChat, EndVoiceChat, ToggleListening, SendText or ClearError.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	s, fn := c.state, c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// StartVoiceChat begins a conversation with character. It returns once the
// room is joined or the attempt failed; failures are also reflected in
// State().LastError.
//
// Calling it while a session is connecting or connected returns
// [ErrSessionActive]. A failed microphone does not fail the session: the
// room stays joined for playback and LastError explains the problem.
func (c *Controller) StartVoiceChat(ctx context.Context, character string) (err error) {
	c.mu.Lock()
	if st := c.state.Status; st != StatusIdle && st != StatusError {
		c.mu.Unlock()
		return ErrSessionActive
	}
	// A room error leaves the previous room joined until the next start.
	prevErr := c.state.LastError
	stale := c.detachLocked()
	c.gen++
	gen := c.gen
	c.state = State{Status: StatusConnecting, Character: character}
	c.entry = &history.Entry{
		ID:        history.NewID(),
		Character: character,
		StartedAt: time.Now(),
	}
	c.mu.Unlock()
	if stale.held() {
		c.release(context.WithoutCancel(ctx), stale, true, history.OutcomeFailed, prevErr)
	}
	c.notify()

	ctx, span := observe.StartSpan(ctx, "voicechat.start",
		trace.WithAttributes(attribute.String("character", character)))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With("character", character)
	began := time.Now()

	if err := c.cfg.AudioSession.Activate(ctx); err != nil {
		return c.fail(ctx, gen, fmt.Errorf("%w: %w", ErrPermissionDenied, err), err)
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.deactivateAudio(ctx)
		return ErrSuperseded
	}
	c.audioActive = true
	c.mu.Unlock()

	resp, err := c.cfg.Issuer.RequestSessionToken(ctx, credential.TokenRequest{
		Character:       character,
		UserID:          c.cfg.NewUserID(),
		DisplayName:     c.cfg.DisplayName,
		DurationMinutes: c.cfg.DurationMinutes,
	})
	c.cfg.Metrics.RecordCredentialRequest(ctx, "token", err)
	if err != nil {
		return c.fail(ctx, gen, fmt.Errorf("voicechat: request token: %w", err), err)
	}
	serverURL := resp.ServerURL
	if serverURL == "" {
		serverURL = c.cfg.ServerURL
	}
	if serverURL == "" {
		cause := errors.New("no media server url")
		return c.fail(ctx, gen, fmt.Errorf("voicechat: %w: %w", credential.ErrCredential, cause), cause)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if resp.Character != "" {
		c.state.Character = resp.Character
	}
	c.state.RoomName = resp.RoomName
	c.state.SessionID = resp.SessionID
	if c.entry != nil {
		c.entry.Character = c.state.Character
		c.entry.RoomName = resp.RoomName
		c.entry.SessionID = resp.SessionID
	}
	c.mu.Unlock()
	c.notify()
	log = log.With("room", resp.RoomName, "session_id", resp.SessionID)

	c.wg.Add(1)
	go c.dispatchAgent(ctx, resp.RoomName, character)

	sess, err := c.cfg.Dialer.Connect(ctx, serverURL, resp.Token, c.cfg.RoomOptions,
		func(ev room.Event) { c.handleEvent(gen, ev) })
	if err != nil {
		return c.fail(ctx, gen, fmt.Errorf("voicechat: connect: %w", err), err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Info("voicechat: discarding room joined by a superseded start")
		if derr := safeCall(func() error { return sess.Disconnect(ctx) }); derr != nil {
			log.Warn("voicechat: disconnect superseded room failed", "err", derr)
		}
		return ErrSuperseded
	}
	c.sess = sess
	roomErr := c.roomErr
	c.mu.Unlock()
	if roomErr != nil {
		return c.fail(ctx, gen, fmt.Errorf("voicechat: connect: %w", roomErr), roomErr)
	}

	micErr := sess.SetMicrophoneEnabled(ctx, true)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if roomErr := c.roomErr; roomErr != nil {
		c.mu.Unlock()
		return c.fail(ctx, gen, fmt.Errorf("voicechat: connect: %w", roomErr), roomErr)
	}
	c.setConnectedLocked()
	c.state.Recording = micErr == nil
	c.state.Listening = micErr == nil && !c.state.Playing
	if micErr != nil {
		c.state.LastError = "Microphone unavailable: " + micErr.Error()
	}
	c.mu.Unlock()
	c.notify()

	if micErr != nil {
		log.Warn("voicechat: microphone unavailable, continuing for playback only", "err", micErr)
	}
	c.cfg.Metrics.RecordSessionStart(ctx, character, "ok", time.Since(began))
	log.Info("voicechat: session connected", "took", time.Since(began))
	return nil
}

// EndVoiceChat leaves the room, releases the audio session and resets all
// state to idle. It never fails: teardown errors are logged and reported in
// State().LastError after the reset.
func (c *Controller) EndVoiceChat(ctx context.Context) {
	c.mu.Lock()
	prev := c.state
	t := c.detachLocked()
	c.state = State{}
	gen := c.gen
	c.mu.Unlock()

	outcome := history.OutcomeEnded
	switch prev.Status {
	case StatusConnecting:
		outcome = history.OutcomeSuperseded
	case StatusError:
		outcome = history.OutcomeFailed
	}
	errs := c.release(ctx, t, true, outcome, prev.LastError)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		observe.Logger(ctx).Warn("voicechat: teardown incomplete", "err", err)
		c.mu.Lock()
		if gen == c.gen {
			c.state.LastError = "Error ending voice chat: " + err.Error()
		}
		c.mu.Unlock()
	}
	c.notify()
}

// ToggleListening flips the microphone. It does nothing when no room is
// joined. The current state is read from the room session itself.
func (c *Controller) ToggleListening(ctx context.Context) error {
	c.mu.Lock()
	sess, gen := c.sess, c.gen
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	enabled := !sess.MicrophoneEnabled()
	if err := sess.SetMicrophoneEnabled(ctx, enabled); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.state.LastError = "Failed to toggle microphone: " + err.Error()
		}
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("voicechat: toggle microphone: %w", err)
	}

	c.mu.Lock()
	if gen == c.gen {
		c.state.Recording = enabled
		c.state.Listening = enabled && !c.state.Playing
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// SendText publishes text to the room's chat topic and marks the controller
// as processing until the agent responds.
func (c *Controller) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	sess, gen := c.sess, c.gen
	connected := c.state.Status == StatusConnected
	c.mu.Unlock()
	if sess == nil || !connected {
		return ErrNotConnected
	}

	if err := sess.SendText(ctx, text); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.state.LastError = "Failed to send message: " + err.Error()
		}
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("voicechat: send text: %w", err)
	}

	c.mu.Lock()
	if gen == c.gen {
		c.state.Processing = true
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ClearError resets LastError.
func (c *Controller) ClearError() {
	c.mu.Lock()
	changed := c.state.LastError != ""
	c.state.LastError = ""
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Close ends any session and waits for background agent dispatches.
func (c *Controller) Close(ctx context.Context) {
	c.EndVoiceChat(ctx)
	c.wg.Wait()
}

func (c *Controller) dispatchAgent(ctx context.Context, roomName, character string) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DispatchTimeout)
	defer cancel()

	err := c.cfg.Issuer.DispatchAgent(ctx, roomName, character)
	c.cfg.Metrics.RecordAgentDispatch(ctx, err)
	c.cfg.Metrics.RecordCredentialRequest(ctx, "dispatch", err)
	if err != nil {
		observe.Logger(ctx).Warn("voicechat: agent dispatch failed", "room", roomName, "character", character, "err", err)
		return
	}
	observe.Logger(ctx).Debug("voicechat: agent dispatched", "room", roomName, "character", character)
}

// fail moves the attempt identified by gen into StatusError. cause is the
// collaborator error shown to the user; err is returned.
func (c *Controller) fail(ctx context.Context, gen uint64, err, cause error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSuperseded, err)
	}
	character := c.state.Character
	t := c.detachLocked()
	c.state = State{
		Status:    StatusError,
		Character: character,
		LastError: "Failed to connect: " + cause.Error(),
	}
	c.mu.Unlock()

	c.release(context.WithoutCancel(ctx), t, true, history.OutcomeFailed, cause.Error())
	c.cfg.Metrics.RecordSessionStart(ctx, character, "error", 0)
	observe.Logger(ctx).Warn("voicechat: start failed", "character", character, "err", err)
	c.notify()
	return err
}

// setConnectedLocked enters StatusConnected. Must be called with c.mu held.
func (c *Controller) setConnectedLocked() {
	c.state.Status = StatusConnected
	if !c.counted {
		c.counted = true
		c.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	}
}

// teardown holds the resources detached from the controller by
// detachLocked, to be released outside the lock.
type teardown struct {
	sess    room.Session
	audio   bool
	counted bool
	entry   *history.Entry
}

// detachLocked takes ownership of the session resources and invalidates the
// current generation. Must be called with c.mu held.
func (c *Controller) detachLocked() teardown {
	t := teardown{sess: c.sess, audio: c.audioActive, counted: c.counted, entry: c.entry}
	c.sess = nil
	c.audioActive = false
	c.counted = false
	c.entry = nil
	c.roomErr = nil
	c.gen++
	return t
}

func (t teardown) held() bool {
	return t.sess != nil || t.audio || t.counted || t.entry != nil
}

// release disconnects and deactivates what t holds and writes the history
// entry. It returns the teardown errors.
func (c *Controller) release(ctx context.Context, t teardown, disconnect bool, outcome history.Outcome, reason string) []error {
	var errs []error
	if disconnect && t.sess != nil {
		if err := safeCall(func() error { return t.sess.Disconnect(ctx) }); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}
	if t.audio {
		if err := safeCall(func() error { return c.cfg.AudioSession.Deactivate(ctx) }); err != nil {
			errs = append(errs, fmt.Errorf("audio session: %w", err))
		}
	}
	if t.counted {
		c.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
	if t.entry != nil {
		e := *t.entry
		e.EndedAt = time.Now()
		e.Outcome = outcome
		e.Error = reason
		c.cfg.Metrics.RecordSessionEnd(ctx, string(outcome))
		if c.cfg.History != nil {
			if err := c.cfg.History.Record(context.WithoutCancel(ctx), e); err != nil {
				slog.Warn("voicechat: failed to record history", "session_id", e.SessionID, "err", err)
			}
		}
	}
	return errs
}

func (c *Controller) deactivateAudio(ctx context.Context) {
	if err := safeCall(func() error { return c.cfg.AudioSession.Deactivate(ctx) }); err != nil {
		observe.Logger(ctx).Warn("voicechat: audio session deactivate failed", "err", err)
	}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
