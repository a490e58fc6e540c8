package voicechat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/lumen-devotional/lumen/internal/history"
	"github.com/lumen-devotional/lumen/pkg/room"
)

// handleEvent applies a room event delivered for the session started under
// gen. Events from superseded sessions are dropped.
func (c *Controller) handleEvent(gen uint64, ev room.Event) {
	ctx := context.Background()
	c.cfg.Metrics.RecordRoomEvent(ctx, eventName(ev))

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		slog.Debug("voicechat: dropping event from superseded session", "event", ev.String())
		return
	}

	switch e := ev.(type) {
	case room.Connected:
		// Connected may only follow Connecting (or repeat after a reconnect).
		if c.state.Status != StatusConnecting && c.state.Status != StatusConnected {
			c.mu.Unlock()
			return
		}
		c.setConnectedLocked()
		if !c.state.Playing {
			c.state.Listening = true
		}

	case room.Disconnected:
		prev := c.state
		t := c.detachLocked()
		c.state = State{LastError: prev.LastError}
		c.mu.Unlock()
		slog.Info("voicechat: room disconnected", "room", prev.RoomName, "reason", e.Reason)
		c.release(ctx, t, false, history.OutcomeEnded, e.Reason)
		c.notify()
		return

	case room.ParticipantConnected:
		if !strings.HasPrefix(e.Identity, c.cfg.AgentIdentityPrefix) {
			c.mu.Unlock()
			slog.Debug("voicechat: participant joined", "identity", e.Identity)
			return
		}
		if !c.state.Playing {
			c.state.Listening = true
		}
		c.state.Processing = false

	case room.TrackSubscribed:
		if e.Track == nil || e.Track.Kind() != room.KindAudio {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.attach(gen, e)
		return

	case room.TrackUnsubscribed:
		if e.Track == nil || e.Track.Kind() != room.KindAudio {
			c.mu.Unlock()
			return
		}
		c.state.Playing = false
		c.state.Listening = true

	case room.Error:
		err := e.Err
		if err == nil {
			err = errors.New("connection error")
		}
		c.roomErr = err
		c.state.Status = StatusError
		c.state.LastError = "Connection error: " + err.Error()
		c.mu.Unlock()
		slog.Warn("voicechat: room error", "err", e.Err)
		c.notify()
		return

	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.notify()
}

// attach starts playback of a subscribed audio track. Listening is
// suppressed while the agent speaks.
func (c *Controller) attach(gen uint64, e room.TrackSubscribed) {
	err := safeCall(e.Track.Attach)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.state.LastError = "Audio playback failed: " + err.Error()
	} else {
		c.state.Playing = true
		c.state.Listening = false
		c.state.Processing = false
	}
	c.mu.Unlock()

	if err != nil {
		slog.Warn("voicechat: attach remote track failed", "track", e.Track.SID(), "participant", e.Participant, "err", err)
	}
	c.notify()
}

func eventName(ev room.Event) string {
	switch ev.(type) {
	case room.Connected:
		return "connected"
	case room.Disconnected:
		return "disconnected"
	case room.ParticipantConnected:
		return "participant_connected"
	case room.TrackSubscribed:
		return "track_subscribed"
	case room.TrackUnsubscribed:
		return "track_unsubscribed"
	case room.Error:
		return "error"
	default:
		return "unknown"
	}
}
