// Package history keeps a log of finished voice sessions.
//
// One [Entry] is written per session attempt, whether it ended normally or
// failed while connecting. Two [Recorder] implementations exist: [MemoryStore]
// for tests and short-lived processes, and history/postgres for deployments.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a session ended.
type Outcome string

const (
	// OutcomeEnded means the session connected and was later torn down.
	OutcomeEnded Outcome = "ended"

	// OutcomeFailed means the session never reached the connected state or
	// was lost to a room error.
	OutcomeFailed Outcome = "failed"

	// OutcomeSuperseded means a newer start or an end request overtook the
	// attempt while it was still connecting.
	OutcomeSuperseded Outcome = "superseded"
)

// Entry is a single session record.
type Entry struct {
	ID        string
	SessionID string
	Character string
	RoomName  string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   Outcome

	// Error holds the failure or disconnect reason, if any.
	Error string
}

// Duration returns how long the session lasted.
func (e Entry) Duration() time.Duration {
	if e.EndedAt.Before(e.StartedAt) {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Recorder persists session entries.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Record stores e. An empty ID is replaced with a fresh UUID.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// NewID returns a random identifier for an [Entry].
func NewID() string {
	return uuid.NewString()
}
