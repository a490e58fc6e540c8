package room

import "fmt"

// Event is a room lifecycle event. The set of variants is closed: only the
// types declared in this file implement it.
type Event interface {
	isEvent()
	fmt.Stringer
}

// Connected is emitted once the local participant has joined (or rejoined
// after a transport reconnect).
type Connected struct{}

// Disconnected is emitted when the room session ends for any reason.
type Disconnected struct {
	// Reason is a transport-specific description; may be empty.
	Reason string
}

// ParticipantConnected is emitted when a remote participant joins.
type ParticipantConnected struct {
	Identity string
}

// TrackSubscribed is emitted when a remote track becomes available locally.
type TrackSubscribed struct {
	Track       Track
	Participant string
}

// TrackUnsubscribed is emitted when a remote track is removed.
type TrackUnsubscribed struct {
	Track       Track
	Participant string
}

// Error is emitted for asynchronous transport failures.
type Error struct {
	Err error
}

func (Connected) isEvent()            {}
func (Disconnected) isEvent()         {}
func (ParticipantConnected) isEvent() {}
func (TrackSubscribed) isEvent()      {}
func (TrackUnsubscribed) isEvent()    {}
func (Error) isEvent()                {}

func (Connected) String() string { return "connected" }

func (e Disconnected) String() string {
	if e.Reason == "" {
		return "disconnected"
	}
	return "disconnected (" + e.Reason + ")"
}

func (e ParticipantConnected) String() string {
	return "participant connected: " + e.Identity
}

func (e TrackSubscribed) String() string {
	return fmt.Sprintf("track subscribed: %s from %s", trackDesc(e.Track), e.Participant)
}

func (e TrackUnsubscribed) String() string {
	return fmt.Sprintf("track unsubscribed: %s from %s", trackDesc(e.Track), e.Participant)
}

func (e Error) String() string {
	if e.Err == nil {
		return "error"
	}
	return "error: " + e.Err.Error()
}

func trackDesc(t Track) string {
	if t == nil {
		return "<nil>"
	}
	return t.Kind().String() + " " + t.SID()
}
