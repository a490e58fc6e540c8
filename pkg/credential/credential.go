// Package credential defines the contract for the backend that issues
// short-lived room access tokens and dispatches conversation agents.
//
// Implementations live in credential/httpapi (the production HTTP client) and
// credential/mock (tests). Failover across several backends is composed in
// internal/resilience.
package credential

import (
	"context"
	"errors"
)

// ErrCredential is wrapped by implementations when a token request or agent
// dispatch fails, whatever the underlying cause.
var ErrCredential = errors.New("credential request failed")

// TokenRequest asks the backend for a room token.
type TokenRequest struct {
	// Character is the persona the user wants to talk to.
	Character string `json:"character"`

	// UserID identifies the local participant. Callers generate one per
	// session when no account id is available.
	UserID string `json:"userId"`

	// DisplayName is shown to the other participants.
	DisplayName string `json:"displayName"`

	// DurationMinutes bounds the token's validity.
	DurationMinutes int `json:"durationMinutes"`
}

// TokenResponse is the backend's answer to a [TokenRequest].
type TokenResponse struct {
	Token     string `json:"token"`
	RoomName  string `json:"roomName"`
	Character string `json:"character"`
	SessionID string `json:"sessionId"`

	// ServerURL is the media server to join. Empty means the caller's
	// configured default.
	ServerURL string `json:"serverUrl,omitempty"`
}

// Issuer obtains room credentials.
//
// Implementations must be safe for concurrent use.
type Issuer interface {
	// RequestSessionToken returns a token for req. Errors wrap [ErrCredential].
	RequestSessionToken(ctx context.Context, req TokenRequest) (TokenResponse, error)

	// DispatchAgent asks the backend to send an agent for character into
	// roomName. Errors wrap [ErrCredential].
	DispatchAgent(ctx context.Context, roomName, character string) error

	// CheckHealth reports whether the backend is reachable.
	CheckHealth(ctx context.Context) error
}
