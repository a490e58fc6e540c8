// Package mock provides an in-memory [credential.Issuer] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/lumen-devotional/lumen/pkg/credential"
)

// DispatchCall records the arguments of one DispatchAgent call.
type DispatchCall struct {
	RoomName  string
	Character string
}

// Issuer is a mock implementation of [credential.Issuer]. Set the exported
// result fields before use; inspect the recorded calls afterwards.
type Issuer struct {
	mu sync.Mutex

	// TokenResult is returned by RequestSessionToken.
	TokenResult credential.TokenResponse

	// TokenError is returned by RequestSessionToken when non-nil.
	TokenError error

	// TokenGate, when non-nil, makes RequestSessionToken wait until it is
	// closed or ctx is done.
	TokenGate chan struct{}

	// DispatchError is returned by DispatchAgent.
	DispatchError error

	// HealthError is returned by CheckHealth.
	HealthError error

	// TokenCalls records every RequestSessionToken request.
	TokenCalls []credential.TokenRequest

	// DispatchCalls records every DispatchAgent call.
	DispatchCalls []DispatchCall

	// CallCountHealth records how many times CheckHealth was called.
	CallCountHealth int

	dispatched chan struct{}
}

var _ credential.Issuer = (*Issuer)(nil)

// RequestSessionToken implements [credential.Issuer].
func (m *Issuer) RequestSessionToken(ctx context.Context, req credential.TokenRequest) (credential.TokenResponse, error) {
	m.mu.Lock()
	m.TokenCalls = append(m.TokenCalls, req)
	gate := m.TokenGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return credential.TokenResponse{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TokenError != nil {
		return credential.TokenResponse{}, m.TokenError
	}
	return m.TokenResult, nil
}

// DispatchAgent implements [credential.Issuer].
func (m *Issuer) DispatchAgent(_ context.Context, roomName, character string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchCalls = append(m.DispatchCalls, DispatchCall{RoomName: roomName, Character: character})
	if m.dispatched != nil {
		select {
		case m.dispatched <- struct{}{}:
		default:
		}
	}
	return m.DispatchError
}

// CheckHealth implements [credential.Issuer].
func (m *Issuer) CheckHealth(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountHealth++
	return m.HealthError
}

// Dispatched returns a channel that receives a value after each DispatchAgent
// call. Dispatch is usually fire-and-forget, so tests wait on it.
func (m *Issuer) Dispatched() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatched == nil {
		m.dispatched = make(chan struct{}, 16)
	}
	return m.dispatched
}

// Tokens returns a copy of the recorded token requests.
func (m *Issuer) Tokens() []credential.TokenRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]credential.TokenRequest(nil), m.TokenCalls...)
}

// Dispatches returns a copy of the recorded dispatch calls.
func (m *Issuer) Dispatches() []DispatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DispatchCall(nil), m.DispatchCalls...)
}
