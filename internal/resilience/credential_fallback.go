package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumen-devotional/lumen/pkg/credential"
)

// CredentialFallback implements [credential.Issuer] with failover across
// several backends, each behind its own circuit breaker.
type CredentialFallback struct {
	group *FallbackGroup[credential.Issuer]
}

var _ credential.Issuer = (*CredentialFallback)(nil)

// NewCredentialFallback creates a [CredentialFallback] with primary as the
// preferred backend.
func NewCredentialFallback(primary credential.Issuer, primaryName string, cfg FallbackConfig) *CredentialFallback {
	return &CredentialFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *CredentialFallback) AddFallback(name string, issuer credential.Issuer) {
	f.group.AddFallback(name, issuer)
}

// Group exposes the underlying group, mainly for breaker inspection.
func (f *CredentialFallback) Group() *FallbackGroup[credential.Issuer] {
	return f.group
}

// RequestSessionToken implements [credential.Issuer].
func (f *CredentialFallback) RequestSessionToken(ctx context.Context, req credential.TokenRequest) (credential.TokenResponse, error) {
	resp, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, is credential.Issuer) (credential.TokenResponse, error) {
		return is.RequestSessionToken(ctx, req)
	})
	return resp, asCredentialError(err)
}

// DispatchAgent implements [credential.Issuer].
func (f *CredentialFallback) DispatchAgent(ctx context.Context, roomName, character string) error {
	err := f.group.Execute(ctx, func(ctx context.Context, is credential.Issuer) error {
		return is.DispatchAgent(ctx, roomName, character)
	})
	return asCredentialError(err)
}

// CheckHealth implements [credential.Issuer]. The group is healthy when any
// backend answers.
func (f *CredentialFallback) CheckHealth(ctx context.Context) error {
	return f.group.Execute(ctx, func(ctx context.Context, is credential.Issuer) error {
		return is.CheckHealth(ctx)
	})
}

// asCredentialError makes sure callers can match [credential.ErrCredential]
// even when the failure was a breaker rejection.
func asCredentialError(err error) error {
	if err == nil || errors.Is(err, credential.ErrCredential) {
		return err
	}
	return fmt.Errorf("%w: %w", credential.ErrCredential, err)
}
