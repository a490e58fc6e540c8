package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/lumen-devotional/lumen/pkg/credential"
	"github.com/lumen-devotional/lumen/pkg/credential/mock"
)

func TestCredentialFallback_RequestSessionToken(t *testing.T) {
	t.Parallel()

	primary := &mock.Issuer{TokenError: errors.New("connection refused")}
	secondary := &mock.Issuer{TokenResult: credential.TokenResponse{Token: "tok", RoomName: "room-1"}}

	f := NewCredentialFallback(primary, "eu", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute},
	})
	f.AddFallback("us", secondary)

	resp, err := f.RequestSessionToken(t.Context(), credential.TokenRequest{Character: "adina"})
	if err != nil {
		t.Fatalf("RequestSessionToken: %v", err)
	}
	if resp.Token != "tok" || resp.RoomName != "room-1" {
		t.Errorf("resp = %+v", resp)
	}
	if len(primary.Tokens()) != 1 || len(secondary.Tokens()) != 1 {
		t.Errorf("calls primary=%d secondary=%d, want 1/1", len(primary.Tokens()), len(secondary.Tokens()))
	}
	if names := f.Group().Names(); len(names) != 2 || names[0] != "eu" {
		t.Errorf("Names = %v", names)
	}
}

func TestCredentialFallback_ErrorsWrapErrCredential(t *testing.T) {
	t.Parallel()

	primary := &mock.Issuer{TokenError: errors.New("boom"), DispatchError: errors.New("boom")}
	f := NewCredentialFallback(primary, "only", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	_, err := f.RequestSessionToken(t.Context(), credential.TokenRequest{})
	if !errors.Is(err, credential.ErrCredential) || !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrCredential and ErrAllFailed", err)
	}

	// Breaker is now open; the rejection must still read as a credential error.
	err = f.DispatchAgent(t.Context(), "room", "adina")
	if !errors.Is(err, credential.ErrCredential) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCredential wrapping ErrCircuitOpen", err)
	}
	if len(primary.Dispatches()) != 0 {
		t.Error("dispatch must not reach an open backend")
	}
}

func TestCredentialFallback_CheckHealth(t *testing.T) {
	t.Parallel()

	down := &mock.Issuer{HealthError: errors.New("down")}
	up := &mock.Issuer{}
	f := NewCredentialFallback(down, "a", FallbackConfig{})
	f.AddFallback("b", up)

	if err := f.CheckHealth(t.Context()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if down.CallCountHealth != 1 || up.CallCountHealth != 1 {
		t.Errorf("health calls = %d/%d, want 1/1", down.CallCountHealth, up.CallCountHealth)
	}
}
