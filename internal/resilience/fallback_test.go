package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newStringGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := newStringGroup()

	var called []string
	err := fg.Execute(t.Context(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()
	fg := newStringGroup()

	got, err := ExecuteWithResult(t.Context(), fg, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "ok from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok from secondary" {
		t.Errorf("got %q", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := newStringGroup()

	err := fg.Execute(t.Context(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want last error wrapped", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newStringGroup()
	ctx := t.Context()

	primaryCalls := 0
	fn := func(_ context.Context, v string) error {
		if v == "primary" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(ctx, fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2 before breaker opened", primaryCalls)
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Errorf("primary breaker = %v, want open", fg.Breaker("primary").State())
	}
	if fg.Breaker("missing") != nil {
		t.Error("expected nil breaker for unknown name")
	}
}

func TestFallbackGroup_PermanentErrorStops(t *testing.T) {
	t.Parallel()
	errDenied := errors.New("denied")
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
		IsPermanent:    func(err error) bool { return errors.Is(err, errDenied) },
	})
	fg.AddFallback("secondary", "secondary")

	var called []string
	err := fg.Execute(t.Context(), func(_ context.Context, v string) error {
		called = append(called, v)
		return errDenied
	})
	if !errors.Is(err, errDenied) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare errDenied", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want primary only", called)
	}
	if fg.Breaker("primary").State() != StateClosed {
		t.Error("permanent errors must not trip the breaker")
	}
}

func TestFallbackGroup_CancelledContext(t *testing.T) {
	t.Parallel()
	fg := newStringGroup()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	err := fg.Execute(ctx, func(context.Context, string) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn must not run with a cancelled context")
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	names := newStringGroup().Names()
	if len(names) != 2 || names[0] != "primary" || names[1] != "secondary" {
		t.Errorf("Names = %v", names)
	}
}
