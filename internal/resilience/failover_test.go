package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestFailover(tb testing.TB) *Failover[string] {
	tb.Helper()
	f := NewFailover("primary", "primary", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	f.Add("secondary", "secondary")
	return f
}

func TestAttempt_PrimarySuccess(t *testing.T) {
	f := newTestFailover(t)

	got, err := Attempt(context.Background(), f, func(v string) (string, error) {
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-primary" {
		t.Fatalf("result = %q, want from-primary", got)
	}
}

func TestAttempt_PrimaryFailFallbackSuccess(t *testing.T) {
	f := newTestFailover(t)

	got, err := Attempt(context.Background(), f, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-secondary" {
		t.Fatalf("result = %q, want from-secondary", got)
	}
}

func TestAttempt_AllFail(t *testing.T) {
	f := newTestFailover(t)

	_, err := Attempt(context.Background(), f, func(v string) (string, error) {
		return "", errTest
	})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestAttempt_SkipsOpenBreaker(t *testing.T) {
	f := NewFailover("primary", "primary", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 2, CoolDown: time.Hour},
	})
	f.Add("secondary", "secondary")

	// Fail the primary enough to open its breaker.
	for i := 0; i < 2; i++ {
		_, _ = Attempt(context.Background(), f, func(v string) (string, error) {
			if v == "primary" {
				return "", errTest
			}
			return v, nil
		})
	}

	// The primary's breaker is open; fn must not see it any more.
	var visited []string
	got, err := Attempt(context.Background(), f, func(v string) (string, error) {
		visited = append(visited, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" {
		t.Fatalf("result = %q, want secondary (primary breaker should be open)", got)
	}
	if len(visited) != 1 || visited[0] != "secondary" {
		t.Fatalf("visited = %v, want [secondary]", visited)
	}
}

func TestAttempt_DeadContextStopsFailover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFailover(t)

	var visited []string
	_, err := Attempt(ctx, f, func(v string) (string, error) {
		visited = append(visited, v)
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The secondary must not be tried with a dead context.
	if len(visited) != 1 || visited[0] != "primary" {
		t.Fatalf("visited = %v, want [primary]", visited)
	}
}
