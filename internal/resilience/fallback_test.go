package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestExecuteWithResult_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := newGroup(3)
	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "primary" {
		t.Fatalf("got %q, want primary", got)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()
	fg := newGroup(3)
	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" {
		t.Fatalf("got %q, want secondary", got)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	t.Parallel()
	fg := newGroup(3)
	_, err := ExecuteWithResult(context.Background(), fg, func(context.Context, string) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the last provider error wrapped", err)
	}
}

func TestExecuteWithResult_SkipsOpenProvider(t *testing.T) {
	t.Parallel()
	fg := newGroup(2)

	var calls []string
	fn := func(_ context.Context, v string) (string, error) {
		calls = append(calls, v)
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	}
	for range 2 {
		if _, err := ExecuteWithResult(context.Background(), fg, fn); err != nil {
			t.Fatal(err)
		}
	}
	calls = nil
	if _, err := ExecuteWithResult(context.Background(), fg, fn); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Fatalf("calls = %v, want only secondary once the primary circuit is open", calls)
	}

	st := fg.Status()
	if st[0].State != "open" || st[1].State != "closed" {
		t.Errorf("Status() = %+v", st)
	}
	if !fg.Available() {
		t.Error("Available() = false with a healthy secondary")
	}
}

func TestExecuteWithResult_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	fg := newGroup(3)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, _ string) (string, error) {
		calls++
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no failover after cancellation)", calls)
	}
	if got := fg.Status()[0].State; got != "closed" {
		t.Errorf("primary state = %s, want closed", got)
	}
}
