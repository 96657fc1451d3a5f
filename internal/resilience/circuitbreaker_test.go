package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// testClock is a manually advanced clock shared by breakers under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "test" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	failN(cb, 3)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})

	failN(cb, 2)
	_ = cb.Execute(func() error { return nil })
	failN(cb, 2)
	if cb.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2})

	for range 5 {
		_ = cb.Execute(func() error { return context.Canceled })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: cancellations must not trip the breaker", cb.State())
	}
	// Deadline expiry is a real backend symptom and does count.
	for range 2 {
		_ = cb.Execute(func() error { return context.DeadlineExceeded })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after timeouts", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenCycle(t *testing.T) {
	t.Parallel()
	clk := newTestClock()
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Second,
		HalfOpenMax:  2,
		Now:          clk.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	failN(cb, 2)
	clk.Advance(9 * time.Second)
	if cb.State() != StateOpen {
		t.Fatal("breaker left open state before the reset timeout")
	}
	clk.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", cb.State())
	}

	for i := range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	t.Parallel()
	clk := newTestClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Second,
		HalfOpenMax:  3,
		Now:          clk.Now,
	})

	failN(cb, 2)
	clk.Advance(10 * time.Second)

	if err := cb.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the probe error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	clk := newTestClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clk.Now,
	})
	failN(cb, 1)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})

	failN(cb, 2)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
