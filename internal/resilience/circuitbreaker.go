// Package resilience keeps voice backend failures from stalling calls.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a backend after consecutive failures. [FallbackGroup]
// chains several backends with one breaker each, and [VoiceFallback] exposes
// such a chain as a single voice.Provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the protected backend in logs and callbacks.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker lock released.
	OnStateChange func(name string, from, to State)

	// Now replaces the wall clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
//
// A context cancellation returned by fn says nothing about backend health,
// so it is counted neither as a success nor as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var transitions []transition
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		transitions = append(transitions, cb.setState(StateHalfOpen))
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probe := cb.state == StateHalfOpen
	if probe {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	cb.notify(transitions)

	err := fn()

	cb.mu.Lock()
	var t transition
	switch {
	case err == nil:
		t = cb.recordSuccess(probe)
	case errors.Is(err, context.Canceled):
		if probe {
			cb.halfOpenCalls--
		}
	default:
		t = cb.recordFailure(probe)
	}
	cb.mu.Unlock()
	cb.notify([]transition{t})
	return err
}

// transition is a state change waiting to be reported outside the lock.
type transition struct {
	from, to State
}

func (cb *CircuitBreaker) setState(s State) transition {
	t := transition{from: cb.state, to: s}
	cb.state = s
	return t
}

func (cb *CircuitBreaker) notify(ts []transition) {
	for _, t := range ts {
		if t.from == t.to {
			continue
		}
		level := slog.LevelInfo
		if t.to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", cb.name, "from", t.from, "to", t.to)
		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, t.from, t.to)
		}
	}
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) transition {
	if probe {
		cb.openedAt = cb.now()
		cb.consecutiveFail = cb.maxFailures
		return cb.setState(StateOpen)
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.openedAt = cb.now()
		return cb.setState(StateOpen)
	}
	return transition{from: cb.state, to: cb.state}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) transition {
	if probe && cb.state == StateHalfOpen {
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.halfOpenMax {
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenOK = 0
			return cb.setState(StateClosed)
		}
		return transition{from: cb.state, to: cb.state}
	}
	cb.consecutiveFail = 0
	return transition{from: cb.state, to: cb.state}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	cb.mu.Unlock()
	cb.notify([]transition{t})
}
