// Package resilience keeps a failing TTS backend from stalling playback.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops every chunk request of every playback session from waiting on a
// backend that is already known to be down. [FallbackGroup] pairs several
// instances of one provider type with a breaker each and fails over in
// registration order; [TTSFallback] applies it to [tts.Provider].
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

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls. One failed trial
	// re-opens the breaker; enough successful trials close it.
	StateHalfOpen
)

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

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures consecutive failures open a closed breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the trial budget in the half-open state and the number
	// of successful trials needed to close again.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend.
	// Default: [CountsAsFailure].
	IsFailure func(error) bool

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	Logger *slog.Logger
}

// CountsAsFailure is the default classifier. A call its caller cancelled,
// such as a chunk request abandoned by Stop or Seek, says nothing about the
// backend. Deadline expiries do count.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int // consecutive, while closed
	openedAt time.Time
	trials   int // admitted since entering half-open
	passed   int // successful trials since entering half-open
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = CountsAsFailure
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Allow asks to make one call. When admitted, the caller must report the
// call's outcome through done; later calls to done are ignored. Allow
// returns [ErrCircuitOpen] while the breaker is open or the half-open trial
// budget is spent.
//
// The split form serves calls whose outcome is only known later, such as a
// stream that may close before delivering any audio.
func (cb *CircuitBreaker) Allow() (done func(error), err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		cb.state, cb.trials, cb.passed = StateHalfOpen, 0, 0
	}
	trial := cb.state == StateHalfOpen
	if trial {
		if cb.trials >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		cb.trials++
	}
	to := cb.state
	cb.mu.Unlock()
	cb.transitioned(from, to)

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.settle(trial, err) })
	}, nil
}

// Execute runs fn when the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

func (cb *CircuitBreaker) settle(trial bool, err error) {
	if err != nil && !cb.cfg.IsFailure(err) {
		return
	}
	cb.mu.Lock()
	from := cb.state
	switch {
	case err != nil && trial:
		cb.trip()
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case trial:
		// A concurrent trial may already have re-opened the breaker.
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenMax {
				cb.state, cb.failures = StateClosed, 0
			}
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()
	cb.transitioned(from, to)
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	cb.cfg.Logger.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State reports the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Allow].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state, cb.failures, cb.trials, cb.passed = StateClosed, 0, 0, 0
	cb.mu.Unlock()
	cb.transitioned(from, StateClosed)
}
