package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the template for the breaker given to each entry of a
// [FallbackGroup]. The entry name replaces CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary value and its fallbacks, each behind its own
// breaker. Entries are tried in registration order.
//
// Register every entry before sharing the group between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry behind the ones already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(cbCfg)})
}

// Names lists the entries in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// States maps every entry name to its breaker state.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Healthy reports whether any entry's breaker would admit a call.
func (fg *FallbackGroup[T]) Healthy() bool {
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute calls fn with each entry in turn until one returns nil.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	return fg.failover(ctx, func(_ string, v T, done func(error)) error {
		err := fn(v)
		done(err)
		return err
	})
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. The first successful result is returned.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var result R
	err := fg.failover(ctx, func(_ string, v T, done func(error)) error {
		r, err := fn(v)
		done(err)
		if err == nil {
			result = r
		}
		return err
	})
	return result, err
}

// failover walks the entries until try succeeds. try receives the admitted
// entry and must settle its breaker through done, either before returning
// or later for work that outlives the call.
//
// Failover stops once ctx is done; the last error is returned unwrapped so
// callers still see context.Canceled. Otherwise the result wraps
// [ErrAllFailed] together with every entry's error.
func (fg *FallbackGroup[T]) failover(ctx context.Context, try func(name string, v T, done func(error)) error) error {
	var errs []error
	for _, e := range fg.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := e.breaker.Allow()
		if err == nil {
			if err = try(e.name, e.value, done); err == nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("provider skipped, circuit open", "provider", e.name)
			continue
		}
		fg.log.Warn("provider failed, trying next", "provider", e.name, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
