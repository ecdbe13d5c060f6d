package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every provider in a [Failover] chain failed
// or had an open breaker.
var ErrExhausted = errors.New("all providers exhausted")

// FailoverConfig configures the per-provider breaker created for each entry
// in a [Failover] chain.
type FailoverConfig struct {
	Breaker BreakerConfig
}

// link pairs a provider with its dedicated breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover chains a primary and zero or more fallback providers of the same
// kind. When the primary fails or its breaker is open, the next healthy
// provider is tried in registration order.
//
// Failover is safe for concurrent use once assembled; [Failover.Add] is not
// safe to call concurrently with [Attempt].
type Failover[T any] struct {
	chain []link[T]
	cfg   FailoverConfig
}

// NewFailover creates a chain with primary as its first entry.
func NewFailover[T any](primary T, name string, cfg FailoverConfig) *Failover[T] {
	bc := cfg.Breaker
	bc.Name = name
	return &Failover[T]{
		chain: []link[T]{{name: name, value: primary, breaker: NewBreaker(bc)}},
		cfg:   cfg,
	}
}

// Add appends a fallback provider, tried after everything registered before it.
func (f *Failover[T]) Add(name string, fallback T) {
	bc := f.cfg.Breaker
	bc.Name = name
	f.chain = append(f.chain, link[T]{name: name, value: fallback, breaker: NewBreaker(bc)})
}

// Attempt tries fn against each provider in the chain until one succeeds.
// Open-breaker entries are skipped. When fn fails and ctx is already dead,
// Attempt returns that error without trying further providers; retrying a
// different backend with a cancelled context cannot help.
//
// Returns [ErrExhausted] wrapped with the last error when every provider
// fails. Attempt is a package-level function because Go does not support
// method-level type parameters.
func Attempt[T any, R any](ctx context.Context, f *Failover[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range f.chain {
		entry := &f.chain[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
