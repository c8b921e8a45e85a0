// Package retry runs idempotent operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"cryptoExecCore/internal/ports"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int // Total attempts including the first; values < 1 mean 1
	Min      time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   bool
	// Retryable decides whether an error is worth another attempt.
	// Defaults to ports.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy is used for exchange reads.
func DefaultPolicy(attempts int) Policy {
	return Policy{
		Attempts: attempts,
		Min:      200 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   true,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that return a value.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = ports.IsTransient
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: p.Factor, Jitter: p.Jitter}

	var (
		v   T
		err error
	)
	for i := 0; i < attempts; i++ {
		v, err = fn(ctx)
		if err == nil || !retryable(err) || i == attempts-1 {
			return v, err
		}
		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, err
		case <-timer.C:
		}
	}
	return v, err
}
