// Package retry runs fallible operations under a fixed attempt budget.
//
// Every browser-facing operation in the run (link extraction, session
// authentication, screenshot capture) goes through the same Retrier so the
// attempt counting, pause and logging rules live in one place.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy describes how many times an operation is attempted and how long to
// pause between failed attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// attempts never reports less than one attempt.
func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier applies a Policy to operations and logs exhausted failures.
type Retrier struct {
	policy Policy
	logger *zap.Logger
	sleep  SleepFunc
}

// Option customises a Retrier.
type Option func(*Retrier)

// WithSleep swaps the pause implementation, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// New builds a Retrier for the policy.
func New(policy Policy, logger *zap.Logger, opts ...Option) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{
		policy: policy,
		logger: logger,
		sleep:  contextSleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy reports the policy the Retrier was built with.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do invokes fn until it succeeds or the attempt budget is spent.
// Attempts are numbered from 1. Only the final failure is logged at error
// level; earlier ones are logged at warn. The returned error wraps the last
// failure.
func Do[T any](ctx context.Context, r *Retrier, name string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	maxAttempts := r.policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}

		if attempt == maxAttempts {
			break
		}
		r.logger.Warn("Attempt failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if r.policy.Delay > 0 {
			if err := r.sleep(ctx, r.policy.Delay); err != nil {
				return zero, fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	r.logger.Error("Operation failed",
		zap.String("operation", name),
		zap.Int("attempts", maxAttempts),
		zap.String("reason", lastErr.Error()),
	)
	return zero, fmt.Errorf("%s failed after %d attempt(s): %w", name, maxAttempts, lastErr)
}

// Run is Do for operations without a result.
func (r *Retrier) Run(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) error {
	_, err := Do(ctx, r, name, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
