package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidBaseDelay = errors.New("BaseDelay must be greater than 0")
	ErrInvalidTimeout   = errors.New("timeout must not be negative")
	ErrInvalidInterval  = errors.New("interval must be greater than 0")
	ErrNotConverged     = errors.New("not converged")
)

// Config defines parameters for exponential backoff polling.
type Config struct {
	// Initial delay before first retry
	BaseDelay time.Duration
	// Multiplier for delay on each retry
	Factor float64
	// Optional maximum delay between retries
	MaxDelay time.Duration
}

// BackoffWithContext repeatedly calls the operation until timeout is reached,
// it returns true, an error, or the context is canceled. It waits between
// attempts using exponential backoff, starting from Config.BaseDelay and
// increasing by Config.Factor, capped by Config.MaxDelay if set.
func BackoffWithContext(ctx context.Context, cfg *Config, timeout time.Duration, opFn func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		return ErrInvalidTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := cfg.BaseDelay
	if delay <= 0 {
		return fmt.Errorf("invalid Config: %w", ErrInvalidBaseDelay)
	}

	for {
		done, err := opFn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-time.After(delay):
			next := time.Duration(float64(delay) * cfg.Factor)
			if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
				next = cfg.MaxDelay
			}
			delay = next
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type state int

const (
	stateNotYet state = iota
	stateConverged
	stateFailed
)

// Result is the outcome of one evaluation of a convergence check: either the
// converged value, or the reason the remote state does not match yet, or a
// failure that must stop polling immediately.
type Result[T any] struct {
	value  T
	reason error
	state  state
}

// Converged reports that the check holds and carries the observed value.
func Converged[T any](v T) Result[T] {
	return Result[T]{value: v, state: stateConverged}
}

// NotYet reports that the check does not hold yet. The reason is what the
// caller sees if the deadline passes.
func NotYet[T any](reason error) Result[T] {
	if reason == nil {
		reason = ErrNotConverged
	}
	return Result[T]{reason: reason, state: stateNotYet}
}

// NotYetf is NotYet with a formatted reason.
func NotYetf[T any](format string, args ...any) Result[T] {
	return NotYet[T](fmt.Errorf(format, args...))
}

// Failed stops polling and returns err as is.
func Failed[T any](err error) Result[T] {
	return Result[T]{reason: err, state: stateFailed}
}

func (r Result[T]) IsConverged() bool { return r.state == stateConverged }

func (r Result[T]) Value() T { return r.value }

// Reason is nil for a converged result.
func (r Result[T]) Reason() error { return r.reason }

// TimeoutError is returned when a check never converged. It unwraps to the
// last reason reported by the check.
type TimeoutError struct {
	Last     error
	Elapsed  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v (not converged after %s, %d attempts)", e.Last, e.Elapsed.Round(time.Millisecond), e.Attempts)
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// Spec bounds a convergence wait.
type Spec struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Until evaluates check until it converges, fails, or Spec.Timeout elapses.
// The first evaluation happens immediately. Between evaluations it sleeps
// Spec.Interval, never past the deadline, and evaluates once more at the
// deadline, so an always-failing check blocks for [Timeout, Timeout+Interval).
// A zero timeout means exactly one evaluation.
func Until[T any](ctx context.Context, spec Spec, check func(context.Context) Result[T]) (T, error) {
	var zero T
	if spec.Timeout < 0 {
		return zero, ErrInvalidTimeout
	}
	if spec.Interval <= 0 {
		return zero, ErrInvalidInterval
	}

	start := time.Now()
	deadline := start.Add(spec.Timeout)
	attempts := 0
	for {
		attempts++
		r := check(ctx)
		switch r.state {
		case stateConverged:
			return r.value, nil
		case stateFailed:
			return zero, r.reason
		}

		now := time.Now()
		if !now.Before(deadline) {
			return zero, &TimeoutError{Last: r.reason, Elapsed: now.Sub(start), Attempts: attempts}
		}

		timer := time.NewTimer(min(spec.Interval, deadline.Sub(now)))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: last: %v", ctx.Err(), r.reason)
		}
	}
}

// UntilNoError adapts a function with an ordinary error return to Until: any
// error means "not yet".
func UntilNoError[T any](ctx context.Context, spec Spec, check func(context.Context) (T, error)) (T, error) {
	return Until(ctx, spec, func(ctx context.Context) Result[T] {
		v, err := check(ctx)
		if err != nil {
			return NotYet[T](err)
		}
		return Converged(v)
	})
}
