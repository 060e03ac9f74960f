// Package retry runs an operation a bounded number of times with a linearly
// growing pause between attempts.
//
// The schedule is a luci retry.Iterator and the loop is luci's retry.Retry,
// so pauses go through the context's clock and tests drive them with
// testclock.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.chromium.org/luci/common/clock"
	luciretry "go.chromium.org/luci/common/retry"
)

const (
	// DefaultMaxAttempts is the total number of tries, including the first.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the pause after the first failure. The pause after
	// failure n is n*BaseDelay.
	DefaultBaseDelay = 60 * time.Second
)

// ErrDebugMode is returned without invoking the operation when the policy is
// in debug mode.
var ErrDebugMode = errors.New("debug mode: operation not attempted")

// ExhaustedError reports that every attempt failed. Err is the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Debug short-circuits Do so no side effect ever happens.
	Debug bool

	// OnRetry, when set, is called before each pause.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns three attempts with 60s and 120s pauses.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Delay returns the pause after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Factory returns a luci retry factory for p's schedule.
func (p Policy) Factory() luciretry.Factory {
	return func() luciretry.Iterator {
		return &linear{policy: p}
	}
}

// linear stops once the policy's attempts are used up.
type linear struct {
	policy   Policy
	failures int
}

// Next implements luciretry.Iterator.
func (l *linear) Next(context.Context, error) time.Duration {
	l.failures++
	if l.failures >= l.policy.attempts() {
		return luciretry.Stop
	}
	return l.policy.Delay(l.failures)
}

// Do invokes op until it succeeds or the attempts are used up. There is no
// pause after the final attempt. A cancelled context stops the loop and its
// error is returned as is.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if p.Debug {
		return zero, ErrDebugMode
	}

	var (
		v        T
		attempts int
	)
	err := luciretry.Retry(ctx, p.Factory(), func() error {
		attempts++
		var err error
		v, err = op(ctx)
		return err
	}, func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, delay, err)
		}
	})
	switch {
	case err == nil:
		return v, nil
	case ctx.Err() != nil:
		return zero, ctx.Err()
	default:
		return zero, &ExhaustedError{Attempts: attempts, Err: err}
	}
}

// SleepContext waits for d on the context's clock, returning early with
// ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if r := clock.Sleep(ctx, d); r.Incomplete() {
		return ctx.Err()
	}
	return nil
}
