// Package retry provides the retry policy shared by every component that
// polls or re-sends: a bounded number of attempts, an explicit delay schedule
// and cancellation through the caller's context.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy bounds retries of one operation. The operation runs immediately;
// Schedule[i] is the pause before attempt i+2, and the last step repeats when
// MaxAttempts outruns the schedule.
type Policy struct {
	MaxAttempts int
	Schedule    []time.Duration

	// Notify, when set, is called before each pause
	Notify func(err error, attempt int, next time.Duration)
}

// DefaultPolicy returns the post-checkout refresh schedule: 1s, 2s, 4s, 8s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 6,
		Schedule:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
	}
}

// ExhaustedError is returned when every attempt failed
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

// Permanent marks an error that must not be retried
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// WithLogger returns a copy of p that logs each retry
func (p Policy) WithLogger(logger *zap.Logger, op string) Policy {
	p.Notify = func(err error, attempt int, next time.Duration) {
		logger.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	}
	return p
}

// Do runs op until it succeeds, returns a Permanent error, attempts run out
// or ctx is done. Context errors are returned as-is so callers can match them.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	permanent := false

	b := backoff.WithContext(
		backoff.WithMaxRetries(&schedule{steps: p.Schedule}, uint64(p.maxAttempts()-1)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}, b, func(err error, next time.Duration) {
		if p.Notify != nil {
			p.Notify(err, attempts, next)
		}
	})

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &ExhaustedError{Attempts: attempts, Err: err}
	}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// schedule is a backoff.BackOff that walks a fixed list of delays
type schedule struct {
	steps []time.Duration
	next  int
}

func (s *schedule) NextBackOff() time.Duration {
	if len(s.steps) == 0 {
		return 0
	}
	i := s.next
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.next++
	return s.steps[i]
}

func (s *schedule) Reset() {
	s.next = 0
}
