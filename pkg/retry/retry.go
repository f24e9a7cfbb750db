// Package retry provides exponential backoff for socket binding and broker connects
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// NonRetryableError stops Do after the attempt that returned it
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err so Do returns it immediately. nil stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether Do would give up on err. Errors marked with
// NonRetryable and errors classified invalid or fatal are not retried.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	if stderrors.As(err, &nre) {
		return true
	}
	var ce *errors.ClassifiedError
	return stderrors.As(err, &ce) && ce.Class != errors.ErrorTransient
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // total attempts, values <= 0 mean one attempt
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // upper bound for any single delay
	Multiplier   float64       // growth factor between delays
	AddJitter    bool          // add up to 25% random delay
}

// DefaultConfig suits runtime operations such as broker publishes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick suits startup operations such as binding a UDP port that was just
// released by a previous process.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// backoff fills zero fields with defaults and rejects nonsense values
func (cfg Config) backoff() (backoff, error) {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return backoff{}, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative delay or multiplier")
	}
	b := backoff{
		attempts: max(cfg.MaxAttempts, 1),
		next:     cfg.InitialDelay,
		limit:    cfg.MaxDelay,
		factor:   min(cfg.Multiplier, 1000),
		jitter:   cfg.AddJitter,
	}
	if b.next == 0 {
		b.next = 100 * time.Millisecond
	}
	if b.limit == 0 {
		b.limit = 5 * time.Second
	}
	if b.factor == 0 {
		b.factor = 2
	}
	if b.limit < b.next {
		return backoff{}, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay below InitialDelay")
	}
	return b, nil
}

type backoff struct {
	attempts int
	next     time.Duration
	limit    time.Duration
	factor   float64
	jitter   bool
}

// delay returns the wait before the following attempt and advances the
// schedule.
func (b *backoff) delay() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.factor)
	if grown > b.limit || grown <= 0 {
		grown = b.limit
	}
	b.next = grown

	if b.jitter && d >= 4 {
		d += rand.N(d / 4)
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	b, err := cfg.backoff()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if attempt == b.attempts {
			return fmt.Errorf("retry failed after %d attempts: %w", attempt, lastErr)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}

		timer := time.NewTimer(b.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
