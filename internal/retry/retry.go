package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"postforge/internal/config"
	"postforge/internal/services"
)

// Policy describes exponential backoff: the wait after attempt n is
// BaseDelay * Multiplier^(n-1), clamped to [BaseDelay, MaxDelay].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// PolicyFromConfig converts the [retry] section.
func PolicyFromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(cfg.MaxDelaySeconds) * time.Second,
		Multiplier:  cfg.Multiplier,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if delay > float64(backoffCeiling) {
		delay = float64(backoffCeiling)
	}
	return p.clamp(time.Duration(delay))
}

// backoffCeiling bounds the computed delay when MaxDelay is unset.
const backoffCeiling = time.Hour

func (p Policy) clamp(d time.Duration) time.Duration {
	if d < p.BaseDelay {
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

type options struct {
	clock     Clock
	retryable func(error) bool
	onRetry   func(attempt int, delay time.Duration, err error)
}

// Option customizes Do.
type Option func(*options)

// WithClock injects the time source.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRetryable overrides the classification of retryable errors.
func WithRetryable(fn func(error) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.retryable = fn
		}
	}
}

// WithOnRetry registers a hook called before each backoff wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. A delay hint on the error (Retry-After)
// replaces the computed backoff, still clamped to MaxDelay.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error, opts ...Option) error {
	o := options{clock: System(), retryable: services.IsRetryable}
	for _, opt := range opts {
		opt(&o)
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !o.retryable(err) {
			return err
		}
		if attempt >= attempts {
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := policy.Delay(attempt)
		if hint, ok := services.DelayHintFrom(err); ok {
			delay = hint
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if err := o.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}
