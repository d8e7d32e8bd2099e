// Package retrier retries context-aware calls on an exponential backoff schedule.
package retrier

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 3
)

// Retrier runs a call up to maxRetries+1 times. The wait before retry n is
// initial*multiplier^(n-1), capped by the max interval.
// Errors rejected by the retry predicate and the error of the last attempt
// are returned as is.
type Retrier struct {
	schedule   backoff.Backoff
	maxRetries int
	retryIf    func(error) bool
	onRetry    func(attempt int, wait time.Duration, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the first wait. Non-positive values fall back to 100ms.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.schedule.Min = d
	}
}

// WithMaxInterval caps every wait.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.schedule.Max = d
	}
}

// WithMultiplier sets the backoff factor.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.schedule.Factor = m
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithJitter randomizes every wait between the initial interval and its scheduled value.
func WithJitter(on bool) Option {
	return func(r *Retrier) {
		r.schedule.Jitter = on
	}
}

// WithRetryIf restricts retries to errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// WithOnRetry registers a hook called before every wait.
func WithOnRetry(fn func(attempt int, wait time.Duration, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		schedule: backoff.Backoff{
			Min:    defaultInitialInterval,
			Max:    defaultMaxInterval,
			Factor: defaultMultiplier,
		},
		maxRetries: defaultMaxRetries,
		retryIf:    func(error) bool { return true },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Wait returns the pause before the given retry (1-based).
func (r *Retrier) Wait(retry int) time.Duration {
	// ForAttempt does not touch the attempt counter, so a Retrier is safe for concurrent use
	return r.schedule.ForAttempt(float64(retry - 1))
}

// Do executes fn until it succeeds, fails permanently or runs out of retries.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := r.Wait(attempt)
			if r.onRetry != nil {
				r.onRetry(attempt, wait, err)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !r.retryIf(err) {
			return err
		}
	}

	return err
}

// DoWithData executes fn with retries and returns its value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
