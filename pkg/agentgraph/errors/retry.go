package errors

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how a failing call is repeated against one model.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean one attempt.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffFactor multiplies the backoff after each failure.
	BackoffFactor float64

	// Jitter spreads each sleep by up to this fraction either way.
	Jitter float64

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetry suits hosted model APIs: three attempts over a few seconds.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2,
	Jitter:         0.1,
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first sleep.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps every sleep, including server requested ones.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithOnRetry sets the hook run before each sleep.
func WithOnRetry(fn func(attempt int, err error, backoff time.Duration)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// NewRetryConfig applies opts to DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RetryResult is the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, fails with a non-transient
// error, runs out of attempts, or ctx ends. A failure is returned as a
// *CategorizedError carrying the attempt count.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	maxAttempts := max(cfg.MaxAttempts, 1)
	backoff := cfg.InitialBackoff

	fail := func(err error, attempts int) RetryResult[T] {
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempts},
			Attempts: attempts,
			Duration: time.Since(start),
		}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(err, attempt-1)
		}

		value, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: value, Attempts: attempt, Duration: time.Since(start)}
		}
		if !IsRetryable(err) || attempt == maxAttempts {
			return fail(err, attempt)
		}

		sleep := nextSleep(backoff, cfg, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(ctx.Err(), attempt)
		case <-timer.C:
		}

		if cfg.BackoffFactor > 0 {
			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		}
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}

// nextSleep jitters backoff and stretches it to a server's Retry-After,
// bounded by MaxBackoff.
func nextSleep(backoff time.Duration, cfg RetryConfig, err error) time.Duration {
	sleep := backoff
	if cfg.Jitter > 0 {
		sleep += time.Duration(float64(backoff) * cfg.Jitter * (rand.Float64()*2 - 1))
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > sleep {
		sleep = httpErr.RetryAfter
	}
	if cfg.MaxBackoff > 0 && sleep > cfg.MaxBackoff {
		sleep = cfg.MaxBackoff
	}
	return max(sleep, 0)
}
