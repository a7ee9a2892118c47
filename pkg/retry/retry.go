// Package retry runs an operation again when it fails with an error the
// caller considers transient, backing off exponentially with jitter between
// attempts. The diary transport uses it for its single re-login retry and
// the watcher for connecting to snapshot storage.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// PermanentError stops retrying; Do returns the wrapped error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that it is never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts int

	// InitialDelay is the pause before the first retry. Zero retries immediately.
	InitialDelay time.Duration

	// MaxDelay caps the pause between attempts.
	MaxDelay time.Duration

	// Multiplier grows the pause after each attempt.
	Multiplier float64

	// JitterFactor randomises each pause by up to ± this fraction.
	JitterFactor float64

	// RetryIf selects retryable errors. Nil retries everything except
	// context cancellation and deadline errors.
	RetryIf func(error) bool

	// OnRetry is called before each pause.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the pause before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay caps the pause between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf sets the retryable-error predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets the hook called before each pause.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under one Config. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// New creates a new Retrier with the given options.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.RetryIf == nil {
		config.RetryIf = notContextError
	}
	return &Retrier{config: config}
}

func notContextError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do calls operation with a 1-based attempt number until it succeeds, fails
// with a non-retryable or Permanent error, or runs out of attempts. The
// last error is returned; a Permanent wrapper is removed first.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = operation(ctx, attempt)
		if err == nil {
			return nil
		}

		var p *PermanentError
		if errors.As(err, &p) {
			return p.Err
		}
		if attempt >= r.config.MaxAttempts || !r.config.RetryIf(err) {
			return err
		}

		delay := r.Backoff(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if !wait(ctx, delay) {
			return err
		}
	}
}

// Backoff returns the pause after the given failed attempt.
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if limit := float64(r.config.MaxDelay); limit > 0 && d > limit {
		d = limit
	}
	if j := r.config.JitterFactor; j > 0 {
		d += d * j * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// wait pauses for d. It returns false if ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// DoWithData runs an operation that returns a value under r.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := operation(ctx, attempt)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// ReauthRetrier allows exactly one immediate retry for errors matched by
// isAuthExpired. The caller re-logs in on attempt 2.
func ReauthRetrier(isAuthExpired func(error) bool) *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(0),
		WithJitter(0),
		WithRetryIf(isAuthExpired),
	)
}

// StorageRetrier makes five connection attempts over about eight seconds.
// onRetry may be nil.
func StorageRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(5),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(10*time.Second),
		WithMultiplier(2.0),
		WithJitter(0.2),
		WithOnRetry(onRetry),
	)
}
