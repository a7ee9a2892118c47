package eschool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PACING
// The diary server throttles aggressive clients, so every call waits for a
// token from a bucket that refills at RequestsPerSecond and holds BurstSize.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig configures request pacing.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables pacing.
	RequestsPerSecond float64

	// BurstSize is the bucket capacity.
	BurstSize int

	// MinInterval separates consecutive requests even when tokens remain.
	MinInterval time.Duration

	// WaitTimeout bounds a single Allow call. Zero waits for as long as ctx allows.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns the pacing used against the public server.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2.0,
		BurstSize:         5,
		MinInterval:       200 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
	}
}

// RateLimiter is a token bucket. A nil *RateLimiter never blocks.
type RateLimiter struct {
	cfg RateLimiterConfig
	now func() time.Time

	mu       sync.Mutex
	tokens   float64
	refilled time.Time
	last     time.Time
}

// NewRateLimiter returns nil when cfg disables pacing.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	rl := &RateLimiter{cfg: cfg, now: time.Now}
	rl.reset()
	return rl
}

func (rl *RateLimiter) reset() {
	t := rl.now()
	rl.tokens = float64(rl.cfg.BurstSize)
	rl.refilled = t
	rl.last = t.Add(-rl.cfg.MinInterval)
}

// RateLimitError means a token would not be available within WaitTimeout.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("eschool: request rate limited, retry after %s", e.RetryAfter)
}

// Allow waits for a token.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	if rl == nil {
		return nil
	}

	var deadline time.Time
	if rl.cfg.WaitTimeout > 0 {
		deadline = rl.now().Add(rl.cfg.WaitTimeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := rl.take()
		if wait == 0 {
			return nil
		}
		if !deadline.IsZero() && rl.now().Add(wait).After(deadline) {
			return &RateLimitError{RetryAfter: wait}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAllow takes a token if one is available right now.
func (rl *RateLimiter) TryAllow() bool {
	return rl == nil || rl.take() == 0
}

// take consumes a token and returns zero, or returns how long until one
// could be taken.
func (rl *RateLimiter) take() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	t := rl.now()
	if elapsed := t.Sub(rl.refilled); elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed.Seconds()*rl.cfg.RequestsPerSecond, float64(rl.cfg.BurstSize))
		rl.refilled = t
	}

	if gap := t.Sub(rl.last); gap < rl.cfg.MinInterval {
		return rl.cfg.MinInterval - gap
	}
	if rl.tokens < 1 {
		d := time.Duration((1 - rl.tokens) / rl.cfg.RequestsPerSecond * float64(time.Second))
		return max(d, time.Millisecond)
	}

	rl.tokens--
	rl.last = t
	return 0
}
