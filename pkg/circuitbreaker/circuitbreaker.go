// Package circuitbreaker stops calling a failing dependency for a while so a
// broken endpoint is not hit on every poll cycle.
//
// After a run of consecutive failures the breaker opens and rejects
// calls for the cooldown. The first call after that is a trial: success
// closes the breaker, failure opens it for another cooldown. Other calls
// made while the trial runs are rejected.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned instead of calling through.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Option configures a breaker.
type Option func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open.
func WithCooldown(d time.Duration) Option {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.cooldown = d
		}
	}
}

// WithOnStateChange registers a callback run after every transition,
// outside the breaker's lock.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// WithIsFailure replaces the failure classifier. By default every error
// except context.Canceled counts.
func WithIsFailure(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		if fn != nil {
			cb.isFailure = fn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	isFailure func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New returns a closed breaker: 5 failures, 30 s cooldown unless overridden.
func New(name string, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		now:       time.Now,
		isFailure: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name identifies the breaker in callbacks and logs.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current state. An open breaker whose cooldown has
// passed stays open until the next call tries it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute calls fn unless the breaker rejects it and records the result.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	from := cb.state
	switch {
	case cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown:
		cb.state = StateHalfOpen
	case cb.state != StateClosed:
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.isFailure(err) {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// AttachmentBreaker suspends attachment downloads for ten minutes after
// three failures in a row.
func AttachmentBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("eschool-attachments",
		WithFailureThreshold(3),
		WithCooldown(10*time.Minute),
		WithOnStateChange(onStateChange),
	)
}
