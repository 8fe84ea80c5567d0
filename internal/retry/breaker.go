package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow when the breaker has tripped and the
// cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("circuit breaker open: service unavailable, try later")

// BreakerState is the current state of the circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows calls through
	BreakerClosed BreakerState = iota
	// BreakerOpen short-circuits all calls until the cooldown elapses
	BreakerOpen
)

func (s BreakerState) String() string {
	if s == BreakerOpen {
		return "open"
	}
	return "closed"
}

// Breaker is a failure-count-driven circuit breaker shared by all callers
// performing remote operations. A systemic outage trips it once and
// short-circuits everyone until the cooldown elapses.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu            sync.Mutex
	failures      int
	successStreak int
	trippedAt     time.Time
	open          bool

	// now is overridable in tests
	now func() time.Time
}

// NewBreaker creates a circuit breaker that trips after threshold failures
// and auto-resets after cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. Once the cooldown has elapsed
// after a trip, the breaker resets and allows traffic again.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}

	if b.now().Sub(b.trippedAt) >= b.cooldown {
		b.open = false
		b.failures = 0
		b.successStreak = 0
		return nil
	}

	return ErrBreakerOpen
}

// RecordSuccess notes a successful call. Two consecutive successes decay the
// failure count by one.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successStreak++
	if b.successStreak >= 2 {
		b.successStreak = 0
		if b.failures > 0 {
			b.failures--
		}
	}
}

// RecordFailure notes a retryable failure and trips the breaker when the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successStreak = 0
	b.failures++
	if !b.open && b.failures >= b.threshold {
		b.open = true
		b.trippedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open && b.now().Sub(b.trippedAt) >= b.cooldown {
		b.open = false
		b.failures = 0
		b.successStreak = 0
	}
	if b.open {
		return BreakerOpen
	}
	return BreakerClosed
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
