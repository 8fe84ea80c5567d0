// Package retry provides backoff delay computation, error classification and
// a circuit breaker shared by the network-facing components.
package retry

import (
	"math/rand"
	"strings"
	"time"
)

// Class is the retryability classification of an error.
type Class int

const (
	// ClassRetryable marks transient failures worth retrying
	ClassRetryable Class = iota
	// ClassNonRetryable marks failures that will not succeed on retry
	ClassNonRetryable
)

// Policy computes exponential backoff delays with jitter.
type Policy struct {
	Base         time.Duration // Initial delay
	Cap          time.Duration // Maximum delay before jitter is added
	JitterFactor float64       // Jitter as a fraction of the computed delay

	// rand source, overridable in tests
	randFloat func() float64
}

// NewPolicy creates a backoff policy with the given parameters.
func NewPolicy(base, cap time.Duration, jitterFactor float64) *Policy {
	return &Policy{
		Base:         base,
		Cap:          cap,
		JitterFactor: jitterFactor,
		randFloat:    rand.Float64,
	}
}

// Delay returns the backoff delay for the given zero-based attempt number:
// min(base * 2^attempt, cap) plus jitter uniformly distributed in
// [0, delay*jitterFactor].
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap || delay <= 0 {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}

	if p.JitterFactor > 0 {
		rf := rand.Float64
		if p.randFloat != nil {
			rf = p.randFloat
		}
		jitter := time.Duration(rf() * p.JitterFactor * float64(delay))
		delay += jitter
	}

	return delay
}

// Substrings identifying client-side failures that a retry cannot fix.
var nonRetryableMarkers = []string{
	"unauthorized",
	"forbidden",
	"invalid token",
	"invalid credentials",
	"authentication",
	"not found",
	"bad request",
	"malformed",
	"validation",
}

// Substrings identifying transient transport failures.
var retryableMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"eof",
	"network",
}

// Classify decides whether an error is worth retrying. Unknown errors are
// classified retryable (optimistic).
func Classify(err error) Class {
	if err == nil {
		return ClassNonRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return ClassNonRetryable
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return ClassRetryable
		}
	}
	return ClassRetryable
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == ClassRetryable
}
