package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	require.NoError(t, b.Allow(), "still closed below threshold")

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerCooldownReset(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, 30*time.Second)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	// Halfway through the cooldown it stays open
	now = now.Add(15 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	// After the cooldown it resets and allows traffic
	now = now.Add(16 * time.Second)
	assert.NoError(t, b.Allow())
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreakerSuccessDecay(t *testing.T) {
	b := NewBreaker(5, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, 2, b.Failures())

	// A single success does not decay the count
	b.RecordSuccess()
	assert.Equal(t, 2, b.Failures())

	// The second consecutive success decays it by one
	b.RecordSuccess()
	assert.Equal(t, 1, b.Failures())

	// A failure resets the success streak
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 3, b.Failures())
}
