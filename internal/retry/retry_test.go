package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayMonotonicity(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 10*time.Second, 0)
	p.randFloat = func() float64 { return 0 }

	prev := time.Duration(-1)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay(%d) must not decrease", attempt)
		prev = d
	}
}

func TestDelayCap(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 5*time.Second, 0.25)
	p.randFloat = func() float64 { return 1.0 }

	maxAllowed := time.Duration(float64(5*time.Second) * 1.25)
	for attempt := 0; attempt < 30; attempt++ {
		d := p.Delay(attempt)
		assert.LessOrEqual(t, d, maxAllowed, "delay(%d) must respect cap*(1+jitter)", attempt)
	}
}

func TestDelayBase(t *testing.T) {
	p := NewPolicy(200*time.Millisecond, time.Minute, 0)
	p.randFloat = func() float64 { return 0 }

	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(2))
	assert.Equal(t, 200*time.Millisecond, p.Delay(-3))
}

func TestDelayJitterRange(t *testing.T) {
	p := NewPolicy(time.Second, time.Minute, 0.5)
	p.randFloat = func() float64 { return 0.5 }

	// delay(0) = 1s + 0.5*0.5*1s = 1.25s
	assert.Equal(t, 1250*time.Millisecond, p.Delay(0))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNonRetryable},
		{"timeout", errors.New("request timed out"), ClassRetryable},
		{"connection reset", errors.New("read: connection reset by peer"), ClassRetryable},
		{"service unavailable", errors.New("503 service unavailable"), ClassRetryable},
		{"unauthorized", errors.New("401 unauthorized"), ClassNonRetryable},
		{"not found", errors.New("file not found"), ClassNonRetryable},
		{"bad request", errors.New("bad request: missing field"), ClassNonRetryable},
		{"malformed", errors.New("malformed payload"), ClassNonRetryable},
		{"unknown defaults to retryable", errors.New("something odd happened"), ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("timeout")))
	assert.False(t, IsRetryable(errors.New("unauthorized")))
}
