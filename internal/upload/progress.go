package upload

import (
	"sync"
	"time"
)

// Progress is a point-in-time view of a running upload.
type Progress struct {
	Path          string        `json:"path"`
	UploadedBytes int64         `json:"uploaded_bytes"`
	TotalBytes    int64         `json:"total_bytes"`
	BytesPerSec   float64       `json:"bytes_per_sec"`
	Remaining     time.Duration `json:"remaining"`
}

type sample struct {
	at    time.Time
	bytes int64
}

// tracker computes transfer rate from a sliding window of chunk completions.
type tracker struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
	now     func() time.Time
}

func newTracker(window time.Duration) *tracker {
	return &tracker{window: window, now: time.Now}
}

// Add records bytes transferred at the current instant.
func (t *tracker) Add(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: t.now(), bytes: bytes})
	t.trim()
}

// Rate returns bytes per second over the window, zero until two samples land.
func (t *tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trim()
	if len(t.samples) == 0 {
		return 0
	}

	elapsed := t.now().Sub(t.samples[0].at)
	if elapsed <= 0 {
		return 0
	}
	var total int64
	for _, s := range t.samples {
		total += s.bytes
	}
	return float64(total) / elapsed.Seconds()
}

func (t *tracker) trim() {
	cutoff := t.now().Add(-t.window)
	for len(t.samples) > 0 && t.samples[0].at.Before(cutoff) {
		t.samples = t.samples[1:]
	}
}

// estimate extrapolates remaining time linearly from the current rate.
func estimate(remaining int64, rate float64) time.Duration {
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}
