package upstream

import (
	"math/rand"
	"sync"
	"time"
)

// backoff tracks retry state for one server: failed spawns and failed probes
// retry with exponential backoff plus jitter, bounded by a maximum interval.
type backoff struct {
	mu          sync.Mutex
	failures    int
	lastAttempt time.Time
	maxInterval time.Duration
}

func newBackoff(maxInterval time.Duration) *backoff {
	if maxInterval <= 0 {
		maxInterval = 30 * time.Minute
	}
	return &backoff{maxInterval: maxInterval}
}

// ready reports whether a new attempt is allowed now.
func (b *backoff) ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures == 0 {
		return true
	}
	return time.Since(b.lastAttempt) >= b.intervalLocked()
}

// failure records a failed attempt.
func (b *backoff) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastAttempt = time.Now()
}

// success resets the backoff.
func (b *backoff) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// reset clears the backoff timer (the --force-retry path).
func (b *backoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastAttempt = time.Time{}
}

func (b *backoff) intervalLocked() time.Duration {
	n := b.failures - 1
	if n < 0 {
		n = 0
	}
	if n > 30 {
		n = 30 // avoid shift overflow
	}
	interval := time.Duration(1<<uint(n)) * time.Second
	if interval > b.maxInterval {
		interval = b.maxInterval
	}
	// Up to 25% jitter so a wall of failed servers does not retry in lockstep.
	jitter := time.Duration(rand.Int63n(int64(interval)/4 + 1))
	return interval + jitter
}
