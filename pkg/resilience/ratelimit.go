package resilience

import (
	"sync"
	"time"
)

// RateLimitConfig holds configuration for the sliding-window limiter
type RateLimitConfig struct {
	// MaxPerWindow is the number of recorded calls allowed in Window
	MaxPerWindow int
	// Window is the trailing period; defaults to one minute
	Window time.Duration
	// RecordRejected also records a timestamp when Allow rejects, so a burst
	// that keeps hitting the cap keeps pushing the window forward
	RecordRejected bool
	Clock          Clock
}

// RateLimiter enforces a cap on recorded calls in a trailing window
type RateLimiter struct {
	max            int
	window         time.Duration
	recordRejected bool
	clock          Clock

	mu         sync.Mutex
	timestamps []time.Time
}

// NewRateLimiter creates a sliding-window limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	return &RateLimiter{
		max:            config.MaxPerWindow,
		window:         config.Window,
		recordRejected: config.RecordRejected,
		clock:          config.Clock,
		timestamps:     make([]time.Time, 0, max(config.MaxPerWindow, 0)),
	}
}

// Allow prunes expired timestamps and reports whether another call fits
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.pruneLocked(now)

	allowed := len(rl.timestamps) < rl.max
	if !allowed && rl.recordRejected {
		rl.timestamps = append(rl.timestamps, now)
	}
	return allowed
}

// Record appends the current time to the window unconditionally
func (rl *RateLimiter) Record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.timestamps = append(rl.timestamps, rl.clock.Now())
}

// Reserve checks and records in one critical section. It is the strict
// variant for callers that must never overshoot the cap.
func (rl *RateLimiter) Reserve() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.pruneLocked(now)

	if len(rl.timestamps) >= rl.max {
		if rl.recordRejected {
			rl.timestamps = append(rl.timestamps, now)
		}
		return false
	}
	rl.timestamps = append(rl.timestamps, now)
	return true
}

// Count returns the number of calls in the current window
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pruneLocked(rl.clock.Now())
	return len(rl.timestamps)
}

// Limit returns the configured cap
func (rl *RateLimiter) Limit() int {
	return rl.max
}

// pruneLocked drops timestamps at or beyond the window edge. Timestamps are
// appended in order so the expired ones form a prefix.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.timestamps) && !rl.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.timestamps = append(rl.timestamps[:0], rl.timestamps[i:]...)
	}
}
