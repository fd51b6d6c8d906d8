package resilience

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// minDelay is the floor applied to every computed delay
const minDelay = time.Millisecond

// RandSource supplies jitter draws in [0, 1)
type RandSource interface {
	Float64() float64
}

// BackoffConfig holds configuration for one backoff profile
type BackoffConfig struct {
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps every computed delay
	MaxDelay time.Duration
	// Factor is the multiplier applied per attempt
	Factor float64
	// Jitter is the exclusive upper bound of the random fraction added to
	// each delay; zero disables jitter
	Jitter float64
}

// DefaultRetryBackoff returns the profile used between call retries
func DefaultRetryBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Factor:    2.0,
		Jitter:    0.3,
	}
}

// DefaultPollBackoff returns the profile used between job status polls
func DefaultPollBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 2 * time.Second,
		MaxDelay:  10 * time.Second,
		Factor:    1.5,
		Jitter:    0,
	}
}

// BackoffPolicy computes delays of the form
// min(base * factor^(n-1) * (1 + jitter), max).
// Factor is raised to at least 1+Jitter so the sequence never decreases.
type BackoffPolicy struct {
	config BackoffConfig

	mu  sync.Mutex
	rnd RandSource
}

// NewBackoffPolicy creates a policy; a nil source falls back to a seeded math/rand
func NewBackoffPolicy(config BackoffConfig, src RandSource) *BackoffPolicy {
	if config.BaseDelay <= 0 {
		config.BaseDelay = minDelay
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	if config.Factor < 1 {
		config.Factor = 2.0
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	}
	// a smaller factor lets a low draw on attempt n+1 undercut a high draw on n
	if config.Factor < 1+config.Jitter {
		config.Factor = 1 + config.Jitter
	}
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &BackoffPolicy{
		config: config,
		rnd:    src,
	}
}

// Config returns the normalized configuration
func (b *BackoffPolicy) Config() BackoffConfig {
	return b.config
}

// Delay returns the wait before attempt n+1, where n is the 1-based number
// of the attempt that just failed
func (b *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.config.BaseDelay) * math.Pow(b.config.Factor, float64(attempt-1))

	if b.config.Jitter > 0 {
		b.mu.Lock()
		jitter := b.rnd.Float64() * b.config.Jitter
		b.mu.Unlock()
		delay *= 1 + jitter
	}

	if delay > float64(b.config.MaxDelay) || math.IsInf(delay, 1) || math.IsNaN(delay) {
		delay = float64(b.config.MaxDelay)
	}

	d := time.Duration(math.Round(delay))
	if d < minDelay {
		d = minDelay
	}
	return d
}
