package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_ExactSequence(t *testing.T) {
	b := NewBackoffPolicy(BackoffConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Factor:    2,
		Jitter:    0.3,
	}, fixedRand(0.5))

	// jitter = 0.5 * 0.3 = 0.15
	assert.Equal(t, 115*time.Millisecond, b.Delay(1))
	assert.Equal(t, 230*time.Millisecond, b.Delay(2))
	assert.Equal(t, 460*time.Millisecond, b.Delay(3))
	assert.Equal(t, 920*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(5))
}

func TestBackoffPolicy_NonDecreasingAndCapped(t *testing.T) {
	for _, draw := range []float64{0, 0.25, 0.5, 0.999} {
		b := NewBackoffPolicy(DefaultRetryBackoff(), fixedRand(draw))
		prev := time.Duration(0)
		for n := 1; n <= 20; n++ {
			d := b.Delay(n)
			assert.GreaterOrEqual(t, d, prev, "attempt %d draw %v", n, draw)
			assert.LessOrEqual(t, d, DefaultRetryBackoff().MaxDelay)
			prev = d
		}
	}
}

// seqRand returns its draws in order, repeating the last one
type seqRand struct {
	draws []float64
	i     int
}

func (r *seqRand) Float64() float64 {
	d := r.draws[r.i]
	if r.i < len(r.draws)-1 {
		r.i++
	}
	return d
}

func TestBackoffPolicy_FactorRaisedToCoverJitter(t *testing.T) {
	b := NewBackoffPolicy(BackoffConfig{
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
		Factor:    1.2,
		Jitter:    0.3,
	}, &seqRand{draws: []float64{0.99, 0}})

	assert.Equal(t, 1.3, b.Config().Factor)

	first := b.Delay(1)
	second := b.Delay(2)
	assert.Equal(t, 1297*time.Millisecond, first)
	assert.Equal(t, 1300*time.Millisecond, second)
	assert.GreaterOrEqual(t, second, first)
}

func TestBackoffPolicy_PollProfileHasNoJitter(t *testing.T) {
	b := NewBackoffPolicy(DefaultPollBackoff(), fixedRand(0.9))

	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(2))
	assert.Equal(t, 4500*time.Millisecond, b.Delay(3))
	assert.Equal(t, 10*time.Second, b.Delay(10))
}

func TestBackoffPolicy_NeverZero(t *testing.T) {
	b := NewBackoffPolicy(BackoffConfig{}, fixedRand(0))

	for n := -1; n <= 3; n++ {
		assert.Greater(t, b.Delay(n), time.Duration(0))
	}
}

func TestBackoffPolicy_DefaultRandSource(t *testing.T) {
	cfg := DefaultRetryBackoff()
	b := NewBackoffPolicy(cfg, nil)

	d := b.Delay(1)
	assert.GreaterOrEqual(t, d, cfg.BaseDelay)
	assert.Less(t, d, time.Duration(float64(cfg.BaseDelay)*1.3))
}
