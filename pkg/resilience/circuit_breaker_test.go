package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(clock Clock, transitions *[]CircuitState) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:      "test-cb",
		Threshold: 3,
		Cooldown:  time.Minute,
		Clock:     clock,
		OnStateChange: func(name string, from, to CircuitState) {
			if transitions != nil {
				*transitions = append(*transitions, to)
			}
		},
	})
}

func TestCircuitBreaker_DefaultBehavior(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), nil)

	assert.Equal(t, StateClosed, cb.State())
	assert.False(t, cb.IsOpen())
	assert.Equal(t, "test-cb", cb.Name())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	clock := newFakeClock()
	var transitions []CircuitState
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	snap := cb.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, clock.Now(), snap.TrippedAt)
	assert.Equal(t, []CircuitState{StateOpen}, transitions)

	// still open right up to the cooldown edge
	clock.Add(time.Minute)
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_LazyResetAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	var transitions []CircuitState
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Add(time.Minute + time.Millisecond)

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Snapshot().TrippedAt.IsZero())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
	assert.Equal(t, []CircuitState{StateOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_FailureAfterCooldownRetrips(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Add(2 * time.Minute)
	assert.False(t, cb.IsOpen())

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	assert.Equal(t, clock.Now(), cb.Snapshot().TrippedAt)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), nil)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(9).String())
}
