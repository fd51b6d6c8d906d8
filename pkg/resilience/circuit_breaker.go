package resilience

import (
	"sync"
	"time"

	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// Threshold is the number of consecutive failed calls that trips the breaker
	Threshold int
	// Cooldown is how long the breaker stays open after tripping
	Cooldown time.Duration
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
	Clock         Clock
}

// Snapshot is a point-in-time copy of the breaker state
type Snapshot struct {
	State               CircuitState
	ConsecutiveFailures int
	TrippedAt           time.Time
}

// CircuitBreaker counts consecutive failed calls and rejects calls for a
// cooldown once the count reaches the threshold. There is no background
// timer: the open->closed transition is evaluated lazily on each check.
type CircuitBreaker struct {
	name          string
	threshold     int
	cooldown      time.Duration
	onStateChange func(name string, from CircuitState, to CircuitState)
	clock         Clock

	mutex               sync.Mutex
	state               CircuitState
	consecutiveFailures int
	trippedAt           time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	return &CircuitBreaker{
		name:          config.Name,
		threshold:     config.Threshold,
		cooldown:      config.Cooldown,
		onStateChange: config.OnStateChange,
		clock:         config.Clock,
		state:         StateClosed,
		logger:        logging.GetLogger(),
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state, closing an expired open circuit first
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.currentState(cb.clock.Now())
}

// IsOpen reports whether calls must currently be rejected
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// RecordSuccess resets the consecutive failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures = 0
}

// RecordFailure counts one failed logical call and trips the breaker once
// the threshold is reached
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.clock.Now()
	state := cb.currentState(now)
	cb.consecutiveFailures++

	if state == StateClosed && cb.consecutiveFailures >= cb.threshold {
		cb.trippedAt = now
		cb.setState(StateOpen)
	}
}

// Snapshot returns a copy of the breaker state
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentState(cb.clock.Now())
	return Snapshot{
		State:               state,
		ConsecutiveFailures: cb.consecutiveFailures,
		TrippedAt:           cb.trippedAt,
	}
}

// Reset forces the breaker closed and clears the failure count
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures = 0
	cb.trippedAt = time.Time{}
	cb.setState(StateClosed)
}

// currentState closes the circuit once the cooldown has fully elapsed. The
// failure count is kept, so the first failure after reopening trips it again
// while a success clears it.
func (cb *CircuitBreaker) currentState(now time.Time) CircuitState {
	if cb.state == StateOpen && now.Sub(cb.trippedAt) > cb.cooldown {
		cb.trippedAt = time.Time{}
		cb.setState(StateClosed)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
	)
}
