package resilience

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock supplies the current time. Breaker and limiter decisions are taken
// against it so tests can move time without sleeping. It is the subset of
// clock.Clock the package needs; *clock.Mock satisfies it.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock
func SystemClock() Clock {
	return clock.New()
}
