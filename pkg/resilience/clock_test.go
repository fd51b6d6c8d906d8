package resilience

import (
	"time"

	"github.com/benbjohnson/clock"
)

func newFakeClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

// fixedRand returns the same draw every time
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }
