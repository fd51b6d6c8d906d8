package resilience

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// AdmissionController bounds the number of concurrently running calls.
// Callers beyond the capacity queue in arrival order on a weighted
// semaphore; a release wakes the oldest waiter so late arrivals cannot
// overtake.
type AdmissionController struct {
	maxConcurrent int
	sem           *semaphore.Weighted

	mu      sync.Mutex
	active  int
	waiting int
}

// NewAdmissionController creates a gate with the given capacity
func NewAdmissionController(maxConcurrent int) *AdmissionController {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &AdmissionController{
		maxConcurrent: maxConcurrent,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Acquire takes a slot, suspending until one is available or ctx is done.
// On a ctx error no slot is held, even when the slot was granted while the
// caller was giving up.
func (ac *AdmissionController) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// TryAcquire fails while anyone is queued, which keeps arrival order
	if ac.sem.TryAcquire(1) {
		ac.mu.Lock()
		ac.active++
		ac.mu.Unlock()
		return nil
	}

	ac.mu.Lock()
	ac.waiting++
	ac.mu.Unlock()

	err := ac.sem.Acquire(ctx, 1)

	ac.mu.Lock()
	ac.waiting--
	if err == nil {
		ac.active++
	}
	ac.mu.Unlock()
	return err
}

// Release returns a slot, waking the longest-waiting caller if any. A
// release without a held slot is ignored.
func (ac *AdmissionController) Release() {
	ac.mu.Lock()
	if ac.active == 0 {
		ac.mu.Unlock()
		return
	}
	ac.active--
	ac.mu.Unlock()

	ac.sem.Release(1)
}

// Active returns the number of slots currently held
func (ac *AdmissionController) Active() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.active
}

// Waiting returns the number of queued callers
func (ac *AdmissionController) Waiting() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.waiting
}

// Capacity returns the configured maximum
func (ac *AdmissionController) Capacity() int {
	return ac.maxConcurrent
}
