// Package resilience provides the building blocks voxgate wraps around every
// outbound call to a text-generation or transcription provider.
//
// # Error Classification
//
// Classify maps a raw failure (an AppError, a transport status code, a
// timeout, a network error, a malformed payload) to a taxonomy code and a
// retry verdict:
//
//	c := resilience.Classify(err)
//	if !c.Retryable {
//		return err
//	}
//
// # Backoff
//
// BackoffPolicy computes min(base * factor^(n-1) * (1 + jitter), max). The
// random source is injected so tests can assert exact delays. Two profiles
// are used: jittered call retries and non-jittered job polling.
//
//	b := resilience.NewBackoffPolicy(resilience.DefaultRetryBackoff(), nil)
//	time.Sleep(b.Delay(attempt))
//
// # Rate Limiting
//
// RateLimiter keeps the timestamps of recorded calls in a trailing window
// and rejects once the cap is reached. Allow and Record are separate so cache
// hits never consume budget; Reserve does both atomically.
//
// # Circuit Breaker
//
// CircuitBreaker counts consecutive failed logical calls. At the threshold it
// opens and rejects everything until the cooldown has elapsed, which is
// checked lazily on the next call.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:      "textgen",
//		Threshold: 5,
//		Cooldown:  time.Minute,
//	})
//	if cb.IsOpen() {
//		return errors.NewCircuitBreakerOpenError(cb.Name())
//	}
//
// # Admission Control
//
// AdmissionController bounds in-flight calls and admits waiters strictly in
// arrival order. Every successful Acquire must be paired with one Release.
//
//	if err := ac.Acquire(ctx); err != nil {
//		return err
//	}
//	defer ac.Release()
//
// # Alerts
//
// AlertManager fans alerts out to handlers with a per-source cap.
// BreakerAlerts plugs it into CircuitBreakerConfig.OnStateChange.
//
// All types are safe for concurrent use.
package resilience
