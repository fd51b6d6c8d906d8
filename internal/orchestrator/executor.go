package orchestrator

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/voxgate/internal/cache"
	"github.com/NikhilSetiya/voxgate/pkg/errors"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
	"github.com/NikhilSetiya/voxgate/pkg/metrics"
	"github.com/NikhilSetiya/voxgate/pkg/resilience"
	"github.com/NikhilSetiya/voxgate/pkg/tracing"
)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecutorConfig holds the retry settings shared by every call
type ExecutorConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// AttemptTimeout bounds each individual external call
	AttemptTimeout time.Duration
	// ReserveRateBudget takes the rate budget up front with an atomic
	// check-and-record instead of recording after a successful call
	ReserveRateBudget bool
	Backoff           resilience.BackoffConfig
}

// Executor runs external calls through the cache, circuit breaker, rate
// limiter and admission gate, retrying retryable failures with backoff.
type Executor struct {
	config    ExecutorConfig
	breaker   *resilience.CircuitBreaker
	limiter   *resilience.RateLimiter
	admission *resilience.AdmissionController
	cache     *cache.ResponseCache
	backoff   *resilience.BackoffPolicy
	clock     resilience.Clock
	sleep     Sleeper
	metrics   *metrics.Metrics
	tracer    oteltrace.Tracer
	logger    *logging.Logger
}

// Request describes one logical call
type Request[T any] struct {
	// Operation names the call for logs, metrics and spans
	Operation string
	// CacheKey enables response caching when non-empty
	CacheKey string
	Call     func(ctx context.Context) (T, error)
	// Fatal marks additional codes that must not be retried for this call
	Fatal func(errors.ErrorCode) bool
}

// Execute runs req under the executor's resilience policy. Cancellation of
// ctx is observed before each attempt and during waits; an attempt that is
// already in flight runs to completion or its own timeout.
func Execute[T any](ctx context.Context, e *Executor, req Request[T]) Result[T] {
	ctx, span := e.tracer.Start(ctx, "execute."+req.Operation,
		oteltrace.WithAttributes(attribute.String("call.operation", req.Operation)),
	)
	defer span.End()

	start := e.clock.Now()
	result := execute(ctx, e, req)

	outcome := "success"
	if f := result.Failure(); f != nil {
		outcome = string(f.Code)
		tracing.RecordError(span, f.Err)
		e.metrics.RecordError("executor", outcome)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("call.attempts", result.Attempts()),
		attribute.Bool("call.cached", result.FromCache()),
	)
	if !result.FromCache() {
		e.metrics.RecordCall(req.Operation, outcome, result.Attempts(), e.clock.Now().Sub(start))
	}

	return result
}

func execute[T any](ctx context.Context, e *Executor, req Request[T]) Result[T] {
	if req.CacheKey != "" && e.cache != nil {
		if cached, ok := e.cache.Get(req.CacheKey); ok {
			if value, ok := cached.(T); ok {
				e.metrics.RecordCacheLookup(req.Operation, true)
				e.logger.WithContext(ctx).WithField("operation", req.Operation).Debug("Response cache hit")
				return Cached(value)
			}
		}
		e.metrics.RecordCacheLookup(req.Operation, false)
	}

	if e.breaker.IsOpen() {
		return Fail[T](errors.NewCircuitBreakerOpenError(e.breaker.Name()))
	}

	reserved := false
	if e.config.ReserveRateBudget {
		if !e.limiter.Reserve() {
			e.metrics.RecordRateLimited(req.Operation)
			return Fail[T](rateLimitError(e.limiter))
		}
		reserved = true
	} else if !e.limiter.Allow() {
		e.metrics.RecordRateLimited(req.Operation)
		return Fail[T](rateLimitError(e.limiter))
	}

	if err := e.admission.Acquire(ctx); err != nil {
		return Fail[T](errors.NewCancelledError(req.Operation).WithCause(err))
	}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(e.admission.Release) }
	defer release()

	maxAttempts := e.config.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Fail[T](errors.NewCancelledError(req.Operation).WithCause(err).WithAttempts(attempt - 1))
		}

		value, err := runAttempt(ctx, e.config.AttemptTimeout, req.Call)
		if err == nil {
			e.breaker.RecordSuccess()
			release()
			if !reserved {
				e.limiter.Record()
			}
			if req.CacheKey != "" && e.cache != nil {
				e.cache.Put(req.CacheKey, value)
			}
			if attempt > 1 {
				e.logger.LogCallEvent(ctx, "recovered", req.Operation, attempt, nil)
			}
			return Success(value, attempt)
		}

		appErr := resilience.ToAppError(err)
		fatal := !appErr.Retryable() || (req.Fatal != nil && req.Fatal(appErr.Code))
		if fatal || attempt == maxAttempts {
			release()
			if !fatal {
				// one increment per logical call that exhausted its retries
				e.breaker.RecordFailure()
			}
			e.logger.LogCallEvent(ctx, "failed", req.Operation, attempt, logrus.Fields{
				"code":  appErr.Code,
				"error": appErr.Message,
			})
			return Fail[T](appErr.WithAttempts(attempt))
		}

		delay := e.backoff.Delay(attempt)
		e.logger.WithContext(ctx).WithFields(logrus.Fields{
			"operation": req.Operation,
			"attempt":   attempt,
			"code":      appErr.Code,
			"delay":     delay.String(),
		}).Warn("Call failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return Fail[T](errors.NewCancelledError(req.Operation).WithCause(err).WithAttempts(attempt))
		}
	}

	// unreachable: the loop always returns on its last attempt
	return Fail[T](errors.NewUnknownError("retry loop exited without a result"))
}

// runAttempt invokes call under the per-attempt timeout. The attempt context
// keeps ctx's values but not its cancellation.
func runAttempt[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	value, err := call(attemptCtx)
	if err != nil && stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return value, errors.NewTimeoutError("call").WithCause(err)
	}
	return value, err
}

func rateLimitError(limiter *resilience.RateLimiter) *errors.AppError {
	return errors.NewRateLimitError("local request budget exhausted, retry later").
		WithDetail("limit", strconv.Itoa(limiter.Limit()))
}
