package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NikhilSetiya/voxgate/pkg/errors"
	"github.com/NikhilSetiya/voxgate/pkg/resilience"
)

func TestExecute_ServerErrorsExhaustRetries(t *testing.T) {
	gen := &fakeTextGen{replies: []reply{{err: statusError(503)}}}
	env := newTestEnv(t, nil, gen, nil)

	result := env.orch.Generate(context.Background(), "summarize", GenerateOptions{})

	require.False(t, result.Ok())
	assert.Equal(t, apperrors.CodeServer, result.Failure().Code)
	assert.Equal(t, 4, result.Failure().Attempts)
	assert.Equal(t, 4, result.Attempts())
	assert.Equal(t, 4, gen.Calls())
	assert.Equal(t, []time.Duration{115 * time.Millisecond, 230 * time.Millisecond, 460 * time.Millisecond}, env.sleeper.Delays())

	stats := env.orch.Stats()
	assert.Equal(t, 1, stats.ConsecutiveFailures, "one logical call counts once")
	assert.Equal(t, 0, stats.AdmissionActive)
	assert.Equal(t, 0, stats.RateWindowCount, "failed calls are not recorded")
}

func TestExecute_FatalErrorIsNotRetried(t *testing.T) {
	gen := &fakeTextGen{replies: []reply{{err: statusError(401)}}}
	env := newTestEnv(t, nil, gen, nil)

	result := env.orch.Generate(context.Background(), "summarize", GenerateOptions{})

	require.False(t, result.Ok())
	assert.Equal(t, apperrors.CodeInvalidAPIKey, result.Failure().Code)
	assert.Equal(t, 1, result.Attempts())
	assert.Equal(t, 1, gen.Calls())
	assert.Empty(t, env.sleeper.Delays())
	assert.Equal(t, 0, env.orch.Stats().ConsecutiveFailures)
}

func TestExecute_ParseErrorIsNotRetried(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{Offset: 3}
	gen := &fakeTextGen{replies: []reply{{err: syntaxErr}}}
	env := newTestEnv(t, nil, gen, nil)

	result := env.orch.Generate(context.Background(), "summarize", GenerateOptions{})

	require.False(t, result.Ok())
	assert.Equal(t, apperrors.CodeParse, result.Failure().Code)
	assert.Equal(t, 1, gen.Calls())
}

func TestExecute_RecoversAfterTransientFailure(t *testing.T) {
	gen := &fakeTextGen{replies: []reply{
		{err: syscall.ECONNRESET},
		{text: "hello"},
	}}
	env := newTestEnv(t, nil, gen, nil)

	result := env.orch.Generate(context.Background(), "greet", GenerateOptions{})

	require.True(t, result.Ok())
	assert.Equal(t, "hello", result.Value())
	assert.Equal(t, 2, result.Attempts())
	assert.False(t, result.FromCache())

	stats := env.orch.Stats()
	assert.Equal(t, 0, stats.ConsecutiveFailures)
	assert.Equal(t, 1, stats.RateWindowCount)
	assert.Equal(t, 0, stats.AdmissionActive)
}

func TestExecute_CircuitBreakerOpensAndRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Minute

	gen := &fakeTextGen{replies: []reply{
		{err: statusError(500)},
		{err: statusError(500)},
		{text: "back"},
	}}
	env := newTestEnv(t, cfg, gen, nil)
	ctx := context.Background()

	assert.Equal(t, apperrors.CodeServer, env.orch.Generate(ctx, "a", GenerateOptions{}).Failure().Code)
	assert.Equal(t, apperrors.CodeServer, env.orch.Generate(ctx, "b", GenerateOptions{}).Failure().Code)
	assert.Equal(t, "OPEN", env.orch.Stats().BreakerState)

	rejected := env.orch.Generate(ctx, "c", GenerateOptions{})
	require.False(t, rejected.Ok())
	assert.Equal(t, apperrors.CodeCircuitBreakerOpen, rejected.Failure().Code)
	assert.Equal(t, 0, rejected.Attempts())
	assert.Equal(t, 2, gen.Calls(), "open breaker must not reach the provider")

	env.clock.Add(time.Minute + time.Second)
	assert.Equal(t, "CLOSED", env.orch.Stats().BreakerState)

	recovered := env.orch.Generate(ctx, "c", GenerateOptions{})
	require.True(t, recovered.Ok())
	assert.Equal(t, 0, env.orch.Stats().ConsecutiveFailures)
}

func TestExecute_RateLimitRejectsWithoutCalling(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 2
	gen := &fakeTextGen{}
	env := newTestEnv(t, cfg, gen, nil)
	ctx := context.Background()

	require.True(t, env.orch.Generate(ctx, "one", GenerateOptions{}).Ok())
	require.True(t, env.orch.Generate(ctx, "two", GenerateOptions{}).Ok())

	limited := env.orch.Generate(ctx, "three", GenerateOptions{})
	require.False(t, limited.Ok())
	assert.Equal(t, apperrors.CodeRateLimit, limited.Failure().Code)
	assert.Equal(t, 2, gen.Calls())

	env.clock.Add(61 * time.Second)
	assert.True(t, env.orch.Generate(ctx, "three", GenerateOptions{}).Ok())
}

func TestExecute_ReserveRateBudgetIsStrict(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 5
	cfg.MaxConcurrent = 20
	cfg.ReserveRateBudget = true
	gen := &fakeTextGen{}
	env := newTestEnv(t, cfg, gen, nil)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := string(rune('a' + i))
			if env.orch.Generate(context.Background(), prompt, GenerateOptions{}).Ok() {
				atomic.AddInt32(&ok, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), atomic.LoadInt32(&ok))
	assert.Equal(t, 5, gen.Calls())
}

func TestExecute_CacheHitBypassesCallAndLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 1
	gen := &fakeTextGen{replies: []reply{{text: "cached answer"}}}
	env := newTestEnv(t, cfg, gen, nil)
	ctx := context.Background()
	opts := GenerateOptions{Model: "m", Temperature: 0.2}

	first := env.orch.Generate(ctx, "same prompt", opts)
	require.True(t, first.Ok())

	second := env.orch.Generate(ctx, "same prompt", opts)
	require.True(t, second.Ok())
	assert.True(t, second.FromCache())
	assert.Equal(t, 0, second.Attempts())
	assert.Equal(t, "cached answer", second.Value())
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 1, env.orch.Stats().RateWindowCount)

	// different options are a different fingerprint and hit the limiter
	other := env.orch.Generate(ctx, "same prompt", GenerateOptions{Model: "m", Temperature: 0.9})
	assert.Equal(t, apperrors.CodeRateLimit, other.Failure().Code)
}

func TestExecute_CacheExpires(t *testing.T) {
	cfg := testConfig()
	cfg.CacheTTL = time.Minute
	gen := &fakeTextGen{}
	env := newTestEnv(t, cfg, gen, nil)
	ctx := context.Background()

	require.True(t, env.orch.Generate(ctx, "p", GenerateOptions{}).Ok())
	env.clock.Add(time.Minute)
	result := env.orch.Generate(ctx, "p", GenerateOptions{})
	require.True(t, result.Ok())
	assert.False(t, result.FromCache())
	assert.Equal(t, 2, gen.Calls())
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	gen := &fakeTextGen{replies: []reply{{err: statusError(502)}}}
	env := newTestEnv(t, nil, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	gen.hook = func(context.Context, int) { cancel() }

	result := env.orch.Generate(ctx, "p", GenerateOptions{})

	require.False(t, result.Ok())
	assert.Equal(t, apperrors.CodeCancelled, result.Failure().Code)
	assert.Equal(t, 1, result.Attempts())
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 0, env.orch.Stats().AdmissionActive)
	assert.Equal(t, 0, env.orch.Stats().ConsecutiveFailures)
}

func TestExecute_InFlightCallSurvivesCallerCancel(t *testing.T) {
	gen := &fakeTextGen{replies: []reply{{text: "finished"}}}
	env := newTestEnv(t, nil, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var attemptErr error
	gen.hook = func(attemptCtx context.Context, _ int) {
		cancel()
		attemptErr = attemptCtx.Err()
	}

	result := env.orch.Generate(ctx, "p", GenerateOptions{})

	require.True(t, result.Ok())
	assert.NoError(t, attemptErr)
	assert.Equal(t, "finished", result.Value())
}

func TestExecute_AttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.AttemptTimeout = 20 * time.Millisecond
	gen := &fakeTextGen{replies: []reply{{err: errors.New("request aborted")}}}
	gen.hook = func(ctx context.Context, _ int) { <-ctx.Done() }
	env := newTestEnv(t, cfg, gen, nil)

	result := env.orch.Generate(context.Background(), "p", GenerateOptions{})

	require.False(t, result.Ok())
	assert.Equal(t, apperrors.CodeTimeout, result.Failure().Code)
	assert.Equal(t, 1, env.orch.Stats().ConsecutiveFailures)
}

func TestExecute_AlreadyCancelled(t *testing.T) {
	gen := &fakeTextGen{}
	env := newTestEnv(t, nil, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := env.orch.Generate(ctx, "p", GenerateOptions{})
	assert.Equal(t, apperrors.CodeCancelled, result.Failure().Code)
	assert.Equal(t, 0, gen.Calls())
}

func TestExecute_AdmissionBoundsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	env := newTestEnv(t, cfg, nil, nil)

	var inFlight, peak int32
	call := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return int(n), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := Execute(context.Background(), env.orch.executor, Request[int]{Operation: "concurrent", Call: call})
			assert.True(t, result.Ok())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 0, env.orch.Stats().AdmissionActive)
}

func TestExecute_FatalOverride(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	calls := 0

	result := Execute(context.Background(), env.orch.executor, Request[string]{
		Operation: "upload",
		Call: func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("upstream hiccup")
		},
		Fatal: func(code apperrors.ErrorCode) bool { return code == apperrors.CodeUnknown },
	})

	require.False(t, result.Ok())
	assert.Equal(t, apperrors.CodeUnknown, result.Failure().Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, env.orch.Stats().ConsecutiveFailures)
}

func TestRunAttempt_WrapsDeadline(t *testing.T) {
	_, err := runAttempt(context.Background(), 5*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.Equal(t, apperrors.CodeTimeout, resilience.Classify(err).Code)
}
