package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

func newTestClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// recordingSleeper advances the test clock instead of sleeping
type recordingSleeper struct {
	clock *clock.Mock

	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.clock.Add(d)
	return nil
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// statusError mimics a provider HTTP error
type statusError int

func (e statusError) Error() string   { return fmt.Sprintf("provider returned status %d", int(e)) }
func (e statusError) StatusCode() int { return int(e) }

type reply struct {
	text string
	err  error
}

// fakeTextGen replays scripted replies; the last one repeats
type fakeTextGen struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	prompts []string
	hook    func(ctx context.Context, call int)
}

func (f *fakeTextGen) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, prompt)
	r := reply{text: "ok"}
	if len(f.replies) > 0 {
		idx := call - 1
		if idx >= len(f.replies) {
			idx = len(f.replies) - 1
		}
		r = f.replies[idx]
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	return r.text, r.err
}

func (f *fakeTextGen) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeTranscriber replays scripted upload errors and job statuses
type fakeTranscriber struct {
	mu           sync.Mutex
	uploadErrs   []error
	createErr    error
	statuses     []JobStatus
	statusErrs   map[int]error
	uploads      int
	creates      int
	statusCalls  int
	deleted      []string
	onStatusCall func(call int)
}

func (f *fakeTranscriber) Upload(ctx context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads++
	if f.uploads <= len(f.uploadErrs) && f.uploadErrs[f.uploads-1] != nil {
		return "", f.uploadErrs[f.uploads-1]
	}
	return "https://cdn.example.test/upload/1", nil
}

func (f *fakeTranscriber) CreateJob(ctx context.Context, handle string, opts TranscribeOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "job-1", nil
}

func (f *fakeTranscriber) GetJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	hook := f.onStatusCall
	var status JobStatus
	if len(f.statuses) > 0 {
		idx := call - 1
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status = f.statuses[idx]
	}
	err := f.statusErrs[call]
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return JobStatus{}, err
	}
	status.ID = jobID
	return status, nil
}

func (f *fakeTranscriber) DeleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeTranscriber) counts() (uploads, creates, statusCalls int, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.creates, f.statusCalls, append([]string(nil), f.deleted...)
}

func statusSeq(states ...JobState) []JobStatus {
	out := make([]JobStatus, len(states))
	for i, s := range states {
		out[i] = JobStatus{Status: s}
		if s == JobCompleted {
			out[i].Text = "turn on the kitchen lights"
			out[i].Confidence = 0.93
		}
	}
	return out
}

type testEnv struct {
	orch    *Orchestrator
	clock   *clock.Mock
	sleeper *recordingSleeper
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	cfg.RequestsPerMinute = 100
	cfg.BreakerThreshold = 3
	cfg.MaxRetries = 3
	cfg.AttemptTimeout = time.Second
	cfg.MaxPollAttempts = 10
	cfg.RetryBackoff.BaseDelay = 100 * time.Millisecond
	cfg.RetryBackoff.MaxDelay = time.Second
	return cfg
}

func newTestEnv(t *testing.T, cfg *Config, textGen TextGenerator, transcriber Transcriber) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	clock := newTestClock()
	sleeper := &recordingSleeper{clock: clock}
	orch := New(cfg, textGen, transcriber,
		WithClock(clock),
		WithRandSource(fixedRand(0.5)),
		WithSleeper(sleeper.Sleep),
		WithLogger(quietLogger(t)),
	)
	t.Cleanup(orch.Close)
	return &testEnv{orch: orch, clock: clock, sleeper: sleeper}
}

// progressLog collects progress updates
type progressLog struct {
	mu      sync.Mutex
	updates []Progress
}

func (p *progressLog) OnProgress(u Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *progressLog) Updates() []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Progress(nil), p.updates...)
}

func (p *progressLog) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return ""
	}
	return p.updates[0].RunID
}
