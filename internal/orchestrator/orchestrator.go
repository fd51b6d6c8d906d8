package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/voxgate/internal/cache"
	appconfig "github.com/NikhilSetiya/voxgate/pkg/config"
	"github.com/NikhilSetiya/voxgate/pkg/errors"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
	"github.com/NikhilSetiya/voxgate/pkg/metrics"
	"github.com/NikhilSetiya/voxgate/pkg/resilience"
)

const defaultIntentInstructions = "Analyze the following transcript and respond with a single JSON object describing the speaker's intent."

// Config contains orchestration configuration
type Config struct {
	MaxConcurrent     int           `json:"max_concurrent"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	RecordRejected    bool          `json:"record_rejected"`
	ReserveRateBudget bool          `json:"reserve_rate_budget"`
	BreakerThreshold  int           `json:"breaker_threshold"`
	BreakerCooldown   time.Duration `json:"breaker_cooldown"`
	CacheCapacity     int           `json:"cache_capacity"`
	CacheTTL          time.Duration `json:"cache_ttl"`
	MaxRetries        int           `json:"max_retries"`
	AttemptTimeout    time.Duration `json:"attempt_timeout"`
	MaxPollAttempts   int           `json:"max_poll_attempts"`
	MaxStatusErrors   int           `json:"max_status_errors"`
	DeleteJobOnAbort  bool          `json:"delete_job_on_abort"`
	MaxAudioBytes     int           `json:"max_audio_bytes"`
	RunRetention      time.Duration `json:"run_retention"`

	RetryBackoff resilience.BackoffConfig `json:"retry_backoff"`
	PollBackoff  resilience.BackoffConfig `json:"poll_backoff"`
}

// DefaultConfig returns default orchestration configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:     3,
		RequestsPerMinute: 60,
		BreakerThreshold:  5,
		BreakerCooldown:   time.Minute,
		CacheCapacity:     100,
		CacheTTL:          time.Hour,
		MaxRetries:        3,
		AttemptTimeout:    30 * time.Second,
		MaxPollAttempts:   60,
		MaxStatusErrors:   3,
		DeleteJobOnAbort:  true,
		MaxAudioBytes:     100 << 20,
		RunRetention:      15 * time.Minute,
		RetryBackoff:      resilience.DefaultRetryBackoff(),
		PollBackoff:       resilience.DefaultPollBackoff(),
	}
}

// ConfigFromSettings converts the loaded application settings
func ConfigFromSettings(s appconfig.OrchestratorConfig) *Config {
	return &Config{
		MaxConcurrent:     s.MaxConcurrent,
		RequestsPerMinute: s.RequestsPerMinute,
		RecordRejected:    s.RecordRejected,
		ReserveRateBudget: s.ReserveRateBudget,
		BreakerThreshold:  s.BreakerThreshold,
		BreakerCooldown:   s.BreakerCooldown,
		CacheCapacity:     s.CacheCapacity,
		CacheTTL:          s.CacheTTL,
		MaxRetries:        s.MaxRetries,
		AttemptTimeout:    s.AttemptTimeout,
		MaxPollAttempts:   s.MaxPollAttempts,
		MaxStatusErrors:   s.MaxStatusErrors,
		DeleteJobOnAbort:  s.DeleteJobOnAbort,
		MaxAudioBytes:     s.MaxAudioBytes,
		RunRetention:      s.RunRetention,
		RetryBackoff: resilience.BackoffConfig{
			BaseDelay: s.RetryBaseDelay,
			MaxDelay:  s.RetryMaxDelay,
			Factor:    s.RetryFactor,
			Jitter:    s.RetryJitter,
		},
		PollBackoff: resilience.BackoffConfig{
			BaseDelay: s.PollInitialDelay,
			MaxDelay:  s.PollMaxDelay,
			Factor:    s.PollFactor,
		},
	}
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock
func WithClock(clock resilience.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithRandSource replaces the backoff jitter source
func WithRandSource(src resilience.RandSource) Option {
	return func(o *Orchestrator) { o.rand = src }
}

// WithSleeper replaces the wait used between retries and polls
func WithSleeper(sleep Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithMetrics records Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer replaces the global OpenTelemetry tracer
func WithTracer(tracer oteltrace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithAlerts raises alerts on circuit breaker transitions
func WithAlerts(alerts *resilience.AlertManager) Option {
	return func(o *Orchestrator) { o.alerts = alerts }
}

// WithLogger replaces the global logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator owns the process-wide resilience state and exposes the
// generation and transcription operations
type Orchestrator struct {
	config      *Config
	textGen     TextGenerator
	transcriber Transcriber

	breaker   *resilience.CircuitBreaker
	limiter   *resilience.RateLimiter
	admission *resilience.AdmissionController
	cache     *cache.ResponseCache
	executor  *Executor
	poller    *JobPoller

	clock   resilience.Clock
	rand    resilience.RandSource
	sleep   Sleeper
	metrics *metrics.Metrics
	alerts  *resilience.AlertManager
	tracer  oteltrace.Tracer
	logger  *logging.Logger

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// New creates an orchestrator. Either provider may be nil when the
// corresponding operations are not used.
func New(config *Config, textGen TextGenerator, transcriber Transcriber, opts ...Option) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}

	o := &Orchestrator{
		config:      config,
		textGen:     textGen,
		transcriber: transcriber,
		clock:       resilience.SystemClock(),
		sleep:       sleepContext,
		runs:        make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/NikhilSetiya/voxgate/internal/orchestrator")
	}
	if o.logger == nil {
		o.logger = logging.GetLogger()
	}

	var alert func(name string, from, to resilience.CircuitState)
	if o.alerts != nil {
		alert = o.alerts.BreakerAlerts()
	}
	o.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:      "providers",
		Threshold: config.BreakerThreshold,
		Cooldown:  config.BreakerCooldown,
		Clock:     o.clock,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			o.metrics.RecordBreakerState(name, to == resilience.StateOpen)
			if alert != nil {
				alert(name, from, to)
			}
		},
	})
	o.limiter = resilience.NewRateLimiter(resilience.RateLimitConfig{
		MaxPerWindow:   config.RequestsPerMinute,
		Window:         time.Minute,
		RecordRejected: config.RecordRejected,
		Clock:          o.clock,
	})
	o.admission = resilience.NewAdmissionController(config.MaxConcurrent)
	o.cache = cache.New(&cache.Config{Capacity: config.CacheCapacity, TTL: config.CacheTTL}, o.clock)

	o.executor = &Executor{
		config: ExecutorConfig{
			MaxRetries:        config.MaxRetries,
			AttemptTimeout:    config.AttemptTimeout,
			ReserveRateBudget: config.ReserveRateBudget,
			Backoff:           config.RetryBackoff,
		},
		breaker:   o.breaker,
		limiter:   o.limiter,
		admission: o.admission,
		cache:     o.cache,
		backoff:   resilience.NewBackoffPolicy(config.RetryBackoff, o.rand),
		clock:     o.clock,
		sleep:     o.sleep,
		metrics:   o.metrics,
		tracer:    o.tracer,
		logger:    o.logger,
	}
	o.poller = &JobPoller{
		config: PollerConfig{
			MaxPollAttempts: config.MaxPollAttempts,
			MaxStatusErrors: max(config.MaxStatusErrors, 1),
			DeleteOnAbort:   config.DeleteJobOnAbort,
			Backoff:         config.PollBackoff,
		},
		transcriber:    transcriber,
		executor:       o.executor,
		backoff:        resilience.NewBackoffPolicy(config.PollBackoff, o.rand),
		admission:      o.admission,
		clock:          o.clock,
		sleep:          o.sleep,
		metrics:        o.metrics,
		tracer:         o.tracer,
		logger:         o.logger,
		attemptTimeout: config.AttemptTimeout,
		background:     &o.wg,
	}

	return o
}

// Generate runs one text generation call. Identical prompts with identical
// options are served from the response cache until the entry expires.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, opts GenerateOptions) Result[string] {
	result, _ := o.generate(ctx, "generate", prompt, opts)
	return result
}

func (o *Orchestrator) generate(ctx context.Context, operation, prompt string, opts GenerateOptions) (Result[string], string) {
	if o.textGen == nil {
		return Fail[string](errors.NewValidationError("no text generation provider configured")), ""
	}
	if strings.TrimSpace(prompt) == "" {
		return Fail[string](errors.NewValidationError("prompt is required")), ""
	}

	ctx = o.ensureRequestID(ctx)
	key, err := cache.Fingerprint(operation, prompt, opts)
	if err != nil {
		// uncacheable input still gets answered
		o.logger.WithContext(ctx).WithError(err).Warn("Failed to fingerprint request")
		key = ""
	}

	return Execute(ctx, o.executor, Request[string]{
		Operation: operation,
		CacheKey:  key,
		Call: func(ctx context.Context) (string, error) {
			return o.textGen.Generate(ctx, prompt, opts)
		},
	}), key
}

// AnalyzeIntent asks the text generator for a JSON description of the
// transcript's intent. A malformed reply gets one extraction pass before
// failing with PARSE_ERROR; it is never retried.
func (o *Orchestrator) AnalyzeIntent(ctx context.Context, transcript string, opts IntentOptions) Result[Intent] {
	if strings.TrimSpace(transcript) == "" {
		return Fail[Intent](errors.NewValidationError("transcript is required"))
	}

	instructions := opts.Instructions
	if instructions == "" {
		instructions = defaultIntentInstructions
	}
	genOpts := opts.Generate
	if genOpts.ResponseMIMEType == "" {
		genOpts.ResponseMIMEType = "application/json"
	}

	prompt := fmt.Sprintf("%s\n\nTranscript:\n%s", instructions, transcript)
	generated, key := o.generate(ctx, "intent", prompt, genOpts)
	if !generated.Ok() {
		return failAs[Intent](generated)
	}

	intent, err := parseIntent(generated.Value())
	if err != nil {
		// a cached malformed reply would fail the same way every time
		if key != "" {
			o.cache.Delete(key)
		}
		o.logger.WithContext(ctx).WithFields(logrus.Fields{
			"response_length": len(generated.Value()),
		}).Warn("Intent response could not be parsed")
		return Fail[Intent](errors.NewParseError("intent response is not a JSON object").
			WithCause(err).
			WithAttempts(generated.Attempts()))
	}

	if generated.FromCache() {
		return Cached(intent)
	}
	return Success(intent, generated.Attempts())
}

// parseIntent decodes text as a JSON object, falling back to the first
// balanced object found after stripping markdown code fences
func parseIntent(text string) (Intent, error) {
	var intent Intent
	err := json.Unmarshal([]byte(strings.TrimSpace(text)), &intent)
	if err == nil && intent != nil {
		return intent, nil
	}

	candidate, ok := extractJSONObject(stripCodeFences(text))
	if !ok {
		if err == nil {
			err = fmt.Errorf("response is not a JSON object")
		}
		return nil, err
	}

	intent = nil
	if err := json.Unmarshal([]byte(candidate), &intent); err != nil {
		return nil, err
	}
	return intent, nil
}

func stripCodeFences(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// extractJSONObject returns the first balanced {...} span, ignoring braces
// inside string literals
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Transcribe runs a transcription job to completion. The run can be
// cancelled through ctx or Cancel; the observer receives progress updates.
func (o *Orchestrator) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions, observer ProgressObserver) Result[Transcript] {
	run, err := o.startRun(ctx, RunTranscribe, audio, opts, IntentOptions{}, observer)
	if err != nil {
		return Fail[Transcript](err)
	}
	return run.Transcript()
}

// TranscribeAndAnalyze transcribes audio and then analyzes the intent of
// the transcript, reporting progress across both stages
func (o *Orchestrator) TranscribeAndAnalyze(ctx context.Context, audio []byte, opts TranscribeOptions, intentOpts IntentOptions, observer ProgressObserver) Result[Analysis] {
	run, err := o.startRun(ctx, RunTranscribeAndAnalyze, audio, opts, intentOpts, observer)
	if err != nil {
		return Fail[Analysis](err)
	}
	return run.Analysis()
}

// Start launches a run in the background and returns it immediately. The
// run is detached from ctx's cancellation but keeps its values.
func (o *Orchestrator) Start(ctx context.Context, kind RunKind, audio []byte, opts TranscribeOptions, intentOpts IntentOptions, observer ProgressObserver) (*Run, error) {
	run, err := o.startRun(context.WithoutCancel(ctx), kind, audio, opts, intentOpts, observer)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) startRun(ctx context.Context, kind RunKind, audio []byte, opts TranscribeOptions, intentOpts IntentOptions, observer ProgressObserver) (*Run, *errors.AppError) {
	if o.transcriber == nil {
		return nil, errors.NewValidationError("no transcription provider configured")
	}
	if kind == RunTranscribeAndAnalyze && o.textGen == nil {
		return nil, errors.NewValidationError("no text generation provider configured")
	}
	if len(audio) == 0 {
		return nil, errors.NewValidationError("audio is required")
	}
	if o.config.MaxAudioBytes > 0 && len(audio) > o.config.MaxAudioBytes {
		return nil, errors.NewPayloadTooLargeError(
			fmt.Sprintf("audio is %d bytes, limit is %d", len(audio), o.config.MaxAudioBytes))
	}

	runID := uuid.New().String()
	ctx = logging.WithRunID(o.ensureRequestID(ctx), runID)
	ctx, cancel := context.WithCancel(ctx)

	run := &Run{
		ID:        runID,
		Kind:      kind,
		StartedAt: o.clock.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	run.progress = newProgressReporter(runID, o.clock, observer)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, errors.NewCancelledError("orchestrator is closed")
	}
	o.pruneRunsLocked()
	o.runs[runID] = run
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.WithContext(ctx).WithField("kind", kind).Info("Run started")

	go func() {
		defer o.wg.Done()
		defer cancel()
		o.execRun(ctx, run, audio, opts, intentOpts)
	}()

	return run, nil
}

func (o *Orchestrator) execRun(ctx context.Context, run *Run, audio []byte, opts TranscribeOptions, intentOpts IntentOptions) {
	transcribeBand := 1.0
	if run.Kind == RunTranscribeAndAnalyze {
		transcribeBand = 0.8
	}

	transcript := o.poller.Run(ctx, audio, opts, run.progress.scope(0, transcribeBand))
	if run.Kind == RunTranscribe || !transcript.Ok() {
		var analysis Result[Analysis]
		if !transcript.Ok() {
			analysis = failAs[Analysis](transcript)
		}
		run.finish(o.clock.Now(), transcript, analysis)
		o.logRunFinished(ctx, run)
		return
	}

	if err := ctx.Err(); err != nil {
		cancelled := errors.NewCancelledError("analysis").WithCause(err)
		run.finish(o.clock.Now(), transcript, Fail[Analysis](cancelled))
		o.logRunFinished(ctx, run)
		return
	}

	run.progress.report(PhaseAnalyzing, transcribeBand, "analyzing intent")
	intent := o.AnalyzeIntent(ctx, transcript.Value().Text, intentOpts)

	var analysis Result[Analysis]
	if intent.Ok() {
		analysis = Success(Analysis{Transcript: transcript.Value(), Intent: intent.Value()},
			transcript.Attempts()+intent.Attempts())
		run.progress.report(PhaseCompleted, 1, "analysis completed")
	} else {
		analysis = failAs[Analysis](intent)
	}
	run.finish(o.clock.Now(), transcript, analysis)
	o.logRunFinished(ctx, run)
}

func (o *Orchestrator) logRunFinished(ctx context.Context, run *Run) {
	snap := run.Snapshot()
	entry := o.logger.WithContext(ctx).WithFields(logrus.Fields{
		"kind":   run.Kind,
		"status": snap.Status,
	})
	if snap.Error != nil {
		entry.WithField("code", snap.Error.Code).Warn("Run finished")
		return
	}
	entry.Info("Run finished")
}

// Cancel requests cooperative cancellation of a run. It reports false when
// the run is unknown.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()

	if !ok {
		return false
	}
	run.cancel()
	return true
}

// GetRun returns a run by ID, including finished runs still retained
func (o *Orchestrator) GetRun(runID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pruneRunsLocked()
	run, ok := o.runs[runID]
	return run, ok
}

func (o *Orchestrator) pruneRunsLocked() {
	if o.config.RunRetention <= 0 {
		return
	}
	now := o.clock.Now()
	for id, run := range o.runs {
		if finished, at := run.finishTime(); finished && now.Sub(at) > o.config.RunRetention {
			delete(o.runs, id)
		}
	}
}

// Stats is a point-in-time view of the resilience state
type Stats struct {
	BreakerState        string      `json:"breaker_state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	TrippedAt           *time.Time  `json:"tripped_at,omitempty"`
	RateWindowCount     int         `json:"rate_window_count"`
	RateLimit           int         `json:"rate_limit"`
	AdmissionActive     int         `json:"admission_active"`
	AdmissionWaiting    int         `json:"admission_waiting"`
	AdmissionCapacity   int         `json:"admission_capacity"`
	Cache               cache.Stats `json:"cache"`
	ActiveRuns          int         `json:"active_runs"`
}

// Stats returns a snapshot of the breaker, limiter, admission gate, cache
// and run registry
func (o *Orchestrator) Stats() Stats {
	snap := o.breaker.Snapshot()
	stats := Stats{
		BreakerState:        snap.State.String(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		RateWindowCount:     o.limiter.Count(),
		RateLimit:           o.limiter.Limit(),
		AdmissionActive:     o.admission.Active(),
		AdmissionWaiting:    o.admission.Waiting(),
		AdmissionCapacity:   o.admission.Capacity(),
		Cache:               o.cache.Stats(),
	}
	if !snap.TrippedAt.IsZero() {
		trippedAt := snap.TrippedAt
		stats.TrippedAt = &trippedAt
	}

	o.mu.Lock()
	for _, run := range o.runs {
		if finished, _ := run.finishTime(); !finished {
			stats.ActiveRuns++
		}
	}
	o.mu.Unlock()

	return stats
}

// SampleMetrics updates the gauges that are sampled rather than event driven
func (o *Orchestrator) SampleMetrics(m *metrics.Metrics) {
	m.UpdateAdmission("providers", o.admission.Active(), o.admission.Waiting())
	m.UpdateCacheEntries("responses", o.cache.Len())
	m.UpdateBreakerState(o.breaker.Name(), o.breaker.IsOpen())
}

// Breaker returns the circuit breaker shared by all provider calls
func (o *Orchestrator) Breaker() *resilience.CircuitBreaker {
	return o.breaker
}

// Admission returns the admission gate shared by all provider calls
func (o *Orchestrator) Admission() *resilience.AdmissionController {
	return o.admission
}

// Close cancels every running run and waits for background work to finish
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, run := range o.runs {
		run.cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) ensureRequestID(ctx context.Context) context.Context {
	if logging.GetRequestID(ctx) != "" {
		return ctx
	}
	return logging.WithRequestID(ctx, logging.NewRequestID())
}
