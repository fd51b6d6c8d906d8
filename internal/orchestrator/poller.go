package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/voxgate/pkg/errors"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
	"github.com/NikhilSetiya/voxgate/pkg/metrics"
	"github.com/NikhilSetiya/voxgate/pkg/resilience"
	"github.com/NikhilSetiya/voxgate/pkg/tracing"
)

// Progress bands of a transcription run
const (
	uploadDone  = 0.2
	submitDone  = 0.3
	pollCeiling = 0.95
)

// PollerConfig holds job polling settings
type PollerConfig struct {
	// MaxPollAttempts caps status fetches before POLLING_TIMEOUT
	MaxPollAttempts int
	// MaxStatusErrors is how many consecutive retryable status fetch
	// failures are tolerated before the run fails with that error
	MaxStatusErrors int
	// DeleteOnAbort removes the remote job after cancellation or timeout
	DeleteOnAbort bool
	Backoff       resilience.BackoffConfig
}

// JobPoller drives upload, job creation and status polling for one
// transcription provider
type JobPoller struct {
	config      PollerConfig
	transcriber Transcriber
	executor    *Executor
	backoff     *resilience.BackoffPolicy
	admission   *resilience.AdmissionController
	clock       resilience.Clock
	sleep       Sleeper
	metrics     *metrics.Metrics
	tracer      oteltrace.Tracer
	logger      *logging.Logger

	attemptTimeout time.Duration
	// background tracks best-effort job deletions
	background *sync.WaitGroup
}

// submitFatal are the codes never retried while submitting
func submitFatal(code errors.ErrorCode) bool {
	return code == errors.CodeInvalidAPIKey || code == errors.CodePayloadTooLarge
}

// Run uploads audio, creates a job and polls it to a terminal state
func (p *JobPoller) Run(ctx context.Context, audio []byte, opts TranscribeOptions, progress progressScope) Result[Transcript] {
	ctx, span := p.tracer.Start(ctx, "transcription.run",
		oteltrace.WithAttributes(attribute.Int("audio.bytes", len(audio))),
	)
	defer span.End()

	start := p.clock.Now()
	result := p.run(ctx, audio, opts, progress)

	outcome := "completed"
	if f := result.Failure(); f != nil {
		outcome = string(f.Code)
		tracing.RecordError(span, f.Err)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String("job.id", result.Value().JobID))
	}
	p.metrics.RecordJob(outcome, p.clock.Now().Sub(start))

	return result
}

func (p *JobPoller) run(ctx context.Context, audio []byte, opts TranscribeOptions, progress progressScope) Result[Transcript] {
	start := p.clock.Now()

	if err := ctx.Err(); err != nil {
		return Fail[Transcript](errors.NewCancelledError("transcription").WithCause(err))
	}

	progress.report(PhaseUploading, 0, "uploading audio")
	uploaded := Execute(ctx, p.executor, Request[string]{
		Operation: "upload",
		Call: func(ctx context.Context) (string, error) {
			return p.transcriber.Upload(ctx, audio)
		},
		Fatal: submitFatal,
	})
	if !uploaded.Ok() {
		return failAs[Transcript](uploaded)
	}

	if err := ctx.Err(); err != nil {
		return Fail[Transcript](errors.NewCancelledError("transcription").WithCause(err))
	}

	progress.report(PhaseSubmitting, uploadDone, "creating transcription job")
	created := Execute(ctx, p.executor, Request[string]{
		Operation: "create_job",
		Call: func(ctx context.Context) (string, error) {
			return p.transcriber.CreateJob(ctx, uploaded.Value(), opts)
		},
		Fatal: submitFatal,
	})
	if !created.Ok() {
		return failAs[Transcript](created)
	}

	jobID := created.Value()
	p.logger.LogJobEvent(ctx, "submitted", jobID, string(JobQueued), nil)
	progress.report(PhasePolling, submitDone, "job submitted")

	result := p.poll(ctx, jobID, progress)
	if result.Ok() {
		transcript := result.Value()
		transcript.Duration = p.clock.Now().Sub(start)
		return Success(transcript, result.Attempts())
	}
	return result
}

// poll fetches job status until the job reaches a terminal state, the
// attempt cap is hit or ctx is cancelled
func (p *JobPoller) poll(ctx context.Context, jobID string, progress progressScope) Result[Transcript] {
	statusErrors := 0

	for polls := 1; ; polls++ {
		if polls > p.config.MaxPollAttempts {
			p.abort(ctx, jobID, "polling timeout")
			return Fail[Transcript](errors.NewPollingTimeoutError(jobID, p.config.MaxPollAttempts))
		}

		err := ctx.Err()
		if err == nil {
			err = p.sleep(ctx, p.backoff.Delay(polls))
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			p.abort(ctx, jobID, "cancelled")
			return Fail[Transcript](errors.NewCancelledError("transcription").WithCause(err).WithAttempts(polls - 1).
				WithDetail("job_id", jobID))
		}

		status, err := p.fetchStatus(ctx, jobID)
		if err != nil {
			appErr := resilience.ToAppError(err)
			if appErr.Code == errors.CodeCancelled {
				p.abort(ctx, jobID, "cancelled")
				return Fail[Transcript](appErr.WithAttempts(polls - 1).WithDetail("job_id", jobID))
			}

			p.metrics.RecordJobPoll("fetch_error")
			statusErrors++
			if !appErr.Retryable() || statusErrors >= p.config.MaxStatusErrors {
				p.logger.LogJobEvent(ctx, "status_failed", jobID, "", logrus.Fields{"code": appErr.Code, "polls": polls})
				return Fail[Transcript](appErr.WithAttempts(polls).WithDetail("job_id", jobID))
			}
			continue
		}
		statusErrors = 0
		p.metrics.RecordJobPoll(string(status.Status))

		switch status.Status {
		case JobCompleted:
			p.logger.LogJobEvent(ctx, "completed", jobID, string(status.Status), logrus.Fields{"polls": polls})
			progress.report(PhaseCompleted, 1, "transcription completed")
			return Success(Transcript{
				JobID:         jobID,
				Text:          status.Text,
				Confidence:    status.Confidence,
				AudioDuration: status.AudioDuration,
				Polls:         polls,
			}, polls)

		case JobError:
			message := status.Error
			if message == "" {
				message = "transcription job reported an error"
			}
			p.logger.LogJobEvent(ctx, "failed", jobID, string(status.Status), logrus.Fields{"error": message})
			return Fail[Transcript](errors.NewJobFailedError(jobID, message).WithAttempts(polls))

		case JobQueued, JobProcessing:
			progress.report(PhasePolling, pollFraction(polls), fmt.Sprintf("job %s", status.Status))

		default:
			p.logger.WithContext(ctx).WithFields(logrus.Fields{
				"job_id": jobID,
				"status": status.Status,
			}).Warn("Unrecognized job status, continuing to poll")
			progress.report(PhasePolling, pollFraction(polls), "job pending")
		}
	}
}

// fetchStatus performs one status fetch under an admission slot
func (p *JobPoller) fetchStatus(ctx context.Context, jobID string) (JobStatus, error) {
	if err := p.admission.Acquire(ctx); err != nil {
		return JobStatus{}, errors.NewCancelledError("status fetch").WithCause(err)
	}
	defer p.admission.Release()

	return runAttempt(ctx, p.attemptTimeout, func(ctx context.Context) (JobStatus, error) {
		return p.transcriber.GetJobStatus(ctx, jobID)
	})
}

// abort schedules a best-effort delete of an abandoned job. Failures are
// logged and never surface to the caller.
func (p *JobPoller) abort(ctx context.Context, jobID, reason string) {
	p.logger.LogJobEvent(ctx, "aborted", jobID, "", logrus.Fields{"reason": reason})
	if !p.config.DeleteOnAbort {
		return
	}

	deleteCtx := context.WithoutCancel(ctx)
	p.background.Add(1)
	go func() {
		defer p.background.Done()

		ctx, cancel := context.WithTimeout(deleteCtx, p.attemptTimeout)
		defer cancel()

		if err := p.transcriber.DeleteJob(ctx, jobID); err != nil {
			p.logger.LogError(ctx, err, "Failed to delete abandoned job", logrus.Fields{"job_id": jobID})
			return
		}
		p.logger.LogJobEvent(ctx, "deleted", jobID, "", nil)
	}()
}

// pollFraction rises toward pollCeiling and strictly increases with polls
func pollFraction(polls int) float64 {
	n := float64(polls)
	return submitDone + (pollCeiling-submitDone)*n/(n+3)
}
