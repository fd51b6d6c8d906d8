package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

// RunKind selects what a run does with the transcript
type RunKind string

const (
	RunTranscribe           RunKind = "transcribe"
	RunTranscribeAndAnalyze RunKind = "transcribe_and_analyze"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one transcription started through the orchestrator
type Run struct {
	ID        string
	Kind      RunKind
	StartedAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	progress *progressReporter

	mu         sync.Mutex
	finished   bool
	finishedAt time.Time
	transcript Result[Transcript]
	analysis   Result[Analysis]
}

// RunSnapshot is a JSON friendly view of a run
type RunSnapshot struct {
	ID         string      `json:"id"`
	Kind       RunKind     `json:"kind"`
	Status     RunStatus   `json:"status"`
	Progress   Progress    `json:"progress"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`
	Intent     Intent      `json:"intent,omitempty"`
	Error      *Failure    `json:"error,omitempty"`
}

// Done is closed once the run reaches a terminal state
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Transcript returns the transcription result once the run is done
func (r *Run) Transcript() Result[Transcript] {
	<-r.done
	return r.transcript
}

// Analysis returns the analysis result once the run is done
func (r *Run) Analysis() Result[Analysis] {
	<-r.done
	return r.analysis
}

// Snapshot returns the current state of the run
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RunSnapshot{
		ID:        r.ID,
		Kind:      r.Kind,
		Status:    RunRunning,
		Progress:  r.progress.Last(),
		StartedAt: r.StartedAt,
	}
	if !r.finished {
		return snap
	}

	finishedAt := r.finishedAt
	snap.FinishedAt = &finishedAt

	if r.transcript.Ok() {
		transcript := r.transcript.Value()
		snap.Transcript = &transcript
	}

	failure := r.transcript.Failure()
	if failure == nil && r.Kind == RunTranscribeAndAnalyze {
		failure = r.analysis.Failure()
		if failure == nil {
			snap.Intent = r.analysis.Value().Intent
		}
	}

	switch {
	case failure == nil:
		snap.Status = RunSucceeded
	case failure.Code == errors.CodeCancelled:
		snap.Status = RunCancelled
		snap.Error = failure
	default:
		snap.Status = RunFailed
		snap.Error = failure
	}
	return snap
}

func (r *Run) finish(at time.Time, transcript Result[Transcript], analysis Result[Analysis]) {
	r.mu.Lock()
	r.finished = true
	r.finishedAt = at
	r.transcript = transcript
	r.analysis = analysis
	r.mu.Unlock()

	close(r.done)
}

func (r *Run) finishTime() (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished, r.finishedAt
}
