package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/NikhilSetiya/voxgate/pkg/resilience"
)

// Phase labels a stage of a long-running operation
type Phase string

const (
	PhaseUploading   Phase = "uploading"
	PhaseSubmitting  Phase = "submitting"
	PhasePolling     Phase = "polling"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseTranscribed Phase = "transcribed"
	PhaseCompleted   Phase = "completed"
)

// Progress is one progress update. Fraction never decreases over the
// lifetime of a run.
type Progress struct {
	RunID    string    `json:"run_id"`
	Phase    Phase     `json:"phase"`
	Fraction float64   `json:"fraction"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// ProgressObserver receives progress updates. Implementations must not block.
type ProgressObserver interface {
	OnProgress(Progress)
}

// ProgressFunc adapts a function to ProgressObserver
type ProgressFunc func(Progress)

// OnProgress implements ProgressObserver
func (f ProgressFunc) OnProgress(p Progress) {
	f(p)
}

// ProgressChannel delivers updates on a buffered channel. When the reader
// falls behind, the oldest buffered update is dropped so the latest one,
// including the final update, is always kept.
type ProgressChannel struct {
	mu     sync.Mutex
	ch     chan Progress
	closed bool
}

// NewProgressChannel creates a channel observer with the given buffer size
func NewProgressChannel(buffer int) *ProgressChannel {
	if buffer <= 0 {
		buffer = 16
	}
	return &ProgressChannel{ch: make(chan Progress, buffer)}
}

// OnProgress implements ProgressObserver
func (pc *ProgressChannel) OnProgress(p Progress) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.closed {
		return
	}
	for {
		select {
		case pc.ch <- p:
			return
		default:
		}
		select {
		case <-pc.ch:
		default:
		}
	}
}

// C returns the receive side of the channel
func (pc *ProgressChannel) C() <-chan Progress {
	return pc.ch
}

// Close closes the channel; later updates are discarded
func (pc *ProgressChannel) Close() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if !pc.closed {
		pc.closed = true
		close(pc.ch)
	}
}

// progressReporter clamps fractions to [0,1] and never lets them go
// backwards before fanning them out to observers
type progressReporter struct {
	runID string
	clock resilience.Clock

	mu        sync.Mutex
	last      Progress
	started   bool
	observers []ProgressObserver
}

func newProgressReporter(runID string, clock resilience.Clock, observers ...ProgressObserver) *progressReporter {
	r := &progressReporter{runID: runID, clock: clock}
	for _, o := range observers {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
	return r
}

func (r *progressReporter) report(phase Phase, fraction float64, message string) {
	if r == nil {
		return
	}

	r.mu.Lock()
	fraction = clamp01(fraction)
	if r.started && fraction < r.last.Fraction {
		fraction = r.last.Fraction
	}
	p := Progress{
		RunID:    r.runID,
		Phase:    phase,
		Fraction: fraction,
		Message:  message,
		At:       r.clock.Now(),
	}
	r.last = p
	r.started = true
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.OnProgress(p)
	}
}

// Last returns the most recent update
func (r *progressReporter) Last() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// scope maps a child stage's [0,1] progress onto [lo,hi] of the run
func (r *progressReporter) scope(lo, hi float64) progressScope {
	return progressScope{r: r, lo: lo, hi: hi}
}

type progressScope struct {
	r      *progressReporter
	lo, hi float64
}

func (s progressScope) report(phase Phase, fraction float64, message string) {
	if s.r == nil {
		return
	}
	// a stage finishing below the top of the run only finished transcription
	if phase == PhaseCompleted && s.hi < 1 {
		phase = PhaseTranscribed
	}
	s.r.report(phase, s.lo+(s.hi-s.lo)*clamp01(fraction), message)
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
