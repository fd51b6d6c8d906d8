package orchestrator

import (
	"context"
	"time"
)

// TextGenerator is a single round-trip text generation provider
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Transcriber is an asynchronous transcription provider
type Transcriber interface {
	// Upload stores the audio and returns a handle the job can reference
	Upload(ctx context.Context, audio []byte) (string, error)
	// CreateJob submits a transcription job for an uploaded handle
	CreateJob(ctx context.Context, handle string, opts TranscribeOptions) (string, error)
	// GetJobStatus fetches the current state of a job
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	// DeleteJob removes a job and its data from the provider
	DeleteJob(ctx context.Context, jobID string) error
}

// GenerateOptions tune a text generation call. Every field takes part in
// the cache fingerprint.
type GenerateOptions struct {
	Model             string  `json:"model,omitempty"`
	SystemInstruction string  `json:"system_instruction,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxOutputTokens   int     `json:"max_output_tokens,omitempty"`
	ResponseMIMEType  string  `json:"response_mime_type,omitempty"`
}

// TranscribeOptions tune a transcription job
type TranscribeOptions struct {
	LanguageCode  string `json:"language_code,omitempty"`
	SpeechModel   string `json:"speech_model,omitempty"`
	SpeakerLabels bool   `json:"speaker_labels,omitempty"`
	Punctuate     bool   `json:"punctuate,omitempty"`
	FormatText    bool   `json:"format_text,omitempty"`
}

// IntentOptions tune intent analysis of a transcript
type IntentOptions struct {
	// Instructions precede the transcript in the prompt
	Instructions string          `json:"instructions,omitempty"`
	Generate     GenerateOptions `json:"generate"`
}

// JobState is the provider-reported state of a transcription job
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobError      JobState = "error"
)

// Terminal reports whether polling should stop at this state
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// JobStatus is one status fetch result
type JobStatus struct {
	ID            string   `json:"id"`
	Status        JobState `json:"status"`
	Text          string   `json:"text,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
	AudioDuration float64  `json:"audio_duration,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Transcript is the result of a completed transcription job
type Transcript struct {
	JobID         string        `json:"job_id"`
	Text          string        `json:"text"`
	Confidence    float64       `json:"confidence"`
	AudioDuration float64       `json:"audio_duration"`
	Polls         int           `json:"polls"`
	Duration      time.Duration `json:"duration"`
}

// Intent is the JSON object produced by intent analysis. Its fields are
// whatever the prompt asked the model for.
type Intent map[string]interface{}

// Analysis pairs a transcript with the intent extracted from it
type Analysis struct {
	Transcript Transcript `json:"transcript"`
	Intent     Intent     `json:"intent"`
}
