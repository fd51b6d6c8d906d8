package providers

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

const DefaultAssemblyAIBaseURL = "https://api.assemblyai.com"

// AssemblyAIClient calls an upload, submit and poll transcription API
type AssemblyAIClient struct {
	http *httpClient
}

var _ orchestrator.Transcriber = (*AssemblyAIClient)(nil)

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	SpeechModel   string `json:"speech_model,omitempty"`
	SpeakerLabels bool   `json:"speaker_labels,omitempty"`
	Punctuate     *bool  `json:"punctuate,omitempty"`
	FormatText    *bool  `json:"format_text,omitempty"`
}

type transcriptResponse struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Text          *string  `json:"text"`
	Confidence    *float64 `json:"confidence"`
	AudioDuration *float64 `json:"audio_duration"`
	Error         *string  `json:"error"`
}

// NewAssemblyAIClient creates a transcription client
func NewAssemblyAIClient(config ClientConfig, logger *zap.Logger) *AssemblyAIClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultAssemblyAIBaseURL
	}

	apiKey := config.APIKey
	auth := func(req *http.Request) {
		req.Header.Set("Authorization", apiKey)
	}

	return &AssemblyAIClient{
		http: newHTTPClient("assemblyai", config, auth, logger),
	}
}

// Upload stores raw audio and returns its upload URL
func (c *AssemblyAIClient) Upload(ctx context.Context, audio []byte) (string, error) {
	var resp uploadResponse
	if err := c.http.do(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", bytes.NewReader(audio), &resp); err != nil {
		return "", err
	}
	if resp.UploadURL == "" {
		return "", errors.NewParseError("upload response has no upload_url")
	}
	return resp.UploadURL, nil
}

// CreateJob submits a transcript job for an uploaded audio URL
func (c *AssemblyAIClient) CreateJob(ctx context.Context, handle string, opts orchestrator.TranscribeOptions) (string, error) {
	req := transcriptRequest{
		AudioURL:      handle,
		LanguageCode:  opts.LanguageCode,
		SpeechModel:   opts.SpeechModel,
		SpeakerLabels: opts.SpeakerLabels,
	}
	// the provider defaults both to true, so only send an explicit opt-in
	if opts.Punctuate {
		req.Punctuate = &opts.Punctuate
	}
	if opts.FormatText {
		req.FormatText = &opts.FormatText
	}

	var resp transcriptResponse
	if err := c.http.doJSON(ctx, http.MethodPost, "/v2/transcript", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.NewParseError("transcript response has no id")
	}
	return resp.ID, nil
}

// GetJobStatus fetches the current transcript state
func (c *AssemblyAIClient) GetJobStatus(ctx context.Context, jobID string) (orchestrator.JobStatus, error) {
	var resp transcriptResponse
	if err := c.http.doJSON(ctx, http.MethodGet, "/v2/transcript/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return orchestrator.JobStatus{}, err
	}

	status := orchestrator.JobStatus{
		ID:     resp.ID,
		Status: orchestrator.JobState(resp.Status),
	}
	if resp.Text != nil {
		status.Text = *resp.Text
	}
	if resp.Confidence != nil {
		status.Confidence = *resp.Confidence
	}
	if resp.AudioDuration != nil {
		status.AudioDuration = *resp.AudioDuration
	}
	if resp.Error != nil {
		status.Error = *resp.Error
	}
	return status, nil
}

// DeleteJob removes a transcript and its uploaded audio
func (c *AssemblyAIClient) DeleteJob(ctx context.Context, jobID string) error {
	return c.http.doJSON(ctx, http.MethodDelete, "/v2/transcript/"+url.PathEscape(jobID), nil, nil)
}
