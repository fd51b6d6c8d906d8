package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

// Service is the orchestration surface the HTTP handlers depend on
type Service interface {
	Generate(ctx context.Context, prompt string, opts orchestrator.GenerateOptions) orchestrator.Result[string]
	AnalyzeIntent(ctx context.Context, transcript string, opts orchestrator.IntentOptions) orchestrator.Result[orchestrator.Intent]
	Start(ctx context.Context, kind orchestrator.RunKind, audio []byte, opts orchestrator.TranscribeOptions, intentOpts orchestrator.IntentOptions, observer orchestrator.ProgressObserver) (*orchestrator.Run, error)
	GetRun(runID string) (*orchestrator.Run, bool)
	Cancel(runID string) bool
	Stats() orchestrator.Stats
}

// Handler serves the orchestration endpoints
type Handler struct {
	svc    Service
	logger *logging.Logger
}

// NewHandler creates a new handler
func NewHandler(svc Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Handler{svc: svc, logger: logger}
}

// GenerateRequest is the body of POST /api/v1/generate
type GenerateRequest struct {
	Prompt  string                       `json:"prompt" binding:"required"`
	Options orchestrator.GenerateOptions `json:"options"`
}

// GenerateResponse is the payload of a successful generation
type GenerateResponse struct {
	Text     string `json:"text"`
	Attempts int    `json:"attempts"`
	Cached   bool   `json:"cached"`
}

// IntentRequest is the body of POST /api/v1/intent
type IntentRequest struct {
	Transcript   string                       `json:"transcript" binding:"required"`
	Instructions string                       `json:"instructions,omitempty"`
	Options      orchestrator.GenerateOptions `json:"options"`
}

// IntentResponse is the payload of a successful intent analysis
type IntentResponse struct {
	Intent   orchestrator.Intent `json:"intent"`
	Attempts int                 `json:"attempts"`
	Cached   bool                `json:"cached"`
}

// Generate handles POST /api/v1/generate
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	result := h.svc.Generate(c.Request.Context(), req.Prompt, req.Options)
	if !result.Ok() {
		FailureResponse(c, result.Failure())
		return
	}

	SuccessResponse(c, GenerateResponse{
		Text:     result.Value(),
		Attempts: result.Attempts(),
		Cached:   result.FromCache(),
	})
}

// AnalyzeIntent handles POST /api/v1/intent
func (h *Handler) AnalyzeIntent(c *gin.Context) {
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	result := h.svc.AnalyzeIntent(c.Request.Context(), req.Transcript, orchestrator.IntentOptions{
		Instructions: req.Instructions,
		Generate:     req.Options,
	})
	if !result.Ok() {
		FailureResponse(c, result.Failure())
		return
	}

	SuccessResponse(c, IntentResponse{
		Intent:   result.Value(),
		Attempts: result.Attempts(),
		Cached:   result.FromCache(),
	})
}

// StartTranscription handles POST /api/v1/transcriptions. The audio is
// either the raw request body or the "audio" part of a multipart form.
// With wait=true the response is held until the run finishes.
func (h *Handler) StartTranscription(c *gin.Context) {
	audio, err := readAudio(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			PayloadTooLargeResponse(c, "Audio exceeds the upload limit")
			return
		}
		BadRequestResponse(c, "Invalid audio upload: "+err.Error())
		return
	}

	opts := orchestrator.TranscribeOptions{
		LanguageCode:  formValue(c, "language_code"),
		SpeechModel:   formValue(c, "speech_model"),
		SpeakerLabels: formBool(c, "speaker_labels"),
		Punctuate:     formBool(c, "punctuate"),
		FormatText:    formBool(c, "format_text"),
	}
	kind := orchestrator.RunTranscribe
	var intentOpts orchestrator.IntentOptions
	if formBool(c, "analyze") {
		kind = orchestrator.RunTranscribeAndAnalyze
		intentOpts.Instructions = formValue(c, "instructions")
	}

	run, err := h.svc.Start(c.Request.Context(), kind, audio, opts, intentOpts, nil)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	h.logger.WithContext(c.Request.Context()).WithFields(logrus.Fields{
		"run_id":      run.ID,
		"kind":        kind,
		"audio_bytes": len(audio),
	}).Info("Transcription accepted")

	c.Header("Location", "/api/v1/transcriptions/"+run.ID)

	if !formBool(c, "wait") {
		AcceptedResponse(c, run.Snapshot())
		return
	}

	// the run is bounded by the poll budget, not by the server write timeout
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.WithContext(c.Request.Context()).WithError(err).Debug("Write deadline not cleared for waiting request")
	}

	select {
	case <-run.Done():
	case <-c.Request.Context().Done():
		// the run keeps going; the client can fetch it later
		return
	}

	snap := run.Snapshot()
	if snap.Error != nil {
		FailureResponse(c, snap.Error)
		return
	}
	SuccessResponse(c, snap)
}

// GetTranscription handles GET /api/v1/transcriptions/:id
func (h *Handler) GetTranscription(c *gin.Context) {
	run, ok := h.svc.GetRun(c.Param("id"))
	if !ok {
		NotFoundResponse(c, "Transcription not found")
		return
	}
	SuccessResponse(c, run.Snapshot())
}

// CancelTranscription handles DELETE /api/v1/transcriptions/:id
func (h *Handler) CancelTranscription(c *gin.Context) {
	id := c.Param("id")
	if !h.svc.Cancel(id) {
		NotFoundResponse(c, "Transcription not found")
		return
	}

	h.logger.WithContext(c.Request.Context()).WithField("run_id", id).Info("Transcription cancel requested")

	run, ok := h.svc.GetRun(id)
	if !ok {
		AcceptedResponse(c, gin.H{"id": id})
		return
	}
	AcceptedResponse(c, run.Snapshot())
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(c *gin.Context) {
	SuccessResponse(c, h.svc.Stats())
}

func readAudio(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("audio")
		if err != nil {
			return nil, err
		}
		file, err := header.Open()
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(c.Request.Body)
}

func formValue(c *gin.Context, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.PostForm(key)
	}
	return ""
}

func formBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(formValue(c, key))
	return err == nil && v
}
