package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/pkg/errors"
	"github.com/NikhilSetiya/voxgate/pkg/resilience"
)

func TestGeminiClient_Generate(t *testing.T) {
	var received geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Hello, "},{"text":"world"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiConfig{
		ClientConfig: ClientConfig{BaseURL: server.URL, APIKey: "test-key"},
		Model:        "gemini-test",
	}, zaptest.NewLogger(t))

	text, err := client.Generate(context.Background(), "say hello", orchestrator.GenerateOptions{
		SystemInstruction: "be brief",
		Temperature:       0.4,
		ResponseMIMEType:  "text/plain",
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	require.Len(t, received.Contents, 1)
	assert.Equal(t, "user", received.Contents[0].Role)
	assert.Equal(t, "say hello", received.Contents[0].Parts[0].Text)
	require.NotNil(t, received.SystemInstruction)
	assert.Equal(t, "be brief", received.SystemInstruction.Parts[0].Text)
	require.NotNil(t, received.GenerationConfig)
	assert.Equal(t, 0.4, received.GenerationConfig.Temperature)
	assert.Equal(t, "text/plain", received.GenerationConfig.ResponseMIMEType)
}

func TestGeminiClient_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", r.URL.Path)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiConfig{ClientConfig: ClientConfig{BaseURL: server.URL}}, nil)
	text, err := client.Generate(context.Background(), "p", orchestrator.GenerateOptions{Model: "gemini-pro"})

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestGeminiClient_ErrorsClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   errors.ErrorCode
	}{
		{name: "bad key", status: http.StatusForbidden, body: `{"error":{"message":"API key not valid"}}`, code: errors.CodeInvalidAPIKey},
		{name: "bad key reported as bad request", status: http.StatusBadRequest, body: `{"error":{"message":"API key not valid. Please pass a valid API key."}}`, code: errors.CodeInvalidAPIKey},
		{name: "quota", status: http.StatusTooManyRequests, code: errors.CodeRateLimit},
		{name: "overloaded", status: http.StatusServiceUnavailable, code: errors.CodeServer},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`, code: errors.CodeParse},
		{name: "blocked", status: http.StatusOK, body: `{"promptFeedback":{"blockReason":"SAFETY"}}`, code: errors.CodeParse},
		{name: "not json", status: http.StatusOK, body: `<html>`, code: errors.CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := NewGeminiClient(GeminiConfig{ClientConfig: ClientConfig{BaseURL: server.URL}}, zaptest.NewLogger(t))
			_, err := client.Generate(context.Background(), "p", orchestrator.GenerateOptions{})

			require.Error(t, err)
			assert.Equal(t, tt.code, resilience.Classify(err).Code)
		})
	}
}

func TestHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream failed")
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiConfig{ClientConfig: ClientConfig{BaseURL: server.URL}}, nil)
	_, err := client.Generate(context.Background(), "p", orchestrator.GenerateOptions{})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode())
	assert.Equal(t, "gemini", statusErr.Provider)
	assert.Equal(t, "upstream failed", statusErr.Body)
	assert.Contains(t, statusErr.Error(), "502")
}

func TestAssemblyAIClient_Lifecycle(t *testing.T) {
	audio := []byte("fake audio bytes")
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "aai-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, audio, body)
		_, _ = io.WriteString(w, `{"upload_url":"https://cdn.example.test/abc"}`)
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://cdn.example.test/abc", req["audio_url"])
		assert.Equal(t, "en_us", req["language_code"])
		assert.Equal(t, true, req["punctuate"])
		_, hasFormat := req["format_text"]
		assert.False(t, hasFormat)
		_, _ = io.WriteString(w, `{"id":"tr_1","status":"queued"}`)
	})
	mux.HandleFunc("/v2/transcript/tr_1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"id":"tr_1","status":"completed","text":"hello","confidence":0.91,"audio_duration":3.5,"error":null}`)
		case http.MethodDelete:
			_, _ = io.WriteString(w, `{"id":"tr_1"}`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewAssemblyAIClient(ClientConfig{BaseURL: server.URL, APIKey: "aai-key"}, zaptest.NewLogger(t))
	ctx := context.Background()

	handle, err := client.Upload(ctx, audio)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.test/abc", handle)

	jobID, err := client.CreateJob(ctx, handle, orchestrator.TranscribeOptions{LanguageCode: "en_us", Punctuate: true})
	require.NoError(t, err)
	assert.Equal(t, "tr_1", jobID)

	status, err := client.GetJobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobCompleted, status.Status)
	assert.Equal(t, "hello", status.Text)
	assert.Equal(t, 0.91, status.Confidence)
	assert.Equal(t, 3.5, status.AudioDuration)
	assert.Empty(t, status.Error)

	require.NoError(t, client.DeleteJob(ctx, jobID))
}

func TestAssemblyAIClient_JobError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"tr_2","status":"error","text":null,"error":"file does not appear to contain audio"}`)
	}))
	defer server.Close()

	client := NewAssemblyAIClient(ClientConfig{BaseURL: server.URL}, nil)
	status, err := client.GetJobStatus(context.Background(), "tr_2")

	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobError, status.Status)
	assert.True(t, status.Status.Terminal())
	assert.Equal(t, "file does not appear to contain audio", status.Error)
}

func TestAssemblyAIClient_UploadTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	client := NewAssemblyAIClient(ClientConfig{BaseURL: server.URL}, nil)
	_, err := client.Upload(context.Background(), []byte("x"))

	require.Error(t, err)
	assert.Equal(t, errors.CodePayloadTooLarge, resilience.Classify(err).Code)
}

func TestHTTPClient_Pacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"tr_1","status":"processing"}`)
	}))
	defer server.Close()

	client := NewAssemblyAIClient(ClientConfig{BaseURL: server.URL, RequestsPerSecond: 0.001, Burst: 1}, nil)

	_, err := client.GetJobStatus(context.Background(), "tr_1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.GetJobStatus(ctx, "tr_1")
	require.Error(t, err, "second request must wait for a token")
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewGeminiClient(GeminiConfig{ClientConfig: ClientConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond}}, nil)
	_, err := client.Generate(context.Background(), "p", orchestrator.GenerateOptions{})

	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, resilience.Classify(err).Code)
}
