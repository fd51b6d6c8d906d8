package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiConfig configures the text generation client
type GeminiConfig struct {
	ClientConfig
	Model string
}

// GeminiClient calls a generateContent style text generation API
type GeminiClient struct {
	http  *httpClient
	model string
}

var _ orchestrator.TextGenerator = (*GeminiClient)(nil)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// NewGeminiClient creates a text generation client
func NewGeminiClient(config GeminiConfig, logger *zap.Logger) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultGeminiBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultGeminiModel
	}

	apiKey := config.APIKey
	auth := func(req *http.Request) {
		req.Header.Set("x-goog-api-key", apiKey)
	}

	return &GeminiClient{
		http:  newHTTPClient("gemini", config.ClientConfig, auth, logger),
		model: config.Model,
	}
}

// Generate sends one prompt and returns the concatenated candidate text
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts orchestrator.GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	if opts.SystemInstruction != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: opts.SystemInstruction}}}
	}
	if opts.Temperature != 0 || opts.MaxOutputTokens != 0 || opts.ResponseMIMEType != "" {
		req.GenerationConfig = &geminiGenerationConfig{
			Temperature:      opts.Temperature,
			MaxOutputTokens:  opts.MaxOutputTokens,
			ResponseMIMEType: opts.ResponseMIMEType,
		}
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", url.PathEscape(model))
	var resp geminiResponse
	if err := c.http.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", errors.NewParseError(fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)).
			WithDetail("model", model)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.NewParseError("response contained no candidates").WithDetail("model", model)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", errors.NewParseError("candidate contained no text").
			WithDetail("model", model).
			WithDetail("finish_reason", resp.Candidates[0].FinishReason)
	}
	return text.String(), nil
}
