package providers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/pkg/config"
)

// Instrument wraps an HTTP client, e.g. to add tracing
type Instrument func(*http.Client) *http.Client

// FromConfig builds the configured providers. A provider without an API
// key is left nil so the orchestrator rejects its operations up front.
func FromConfig(cfg config.ProvidersConfig, instrument Instrument, logger *zap.Logger) (orchestrator.TextGenerator, orchestrator.Transcriber) {
	var textGen orchestrator.TextGenerator
	var transcriber orchestrator.Transcriber

	if cfg.TextGeneration.APIKey != "" {
		textGen = NewGeminiClient(GeminiConfig{
			ClientConfig: clientConfig(cfg.TextGeneration, instrument),
			Model:        cfg.TextGeneration.Model,
		}, logger)
	} else if logger != nil {
		logger.Warn("text generation provider disabled, no API key configured")
	}

	if cfg.Transcription.APIKey != "" {
		transcriber = NewAssemblyAIClient(clientConfig(cfg.Transcription, instrument), logger)
	} else if logger != nil {
		logger.Warn("transcription provider disabled, no API key configured")
	}

	return textGen, transcriber
}

func clientConfig(pc config.ProviderConfig, instrument Instrument) ClientConfig {
	cc := ClientConfig{
		BaseURL:           pc.BaseURL,
		APIKey:            pc.APIKey,
		Timeout:           pc.Timeout,
		RequestsPerSecond: pc.RequestsPerSecond,
		Burst:             pc.Burst,
	}
	if instrument != nil {
		cc.HTTPClient = instrument(&http.Client{Timeout: pc.Timeout})
	}
	return cc
}
