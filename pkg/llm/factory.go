package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/config"
)

// NewFromConfig creates the configured LLM client, or (nil, nil) when no
// assist endpoint is configured. Callers must treat a nil Client as
// "assist path disabled".
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	if !cfg.IsAvailable() {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(&Config{
			Endpoint: cfg.BaseURL,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	case "anthropic":
		return NewAnthropicClient(&Config{
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
