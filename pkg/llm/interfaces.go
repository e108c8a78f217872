// Package llm provides clients for the optional language-model assist path.
package llm

import "context"

// Client defines the interface for LLM-assist operations. Use it for
// dependency injection so tests can substitute a mock; a nil Client means
// the assist path is disabled.
type Client interface {
	// GenerateResponse generates a single chat completion.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
