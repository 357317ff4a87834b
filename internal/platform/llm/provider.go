package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Provider is the interface for language model interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// MaxRetries bounds the total request attempts for this call.
	// Zero means the client default.
	MaxRetries int `json:"-"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider   string `json:"provider"` // groq, openai, custom
	Model      string `json:"model"`
	EmbedModel string `json:"embed_model"`
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config, logger zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "groq":
		return NewGroq(cfg, logger), nil
	case "openai":
		return NewOpenAI(cfg, logger), nil
	case "custom":
		return NewOpenAICompat(cfg, logger), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
