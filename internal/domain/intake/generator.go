package intake

import (
	"context"

	"github.com/intake/intake/internal/platform/llm"
)

// GenerateOptions tune one completion call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	JSON        bool
}

// Generator produces chat completions for extraction and reply calls.
// Implementations retry internally; an error means the call could not
// be completed at all.
type Generator interface {
	Complete(ctx context.Context, system, user string, opts GenerateOptions) (string, error)
}

type llmGenerator struct {
	provider llm.Provider
	model    string
}

// NewGenerator adapts an LLM provider into the completion interface the
// intake pipeline consumes. An empty model defers to the provider's
// default.
func NewGenerator(provider llm.Provider, model string) Generator {
	return &llmGenerator{provider: provider, model: model}
}

func (g *llmGenerator) Complete(ctx context.Context, system, user string, opts GenerateOptions) (string, error) {
	req := llm.ChatRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		MaxRetries:  opts.MaxRetries,
	}
	if opts.JSON {
		req.ResponseFormat = "json_object"
	}
	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
