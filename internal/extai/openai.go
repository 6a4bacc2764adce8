package extai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider calls the OpenAI API. It is only ever invoked through the
// gate.
type OpenAIProvider struct {
	llm          *openai.LLM
	costPer1KUSD float64
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider authenticated with apiKey.
// costPer1KUSD prices usage for budget accounting.
func NewOpenAIProvider(apiKey, defaultModel string, costPer1KUSD float64) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(defaultModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAIProvider{llm: llm, costPer1KUSD: costPer1KUSD}, nil
}

// Name identifies the provider in audit records.
func (p *OpenAIProvider) Name() string { return "openai" }

// Call sends the prompt and derives usage from the response size.
func (p *OpenAIProvider) Call(ctx context.Context, model, prompt string) (Response, error) {
	opts := []llms.CallOption{}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("openai call failed: %w", err)
	}

	// Rough token accounting: ~4 bytes per token for English text.
	tokens := (len(prompt) + len(text)) / 4
	return Response{
		Text:       text,
		TokensUsed: tokens,
		CostUSD:    float64(tokens) / 1000 * p.costPer1KUSD,
	}, nil
}
