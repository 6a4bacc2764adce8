// Package inference wraps the local Ollama backend for text generation and
// embeddings. All mission planning and task execution inference runs here;
// external providers are only reachable through the external AI gate.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/retry"
)

// Config configures the Ollama backend.
type Config struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// Service generates text and embeddings with local models.
type Service struct {
	config   Config
	llm      *ollama.LLM
	embedder *ollama.LLM
	retrier  *retry.Executor
	logger   *zap.Logger
}

// NewService connects to Ollama. A nil logger is replaced with a no-op
// logger.
func NewService(config Config, retrier *retry.Executor, logger *zap.Logger) (*Service, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.EmbeddingModel == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = retry.NewExecutor(retry.DefaultConfig(), logger)
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	embedder, err := ollama.New(
		ollama.WithModel(config.EmbeddingModel),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
	}

	return &Service{
		config:   config,
		llm:      llm,
		embedder: embedder,
		retrier:  retrier,
		logger:   logger,
	}, nil
}

// Generate produces a completion for the prompt.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := retry.Do(ctx, s.retrier, "inference.generate", func(ctx context.Context) (string, error) {
		return llms.GenerateFromSinglePrompt(ctx, s.llm, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	s.logger.Debug("generation completed",
		zap.String("model", s.config.Model),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("output_len", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Embed returns the embedding vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns embedding vectors for each text.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	vectors, err := retry.Do(ctx, s.retrier, "inference.embed", func(ctx context.Context) ([][]float32, error) {
		return s.embedder.CreateEmbedding(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	return vectors, nil
}
