package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/config"
	"github.com/fyrsmithlabs/missiond/internal/retry"
)

// NewFromConfig builds the vector store selected by cfg.VectorStore.Provider.
func NewFromConfig(ctx context.Context, cfg *config.Config, retrier *retry.Executor, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "chromem":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Collection: cfg.VectorStore.Chromem.Collection,
			Compress:   cfg.VectorStore.Chromem.Compress,
		})
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
			VectorSize: cfg.Qdrant.VectorSize,
		}, retrier, logger)
	default:
		return nil, fmt.Errorf("unknown vectorstore provider %q", cfg.VectorStore.Provider)
	}
}
