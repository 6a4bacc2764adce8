package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded chromem store.
type ChromemConfig struct {
	// Path is the on-disk location of the database. Supports ~ expansion.
	Path string

	// Collection is the collection name documents live in.
	Collection string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemStore is an embedded persistent vector store backed by chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens or creates the database at the configured path.
func NewChromemStore(config ChromemConfig) (*ChromemStore, error) {
	if config.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	path, err := expandHome(config.Path)
	if err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db at %s: %w", path, err)
	}

	// Embeddings are supplied by callers, so the embedding func must never
	// run. It exists only to satisfy the collection constructor.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", config.Collection, err)
	}

	return &ChromemStore{db: db, collection: collection}, nil
}

func rejectEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("store does not embed; documents must carry embeddings")
}

// Upsert inserts or replaces documents.
func (s *ChromemStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := validateDocs(docs); err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		}
	}

	if err := s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns up to limit documents most similar to the embedding,
// optionally restricted by metadata.
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, limit int, filter map[string]string) ([]SearchResult, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Score: r.Similarity,
		}
	}
	return out, nil
}

// Delete removes documents by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
			// chromem reports unknown IDs as errors; treat as no-op.
			if strings.Contains(err.Error(), "not found") {
				continue
			}
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op; chromem persists synchronously.
func (s *ChromemStore) Close() error { return nil }

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand path %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
