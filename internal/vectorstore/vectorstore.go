// Package vectorstore provides the storage backend for mission memory.
//
// Two providers are supported: chromem (embedded, persistent on disk, zero
// external dependencies) and Qdrant (shared gRPC server). Both store
// pre-computed embeddings; embedding generation lives with the inference
// layer.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document ID is unknown.
var ErrNotFound = errors.New("document not found")

// Document is one memory entry with its embedding.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult is a document with its similarity score in [0, 1].
type SearchResult struct {
	Document Document
	Score    float32
}

// Store is the vector storage interface used by the memory service.
type Store interface {
	// Upsert inserts or replaces documents. Each document must carry an
	// embedding.
	Upsert(ctx context.Context, docs []Document) error

	// Search returns up to limit documents most similar to the embedding,
	// ordered by descending score. A non-empty filter restricts results to
	// documents whose metadata matches every key/value pair.
	Search(ctx context.Context, embedding []float32, limit int, filter map[string]string) ([]SearchResult, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

func validateDocs(docs []Document) error {
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document %d has no ID", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
	}
	return nil
}
