package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/retry"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

// QdrantStore is a vector store backed by a Qdrant server over gRPC.
// Operations are retried on transient gRPC failures.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	retrier    *retry.Executor
	logger     *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(ctx context.Context, config QdrantConfig, retrier *retry.Executor, logger *zap.Logger) (*QdrantStore, error) {
	if config.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if config.VectorSize == 0 {
		return nil, fmt.Errorf("vector size is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = retry.NewExecutor(retry.DefaultConfig(), logger)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: config.Collection,
		retrier:    retrier,
		logger:     logger,
	}

	if err := s.ensureCollection(ctx, config.VectorSize); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize uint64) error {
	return s.retrier.Do(ctx, "qdrant.ensure_collection", func(ctx context.Context) error {
		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("failed to check collection: %w", err)
		}
		if exists {
			return nil
		}

		s.logger.Info("creating qdrant collection",
			zap.String("collection", s.collection),
			zap.Uint64("vector_size", vectorSize),
		)
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// Upsert inserts or replaces documents.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := validateDocs(docs); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := map[string]*qdrant.Value{
			"content": {Kind: &qdrant.Value_StringValue{StringValue: doc.Content}},
		}
		for k, v := range doc.Metadata {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: payload,
		}
	}

	return s.retrier.Do(ctx, "qdrant.upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// Search returns up to limit documents most similar to the embedding,
// optionally restricted by payload metadata.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, limit int, filter map[string]string) ([]SearchResult, error) {
	if limit < 1 {
		return nil, nil
	}

	var qdrantFilter *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conditions = append(conditions, qdrant.NewMatch(k, v))
		}
		qdrantFilter = &qdrant.Filter{Must: conditions}
	}

	points, err := retry.Do(ctx, s.retrier, "qdrant.query", func(ctx context.Context) ([]*qdrant.ScoredPoint, error) {
		return s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			Filter:         qdrantFilter,
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		doc := Document{
			ID:       p.GetId().GetUuid(),
			Metadata: make(map[string]string),
		}
		for k, v := range p.GetPayload() {
			sv, ok := v.GetKind().(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			if k == "content" {
				doc.Content = sv.StringValue
			} else {
				doc.Metadata[k] = sv.StringValue
			}
		}
		results = append(results, SearchResult{Document: doc, Score: p.GetScore()})
	}
	return results, nil
}

// Delete removes documents by ID.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	return s.retrier.Do(ctx, "qdrant.delete", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		return err
	})
}

// Count returns the number of stored documents.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := retry.Do(ctx, s.retrier, "qdrant.count", func(ctx context.Context) (uint64, error) {
		return s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.collection,
			Exact:          qdrant.PtrOf(true),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
