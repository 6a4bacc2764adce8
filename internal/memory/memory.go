// Package memory stores and retrieves mission memory: decisions, playbooks,
// snippets and glossary entries, indexed by embedding.
//
// Retrieval is gated: only results at or above the similarity threshold are
// surfaced, and the assembled context is size-bounded. An empty result is a
// normal outcome, not an error.
//
// Writing is the curation path. The pipeline's memory phase only proposes
// unapproved candidates on the mission record; Save is how a curator approves
// one. Vectors exist only for approved items, so retrieval sees approved
// content by construction.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/vectorstore"
)

// ItemType classifies a memory item.
type ItemType string

const (
	TypeADR      ItemType = "adr"
	TypePlaybook ItemType = "playbook"
	TypeSnippet  ItemType = "snippet"
	TypeGlossary ItemType = "glossary"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeADR, TypePlaybook, TypeSnippet, TypeGlossary:
		return true
	}
	return false
}

// Item is one entry in mission memory.
type Item struct {
	ID        string
	Type      ItemType
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
}

// Retrieved is an item returned from a retrieval query with its score.
type Retrieved struct {
	Item  Item
	Score float32
}

// Embedder turns text into an embedding vector. Satisfied by the inference
// service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls retrieval gating.
type Config struct {
	// TopK is how many candidates to fetch before score filtering.
	TopK int

	// MinScore discards results scoring below it.
	MinScore float32

	// MaxContextBytes bounds the assembled context.
	MaxContextBytes int
}

// Service is the memory read and write path.
type Service struct {
	config   Config
	store    vectorstore.Store
	embedder Embedder
	logger   *zap.Logger
}

// NewService creates a memory service. A nil logger is replaced with a no-op
// logger.
func NewService(config Config, store vectorstore.Store, embedder Embedder, logger *zap.Logger) *Service {
	if config.TopK < 1 {
		config.TopK = 8
	}
	if config.MinScore == 0 {
		config.MinScore = 0.7
	}
	if config.MaxContextBytes < 1 {
		config.MaxContextBytes = 16 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: config, store: store, embedder: embedder, logger: logger}
}

// Save approves the item, embeds it and stores its vector. A missing ID is
// generated; a missing creation time is set to now.
func (s *Service) Save(ctx context.Context, item Item) (Item, error) {
	if !item.Type.Valid() {
		return Item{}, fmt.Errorf("invalid memory item type %q", item.Type)
	}
	if strings.TrimSpace(item.Content) == "" {
		return Item{}, fmt.Errorf("memory item content is empty")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	embedding, err := s.embedder.Embed(ctx, item.Title+"\n"+item.Content)
	if err != nil {
		return Item{}, fmt.Errorf("failed to embed memory item: %w", err)
	}

	doc := vectorstore.Document{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: embedding,
		Metadata: map[string]string{
			"type":       string(item.Type),
			"title":      item.Title,
			"tags":       strings.Join(item.Tags, ","),
			"created_at": item.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := s.store.Upsert(ctx, []vectorstore.Document{doc}); err != nil {
		return Item{}, fmt.Errorf("failed to store memory item: %w", err)
	}

	s.logger.Info("memory item saved",
		zap.String("id", item.ID),
		zap.String("type", string(item.Type)),
	)
	return item, nil
}

// Remove deletes an item by ID.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.store.Delete(ctx, []string{id})
}

// Retrieve returns items relevant to the query, best first. Results scoring
// below the threshold are discarded. A non-empty itemType restricts results
// to that type. No matches is not an error.
func (s *Service) Retrieve(ctx context.Context, query string, itemType ItemType) ([]Retrieved, error) {
	if itemType != "" && !itemType.Valid() {
		return nil, fmt.Errorf("invalid memory item type %q", itemType)
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var filter map[string]string
	if itemType != "" {
		filter = map[string]string{"type": string(itemType)}
	}

	results, err := s.store.Search(ctx, embedding, s.config.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	var out []Retrieved
	for _, r := range results {
		if r.Score < s.config.MinScore {
			continue
		}
		out = append(out, Retrieved{Item: itemFromDocument(r.Document), Score: r.Score})
	}

	s.logger.Debug("memory retrieval",
		zap.Int("candidates", len(results)),
		zap.Int("passed", len(out)),
		zap.Float32("min_score", s.config.MinScore),
	)
	return out, nil
}

// BuildContext retrieves relevant memory and assembles it into a prompt
// fragment bounded by MaxContextBytes. An empty string means no relevant
// memory exists; callers proceed without it.
func (s *Service) BuildContext(ctx context.Context, query string) (string, error) {
	retrieved, err := s.Retrieve(ctx, query, "")
	if err != nil {
		return "", err
	}
	if len(retrieved) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant memory:\n")
	for _, r := range retrieved {
		entry := fmt.Sprintf("\n[%s] %s\n%s\n", r.Item.Type, r.Item.Title, r.Item.Content)
		if b.Len()+len(entry) > s.config.MaxContextBytes {
			break
		}
		b.WriteString(entry)
	}
	return b.String(), nil
}

func itemFromDocument(doc vectorstore.Document) Item {
	item := Item{
		ID:      doc.ID,
		Content: doc.Content,
		Type:    ItemType(doc.Metadata["type"]),
		Title:   doc.Metadata["title"],
	}
	if tags := doc.Metadata["tags"]; tags != "" {
		item.Tags = strings.Split(tags, ",")
	}
	if ts := doc.Metadata["created_at"]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			item.CreatedAt = parsed
		}
	}
	return item
}
