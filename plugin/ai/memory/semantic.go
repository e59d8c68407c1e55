package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/store"
)

// ScoredSemanticItem pairs a semantic item with its similarity to a query.
type ScoredSemanticItem struct {
	Item       *store.SemanticItem
	Similarity float32
}

// SemanticMemory is the durable store of generalized knowledge distilled from
// episodes. Volume stays small, so relevance search is a linear scan over
// item embeddings.
type SemanticMemory struct {
	store    *store.Store
	embedder ai.EmbeddingService // nil when AI is disabled
}

// NewSemanticMemory creates a semantic memory tier.
func NewSemanticMemory(st *store.Store, embedder ai.EmbeddingService) *SemanticMemory {
	return &SemanticMemory{store: st, embedder: embedder}
}

// AddKnowledge stores a generalized knowledge item sourced from the given
// episodes. The embedding is best effort.
func (s *SemanticMemory) AddKnowledge(ctx context.Context, title, summary string, sourceEpisodeUIDs []string, confidence float32) (*store.SemanticItem, error) {
	if strings.TrimSpace(title) == "" {
		return nil, memerr.InvalidArgument("knowledge title is required")
	}

	item := &store.SemanticItem{
		UID:               shortuuid.New(),
		Title:             title,
		Summary:           summary,
		SourceEpisodeUIDs: sourceEpisodeUIDs,
		Confidence:        clampConfidence(confidence),
	}

	if s.embedder != nil {
		if embedding, err := s.embedder.Embed(ctx, title+" "+summary); err != nil {
			slog.Warn("semantic item stored without embedding", "title", title, "error", err)
		} else {
			item.Embedding = embedding
		}
	}

	created, err := s.store.CreateSemanticItem(ctx, item)
	if err != nil {
		return nil, memerr.StorageWriteFailed("failed to persist semantic item", err)
	}
	return created, nil
}

// FindRelevant returns up to limit items ranked by cosine similarity to the
// query, keyword fallback when no embeddings are available.
func (s *SemanticMemory) FindRelevant(ctx context.Context, query string, limit int) ([]ScoredSemanticItem, error) {
	if limit <= 0 {
		return []ScoredSemanticItem{}, nil
	}

	var queryEmbedding []float32
	if s.embedder != nil {
		if embedding, err := s.embedder.Embed(ctx, query); err == nil {
			queryEmbedding = embedding
		} else {
			slog.Debug("semantic search degraded to keywords", "error", err)
		}
	}

	if queryEmbedding == nil {
		items, err := s.store.ListSemanticItems(ctx, &store.FindSemanticItem{Query: query, Limit: limit})
		if err != nil {
			return nil, err
		}
		scored := make([]ScoredSemanticItem, len(items))
		for i, item := range items {
			scored[i] = ScoredSemanticItem{Item: item}
		}
		return scored, nil
	}

	items, err := s.store.ListSemanticItems(ctx, &store.FindSemanticItem{})
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredSemanticItem, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredSemanticItem{
			Item:       item,
			Similarity: cosineSimilarity(queryEmbedding, item.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// BySourceEpisode returns items that reference the given episode.
func (s *SemanticMemory) BySourceEpisode(ctx context.Context, episodeUID string) ([]*store.SemanticItem, error) {
	return s.store.ListSemanticItems(ctx, &store.FindSemanticItem{SourceEpisodeUID: &episodeUID})
}

// UpdateConfidence sets an item's confidence, clamped to [0, 1]. Out-of-range
// input is clamped, never an error.
func (s *SemanticMemory) UpdateConfidence(ctx context.Context, id int64, confidence float32) error {
	clamped := clampConfidence(confidence)
	return s.store.UpdateSemanticItem(ctx, &store.UpdateSemanticItem{ID: id, Confidence: &clamped})
}

func clampConfidence(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cosineSimilarity over float32 vectors. Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// recencyScore maps an age to (0, 1] with exponential decay.
func recencyScore(createdTs int64, now time.Time, halfLife time.Duration) float32 {
	age := now.Unix() - createdTs
	if age < 0 {
		age = 0
	}
	return float32(math.Exp(-float64(age) / halfLife.Seconds()))
}
