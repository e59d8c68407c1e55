// Package memory implements the multi-tier memory engine: episodic store with
// ANN similarity search, working memory, semantic and procedural tiers,
// hybrid retrieval, compression, and learning extraction.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/store"
)

// findSimilarOversample is how many ANN candidates are requested per result
// slot. Tombstoned and concurrently deleted entries make raw hits unreliable,
// so we over-fetch and trim.
const findSimilarOversample = 3

// ScoredEpisode pairs an episode with its cosine similarity to a query.
type ScoredEpisode struct {
	Episode    *store.Episode
	Similarity float32
}

// EpisodicStore is the durable episode log bound to the vector index. Writes
// follow persist-embed-index ordering: a failed embedding or index step still
// leaves a valid, keyword-searchable episode.
type EpisodicStore struct {
	store    *store.Store
	index    vector.Index
	embedder ai.EmbeddingService // nil when AI is disabled
}

// NewEpisodicStore creates an episodic store. embedder may be nil; episodes
// are then stored unindexed and found by keyword search only.
func NewEpisodicStore(st *store.Store, index vector.Index, embedder ai.EmbeddingService) *EpisodicStore {
	return &EpisodicStore{
		store:    st,
		index:    index,
		embedder: embedder,
	}
}

// Record persists an episode, then embeds and indexes it. The embedding call
// runs after the durable write and outside any store lock; on embedding
// failure the episode stays stored without an embedding and the error is
// logged, not returned.
func (e *EpisodicStore) Record(ctx context.Context, create *store.Episode) (*store.Episode, error) {
	if strings.TrimSpace(create.TaskDescription) == "" {
		return nil, memerr.InvalidArgument("task description is required")
	}
	if !create.Outcome.Valid() {
		return nil, memerr.InvalidArgument("invalid outcome: " + string(create.Outcome))
	}

	if create.UID == "" {
		create.UID = uuid.NewString()
	}
	if create.TokensUsed == 0 {
		create.TokensUsed = int32(ai.CountTokens(create.TaskDescription + " " + create.SolutionSummary))
	}
	create.Embedding = nil

	episode, err := e.store.CreateEpisode(ctx, create)
	if err != nil {
		return nil, memerr.StorageWriteFailed("failed to persist episode", err)
	}

	embedding, err := e.embed(ctx, episode.TaskDescription+" "+episode.SolutionSummary)
	if err != nil {
		slog.Warn("episode stored without embedding",
			"episode", episode.UID, "error", err)
		return episode, nil
	}

	if err := e.store.UpdateEpisodeEmbedding(ctx, episode.ID, embedding); err != nil {
		slog.Warn("failed to persist episode embedding", "episode", episode.UID, "error", err)
		return episode, nil
	}
	episode.Embedding = embedding

	if err := e.index.Add(episode.UID, embedding); err != nil {
		slog.Warn("failed to index episode", "episode", episode.UID, "error", err)
	}
	return episode, nil
}

// Get returns an episode by UID and bumps its access count.
func (e *EpisodicStore) Get(ctx context.Context, uid string) (*store.Episode, error) {
	episode, err := e.store.GetEpisodeByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if episode == nil {
		return nil, memerr.NotFound("episode " + uid)
	}
	if err := e.store.IncrementEpisodeAccess(ctx, []string{uid}); err != nil {
		slog.Warn("failed to increment episode access", "episode", uid, "error", err)
		return episode, nil
	}
	// The store cache may still hand this pointer to concurrent readers, so
	// the bumped count goes on a copy.
	bumped := *episode
	bumped.AccessCount++
	return &bumped, nil
}

// FindSimilar returns up to limit episodes similar to the query text, best
// first. It always returns a non-nil slice: when the index is empty or the
// embedder is unavailable it falls back to keyword matching.
func (e *EpisodicStore) FindSimilar(ctx context.Context, query string, limit int) ([]*store.Episode, error) {
	scored, err := e.FindSimilarScored(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	episodes := make([]*store.Episode, len(scored))
	for i, s := range scored {
		episodes[i] = s.Episode
	}
	return e.markReturned(ctx, episodes), nil
}

// FindSimilarScored is the read-only candidate search behind FindSimilar and
// cross-tier retrieval. It never touches access counts: callers bump only the
// episodes they actually return. Keyword fallback hits carry similarity 0.
func (e *EpisodicStore) FindSimilarScored(ctx context.Context, query string, limit int) ([]ScoredEpisode, error) {
	if limit <= 0 {
		return []ScoredEpisode{}, nil
	}

	scored := e.searchIndex(ctx, query, limit)
	if scored == nil {
		scored = e.searchSQL(ctx, query, limit)
	}
	if scored == nil {
		var err error
		scored, err = e.keywordFallback(ctx, query, limit)
		if err != nil {
			return nil, err
		}
	}

	return scored, nil
}

// markReturned bumps the stored access count for episodes handed back to a
// caller and returns copies carrying the new count. Candidates examined but
// not returned are never counted, and cached pointers are never mutated.
func (e *EpisodicStore) markReturned(ctx context.Context, episodes []*store.Episode) []*store.Episode {
	if len(episodes) == 0 {
		return episodes
	}

	uids := make([]string, len(episodes))
	for i, episode := range episodes {
		uids[i] = episode.UID
	}
	if err := e.store.IncrementEpisodeAccess(ctx, uids); err != nil {
		slog.Warn("failed to increment episode access", "error", err)
		return episodes
	}

	bumped := make([]*store.Episode, len(episodes))
	for i, episode := range episodes {
		copied := *episode
		copied.AccessCount++
		bumped[i] = &copied
	}
	return bumped
}

// searchIndex runs the ANN path. A nil return means the path is unavailable
// and the caller should fall back to keywords.
func (e *EpisodicStore) searchIndex(ctx context.Context, query string, limit int) []ScoredEpisode {
	if e.index.Len() == 0 {
		return nil
	}
	embedding, err := e.embed(ctx, query)
	if err != nil {
		slog.Debug("similarity search degraded to keywords", "error", err)
		return nil
	}

	results, err := e.index.Search(embedding, limit*findSimilarOversample)
	if err != nil {
		slog.Warn("index search failed", "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	scored := make([]ScoredEpisode, 0, limit)
	for _, res := range results {
		if len(scored) >= limit {
			break
		}
		episode, err := e.store.GetEpisodeByUID(ctx, res.ID)
		if err != nil || episode == nil {
			// Index entry without a live episode: stale, drop it.
			if err == nil {
				_ = e.index.Remove(res.ID)
			}
			continue
		}
		scored = append(scored, ScoredEpisode{Episode: episode, Similarity: res.Score})
	}
	return scored
}

// searchSQL pushes the similarity search into the database when the driver
// supports it (pgvector on postgres). A nil return means the path is
// unavailable and the caller should fall back to keywords.
func (e *EpisodicStore) searchSQL(ctx context.Context, query string, limit int) []ScoredEpisode {
	embedding, err := e.embed(ctx, query)
	if err != nil {
		return nil
	}

	results, err := e.store.VectorSearchEpisodes(ctx, &store.VectorSearchOptions{Embedding: embedding, Limit: limit})
	if err != nil {
		slog.Debug("sql vector search unavailable", "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	scored := make([]ScoredEpisode, len(results))
	for i, res := range results {
		scored[i] = ScoredEpisode{Episode: res.Episode, Similarity: res.Score}
	}
	return scored
}

func (e *EpisodicStore) keywordFallback(ctx context.Context, query string, limit int) ([]ScoredEpisode, error) {
	episodes, err := e.store.ListEpisodes(ctx, &store.FindEpisode{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	scored := make([]ScoredEpisode, len(episodes))
	for i, episode := range episodes {
		scored[i] = ScoredEpisode{Episode: episode}
	}
	return scored, nil
}

// Delete removes an episode and tombstones its index entry.
func (e *EpisodicStore) Delete(ctx context.Context, uid string) error {
	count, err := e.store.DeleteEpisode(ctx, &store.DeleteEpisode{UID: &uid})
	if err != nil {
		return err
	}
	if count == 0 {
		return memerr.NotFound("episode " + uid)
	}
	if err := e.index.Remove(uid); err != nil {
		slog.Debug("episode was not indexed", "episode", uid)
	}
	return nil
}

// RebuildIndex repopulates the vector index from stored embeddings. O(n) over
// the episode log; used when loading a persisted index fails.
func (e *EpisodicStore) RebuildIndex(ctx context.Context) (int, error) {
	const pageSize = 500

	start := time.Now()
	indexed := 0
	for offset := 0; ; offset += pageSize {
		episodes, err := e.store.ListEpisodes(ctx, &store.FindEpisode{Limit: pageSize, Offset: offset})
		if err != nil {
			return indexed, err
		}
		if len(episodes) == 0 {
			break
		}
		for _, episode := range episodes {
			if len(episode.Embedding) == 0 {
				continue
			}
			if err := e.index.Add(episode.UID, episode.Embedding); err != nil {
				slog.Warn("failed to index episode during rebuild", "episode", episode.UID, "error", err)
				continue
			}
			indexed++
		}
		if len(episodes) < pageSize {
			break
		}
	}

	slog.Info("vector index rebuilt", "indexed", indexed, "duration_ms", time.Since(start).Milliseconds())
	return indexed, nil
}

func (e *EpisodicStore) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, memerr.EmbeddingUnavailable(nil)
	}
	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, memerr.Timeout("embedding call timed out", err)
		}
		return nil, memerr.EmbeddingUnavailable(err)
	}
	return embedding, nil
}
