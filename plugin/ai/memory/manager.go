package memory

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/internal/observability"
	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/store"
)

// RecordEpisodeRequest carries the inputs of one task execution to record.
type RecordEpisodeRequest struct {
	Task            string
	ContextSnapshot string
	QueriesMade     []string
	FilesTouched    []string
	SolutionSummary string
	Outcome         store.Outcome
	TokensUsed      int32
}

// PruneStats summarizes one pruning pass.
type PruneStats struct {
	Examined int
	Pruned   int
}

// Statistics is the per-tier state snapshot exposed to callers.
type Statistics struct {
	Episodes            int64
	UnindexedEpisodes   int64
	SemanticItems       int64
	Procedures          int64
	Learnings           int64
	Checkpoints         int64
	IndexedVectors      int
	IndexTombstones     int
	WorkingMemoryItems  int
	WorkingMemoryTokens int
}

// Manager is the single orchestration entry point for the memory subsystem.
// It is an explicit, injectable instance: construct once at process start,
// Close on shutdown. Safe for concurrent callers; each tier enforces its own
// single-writer discipline.
type Manager struct {
	profile  *profile.Profile
	store    *store.Store
	index    vector.Index
	embedder ai.EmbeddingService

	episodic   *EpisodicStore
	working    *WorkingMemory
	semantic   *SemanticMemory
	procedural *ProceduralMemory
	retrieval  *RetrievalEngine
	compressor *Compressor
	extractor  *Extractor

	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewManager wires the memory tiers together. embedder may be nil (keyword
// search only). classifier may be nil (keyword classifier).
func NewManager(p *profile.Profile, st *store.Store, index vector.Index, embedder ai.EmbeddingService, classifier Classifier) (*Manager, error) {
	episodic := NewEpisodicStore(st, index, embedder)
	working := NewWorkingMemory(p.WorkingMemoryTokens)
	semantic := NewSemanticMemory(st, embedder)
	procedural := NewProceduralMemory(st)

	retrieval, err := NewRetrievalEngine(episodic, semantic, working, DefaultHybridWeights())
	if err != nil {
		return nil, err
	}

	return &Manager{
		profile:    p,
		store:      st,
		index:      index,
		embedder:   embedder,
		episodic:   episodic,
		working:    working,
		semantic:   semantic,
		procedural: procedural,
		retrieval:  retrieval,
		compressor: NewCompressor(st, semantic, episodic, index, p.CheckpointDir(), p.MaxEpisodes),
		extractor:  NewExtractor(st, classifier),
		metrics:    observability.NewMetrics(0),
		logger:     slog.Default(),
	}, nil
}

// Init loads the persisted vector index. A missing blob is a fresh start; a
// corrupt or unreadable blob triggers a full rebuild from the episode store.
// Rebuild-on-load-failure is an expected path, not an exceptional one.
func (m *Manager) Init(ctx context.Context) error {
	path := m.profile.IndexPath()
	err := m.index.Load(path)
	switch {
	case err == nil:
		m.logger.Info("vector index loaded", "path", path, "vectors", m.index.Len())
		return nil
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Info("no persisted vector index, starting empty", "path", path)
	default:
		m.logger.Warn("vector index load failed, rebuilding",
			"path", path, "error", memerr.IndexLoadFailed("load failed", err))
	}

	if _, err := m.episodic.RebuildIndex(ctx); err != nil {
		return err
	}
	return nil
}

// RecordEpisode persists one task execution, indexes it, folds its steps into
// procedural memory, and extracts learnings from successful outcomes.
func (m *Manager) RecordEpisode(ctx context.Context, req *RecordEpisodeRequest) (*store.Episode, error) {
	rc := observability.NewRequestContext(m.logger, "record_episode")
	m.metrics.RecordRequest("record_episode")

	episode, err := m.episodic.Record(ctx, &store.Episode{
		TaskDescription: req.Task,
		ContextSnapshot: req.ContextSnapshot,
		QueriesMade:     req.QueriesMade,
		FilesTouched:    req.FilesTouched,
		SolutionSummary: req.SolutionSummary,
		Outcome:         req.Outcome,
		TokensUsed:      req.TokensUsed,
	})
	if err != nil {
		m.metrics.RecordFailure("record_episode")
		return nil, err
	}

	taskType := store.InferTaskType(req.Task)
	if _, err := m.procedural.RecordSolution(ctx, taskType, req.QueriesMade, req.Outcome == store.OutcomeSuccess, episode.TokensUsed); err != nil {
		rc.Warn("failed to update procedural memory", slog.String("task_type", string(taskType)), slog.Any("error", err))
	}

	if req.Outcome == store.OutcomeSuccess {
		if _, err := m.extractor.ExtractFromEpisodes(ctx, []*store.Episode{episode}); err != nil {
			rc.Warn("learning extraction failed", slog.Any("error", err))
		}
	}

	m.metrics.RecordDuration("record_episode", time.Since(rc.StartTime))
	rc.Done("episode recorded", slog.String(observability.LogFieldEpisodeID, episode.UID))
	return episode, nil
}

// FindSimilarEpisodes returns up to limit episodes similar to the query.
func (m *Manager) FindSimilarEpisodes(ctx context.Context, query string, limit int) ([]*store.Episode, error) {
	return m.episodic.FindSimilar(ctx, query, limit)
}

// RetrieveContext returns ranked memory items across all tiers, trimmed to
// the token budget.
func (m *Manager) RetrieveContext(ctx context.Context, query string, strategy Strategy, tokenBudget int) ([]RetrievedItem, error) {
	rc := observability.NewRequestContext(m.logger, "retrieve_context")
	m.metrics.RecordRequest("retrieve_context")

	items, err := m.retrieval.Retrieve(ctx, query, strategy, 10, tokenBudget)
	if err != nil {
		m.metrics.RecordFailure("retrieve_context")
		return nil, err
	}

	m.metrics.RecordDuration("retrieve_context", time.Since(rc.StartTime))
	rc.Done("context retrieved", slog.Int("items", len(items)))
	return items, nil
}

// CompressMemories checkpoints the current state, then compresses episodes
// older than olderThan.
func (m *Manager) CompressMemories(ctx context.Context, olderThan time.Time) (*CompressionStats, error) {
	rc := observability.NewRequestContext(m.logger, "compress_memories")
	m.metrics.RecordRequest("compress_memories")

	if _, err := m.compressor.CreateCheckpoint(ctx); err != nil {
		m.metrics.RecordFailure("compress_memories")
		return nil, err
	}

	stats, err := m.compressor.Compress(ctx, olderThan)
	if err != nil {
		m.metrics.RecordFailure("compress_memories")
		return stats, err
	}

	m.metrics.RecordDuration("compress_memories", time.Since(rc.StartTime))
	rc.Done("memories compressed",
		slog.Int("processed", stats.Processed),
		slog.Int("compressed", stats.Compressed),
		slog.Int("created", stats.Created))
	return stats, nil
}

// ExtractLearnings mines all stored episodes for patterns not yet captured.
func (m *Manager) ExtractLearnings(ctx context.Context) ([]*store.Learning, error) {
	episodes, err := m.store.ListEpisodes(ctx, &store.FindEpisode{})
	if err != nil {
		return nil, err
	}
	return m.extractor.ExtractFromEpisodes(ctx, episodes)
}

// PruneMemories deletes episodes whose combined value (0.6 * pattern_value +
// 0.4 * normalized access count) falls below the threshold, regardless of
// age. Safety valve, not routine maintenance.
func (m *Manager) PruneMemories(ctx context.Context, valueThreshold float32) (*PruneStats, error) {
	rc := observability.NewRequestContext(m.logger, "prune_memories")
	m.metrics.RecordRequest("prune_memories")

	episodes, err := m.store.ListEpisodes(ctx, &store.FindEpisode{})
	if err != nil {
		m.metrics.RecordFailure("prune_memories")
		return nil, err
	}

	var maxAccess int32
	for _, episode := range episodes {
		if episode.AccessCount > maxAccess {
			maxAccess = episode.AccessCount
		}
	}

	victims := []string{}
	for _, episode := range episodes {
		if importanceScore(episode.PatternValue, episode.AccessCount, maxAccess) < valueThreshold {
			victims = append(victims, episode.UID)
		}
	}

	stats := &PruneStats{Examined: len(episodes)}
	if len(victims) > 0 {
		deleted, err := m.store.DeleteEpisode(ctx, &store.DeleteEpisode{UIDs: victims})
		if err != nil {
			m.metrics.RecordFailure("prune_memories")
			return stats, memerr.StorageWriteFailed("failed to prune episodes", err)
		}
		stats.Pruned = int(deleted)
		for _, uid := range victims {
			_ = m.index.Remove(uid)
		}
	}

	m.metrics.RecordDuration("prune_memories", time.Since(rc.StartTime))
	rc.Done("memories pruned", slog.Int("examined", stats.Examined), slog.Int("pruned", stats.Pruned))
	return stats, nil
}

// Statistics reports per-tier counts and sizes.
func (m *Manager) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := m.store.GetMemoryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Statistics{
		Episodes:            counts.Episodes,
		UnindexedEpisodes:   counts.Unindexed,
		SemanticItems:       counts.SemanticItems,
		Procedures:          counts.Procedures,
		Learnings:           counts.Learnings,
		Checkpoints:         counts.Checkpoints,
		IndexedVectors:      m.index.Len(),
		IndexTombstones:     m.index.Tombstones(),
		WorkingMemoryItems:  m.working.Len(),
		WorkingMemoryTokens: m.working.TokenCount(),
	}, nil
}

// SaveIndex persists the vector index to its configured path.
func (m *Manager) SaveIndex() error {
	return m.index.Save(m.profile.IndexPath())
}

// Close persists the index and releases the store.
func (m *Manager) Close() error {
	if err := m.SaveIndex(); err != nil {
		m.logger.Warn("failed to save vector index on shutdown", "error", err)
	}
	return m.store.Close()
}

// Store exposes the backing store for supporting runners.
func (m *Manager) Store() *store.Store { return m.store }

// Index exposes the vector index for supporting runners.
func (m *Manager) Index() vector.Index { return m.index }

// WorkingMemory exposes the working memory tier for session-scoped callers.
func (m *Manager) WorkingMemory() *WorkingMemory { return m.working }

// Episodic exposes the episodic tier.
func (m *Manager) Episodic() *EpisodicStore { return m.episodic }

// Semantic exposes the semantic tier.
func (m *Manager) Semantic() *SemanticMemory { return m.semantic }

// Procedural exposes the procedural tier.
func (m *Manager) Procedural() *ProceduralMemory { return m.procedural }

// Compressor exposes checkpoint create/restore.
func (m *Manager) Compressor() *Compressor { return m.compressor }

// Extractor exposes learning confidence feedback.
func (m *Manager) Extractor() *Extractor { return m.extractor }

// Metrics exposes the operation counters.
func (m *Manager) Metrics() *observability.Metrics { return m.metrics }
