package memory

import (
	"context"
	"math"
	"sort"
	"time"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/store"
)

// Strategy selects the ranking formula used by the retrieval engine.
type Strategy string

const (
	StrategyRecency    Strategy = "recency"
	StrategyRelevance  Strategy = "relevance"
	StrategyImportance Strategy = "importance"
	StrategyHybrid     Strategy = "hybrid"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRecency, StrategyRelevance, StrategyImportance, StrategyHybrid:
		return true
	}
	return false
}

// MemoryTier labels where a retrieved item came from.
type MemoryTier string

const (
	TierWorking  MemoryTier = "working"
	TierEpisodic MemoryTier = "episodic"
	TierSemantic MemoryTier = "semantic"
)

// RetrievedItem is one ranked result from cross-tier retrieval.
type RetrievedItem struct {
	Tier      MemoryTier
	Key       string // episode/item UID, or working memory key
	Content   string
	Score     float32
	TokenCost int

	// Episode is set for episodic hits.
	Episode *store.Episode
	// SemanticItem is set for semantic hits.
	SemanticItem *store.SemanticItem
}

// HybridWeights are the mixing weights for the hybrid strategy. They must sum
// to 1.
type HybridWeights struct {
	Recency    float32
	Relevance  float32
	Importance float32
}

// DefaultHybridWeights returns the standard 0.3/0.5/0.2 mix.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Recency: 0.3, Relevance: 0.5, Importance: 0.2}
}

// Validate checks the weights sum to 1 within a small tolerance.
func (w HybridWeights) Validate() error {
	sum := w.Recency + w.Relevance + w.Importance
	if math.Abs(float64(sum)-1.0) > 1e-3 {
		return memerr.InvalidArgument("hybrid weights must sum to 1")
	}
	if w.Recency < 0 || w.Relevance < 0 || w.Importance < 0 {
		return memerr.InvalidArgument("hybrid weights must be non-negative")
	}
	return nil
}

// recencyHalfLife is the decay constant for the recency score. One week old
// scores 1/e.
const recencyHalfLife = 7 * 24 * time.Hour

// retrievalOversample is how many episodic candidates are pulled before
// ranking and budget truncation.
const retrievalOversample = 4

// RetrievalEngine merges and ranks memory items across tiers. Pure with
// respect to store state except for access-count bumps on returned episodes.
type RetrievalEngine struct {
	episodic *EpisodicStore
	semantic *SemanticMemory
	working  *WorkingMemory
	weights  HybridWeights
	now      func() time.Time
}

// NewRetrievalEngine creates a retrieval engine over the given tiers.
func NewRetrievalEngine(episodic *EpisodicStore, semantic *SemanticMemory, working *WorkingMemory, weights HybridWeights) (*RetrievalEngine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &RetrievalEngine{
		episodic: episodic,
		semantic: semantic,
		working:  working,
		weights:  weights,
		now:      time.Now,
	}, nil
}

// Retrieve returns ranked memory items for the query, greedily truncated to
// the token budget by descending score. limit bounds the candidate count per
// tier; tokenBudget <= 0 means unbudgeted.
func (r *RetrievalEngine) Retrieve(ctx context.Context, query string, strategy Strategy, limit, tokenBudget int) ([]RetrievedItem, error) {
	if !strategy.Valid() {
		return nil, memerr.InvalidArgument("unknown retrieval strategy: " + string(strategy))
	}
	if limit <= 0 {
		limit = 10
	}

	now := r.now()
	items := make([]RetrievedItem, 0, limit*2)

	// Working memory is live state: always relevant, scored by attention.
	for _, wi := range r.working.Context() {
		items = append(items, RetrievedItem{
			Tier:      TierWorking,
			Key:       wi.Key,
			Content:   wi.Content,
			Score:     clampConfidence(float32(wi.priority(now))),
			TokenCost: wi.TokenCost,
		})
	}

	episodes, err := r.episodic.FindSimilarScored(ctx, query, limit*retrievalOversample)
	if err != nil {
		return nil, err
	}
	var maxAccess int32
	for _, se := range episodes {
		if se.Episode.AccessCount > maxAccess {
			maxAccess = se.Episode.AccessCount
		}
	}
	for _, se := range episodes {
		items = append(items, RetrievedItem{
			Tier:      TierEpisodic,
			Key:       se.Episode.UID,
			Content:   se.Episode.TaskDescription + "\n" + se.Episode.SolutionSummary,
			Score:     r.score(strategy, se, maxAccess, now),
			TokenCost: int(se.Episode.TokensUsed),
			Episode:   se.Episode,
		})
	}

	semanticItems, err := r.semantic.FindRelevant(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	for _, si := range semanticItems {
		items = append(items, RetrievedItem{
			Tier:         TierSemantic,
			Key:          si.Item.UID,
			Content:      si.Item.Title + "\n" + si.Item.Summary,
			Score:        r.scoreSemantic(strategy, si, now),
			TokenCost:    ai.CountTokens(si.Item.Summary),
			SemanticItem: si.Item,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		// Tie-break: higher pattern value, then more recent.
		pi, pj := patternValueOf(items[i]), patternValueOf(items[j])
		if pi != pj {
			return pi > pj
		}
		return createdTsOf(items[i]) > createdTsOf(items[j])
	})

	if len(items) > limit {
		items = items[:limit]
	}

	if tokenBudget > 0 {
		budgeted := items[:0]
		remaining := tokenBudget
		for _, item := range items {
			if item.TokenCost > remaining {
				continue
			}
			budgeted = append(budgeted, item)
			remaining -= item.TokenCost
		}
		items = budgeted
	}

	// Access counts move only for episodes that survived ranking and the
	// budget, never for candidates that were merely examined.
	returned := make([]*store.Episode, 0, len(items))
	for _, item := range items {
		if item.Episode != nil {
			returned = append(returned, item.Episode)
		}
	}
	bumped := r.episodic.markReturned(ctx, returned)
	j := 0
	for i := range items {
		if items[i].Episode != nil {
			items[i].Episode = bumped[j]
			j++
		}
	}

	return items, nil
}

// score computes an episode's score in [0, 1] for the given strategy.
func (r *RetrievalEngine) score(strategy Strategy, se ScoredEpisode, maxAccess int32, now time.Time) float32 {
	recency := recencyScore(se.Episode.CreatedTs, now, recencyHalfLife)
	relevance := clampConfidence(se.Similarity)
	importance := importanceScore(se.Episode.PatternValue, se.Episode.AccessCount, maxAccess)

	switch strategy {
	case StrategyRecency:
		return recency
	case StrategyRelevance:
		return relevance
	case StrategyImportance:
		return importance
	default:
		return clampConfidence(r.weights.Recency*recency + r.weights.Relevance*relevance + r.weights.Importance*importance)
	}
}

func (r *RetrievalEngine) scoreSemantic(strategy Strategy, si ScoredSemanticItem, now time.Time) float32 {
	recency := recencyScore(si.Item.CreatedTs, now, recencyHalfLife)
	relevance := clampConfidence(si.Similarity)
	importance := clampConfidence(si.Item.Confidence)

	switch strategy {
	case StrategyRecency:
		return recency
	case StrategyRelevance:
		return relevance
	case StrategyImportance:
		return importance
	default:
		return clampConfidence(r.weights.Recency*recency + r.weights.Relevance*relevance + r.weights.Importance*importance)
	}
}

// importanceScore is 0.6 * pattern_value + 0.4 * normalized access count.
func importanceScore(patternValue float32, accessCount, maxAccess int32) float32 {
	var normAccess float32
	if maxAccess > 0 {
		normAccess = float32(accessCount) / float32(maxAccess)
	}
	return clampConfidence(0.6*patternValue + 0.4*normAccess)
}

func patternValueOf(item RetrievedItem) float32 {
	switch {
	case item.Episode != nil:
		return item.Episode.PatternValue
	case item.SemanticItem != nil:
		return item.SemanticItem.Confidence
	}
	return 0
}

func createdTsOf(item RetrievedItem) int64 {
	switch {
	case item.Episode != nil:
		return item.Episode.CreatedTs
	case item.SemanticItem != nil:
		return item.SemanticItem.CreatedTs
	}
	// Working memory items are live "now".
	return math.MaxInt64
}
