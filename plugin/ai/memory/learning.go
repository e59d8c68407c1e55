package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/store"
)

// Confidence deltas for learning outcome feedback. Failures cost more than
// successes earn, so a flaky pattern decays.
const (
	confidenceReward  = 0.10
	confidencePenalty = 0.15
)

// Seed confidence for freshly extracted learnings.
const (
	seedConfidenceSuccess = 0.6
	seedConfidenceFailure = 0.5
)

// applicationHalfLife is the decay window for ranking learnings by how
// recently they were applied.
const applicationHalfLife = 30 * 24 * time.Hour

// Classifier maps an episode to the pattern type of the learning it yields.
// Pluggable so classification heuristics can evolve independently of the
// extractor.
type Classifier interface {
	Classify(episode *store.Episode) store.PatternType
}

// KeywordClassifier classifies by keyword heuristics over the solution
// summary and touched files. Failed episodes are always anti-patterns.
type KeywordClassifier struct{}

var classifierRules = []struct {
	patternType store.PatternType
	keywords    []string
}{
	{store.PatternOptimization, []string{"optimiz", "performance", "speed", "cache", "latency", "faster"}},
	{store.PatternArchitecture, []string{"architecture", "design", "structure", "module", "interface", "layer"}},
	{store.PatternWorkflow, []string{"workflow", "pipeline", "process", "steps", "sequence", "automat"}},
	{store.PatternBestPractice, []string{"convention", "practice", "standard", "lint", "style", "idiomatic"}},
}

func (KeywordClassifier) Classify(episode *store.Episode) store.PatternType {
	if episode.Outcome == store.OutcomeFailure {
		return store.PatternAntiPattern
	}

	haystack := strings.ToLower(episode.SolutionSummary + " " + strings.Join(episode.FilesTouched, " "))
	for _, rule := range classifierRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.patternType
			}
		}
	}
	return store.PatternSolution
}

// Extractor mines completed episodes for transferable patterns.
type Extractor struct {
	store      *store.Store
	classifier Classifier
	now        func() time.Time
}

// NewExtractor creates a learning extractor. classifier defaults to
// KeywordClassifier when nil.
func NewExtractor(st *store.Store, classifier Classifier) *Extractor {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &Extractor{store: st, classifier: classifier, now: time.Now}
}

// ExtractFromEpisodes classifies the given episodes and persists one learning
// per episode with an extractable pattern. Episodes already referenced by a
// learning are skipped.
func (e *Extractor) ExtractFromEpisodes(ctx context.Context, episodes []*store.Episode) ([]*store.Learning, error) {
	existing, err := e.sourcedEpisodeUIDs(ctx)
	if err != nil {
		return nil, err
	}

	extracted := make([]*store.Learning, 0, len(episodes))
	for _, episode := range episodes {
		if existing[episode.UID] {
			continue
		}
		if strings.TrimSpace(episode.SolutionSummary) == "" {
			continue
		}

		patternType := e.classifier.Classify(episode)
		confidence := float32(seedConfidenceSuccess)
		if patternType == store.PatternAntiPattern {
			confidence = seedConfidenceFailure
		}

		learning, err := e.store.CreateLearning(ctx, &store.Learning{
			UID:               uuid.NewString(),
			PatternType:       patternType,
			Pattern:           learningPattern(episode),
			Confidence:        confidence,
			SourceEpisodeUIDs: []string{episode.UID},
		})
		if err != nil {
			return extracted, memerr.StorageWriteFailed("failed to persist learning", err)
		}
		extracted = append(extracted, learning)
	}

	if len(extracted) > 0 {
		slog.Info("learnings extracted", "count", len(extracted))
	}
	return extracted, nil
}

// UpdateConfidence applies outcome feedback to a learning: +0.10 on success,
// -0.15 on failure, clamped to [0, 1]. Also bumps applied_count and the
// last-applied timestamp.
func (e *Extractor) UpdateConfidence(ctx context.Context, id int64, success bool) error {
	learnings, err := e.store.ListLearnings(ctx, &store.FindLearning{ID: &id, Limit: 1})
	if err != nil {
		return err
	}
	if len(learnings) == 0 {
		return memerr.NotFound("learning")
	}
	learning := learnings[0]

	confidence := learning.Confidence
	if success {
		confidence += confidenceReward
	} else {
		confidence -= confidencePenalty
	}
	confidence = clampConfidence(confidence)

	appliedCount := learning.AppliedCount + 1
	lastApplied := e.now().Unix()
	return e.store.UpdateLearning(ctx, &store.UpdateLearning{
		ID:            id,
		Confidence:    &confidence,
		AppliedCount:  &appliedCount,
		LastAppliedTs: &lastApplied,
	})
}

// ScoredLearning pairs a learning with its relevance ranking score.
type ScoredLearning struct {
	Learning *store.Learning
	Score    float32
}

// FindRelevantLearnings returns learnings matching the context text, ranked
// by confidence weighted by recency of last application. Never-applied
// learnings rank by confidence against their creation time.
func (e *Extractor) FindRelevantLearnings(ctx context.Context, contextText string, limit int) ([]ScoredLearning, error) {
	if limit <= 0 {
		return []ScoredLearning{}, nil
	}

	learnings, err := e.store.ListLearnings(ctx, &store.FindLearning{})
	if err != nil {
		return nil, err
	}

	keywords := extractKeywords(contextText)
	now := e.now()

	scored := make([]ScoredLearning, 0, len(learnings))
	for _, learning := range learnings {
		if len(keywords) > 0 && !matchesAny(learning.Pattern, keywords) {
			continue
		}
		appliedTs := learning.LastAppliedTs
		if appliedTs == 0 {
			appliedTs = learning.CreatedTs
		}
		score := learning.Confidence * recencyScore(appliedTs, now, applicationHalfLife)
		scored = append(scored, ScoredLearning{Learning: learning, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (e *Extractor) sourcedEpisodeUIDs(ctx context.Context) (map[string]bool, error) {
	learnings, err := e.store.ListLearnings(ctx, &store.FindLearning{})
	if err != nil {
		return nil, err
	}
	sourced := make(map[string]bool)
	for _, learning := range learnings {
		for _, uid := range learning.SourceEpisodeUIDs {
			sourced[uid] = true
		}
	}
	return sourced, nil
}

// learningPattern is the stored pattern text: task plus what worked (or
// failed).
func learningPattern(episode *store.Episode) string {
	return strings.TrimSpace(episode.TaskDescription + ": " + episode.SolutionSummary)
}

func matchesAny(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}
