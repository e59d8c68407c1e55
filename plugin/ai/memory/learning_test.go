package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/store"
)

func TestKeywordClassifier(t *testing.T) {
	classifier := KeywordClassifier{}

	cases := []struct {
		summary string
		outcome store.Outcome
		want    store.PatternType
	}{
		{"cache warmed on startup cut latency in half", store.OutcomeSuccess, store.PatternOptimization},
		{"split the module into transport and storage layers", store.OutcomeSuccess, store.PatternArchitecture},
		{"automated the release pipeline steps", store.OutcomeSuccess, store.PatternWorkflow},
		{"applied the lint convention across packages", store.OutcomeSuccess, store.PatternBestPractice},
		{"changed the handler", store.OutcomeSuccess, store.PatternSolution},
		{"cache warmed on startup", store.OutcomeFailure, store.PatternAntiPattern},
	}
	for _, tc := range cases {
		got := classifier.Classify(&store.Episode{SolutionSummary: tc.summary, Outcome: tc.outcome})
		assert.Equal(t, tc.want, got, tc.summary)
	}
}

func TestExtractFromEpisodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	extractor := NewExtractor(env.store, nil)
	episodic := env.episodicKeywordOnly()

	success := recordEpisode(t, episodic, "speed up search endpoint", "added a cache for hot queries", nil)
	empty, err := episodic.Record(ctx, &store.Episode{
		TaskDescription: "looked around",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)

	learnings, err := extractor.ExtractFromEpisodes(ctx, []*store.Episode{success, empty})
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	assert.Equal(t, store.PatternOptimization, learnings[0].PatternType)
	assert.Equal(t, []string{success.UID}, learnings[0].SourceEpisodeUIDs)
	assert.InDelta(t, 0.6, learnings[0].Confidence, 1e-6)
	assert.Contains(t, learnings[0].Pattern, "speed up search endpoint")

	// Re-extraction skips episodes already mined.
	again, err := extractor.ExtractFromEpisodes(ctx, []*store.Episode{success})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestExtractAntiPatternFromFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	extractor := NewExtractor(env.store, nil)
	episodic := env.episodicKeywordOnly()

	failed, err := episodic.Record(ctx, &store.Episode{
		TaskDescription: "bump the dependency without reading the changelog",
		SolutionSummary: "broke three downstream consumers",
		Outcome:         store.OutcomeFailure,
	})
	require.NoError(t, err)

	learnings, err := extractor.ExtractFromEpisodes(ctx, []*store.Episode{failed})
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	assert.Equal(t, store.PatternAntiPattern, learnings[0].PatternType)
	assert.InDelta(t, 0.5, learnings[0].Confidence, 1e-6)
}

func TestLearningConfidenceFeedback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	extractor := NewExtractor(env.store, nil)

	learning, err := env.store.CreateLearning(ctx, &store.Learning{
		UID:         "l-1",
		PatternType: store.PatternSolution,
		Pattern:     "restart the watcher after config reload",
		Confidence:  0.5,
	})
	require.NoError(t, err)

	require.NoError(t, extractor.UpdateConfidence(ctx, learning.ID, true))
	got := mustGetLearning(t, env, learning.ID)
	assert.InDelta(t, 0.6, got.Confidence, 1e-6)
	assert.Equal(t, int32(1), got.AppliedCount)
	assert.NotZero(t, got.LastAppliedTs)

	require.NoError(t, extractor.UpdateConfidence(ctx, learning.ID, false))
	got = mustGetLearning(t, env, learning.ID)
	assert.InDelta(t, 0.45, got.Confidence, 1e-6)
	assert.Equal(t, int32(2), got.AppliedCount)

	err = extractor.UpdateConfidence(ctx, int64(99999), true)
	assert.Equal(t, memerr.ErrCodeNotFound, memerr.CodeOf(err))
}

func TestLearningConfidenceNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	extractor := NewExtractor(env.store, nil)

	learning, err := env.store.CreateLearning(ctx, &store.Learning{
		UID:         "l-2",
		PatternType: store.PatternSolution,
		Pattern:     "confident but wrong",
		Confidence:  0.95,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, extractor.UpdateConfidence(ctx, learning.ID, false))
		got := mustGetLearning(t, env, learning.ID)
		assert.GreaterOrEqual(t, got.Confidence, float32(0))
		assert.LessOrEqual(t, got.Confidence, float32(1))
	}
	assert.InDelta(t, 0, mustGetLearning(t, env, learning.ID).Confidence, 1e-6)
}

func TestFindRelevantLearnings(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	extractor := NewExtractor(env.store, nil)

	_, err := env.store.CreateLearning(ctx, &store.Learning{
		UID: "l-auth", PatternType: store.PatternSolution,
		Pattern: "rotate auth tokens on refresh", Confidence: 0.9,
	})
	require.NoError(t, err)
	_, err = env.store.CreateLearning(ctx, &store.Learning{
		UID: "l-docs", PatternType: store.PatternBestPractice,
		Pattern: "keep the changelog current", Confidence: 0.9,
	})
	require.NoError(t, err)

	scored, err := extractor.FindRelevantLearnings(ctx, "debugging auth token expiry", 5)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "l-auth", scored[0].Learning.UID)
	assert.Positive(t, scored[0].Score)
	assert.LessOrEqual(t, scored[0].Score, float32(0.9)+1e-6)

	none, err := extractor.FindRelevantLearnings(ctx, "unrelated topic entirely", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func mustGetLearning(t *testing.T, env *testEnv, id int64) *store.Learning {
	t.Helper()
	learnings, err := env.store.ListLearnings(context.Background(), &store.FindLearning{ID: &id, Limit: 1})
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	return learnings[0]
}
