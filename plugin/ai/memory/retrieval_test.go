package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/store"
)

func newTestRetrieval(t *testing.T, env *testEnv) (*RetrievalEngine, *EpisodicStore, *WorkingMemory) {
	t.Helper()
	episodic := env.episodic()
	working := NewWorkingMemory(2000)
	engine, err := NewRetrievalEngine(episodic, env.semantic(), working, DefaultHybridWeights())
	require.NoError(t, err)
	return engine, episodic, working
}

func TestHybridWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultHybridWeights().Validate())
	assert.NoError(t, HybridWeights{Recency: 1}.Validate())

	err := HybridWeights{Recency: 0.5, Relevance: 0.5, Importance: 0.5}.Validate()
	assert.Equal(t, memerr.ErrCodeInvalidArgument, memerr.CodeOf(err))

	err = HybridWeights{Recency: 1.5, Relevance: -0.5}.Validate()
	assert.Equal(t, memerr.ErrCodeInvalidArgument, memerr.CodeOf(err))

	_, err = NewRetrievalEngine(nil, nil, nil, HybridWeights{})
	assert.Error(t, err)
}

func TestRetrieveRejectsUnknownStrategy(t *testing.T) {
	env := newTestEnv(t)
	engine, _, _ := newTestRetrieval(t, env)

	_, err := engine.Retrieve(context.Background(), "query", Strategy("psychic"), 5, 0)
	assert.Equal(t, memerr.ErrCodeInvalidArgument, memerr.CodeOf(err))
}

func TestRetrieveHybridScoresBoundedAndSorted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	engine, episodic, working := newTestRetrieval(t, env)

	recordEpisode(t, episodic, "fix authentication bug in login handler", "rotated the refresh token", []string{"auth/login.go"})
	recordEpisode(t, episodic, "add pagination to search endpoint", "cursor based paging", []string{"api/search.go"})
	require.NoError(t, working.Add("current-goal", "debugging the login flow", 0.9))

	_, err := env.semantic().AddKnowledge(ctx, "login hardening", "lock accounts after repeated failures", nil, 0.8)
	require.NoError(t, err)

	items, err := engine.Retrieve(ctx, "authentication login bug", StrategyHybrid, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	tiers := map[MemoryTier]bool{}
	for i, item := range items {
		assert.GreaterOrEqual(t, item.Score, float32(0))
		assert.LessOrEqual(t, item.Score, float32(1))
		if i > 0 {
			assert.GreaterOrEqual(t, items[i-1].Score, item.Score)
		}
		tiers[item.Tier] = true
	}
	assert.True(t, tiers[TierWorking])
	assert.True(t, tiers[TierEpisodic])
	assert.True(t, tiers[TierSemantic])
}

func TestRetrieveRelevanceRanking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	engine, episodic, _ := newTestRetrieval(t, env)

	auth := recordEpisode(t, episodic,
		"fix authentication bug in login handler",
		"token validation rejected refreshed sessions",
		[]string{"auth/login.go"})
	readme := recordEpisode(t, episodic,
		"update README with install instructions",
		"documented the docker compose workflow",
		[]string{"README.md"})

	items, err := engine.Retrieve(ctx, "fix auth bug", StrategyRelevance, 10, 0)
	require.NoError(t, err)

	authPos, readmePos := -1, -1
	for i, item := range items {
		switch item.Key {
		case auth.UID:
			authPos = i
		case readme.UID:
			readmePos = i
		}
	}
	require.NotEqual(t, -1, authPos)
	if readmePos != -1 {
		assert.Less(t, authPos, readmePos)
	}
}

func TestRetrieveRespectsLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	engine, episodic, _ := newTestRetrieval(t, env)

	for i := 0; i < 6; i++ {
		recordEpisode(t, episodic, "fix timeout bug in worker pool", "raised the deadline", nil)
	}

	items, err := engine.Retrieve(ctx, "timeout worker", StrategyHybrid, 3, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(items), 3)
}

func TestRetrieveTokenBudget(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	engine, episodic, _ := newTestRetrieval(t, env)

	recordEpisode(t, episodic, "fix import cycle between store and plugin packages", "introduced a shared types package to break the dependency loop", nil)
	recordEpisode(t, episodic, "fix import ordering lint failures across the repository", "ran the formatter with local import grouping configured", nil)

	const budget = 25
	items, err := engine.Retrieve(ctx, "fix import", StrategyHybrid, 10, budget)
	require.NoError(t, err)

	total := 0
	for _, item := range items {
		total += item.TokenCost
	}
	assert.LessOrEqual(t, total, budget)
}

func TestRetrieveBumpsAccessOnlyForReturnedEpisodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	engine, episodic, _ := newTestRetrieval(t, env)

	auth := recordEpisode(t, episodic,
		"fix authentication bug in login handler",
		"token validation rejected refreshed sessions",
		[]string{"auth/login.go"})
	recordEpisode(t, episodic,
		"update README with install instructions",
		"documented the docker compose workflow",
		[]string{"README.md"})
	recordEpisode(t, episodic,
		"add pagination to search endpoint",
		"cursor based paging",
		[]string{"api/search.go"})

	items, err := engine.Retrieve(ctx, "fix authentication bug in login handler", StrategyRelevance, 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, auth.UID, items[0].Key)
	assert.Equal(t, int32(1), items[0].Episode.AccessCount)

	// The oversampled candidates that were ranked out keep their counts.
	bumped := 0
	for _, episode := range mustFind(t, env, &store.FindEpisode{}) {
		if episode.AccessCount > 0 {
			assert.Equal(t, auth.UID, episode.UID)
			bumped++
		}
	}
	assert.Equal(t, 1, bumped)
}

func TestRetrieveEmptyStoresReturnsEmpty(t *testing.T) {
	env := newTestEnv(t)
	engine, _, _ := newTestRetrieval(t, env)

	items, err := engine.Retrieve(context.Background(), "anything at all", StrategyHybrid, 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestImportanceScore(t *testing.T) {
	// 0.6 * pattern value + 0.4 * normalized access count.
	assert.InDelta(t, 0.6, importanceScore(1, 0, 10), 1e-6)
	assert.InDelta(t, 1.0, importanceScore(1, 10, 10), 1e-6)
	assert.InDelta(t, 0.2, importanceScore(0, 5, 10), 1e-6)
	// No accesses anywhere: the access term drops out.
	assert.InDelta(t, 0.3, importanceScore(0.5, 0, 0), 1e-6)
}
