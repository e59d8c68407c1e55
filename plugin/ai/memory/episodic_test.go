package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/store"
)

func TestEpisodicRecordAndGet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	recorded, err := episodic.Record(ctx, &store.Episode{
		TaskDescription: "fix flaky session expiry test",
		ContextSnapshot: "session tests fail intermittently on CI",
		QueriesMade:     []string{"grep session expiry", "read session.go"},
		FilesTouched:    []string{"auth/session.go", "auth/session_test.go"},
		SolutionSummary: "clock injection instead of time.Now in expiry check",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, recorded.UID)
	assert.NotZero(t, recorded.ID)
	assert.NotZero(t, recorded.CreatedTs)
	assert.Positive(t, recorded.TokensUsed)
	assert.NotEmpty(t, recorded.Embedding)
	assert.Equal(t, 1, env.index.Len())

	got, err := episodic.Get(ctx, recorded.UID)
	require.NoError(t, err)
	assert.Equal(t, recorded.UID, got.UID)
	assert.Equal(t, recorded.TaskDescription, got.TaskDescription)
	assert.Equal(t, recorded.QueriesMade, got.QueriesMade)
	assert.Equal(t, recorded.FilesTouched, got.FilesTouched)
	assert.Equal(t, recorded.SolutionSummary, got.SolutionSummary)
	assert.Equal(t, recorded.Outcome, got.Outcome)
	assert.Equal(t, int32(1), got.AccessCount)
}

func TestEpisodicRecordValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	_, err := episodic.Record(ctx, &store.Episode{
		TaskDescription: "   ",
		Outcome:         store.OutcomeSuccess,
	})
	assert.Equal(t, memerr.ErrCodeInvalidArgument, memerr.CodeOf(err))

	_, err = episodic.Record(ctx, &store.Episode{
		TaskDescription: "do something",
		Outcome:         store.Outcome("maybe"),
	})
	assert.Equal(t, memerr.ErrCodeInvalidArgument, memerr.CodeOf(err))
}

func TestEpisodicRecordWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodicKeywordOnly()

	recorded, err := episodic.Record(ctx, &store.Episode{
		TaskDescription: "add retry to http client",
		SolutionSummary: "exponential backoff wrapper",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.Empty(t, recorded.Embedding)
	assert.Equal(t, 0, env.index.Len())

	// Keyword search still reaches the episode.
	found, err := episodic.FindSimilar(ctx, "retry", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, recorded.UID, found[0].UID)
}

func TestEpisodicGetDoesNotMutateCachedEpisode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	recorded := recordEpisode(t, episodic, "fix login redirect loop", "normalized the callback URL", nil)

	// Warm the cache and hold onto its pointer.
	cached, err := env.store.GetEpisodeByUID(ctx, recorded.UID)
	require.NoError(t, err)
	require.Equal(t, int32(0), cached.AccessCount)

	got, err := episodic.Get(ctx, recorded.UID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.AccessCount)
	assert.Equal(t, int32(0), cached.AccessCount)
}

func TestEpisodicGetNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.episodic().Get(context.Background(), "no-such-uid")
	assert.Equal(t, memerr.ErrCodeNotFound, memerr.CodeOf(err))
}

func TestEpisodicFindSimilarRanking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	auth := recordEpisode(t, episodic,
		"fix authentication bug in login handler",
		"token validation rejected refreshed sessions",
		[]string{"auth/login.go"})
	recordEpisode(t, episodic,
		"update README with install instructions",
		"documented the docker compose workflow",
		[]string{"README.md"})

	scored, err := episodic.FindSimilarScored(ctx, "fix authentication bug", 2)
	require.NoError(t, err)
	require.NotEmpty(t, scored)
	assert.LessOrEqual(t, len(scored), 2)
	assert.Equal(t, auth.UID, scored[0].Episode.UID)
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Similarity, scored[i].Similarity)
	}
}

func TestEpisodicFindSimilarEmptyIndexFallsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	found, err := episodic.FindSimilar(ctx, "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	require.Empty(t, mustFind(t, env, &store.FindEpisode{}))
}

func TestEpisodicFindSimilarBumpsAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	recorded := recordEpisode(t, episodic, "fix cache invalidation bug", "clear on write", nil)

	_, err := episodic.FindSimilar(ctx, "cache invalidation", 5)
	require.NoError(t, err)

	episodes := mustFind(t, env, &store.FindEpisode{UID: &recorded.UID})
	require.Len(t, episodes, 1)
	assert.Equal(t, int32(1), episodes[0].AccessCount)
}

func TestEpisodicScoredSearchLeavesAccessCountsAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	recorded := recordEpisode(t, episodic, "fix slow dashboard query", "added composite index", nil)

	_, err := episodic.FindSimilarScored(ctx, "dashboard query", 5)
	require.NoError(t, err)

	episodes := mustFind(t, env, &store.FindEpisode{UID: &recorded.UID})
	require.Len(t, episodes, 1)
	assert.Equal(t, int32(0), episodes[0].AccessCount)
}

func TestEpisodicSQLVectorSearchUnsupportedOnSQLite(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.VectorSearchEpisodes(context.Background(), &store.VectorSearchOptions{
		Embedding: make([]float32, testDims),
		Limit:     5,
	})
	assert.Error(t, err)
}

func TestEpisodicFindSimilarDegradesWhenSQLSearchUnsupported(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// An unembedded episode and an empty index: the ANN path is unavailable,
	// the SQL path errors on sqlite, keyword matching still reaches it.
	_, err := env.store.CreateEpisode(ctx, &store.Episode{
		UID:             "ep-raw",
		TaskDescription: "tune slow aggregation query",
		SolutionSummary: "added covering index",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)

	found, err := env.episodic().FindSimilar(ctx, "aggregation", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "ep-raw", found[0].UID)
}

func TestEpisodicDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	recorded := recordEpisode(t, episodic, "remove dead feature flag", "flag deleted", nil)
	require.NoError(t, episodic.Delete(ctx, recorded.UID))

	assert.Empty(t, mustFind(t, env, &store.FindEpisode{UID: &recorded.UID}))

	err := episodic.Delete(ctx, recorded.UID)
	assert.Equal(t, memerr.ErrCodeNotFound, memerr.CodeOf(err))
}

func TestEpisodicRebuildIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	recordEpisode(t, episodic, "fix panic in config parser", "nil check on include", nil)
	recordEpisode(t, episodic, "add tracing to rpc server", "span per handler", nil)

	// Simulate a fresh process with a lost index.
	fresh := vector.NewHNSW(testDims, vector.DefaultHNSWConfig())
	rebuilt := NewEpisodicStore(env.store, fresh, env.embedder)

	indexed, err := rebuilt.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)
	assert.Equal(t, 2, fresh.Len())
}

func TestEpisodicSearchSkipsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	episodic := env.episodic()

	kept := recordEpisode(t, episodic, "fix race in queue drain", "mutex around drain", nil)
	gone := recordEpisode(t, episodic, "fix race in queue push", "atomic head pointer", nil)

	// Delete from the store but leave the index entry behind.
	_, err := env.store.DeleteEpisode(ctx, &store.DeleteEpisode{UID: &gone.UID})
	require.NoError(t, err)

	found, err := episodic.FindSimilar(ctx, "fix race in queue", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, kept.UID, found[0].UID)
}

func mustFind(t *testing.T, env *testEnv, find *store.FindEpisode) []*store.Episode {
	t.Helper()
	episodes, err := env.store.ListEpisodes(context.Background(), find)
	require.NoError(t, err)
	return episodes
}
