package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/recall/store"
)

func newTestManager(t *testing.T, env *testEnv) *Manager {
	t.Helper()
	manager, err := NewManager(env.profile, env.store, env.index, env.embedder, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Init(context.Background()))
	return manager
}

func TestManagerRecordEpisodeFeedsAllTiers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	episode, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
		Task:            "fix login crash on expired session",
		QueriesMade:     []string{"grep session expiry", "read login handler"},
		FilesTouched:    []string{"auth/login.go"},
		SolutionSummary: "guard against nil session before redirect",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, episode.UID)

	// Procedural memory picked up the steps under the inferred task type.
	procedure, err := manager.Procedural().GetProcedure(ctx, store.TaskBugfix)
	require.NoError(t, err)
	require.NotNil(t, procedure)
	assert.Equal(t, []string{"grep session expiry", "read login handler"}, procedure.Steps)
	assert.Equal(t, float32(1), procedure.SuccessRate)

	// A learning was extracted from the successful outcome.
	learnings, err := env.store.ListLearnings(ctx, &store.FindLearning{})
	require.NoError(t, err)
	require.Len(t, learnings, 1)
	assert.Equal(t, []string{episode.UID}, learnings[0].SourceEpisodeUIDs)

	// And the episode is findable by similarity.
	found, err := manager.FindSimilarEpisodes(ctx, "login crash expired session", 5)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, episode.UID, found[0].UID)
}

func TestManagerInitRebuildsFromCorruptIndexFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Populate the store before the manager exists.
	episodic := env.episodic()
	recordEpisode(t, episodic, "fix panic in template renderer", "nil check on funcs map", nil)
	recordEpisode(t, episodic, "fix off by one in pager", "clamp the cursor", nil)

	require.NoError(t, os.WriteFile(env.profile.IndexPath(), []byte("not a real index"), 0o644))

	manager := newTestManager(t, env)
	stats, err := manager.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Episodes)
	assert.Equal(t, 2, stats.IndexedVectors)
}

func TestManagerRetrieveContext(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	_, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
		Task:            "fix websocket reconnect storm",
		SolutionSummary: "jittered backoff on reconnect",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.NoError(t, manager.WorkingMemory().Add("goal", "stabilize websocket layer", 0.9))

	items, err := manager.RetrieveContext(ctx, "websocket reconnect", StrategyHybrid, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, items)

	_, err = manager.RetrieveContext(ctx, "websocket", Strategy("bogus"), 0)
	assert.Error(t, err)
}

func TestManagerCompressMemoriesCheckpointsFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	for _, task := range []string{"fix auth token refresh bug", "fix auth token refresh failure"} {
		_, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
			Task:            task,
			FilesTouched:    []string{"auth/token.go"},
			SolutionSummary: "rotate token on refresh",
			Outcome:         store.OutcomeSuccess,
		})
		require.NoError(t, err)
	}

	stats, err := manager.CompressMemories(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Compressed)
	assert.Equal(t, 1, stats.Created)

	checkpoints, err := env.store.ListCheckpoints(ctx, &store.FindCheckpoint{})
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)
}

func TestManagerPruneMemories(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	episode, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
		Task:            "explore rarely useful dead end",
		SolutionSummary: "nothing of value",
		Outcome:         store.OutcomePartial,
	})
	require.NoError(t, err)

	// Fresh episodes have pattern value 0 and no accesses: any positive
	// threshold prunes them.
	stats, err := manager.PruneMemories(ctx, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Pruned)

	episodes, err := env.store.ListEpisodes(ctx, &store.FindEpisode{UID: &episode.UID})
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestManagerPruneKeepsValuableEpisodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	episode, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
		Task:            "fix recurring deploy failure",
		SolutionSummary: "pin the base image digest",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)

	value := float32(0.9)
	require.NoError(t, env.store.UpdateEpisode(ctx, &store.UpdateEpisode{ID: episode.ID, PatternValue: &value}))

	stats, err := manager.PruneMemories(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Zero(t, stats.Pruned)
}

func TestManagerStatistics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	_, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
		Task:            "fix the flaky integration suite",
		SolutionSummary: "serialize the shared fixture",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.NoError(t, manager.WorkingMemory().Add("note", "fixtures are shared", 0.5))

	stats, err := manager.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Episodes)
	assert.Equal(t, int64(0), stats.UnindexedEpisodes)
	assert.Equal(t, int64(1), stats.Learnings)
	assert.Equal(t, int64(1), stats.Procedures)
	assert.Equal(t, 1, stats.IndexedVectors)
	assert.Equal(t, 1, stats.WorkingMemoryItems)
	assert.Positive(t, stats.WorkingMemoryTokens)
}

func TestManagerSaveIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	manager := newTestManager(t, env)

	_, err := manager.RecordEpisode(ctx, &RecordEpisodeRequest{
		Task:            "fix the watcher restart loop",
		SolutionSummary: "debounce filesystem events",
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.NoError(t, manager.SaveIndex())

	_, err = os.Stat(env.profile.IndexPath())
	assert.NoError(t, err)
}
