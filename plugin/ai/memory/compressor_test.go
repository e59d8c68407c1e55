package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/store"
)

func newTestCompressor(t *testing.T, env *testEnv, maxEpisodes int) (*Compressor, *EpisodicStore) {
	t.Helper()
	episodic := env.episodic()
	compressor := NewCompressor(env.store, env.semantic(), episodic, env.index, env.profile.CheckpointDir(), maxEpisodes)
	return compressor, episodic
}

func TestCompressMergesSimilarEpisodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	compressor, episodic := newTestCompressor(t, env, 0)

	first := recordEpisode(t, episodic,
		"fix auth token refresh bug",
		"rotate refresh token on each use",
		[]string{"auth/session.go", "auth/token.go"})
	second := recordEpisode(t, episodic,
		"fix auth token refresh failure",
		"rotate refresh token on each use",
		[]string{"auth/session.go", "auth/token.go"})
	singleton := recordEpisode(t, episodic,
		"update changelog for release",
		"added release notes",
		[]string{"CHANGELOG.md"})

	stats, err := compressor.Compress(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Compressed)
	assert.Equal(t, 1, stats.Created)
	assert.Positive(t, stats.BytesSaved)

	// Grouped episodes are gone, the singleton survives.
	remaining, err := env.store.ListEpisodes(ctx, &store.FindEpisode{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, singleton.UID, remaining[0].UID)

	// The semantic item references every compressed episode.
	items, err := env.store.ListSemanticItems(ctx, &store.FindSemanticItem{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.ElementsMatch(t, []string{first.UID, second.UID}, items[0].SourceEpisodeUIDs)
	assert.InDelta(t, 1.0, items[0].Confidence, 1e-6)
	assert.NotEmpty(t, items[0].Summary)
}

func TestCompressLeavesRecentEpisodesAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	compressor, episodic := newTestCompressor(t, env, 0)

	recordEpisode(t, episodic, "fix auth token refresh bug", "rotate token", []string{"auth/token.go"})
	recordEpisode(t, episodic, "fix auth token refresh failure", "rotate token", []string{"auth/token.go"})

	// Cutoff in the past: nothing qualifies.
	stats, err := compressor.Compress(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.Compressed)

	remaining, err := env.store.ListEpisodes(ctx, &store.FindEpisode{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestCompressGroupConfidenceReflectsOutcomes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	compressor, episodic := newTestCompressor(t, env, 0)

	recordEpisode(t, episodic, "fix queue drain deadlock", "reorder lock acquisition", []string{"queue/drain.go"})
	_, err := episodic.Record(ctx, &store.Episode{
		TaskDescription: "fix queue drain deadlock again",
		SolutionSummary: "previous fix missed the shutdown path",
		FilesTouched:    []string{"queue/drain.go"},
		Outcome:         store.OutcomeFailure,
	})
	require.NoError(t, err)

	stats, err := compressor.Compress(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Created)

	items, err := env.store.ListSemanticItems(ctx, &store.FindSemanticItem{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.InDelta(t, 0.5, items[0].Confidence, 1e-6)
}

func TestRetentionCeiling(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	compressor, episodic := newTestCompressor(t, env, 2)

	for _, task := range []string{
		"explore the scheduler package",
		"investigate memory growth in exporter",
		"research connection pool sizing",
	} {
		recordEpisode(t, episodic, task, "notes taken", nil)
	}

	// Dissimilar episodes form no groups; only the ceiling applies.
	stats, err := compressor.Compress(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Compressed)

	remaining, err := env.store.ListEpisodes(ctx, &store.FindEpisode{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	compressor, episodic := newTestCompressor(t, env, 0)

	kept := recordEpisode(t, episodic, "fix login redirect loop", "clear stale cookie", []string{"auth/login.go"})
	_, err := env.semantic().AddKnowledge(ctx, "cookie hygiene", "clear auth cookies on logout", nil, 0.7)
	require.NoError(t, err)

	checkpoint, err := compressor.CreateCheckpoint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, checkpoint.UID)
	assert.NotEmpty(t, checkpoint.SnapshotRef)

	// Restore over unchanged state is a no-op.
	require.NoError(t, compressor.RestoreCheckpoint(ctx, checkpoint.UID))
	episodes, err := env.store.ListEpisodes(ctx, &store.FindEpisode{})
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, kept.UID, episodes[0].UID)

	// Mutate, then restore back to the snapshot.
	recordEpisode(t, episodic, "extra episode after checkpoint", "should disappear", nil)
	_, err = env.store.DeleteEpisode(ctx, &store.DeleteEpisode{UID: &kept.UID})
	require.NoError(t, err)

	require.NoError(t, compressor.RestoreCheckpoint(ctx, checkpoint.UID))

	episodes, err = env.store.ListEpisodes(ctx, &store.FindEpisode{})
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, kept.UID, episodes[0].UID)
	assert.Equal(t, kept.TaskDescription, episodes[0].TaskDescription)

	items, err := env.store.ListSemanticItems(ctx, &store.FindSemanticItem{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	compressor, _ := newTestCompressor(t, env, 0)

	err := compressor.RestoreCheckpoint(context.Background(), "missing")
	assert.Equal(t, memerr.ErrCodeNotFound, memerr.CodeOf(err))
}

func TestExtractKeywords(t *testing.T) {
	keywords := extractKeywords("Fix the auth token refresh bug, then add tests!")
	// Words of more than three characters, lowercased, first five kept.
	assert.Equal(t, []string{"auth", "token", "refresh", "then", "tests"}, keywords)
	assert.Empty(t, extractKeywords("a an the"))
}

func TestJaccard(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"y": true, "z": true}
	assert.InDelta(t, 1.0/3.0, jaccard(a, b), 1e-9)
	assert.Zero(t, jaccard(a, map[string]bool{}))
	assert.InDelta(t, 1.0, jaccard(a, a), 1e-9)
}

func TestGroupBySimilarity(t *testing.T) {
	features := []map[string]bool{
		{"auth": true, "token": true, "refresh": true},
		{"auth": true, "token": true, "expiry": true},
		{"docs": true, "readme": true},
	}
	groups := groupBySimilarity(features)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 1}, groups[0])
	assert.Equal(t, []int{2}, groups[1])
}
