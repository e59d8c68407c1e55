package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/store"
	"github.com/hrygo/recall/store/db/sqlite"
)

// testDims is intentionally larger than needed for speed: the mock embedder
// hashes words into the vector, and unrelated texts stay closer to orthogonal
// at higher dimensions.
const testDims = 64

type testEnv struct {
	profile  *profile.Profile
	store    *store.Store
	index    *vector.HNSW
	embedder *ai.MockEmbeddingService
}

// newTestEnv creates a sqlite-backed store in a temp dir with a fresh index
// and a deterministic embedder.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	p := &profile.Profile{
		Mode:                "demo",
		Data:                dir,
		Driver:              "sqlite",
		DSN:                 filepath.Join(dir, "recall_test.db"),
		AIEmbeddingDims:     testDims,
		WorkingMemoryTokens: 2000,
		RetentionDays:       30,
		MaxEpisodes:         100000,
	}

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)

	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	return &testEnv{
		profile:  p,
		store:    st,
		index:    vector.NewHNSW(testDims, vector.DefaultHNSWConfig()),
		embedder: ai.NewMockEmbeddingService(testDims),
	}
}

func (env *testEnv) episodic() *EpisodicStore {
	return NewEpisodicStore(env.store, env.index, env.embedder)
}

func (env *testEnv) episodicKeywordOnly() *EpisodicStore {
	return NewEpisodicStore(env.store, env.index, nil)
}

func (env *testEnv) semantic() *SemanticMemory {
	return NewSemanticMemory(env.store, env.embedder)
}

// recordEpisode is a shorthand for recording a successful episode.
func recordEpisode(t *testing.T, e *EpisodicStore, task, summary string, files []string) *store.Episode {
	t.Helper()
	episode, err := e.Record(context.Background(), &store.Episode{
		TaskDescription: task,
		SolutionSummary: summary,
		FilesTouched:    files,
		Outcome:         store.OutcomeSuccess,
	})
	require.NoError(t, err)
	return episode
}
