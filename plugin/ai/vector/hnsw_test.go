package vector

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand, dims int) []float32 {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = r.Float32()*2 - 1
	}
	return vec
}

func TestHNSWAddAndSearch(t *testing.T) {
	idx := NewHNSW(4, DefaultHNSWConfig())

	require.NoError(t, idx.Add("a", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Add("c", []float32{0.9, 0.1, 0, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.True(t, results[0].Distance <= results[1].Distance)
}

func TestHNSWEmptySearch(t *testing.T) {
	idx := NewHNSW(4, DefaultHNSWConfig())

	results, err := idx.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := NewHNSW(4, DefaultHNSWConfig())

	err := idx.Add("a", []float32{1, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search([]float32{1, 0}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHNSWRemove(t *testing.T) {
	idx := NewHNSW(4, DefaultHNSWConfig())

	require.NoError(t, idx.Add("a", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1, 0, 0}))
	require.Equal(t, 2, idx.Len())

	require.NoError(t, idx.Remove("a"))
	require.Equal(t, 1, idx.Len())

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	err = idx.Remove("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHNSWOverwrite(t *testing.T) {
	idx := NewHNSW(4, DefaultHNSWConfig())

	require.NoError(t, idx.Add("a", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add("a", []float32{0, 1, 0, 0}))
	require.Equal(t, 1, idx.Len())

	results, err := idx.Search([]float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0.0, float64(results[0].Distance), 1e-5)
}

func TestHNSWSaveLoad(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	idx := NewHNSW(8, DefaultHNSWConfig())
	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("vec-%d", i), randomVector(r, 8)))
	}

	path := filepath.Join(t.TempDir(), "index.hnsw")
	require.NoError(t, idx.Save(path))

	loaded := NewHNSW(8, DefaultHNSWConfig())
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, idx.Len(), loaded.Len())

	query := randomVector(r, 8)
	results, err := loaded.Search(query, 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestHNSWLoadDimensionMismatch(t *testing.T) {
	idx := NewHNSW(8, DefaultHNSWConfig())
	require.NoError(t, idx.Add("a", make([]float32, 8)))

	path := filepath.Join(t.TempDir(), "index.hnsw")
	require.NoError(t, idx.Save(path))

	other := NewHNSW(16, DefaultHNSWConfig())
	err := other.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestHNSWRecallAgainstFlat(t *testing.T) {
	const (
		dims  = 16
		count = 500
		k     = 10
	)

	r := rand.New(rand.NewSource(7))
	hnsw := NewHNSW(dims, DefaultHNSWConfig())
	flat := NewFlat(dims)

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("vec-%d", i)
		vec := randomVector(r, dims)
		require.NoError(t, hnsw.Add(id, vec))
		require.NoError(t, flat.Add(id, vec))
	}

	// Average recall@10 over a handful of queries should stay high.
	var hits, total int
	for q := 0; q < 20; q++ {
		query := randomVector(r, dims)

		exact, err := flat.Search(query, k)
		require.NoError(t, err)
		approx, err := hnsw.Search(query, k)
		require.NoError(t, err)

		exactIDs := map[string]bool{}
		for _, res := range exact {
			exactIDs[res.ID] = true
		}
		for _, res := range approx {
			if exactIDs[res.ID] {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	assert.Greater(t, recall, 0.8, "recall@10 too low: %f", recall)
}

func TestHNSWSearchCostGrowsSublinearly(t *testing.T) {
	const (
		dims    = 16
		queries = 20
		small   = 2000
		large   = 10000
	)
	cfg := HNSWConfig{M: 8, EfConstruction: 50, EfSearch: 50, MaxLevel: 16, Ml: 1.0 / math.Log(2.0)}

	searchCost := func(count int) float64 {
		r := rand.New(rand.NewSource(11))
		idx := NewHNSW(dims, cfg)
		for i := 0; i < count; i++ {
			require.NoError(t, idx.Add(fmt.Sprintf("vec-%d", i), randomVector(r, dims)))
		}
		before := idx.DistanceCalls()
		for q := 0; q < queries; q++ {
			_, err := idx.Search(randomVector(r, dims), 10)
			require.NoError(t, err)
		}
		return float64(idx.DistanceCalls()-before) / float64(queries)
	}

	costSmall := searchCost(small)
	costLarge := searchCost(large)

	// A brute-force scan compares against every vector, so its per-query cost
	// equals the collection size. The graph search must stay well under that
	// and grow far slower than the 5x collection growth.
	assert.Less(t, costLarge, float64(large)/2,
		"per-query comparisons at %d vectors: %.0f", large, costLarge)
	growth := costLarge / costSmall
	assert.Less(t, growth, 2.5,
		"cost grew %.2fx for a 5x larger collection (%.0f -> %.0f comparisons)", growth, costSmall, costLarge)
}

func TestFlatLoadRejectsUnknownFormatVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.flat")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gob.NewEncoder(f).Encode(persistedHNSW{
		Version: hnswFormatVersion + 1,
		Dims:    4,
		Vectors: map[string][]float32{"a": {1, 0, 0, 0}},
	}))
	require.NoError(t, f.Close())

	idx := NewFlat(4)
	err = idx.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestHNSWTombstoneRebuild(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	idx := NewHNSW(8, DefaultHNSWConfig())
	for i := 0; i < 100; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("vec-%d", i), randomVector(r, 8)))
	}

	// Removing past the tombstone threshold triggers a rebuild, which drops
	// the tombstones entirely.
	for i := 0; i < 30; i++ {
		require.NoError(t, idx.Remove(fmt.Sprintf("vec-%d", i)))
	}
	assert.Equal(t, 70, idx.Len())
	assert.Zero(t, idx.Tombstones())

	results, err := idx.Search(randomVector(r, 8), 10)
	require.NoError(t, err)
	for _, res := range results {
		assert.NotContains(t, []string{"vec-0", "vec-1", "vec-2"}, res.ID)
	}
}
