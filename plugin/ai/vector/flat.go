package vector

import (
	"encoding/gob"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Flat is a brute-force index. Exact results, O(n) per query. Useful for
// small collections and as a recall baseline in tests.
type Flat struct {
	mu      sync.RWMutex
	dims    int
	vectors map[string][]float32
}

// NewFlat creates an empty brute-force index.
func NewFlat(dims int) *Flat {
	return &Flat{
		dims:    dims,
		vectors: make(map[string][]float32),
	}
}

func (idx *Flat) Add(id string, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(vec) != idx.dims {
		return errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(vec), idx.dims)
	}
	idx.vectors[id] = vec
	return nil
}

func (idx *Flat) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dims {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(query), idx.dims)
	}
	if k <= 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		dist := cosineDistance(query, vec)
		results = append(results, Result{ID: id, Distance: dist, Score: 1.0 - dist})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (idx *Flat) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.vectors[id]; !exists {
		return errors.Wrap(ErrNotFound, id)
	}
	delete(idx.vectors, id)
	return nil
}

func (idx *Flat) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

func (idx *Flat) Tombstones() int {
	return 0
}

func (idx *Flat) Save(path string) error {
	idx.mu.RLock()
	payload := persistedHNSW{
		Version: hnswFormatVersion,
		Dims:    idx.dims,
		Vectors: idx.vectors,
	}
	idx.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create index file")
	}
	if err := gob.NewEncoder(f).Encode(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "failed to encode index")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to close index file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to replace index file")
	}
	return nil
}

func (idx *Flat) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open index file")
	}
	defer f.Close()

	var payload persistedHNSW
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return errors.Wrap(ErrIndexCorrupt, err.Error())
	}
	if payload.Version != hnswFormatVersion {
		return errors.Wrapf(ErrIndexCorrupt, "unsupported format version %d", payload.Version)
	}
	if payload.Dims != idx.dims {
		return errors.Wrapf(ErrIndexCorrupt, "dimension mismatch: file has %d, index wants %d", payload.Dims, idx.dims)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = payload.Vectors
	return nil
}
