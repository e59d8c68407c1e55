package vector

import (
	"container/heap"
	"encoding/gob"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// hnswFormatVersion guards persisted index files. Bump on layout changes.
const hnswFormatVersion = 1

// rebuildTombstoneRatio triggers a graph rebuild once this fraction of
// entries is tombstoned.
const rebuildTombstoneRatio = 0.2

// HNSWConfig holds the graph construction parameters.
type HNSWConfig struct {
	M              int     // max connections per layer
	EfConstruction int     // construction-time search width
	EfSearch       int     // query-time search width
	MaxLevel       int     // max layer count
	Ml             float64 // level normalization factor
}

// DefaultHNSWConfig returns parameters tuned for collections up to ~100K
// vectors.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
		MaxLevel:       16,
		Ml:             1.0 / math.Log(2.0),
	}
}

// HNSW is a hierarchical navigable small world graph over cosine distance.
// Deletions are tombstoned; the graph keeps dead nodes navigable until
// Rebuild runs.
type HNSW struct {
	mu         sync.RWMutex
	config     HNSWConfig
	dims       int
	vectors    map[string][]float32
	graph      map[string]map[int][]string // id -> level -> neighbors
	tombstones map[string]bool
	entryPoint string
	maxLevel   int

	distanceCalls atomic.Int64
}

// NewHNSW creates an empty index for vectors of the given dimension.
func NewHNSW(dims int, config HNSWConfig) *HNSW {
	return &HNSW{
		config:     config,
		dims:       dims,
		vectors:    make(map[string][]float32),
		graph:      make(map[string]map[int][]string),
		tombstones: make(map[string]bool),
	}
}

func (idx *HNSW) Add(id string, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(vec) != idx.dims {
		return errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(vec), idx.dims)
	}

	if _, exists := idx.vectors[id]; exists {
		idx.removeLocked(id)
	}
	delete(idx.tombstones, id)

	idx.vectors[id] = vec
	level := idx.randomLevel()
	if level > idx.maxLevel {
		idx.maxLevel = level
	}

	idx.graph[id] = make(map[int][]string)
	for l := 0; l <= level; l++ {
		idx.graph[id][l] = []string{}
	}

	if idx.entryPoint == "" {
		idx.entryPoint = id
	} else {
		idx.insert(id, vec, level)
	}

	return nil
}

func (idx *HNSW) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dims {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(query), idx.dims)
	}
	if k <= 0 || idx.liveLenLocked() == 0 {
		return []Result{}, nil
	}

	ep := idx.entryPoint
	for level := idx.maxLevel; level > 0; level-- {
		if found := idx.searchLayer(query, ep, 1, level); len(found) > 0 {
			ep = found[0]
		}
	}

	// Over-fetch so tombstoned entries can be filtered without starving k.
	ef := idx.config.EfSearch
	if need := k + len(idx.tombstones); need > ef {
		ef = need
	}
	candidates := idx.searchLayer(query, ep, ef, 0)

	results := make([]Result, 0, k)
	for _, id := range candidates {
		if idx.tombstones[id] {
			continue
		}
		dist := idx.distance(query, idx.vectors[id])
		results = append(results, Result{ID: id, Distance: dist, Score: 1.0 - dist})
		if len(results) >= k {
			break
		}
	}

	return results, nil
}

func (idx *HNSW) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.vectors[id]; !exists {
		return errors.Wrap(ErrNotFound, id)
	}
	if idx.tombstones[id] {
		return nil
	}

	idx.tombstones[id] = true

	if float64(len(idx.tombstones)) >= rebuildTombstoneRatio*float64(len(idx.vectors)) {
		idx.rebuildLocked()
	}
	return nil
}

// Rebuild reconstructs the graph from live vectors, discarding tombstones.
func (idx *HNSW) Rebuild() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.rebuildLocked()
}

func (idx *HNSW) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.liveLenLocked()
}

func (idx *HNSW) Tombstones() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.tombstones)
}

// Dimensions returns the vector dimension the index was created with.
func (idx *HNSW) Dimensions() int {
	return idx.dims
}

// DistanceCalls reports the cumulative number of vector comparisons made by
// inserts and searches. Diagnostic counter for search-cost analysis.
func (idx *HNSW) DistanceCalls() int64 {
	return idx.distanceCalls.Load()
}

// distance is cosineDistance with the comparison counted.
func (idx *HNSW) distance(a, b []float32) float32 {
	idx.distanceCalls.Add(1)
	return cosineDistance(a, b)
}

// persistedHNSW is the gob payload for Save/Load. Only live vectors are
// written; the graph is rebuilt on load.
type persistedHNSW struct {
	Version int
	Dims    int
	Config  HNSWConfig
	Vectors map[string][]float32
}

func (idx *HNSW) Save(path string) error {
	idx.mu.RLock()
	payload := persistedHNSW{
		Version: hnswFormatVersion,
		Dims:    idx.dims,
		Config:  idx.config,
		Vectors: make(map[string][]float32, len(idx.vectors)),
	}
	for id, vec := range idx.vectors {
		if !idx.tombstones[id] {
			payload.Vectors[id] = vec
		}
	}
	idx.mu.RUnlock()

	// Write to a temp file first so a crash never leaves a torn index.
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

func (idx *HNSW) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open index file %s", filepath.Base(path))
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
	for id, vec := range payload.Vectors {
		if len(vec) != payload.Dims {
			return errors.Wrapf(ErrIndexCorrupt, "vector %s has dimension %d", id, len(vec))
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.vectors = payload.Vectors
	idx.tombstones = make(map[string]bool)
	idx.rebuildLocked()

	slog.Info("vector index loaded", "vectors", len(idx.vectors), "max_level", idx.maxLevel)
	return nil
}

// rebuildLocked reconstructs the graph from live vectors. Must be called with
// idx.mu held for writing.
func (idx *HNSW) rebuildLocked() {
	live := make(map[string][]float32, len(idx.vectors))
	for id, vec := range idx.vectors {
		if !idx.tombstones[id] {
			live[id] = vec
		}
	}

	idx.vectors = live
	idx.graph = make(map[string]map[int][]string, len(live))
	idx.tombstones = make(map[string]bool)
	idx.entryPoint = ""
	idx.maxLevel = 0

	for id, vec := range live {
		level := idx.randomLevel()
		if level > idx.maxLevel {
			idx.maxLevel = level
		}
		idx.graph[id] = make(map[int][]string)
		for l := 0; l <= level; l++ {
			idx.graph[id][l] = []string{}
		}
		if idx.entryPoint == "" {
			idx.entryPoint = id
		} else {
			idx.insert(id, vec, level)
		}
	}
}

// removeLocked drops a node and its edges. Must be called with idx.mu held
// for writing.
func (idx *HNSW) removeLocked(id string) {
	delete(idx.vectors, id)
	delete(idx.graph, id)
	for _, neighbors := range idx.graph {
		for level, levelNeighbors := range neighbors {
			filtered := levelNeighbors[:0]
			for _, nid := range levelNeighbors {
				if nid != id {
					filtered = append(filtered, nid)
				}
			}
			neighbors[level] = filtered
		}
	}
	if idx.entryPoint == id {
		idx.entryPoint = ""
		for newID := range idx.vectors {
			idx.entryPoint = newID
			break
		}
	}
}

func (idx *HNSW) liveLenLocked() int {
	return len(idx.vectors) - len(idx.tombstones)
}

func (idx *HNSW) insert(id string, vec []float32, level int) {
	ep := idx.entryPoint
	for lc := idx.maxLevel; lc > level; lc-- {
		if found := idx.searchLayer(vec, ep, 1, lc); len(found) > 0 {
			ep = found[0]
		}
	}

	for lc := level; lc >= 0; lc-- {
		candidates := idx.searchLayer(vec, ep, idx.config.EfConstruction, lc)

		m := idx.config.M
		if lc == 0 {
			m = idx.config.M * 2
		}

		neighbors := idx.selectNeighbors(id, candidates, m)
		idx.graph[id][lc] = neighbors
		for _, nid := range neighbors {
			idx.graph[nid][lc] = append(idx.graph[nid][lc], id)
			if len(idx.graph[nid][lc]) > m {
				idx.graph[nid][lc] = idx.selectNeighbors(nid, idx.graph[nid][lc], m)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}
}

func (idx *HNSW) searchLayer(query []float32, ep string, ef int, level int) []string {
	if _, ok := idx.vectors[ep]; !ok {
		return nil
	}

	visited := map[string]bool{ep: true}
	candidates := &minHeap{}
	found := &maxHeap{}

	dist := idx.distance(query, idx.vectors[ep])
	heap.Push(candidates, &heapItem{id: ep, dist: dist})
	heap.Push(found, &heapItem{id: ep, dist: dist})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(*heapItem)
		if c.dist > (*found)[0].dist {
			break
		}

		for _, nid := range idx.graph[c.id][level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true

			dist := idx.distance(query, idx.vectors[nid])
			if dist < (*found)[0].dist || found.Len() < ef {
				heap.Push(candidates, &heapItem{id: nid, dist: dist})
				heap.Push(found, &heapItem{id: nid, dist: dist})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	result := make([]string, found.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(found).(*heapItem).id
	}
	return result
}

func (idx *HNSW) selectNeighbors(id string, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}

	type candidate struct {
		id   string
		dist float32
	}
	cands := make([]candidate, len(candidates))
	for i, cid := range candidates {
		cands[i] = candidate{id: cid, dist: idx.distance(idx.vectors[id], idx.vectors[cid])}
	}
	for i := 0; i < len(cands)-1; i++ {
		for j := i + 1; j < len(cands); j++ {
			if cands[i].dist > cands[j].dist {
				cands[i], cands[j] = cands[j], cands[i]
			}
		}
	}

	result := make([]string, m)
	for i := 0; i < m; i++ {
		result[i] = cands[i].id
	}
	return result
}

func (idx *HNSW) randomLevel() int {
	level := 0
	for rand.Float64() < 0.5 && level < idx.config.MaxLevel {
		level++
	}
	return level
}

// cosineDistance returns 1 - cosine similarity. Zero vectors are maximally
// distant.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1.0 - similarity)
}

type heapItem struct {
	id   string
	dist float32
}

type minHeap []*heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

type maxHeap []*heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
