package memory

import (
	"container/heap"
	"math"
	"sort"
	"sync"
	"time"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
)

// attentionHalfLife controls how fast an item's effective priority decays
// when it is not re-attended.
const attentionHalfLife = 30 * time.Minute

// WorkingItem is one entry in working memory.
type WorkingItem struct {
	Key       string
	Content   string
	Attention float64
	AddedAt   time.Time
	TokenCost int

	heapIndex int
}

// priority is attention weighted by recency. Lowest priority evicts first.
func (w *WorkingItem) priority(now time.Time) float64 {
	age := now.Sub(w.AddedAt).Seconds()
	recency := math.Exp(-age / attentionHalfLife.Seconds())
	return w.Attention * recency
}

// WorkingMemory is the bounded active-context cache. Capacity is a token
// budget, not an item count; the token sum never exceeds the budget.
type WorkingMemory struct {
	mu     sync.Mutex
	budget int
	used   int
	items  map[string]*WorkingItem
	heap   evictionHeap
	now    func() time.Time
}

// NewWorkingMemory creates a working memory with the given token budget.
func NewWorkingMemory(tokenBudget int) *WorkingMemory {
	if tokenBudget <= 0 {
		tokenBudget = 2000
	}
	return &WorkingMemory{
		budget: tokenBudget,
		items:  make(map[string]*WorkingItem),
		now:    time.Now,
	}
}

// Add inserts content under key, evicting lowest-priority items until the
// token budget is satisfied. Adding an existing key replaces it.
func (w *WorkingMemory) Add(key, content string, attention float64) error {
	cost := ai.CountTokens(content)

	w.mu.Lock()
	defer w.mu.Unlock()

	if cost > w.budget {
		return memerr.InvalidArgument("item exceeds working memory token budget")
	}

	if existing, ok := w.items[key]; ok {
		w.removeLocked(existing)
	}

	now := w.now()
	for w.used+cost > w.budget && len(w.heap) > 0 {
		w.evictLowestLocked(now)
	}

	item := &WorkingItem{
		Key:       key,
		Content:   content,
		Attention: attention,
		AddedAt:   now,
		TokenCost: cost,
	}
	w.items[key] = item
	heap.Push(&w.heap, item)
	w.used += cost
	return nil
}

// UpdateAttention re-weights an item. O(log n) via heap fix-up.
func (w *WorkingMemory) UpdateAttention(key string, attention float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	item, ok := w.items[key]
	if !ok {
		return memerr.NotFound("working memory item " + key)
	}
	item.Attention = attention
	heap.Fix(&w.heap, item.heapIndex)
	return nil
}

// Context returns the live items most-attended-first. The returned slice is a
// snapshot; mutating it does not affect the store.
func (w *WorkingMemory) Context() []WorkingItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	snapshot := make([]WorkingItem, 0, len(w.items))
	for _, item := range w.items {
		snapshot = append(snapshot, *item)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].priority(now) > snapshot[j].priority(now)
	})
	return snapshot
}

// Remove deletes an item by key.
func (w *WorkingMemory) Remove(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if item, ok := w.items[key]; ok {
		w.removeLocked(item)
	}
}

// Clear drops all items.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = make(map[string]*WorkingItem)
	w.heap = w.heap[:0]
	w.used = 0
}

// TokenCount returns the current token sum.
func (w *WorkingMemory) TokenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.used
}

// Len returns the number of live items.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// evictLowestLocked removes the lowest-priority item. The heap is ordered by
// priority at insert/update time; decay since then is uniform enough that the
// heap order is preserved for eviction purposes.
func (w *WorkingMemory) evictLowestLocked(now time.Time) {
	// Re-establish order under current decay before popping: items added at
	// different times decay differently.
	lowest := 0
	for i := 1; i < len(w.heap); i++ {
		if w.heap[i].priority(now) < w.heap[lowest].priority(now) {
			lowest = i
		}
	}
	item := w.heap[lowest]
	w.removeLocked(item)
}

// removeLocked must be called with w.mu held.
func (w *WorkingMemory) removeLocked(item *WorkingItem) {
	heap.Remove(&w.heap, item.heapIndex)
	delete(w.items, item.Key)
	w.used -= item.TokenCost
}

// evictionHeap is a min-heap on attention weight. Recency decay is applied at
// eviction time.
type evictionHeap []*WorkingItem

func (h evictionHeap) Len() int           { return len(h) }
func (h evictionHeap) Less(i, j int) bool { return h[i].Attention < h[j].Attention }
func (h evictionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *evictionHeap) Push(x any) {
	item := x.(*WorkingItem)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *evictionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}
