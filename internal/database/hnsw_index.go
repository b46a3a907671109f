package database

import (
	"errors"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is an approximate nearest-neighbour index over every stored
// face vector. It only narrows the set of slots worth scoring; callers
// re-score candidates exactly against the store.
type HNSWIndex struct {
	graph     *hnsw.Graph[int64]
	keyToSlot map[int64]int
	mu        sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		keyToSlot: make(map[int64]int),
	}
}

// Build replaces the index contents with the vectors of store.
func (h *HNSWIndex) Build(store Embeddings) error {
	if _, err := store.Dim(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.keyToSlot = make(map[int64]int, store.VectorCount())
	if store.VectorCount() == 0 {
		h.graph = nil
		return nil
	}

	// Create new graph with cosine distance.
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	var key int64
	for _, id := range store.SlotIDs() {
		for _, v := range store[id] {
			if Norm(v) == 0 {
				continue
			}
			g.Add(hnsw.MakeNode(key, []float32(v)))
			h.keyToSlot[key] = id
			key++
		}
	}

	h.graph = g
	return nil
}

// CandidateSlots returns the distinct slots owning the k nearest vectors to
// query, in ascending slot order.
func (h *HNSWIndex) CandidateSlots(query Vector, k int) ([]int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, errors.New("index not initialized")
	}

	neighbors := h.graph.Search([]float32(query), k)

	seen := make(map[int]bool)
	slots := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		id, ok := h.keyToSlot[n.Key]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		slots = append(slots, id)
	}
	sort.Ints(slots)
	return slots, nil
}

// Count returns the number of indexed vectors.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.keyToSlot)
}
