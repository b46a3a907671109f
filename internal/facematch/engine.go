package facematch

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"

	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

// Identify scores query against every slot record of store and returns the
// best slot if its score reaches threshold.
//
// Per slot the score is the maximum cosine similarity over its vectors.
// Equal best scores resolve to the lowest slot id. Empty records and
// zero-norm stored vectors never score.
func Identify(query database.Vector, store database.Embeddings, threshold float64) (Result, error) {
	return identifySlots(query, store, store.SlotIDs(), threshold)
}

func identifySlots(query database.Vector, store database.Embeddings, slotIDs []int, threshold float64) (Result, error) {
	res := Result{SlotID: NoSlot, Similarity: math.Inf(-1), Threshold: threshold}

	if database.Norm(query) == 0 {
		return res, ErrZeroVector
	}
	dim, err := store.Dim()
	if err != nil {
		return res, err
	}
	if dim != 0 && len(query) != dim {
		return res, fmt.Errorf("%w: query has %d dimensions, store has %d",
			database.ErrDimensionMismatch, len(query), dim)
	}

	best := NoSlot
	for _, id := range slotIDs {
		vecs := store[id]
		if len(vecs) == 0 {
			continue
		}
		slotBest := math.Inf(-1)
		for _, v := range vecs {
			sim, ok := database.CosineSimilarity(query, v)
			if ok && sim > slotBest {
				slotBest = sim
			}
		}
		if math.IsInf(slotBest, -1) {
			continue
		}
		res.Scores = append(res.Scores, SlotScore{SlotID: id, Similarity: slotBest, Vectors: len(vecs)})
		// slotIDs ascend, so strict > keeps the lowest id on ties
		if slotBest > res.Similarity {
			res.Similarity = slotBest
			best = id
		}
	}

	if best == NoSlot {
		res.Similarity = 0
		return res, nil
	}
	if res.Similarity >= threshold {
		res.SlotID = best
	}
	return res, nil
}

// Engine runs identification with a fixed threshold. For large stores an
// approximate index reports the slots owning the stored vectors nearest to
// the query; the index never decides the match, every slot is scored exactly.
type Engine struct {
	threshold  float64
	index      CandidateIndex
	minIndexed int
	candidates int
	logger     *slog.Logger

	mu         sync.Mutex
	indexed    bool
	indexedSig uint64
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Threshold       float64
	Index           CandidateIndex // optional
	IndexMinVectors int            // query Index only from this many stored vectors
	IndexCandidates int            // neighbours requested from Index
	Logger          *slog.Logger
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.IndexCandidates <= 0 {
		opts.IndexCandidates = 64
	}
	return &Engine{
		threshold:  opts.Threshold,
		index:      opts.Index,
		minIndexed: opts.IndexMinVectors,
		candidates: opts.IndexCandidates,
		logger:     logging.OrDefault(opts.Logger),
	}
}

// Threshold returns the configured match threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Identify is the package-level Identify with the engine's threshold. When
// the index is in use, Nearest lists the slots owning the approximate
// nearest stored vectors; an index failure only drops that list.
func (e *Engine) Identify(query database.Vector, store database.Embeddings) (Result, error) {
	res, err := identifySlots(query, store, store.SlotIDs(), e.threshold)
	if err != nil {
		return res, err
	}
	if e.index != nil && e.minIndexed > 0 && store.VectorCount() >= e.minIndexed {
		nearest, err := e.candidateSlots(query, store)
		if err != nil {
			e.logger.Warn("nearest-sample index unavailable", "error", err)
		} else {
			res.Nearest = nearest
		}
	}
	return res, nil
}

func (e *Engine) candidateSlots(query database.Vector, store database.Embeddings) ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sig := storeSignature(store)
	if !e.indexed || sig != e.indexedSig {
		if err := e.index.Build(store); err != nil {
			e.indexed = false
			return nil, err
		}
		e.indexed = true
		e.indexedSig = sig
		e.logger.Debug("candidate index rebuilt", "vectors", store.VectorCount())
	}
	return e.index.CandidateSlots(query, e.candidates)
}

// storeSignature fingerprints the full store contents, so any replaced
// record, even one with the same size, rebuilds the index.
func storeSignature(store database.Embeddings) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	writeUint := func(n uint32) {
		binary.LittleEndian.PutUint32(buf[:], n)
		_, _ = h.Write(buf[:])
	}
	for _, id := range store.SlotIDs() {
		vecs := store[id]
		writeUint(uint32(id))
		writeUint(uint32(len(vecs)))
		for _, v := range vecs {
			writeUint(uint32(len(v)))
			for _, x := range v {
				writeUint(math.Float32bits(x))
			}
		}
	}
	return h.Sum64()
}
