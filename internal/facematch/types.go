// Package facematch decides which slot, if any, a query face belongs to.
// It only reads the identity store and never actuates anything.
package facematch

import (
	"errors"

	"github.com/kozaktomas/smart-locker/internal/database"
)

// DefaultThreshold is the minimum best-slot similarity for a match.
const DefaultThreshold = 0.6

// NoSlot is Result.SlotID when no slot matched.
const NoSlot = 0

// ErrZeroVector is returned for a query without direction.
var ErrZeroVector = errors.New("query embedding has zero norm")

// SlotScore is the aggregated similarity of a query to one slot.
type SlotScore struct {
	SlotID     int     `json:"slot_id"`
	Similarity float64 `json:"similarity"` // max over the slot's vectors
	Vectors    int     `json:"vectors"`
}

// Result is the outcome of one identification.
type Result struct {
	SlotID     int         `json:"slot_id"` // NoSlot when nothing cleared the threshold
	Similarity float64     `json:"similarity"`
	Threshold  float64     `json:"threshold"`
	Scores     []SlotScore `json:"scores"` // ascending slot id

	// Nearest are the slots owning the approximate nearest stored vectors,
	// ascending. Diagnostic only, set when the engine's index is in use.
	Nearest []int `json:"nearest,omitempty"`
}

// Matched reports whether a slot was selected.
func (r Result) Matched() bool {
	return r.SlotID != NoSlot
}

// CandidateIndex finds the slots owning the stored vectors nearest a query.
type CandidateIndex interface {
	Build(store database.Embeddings) error
	CandidateSlots(query database.Vector, k int) ([]int, error)
}
