package database

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCorruptStore is returned when a persisted store violates its
	// invariants: mixed vector lengths or a slot id outside [1..N].
	ErrCorruptStore = errors.New("embedding store is corrupt")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimensionality of the store it is compared against or written to.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidSlot is returned for slot ids outside the configured range.
	ErrInvalidSlot = errors.New("invalid slot id")
)

// Vector is one face embedding.
type Vector []float32

// Embeddings is the identity store: slot id -> ordered face vectors
// recorded during that slot's last enrollment.
type Embeddings map[int][]Vector

// SlotIDs returns the slot ids present in the store in ascending order.
func (e Embeddings) SlotIDs() []int {
	ids := make([]int, 0, len(e))
	for id := range e {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// VectorCount returns the total number of vectors across all slots.
func (e Embeddings) VectorCount() int {
	n := 0
	for _, vecs := range e {
		n += len(vecs)
	}
	return n
}

// Dim returns the common vector length, or 0 for a store without vectors.
// Mixed lengths yield ErrCorruptStore.
func (e Embeddings) Dim() (int, error) {
	dim := 0
	for _, id := range e.SlotIDs() {
		for i, v := range e[id] {
			if dim == 0 {
				dim = len(v)
				if dim == 0 {
					return 0, fmt.Errorf("%w: slot %d vector %d is empty", ErrCorruptStore, id, i)
				}
				continue
			}
			if len(v) != dim {
				return 0, fmt.Errorf("%w: slot %d vector %d has %d dimensions, expected %d",
					ErrCorruptStore, id, i, len(v), dim)
			}
		}
	}
	return dim, nil
}

// Validate checks the store invariants. slotCount bounds the valid ids to
// [1..slotCount] (0 disables the check); wantDim pins the vector length
// (0 accepts whatever the store holds).
func (e Embeddings) Validate(slotCount, wantDim int) error {
	for id := range e {
		if id < 1 || (slotCount > 0 && id > slotCount) {
			return fmt.Errorf("%w: slot key %d outside [1..%d]", ErrCorruptStore, id, slotCount)
		}
	}
	dim, err := e.Dim()
	if err != nil {
		return err
	}
	if wantDim > 0 && dim > 0 && dim != wantDim {
		return fmt.Errorf("%w: vectors have %d dimensions, expected %d", ErrCorruptStore, dim, wantDim)
	}
	return nil
}

// Clone returns a deep copy so callers can't alias stored vectors.
func (e Embeddings) Clone() Embeddings {
	out := make(Embeddings, len(e))
	for id, vecs := range e {
		out[id] = cloneVectors(vecs)
	}
	return out
}

func cloneVectors(vecs []Vector) []Vector {
	out := make([]Vector, len(vecs))
	for i, v := range vecs {
		out[i] = append(Vector(nil), v...)
	}
	return out
}

// CheckPut validates a full-record replacement of slotID against the
// current store contents.
func CheckPut(current Embeddings, slotID int, vectors []Vector, slotCount, wantDim int) error {
	if slotID < 1 || (slotCount > 0 && slotID > slotCount) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slotID)
	}

	dim := wantDim
	if dim == 0 {
		for _, id := range current.SlotIDs() {
			if id == slotID {
				continue
			}
			if vecs := current[id]; len(vecs) > 0 {
				dim = len(vecs[0])
				break
			}
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: vector %d is empty", ErrDimensionMismatch, i)
		}
		if dim == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}
