// Package audit reports on the health of the identity store. It is purely
// diagnostic and works on stores that matching would reject.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kozaktomas/smart-locker/internal/database"
)

// Tolerances for "identical" vectors, numpy.allclose defaults.
const (
	AbsTolerance = 1e-8
	RelTolerance = 1e-5
)

// SlotReport describes one slot record.
type SlotReport struct {
	SlotID       int  `json:"slot_id"`
	Vectors      int  `json:"vectors"`
	Dim          int  `json:"dim"`
	Empty        bool `json:"empty"`
	AllIdentical bool `json:"all_identical"` // only meaningful with more than one vector
}

// Report is the result of auditing a store.
type Report struct {
	Slots      []SlotReport `json:"slots"`   // ascending slot id
	Missing    []int        `json:"missing"` // configured slots without any record
	Corruption string       `json:"corruption,omitempty"`
}

// Healthy reports a store with no corruption, no empty records and no
// degenerate multi-vector records.
func (r Report) Healthy() bool {
	if r.Corruption != "" {
		return false
	}
	for _, s := range r.Slots {
		if s.Empty || s.AllIdentical {
			return false
		}
	}
	return true
}

// Audit inspects store. slotIDs are the configured slots, used to list the
// ones without a record.
func Audit(store database.Embeddings, slotIDs []int) Report {
	var rep Report
	if err := store.Validate(0, 0); err != nil {
		rep.Corruption = err.Error()
	}

	for _, id := range store.SlotIDs() {
		vecs := store[id]
		sr := SlotReport{SlotID: id, Vectors: len(vecs), Empty: len(vecs) == 0}
		if len(vecs) > 0 {
			sr.Dim = len(vecs[0])
		}
		if len(vecs) > 1 {
			sr.AllIdentical = allIdentical(vecs)
		}
		rep.Slots = append(rep.Slots, sr)
	}

	for _, id := range slotIDs {
		if _, ok := store[id]; !ok {
			rep.Missing = append(rep.Missing, id)
		}
	}
	if len(slotIDs) > 0 {
		known := make(map[int]bool, len(slotIDs))
		for _, id := range slotIDs {
			known[id] = true
		}
		for _, id := range store.SlotIDs() {
			if !known[id] && rep.Corruption == "" {
				rep.Corruption = fmt.Sprintf("slot %d is not configured", id)
			}
		}
	}
	return rep
}

// Run loads the store without validation and audits it.
func Run(ctx context.Context, store database.EmbeddingReader, slotIDs []int) (Report, error) {
	emb, err := store.LoadRaw(ctx)
	if err != nil && !errors.Is(err, database.ErrCorruptStore) {
		return Report{}, err
	}
	if err != nil {
		// Undecodable artifact: nothing to inspect beyond the error.
		return Report{Corruption: err.Error(), Missing: slotIDs}, nil
	}
	return Audit(emb, slotIDs), nil
}

// allIdentical reports whether every vector is elementwise close to the
// first: |a-b| <= atol + rtol*|b|.
func allIdentical(vecs []database.Vector) bool {
	first := vecs[0]
	for _, v := range vecs[1:] {
		if len(v) != len(first) {
			return false
		}
		for i := range v {
			a, b := float64(v[i]), float64(first[i])
			if math.Abs(a-b) > AbsTolerance+RelTolerance*math.Abs(b) {
				return false
			}
		}
	}
	return true
}

// Print writes a console report.
func Print(w io.Writer, rep Report) {
	if rep.Corruption != "" {
		fmt.Fprintf(w, "Warning: store is corrupt: %s\n", rep.Corruption)
	}
	if len(rep.Slots) == 0 {
		fmt.Fprintln(w, "Store is empty.")
	}
	for _, s := range rep.Slots {
		fmt.Fprintf(w, "Slot %d: %d vectors", s.SlotID, s.Vectors)
		if s.Dim > 0 {
			fmt.Fprintf(w, " (dim %d)", s.Dim)
		}
		fmt.Fprintln(w)
		switch {
		case s.Empty:
			fmt.Fprintln(w, "  Warning: record is empty, this slot can never be identified")
		case s.Vectors == 1:
			fmt.Fprintln(w, "  Only one vector, nothing to compare")
		case s.AllIdentical:
			fmt.Fprintln(w, "  Warning: all vectors are identical, enrollment images may be duplicates")
		default:
			fmt.Fprintln(w, "  Vectors are diverse")
		}
	}
	for _, id := range rep.Missing {
		fmt.Fprintf(w, "Slot %d: not enrolled\n", id)
	}
}
