package database

import (
	"context"
)

// EmbeddingReader provides read-only access to the identity store
type EmbeddingReader interface {
	// Load returns the whole store. A missing or empty artifact is an empty
	// store; a store that violates its invariants returns ErrCorruptStore.
	Load(ctx context.Context) (Embeddings, error)
	// LoadRaw returns the store without invariant checks, for auditing
	LoadRaw(ctx context.Context) (Embeddings, error)
	// Get returns the record for one slot, empty when the slot has none
	Get(ctx context.Context, slotID int) ([]Vector, error)
}

// EmbeddingWriter provides write access to the identity store
type EmbeddingWriter interface {
	EmbeddingReader

	// Save replaces the whole store atomically
	Save(ctx context.Context, store Embeddings) error
	// Put replaces the record of one slot in full
	Put(ctx context.Context, slotID int, vectors []Vector) error
	// Clear removes everything the store persisted. Per-item failures are
	// joined as *fsutil.ItemError values.
	Clear(ctx context.Context) (removed []string, err error)
}
