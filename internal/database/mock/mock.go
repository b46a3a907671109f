// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/smart-locker/internal/database"
)

// MockEmbeddingStore is an in-memory implementation of database.EmbeddingWriter
type MockEmbeddingStore struct {
	mu        sync.RWMutex
	store     database.Embeddings
	slotCount int

	// Error injection
	LoadError  error
	SaveError  error
	PutError   error
	ClearError error

	// Call tracking
	PutCalls   []int
	ClearCalls int
}

// NewMockEmbeddingStore creates a new mock store accepting slot ids in
// [1..slotCount]; 0 accepts any positive id.
func NewMockEmbeddingStore(slotCount int) *MockEmbeddingStore {
	return &MockEmbeddingStore{
		store:     database.Embeddings{},
		slotCount: slotCount,
	}
}

// SetRecord seeds a slot record without going through Put.
func (m *MockEmbeddingStore) SetRecord(slotID int, vectors ...database.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[slotID] = vectors
}

// Snapshot returns a copy of the current contents.
func (m *MockEmbeddingStore) Snapshot() database.Embeddings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Clone()
}

func (m *MockEmbeddingStore) Load(ctx context.Context) (database.Embeddings, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.store.Validate(m.slotCount, 0); err != nil {
		return nil, err
	}
	return m.store.Clone(), nil
}

func (m *MockEmbeddingStore) LoadRaw(ctx context.Context) (database.Embeddings, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Clone(), nil
}

func (m *MockEmbeddingStore) Get(ctx context.Context, slotID int) ([]database.Vector, error) {
	store, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	if store[slotID] == nil {
		return []database.Vector{}, nil
	}
	return store[slotID], nil
}

func (m *MockEmbeddingStore) Save(ctx context.Context, store database.Embeddings) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	if err := store.Validate(m.slotCount, 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store.Clone()
	return nil
}

func (m *MockEmbeddingStore) Put(ctx context.Context, slotID int, vectors []database.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls = append(m.PutCalls, slotID)
	if m.PutError != nil {
		return m.PutError
	}
	if err := database.CheckPut(m.store, slotID, vectors, m.slotCount, 0); err != nil {
		return err
	}
	m.store[slotID] = append([]database.Vector(nil), vectors...)
	return nil
}

func (m *MockEmbeddingStore) Clear(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCalls++
	if m.ClearError != nil {
		return nil, m.ClearError
	}
	m.store = database.Embeddings{}
	return nil, nil
}
