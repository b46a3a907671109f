package database

import (
	"errors"
	"testing"
)

func TestEmbeddingsValidate(t *testing.T) {
	tests := []struct {
		name      string
		store     Embeddings
		slotCount int
		dim       int
		wantErr   error
	}{
		{"empty", Embeddings{}, 4, 0, nil},
		{"consistent", Embeddings{1: {{1, 0}}, 3: {{0, 1}, {1, 1}}}, 4, 0, nil},
		{"empty record", Embeddings{2: {}}, 4, 0, nil},
		{"mixed dims", Embeddings{1: {{1, 0}}, 2: {{1, 0, 0}}}, 4, 0, ErrCorruptStore},
		{"slot zero", Embeddings{0: {{1}}}, 4, 0, ErrCorruptStore},
		{"slot above N", Embeddings{5: {{1}}}, 4, 0, ErrCorruptStore},
		{"wrong pinned dim", Embeddings{1: {{1, 0}}}, 4, 3, ErrCorruptStore},
		{"pinned dim ok", Embeddings{1: {{1, 0, 0}}}, 4, 3, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.store.Validate(tc.slotCount, tc.dim)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestEmbeddingsSlotIDsSorted(t *testing.T) {
	store := Embeddings{4: nil, 1: nil, 3: nil}
	ids := store.SlotIDs()
	want := []int{1, 3, 4}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestEmbeddingsCloneIsDeep(t *testing.T) {
	store := Embeddings{1: {{1, 2}}}
	clone := store.Clone()
	clone[1][0][0] = 99
	if store[1][0][0] != 1 {
		t.Error("mutating clone changed the original")
	}
}

func TestCheckPut(t *testing.T) {
	current := Embeddings{1: {{1, 0, 0}}}

	if err := CheckPut(current, 2, []Vector{{0, 1, 0}}, 4, 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckPut(current, 2, []Vector{{0, 1}}, 4, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	// Replacing the only populated slot may change the dimension.
	if err := CheckPut(current, 1, []Vector{{0, 1}}, 4, 0); err != nil {
		t.Errorf("unexpected error replacing sole record: %v", err)
	}
	if err := CheckPut(current, 5, nil, 4, 0); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("expected ErrInvalidSlot, got %v", err)
	}
	if err := CheckPut(current, 2, nil, 4, 0); err != nil {
		t.Errorf("empty record must be accepted: %v", err)
	}
}
