package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/kozaktomas/smart-locker/internal/fsutil"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

// storeFile is the on-disk layout of the identity store.
type storeFile struct {
	Version int                 `json:"version"`
	Dim     int                 `json:"dim"`
	Slots   map[string][]Vector `json:"slots"`
}

// FileStore keeps the identity store in a single JSON artifact. Writes go
// through a temp file and rename, so a crash never leaves a partial store.
type FileStore struct {
	path      string
	dir       string
	slotCount int
	dim       int
	lock      *FileLock
	mu        sync.RWMutex
	logger    *slog.Logger
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	Path      string // artifact path
	Dir       string // directory emptied by Clear, defaults to the artifact's directory
	LockPath  string // flock target, must live outside Dir
	SlotCount int    // N, valid slot ids are [1..N]
	Dim       int    // expected vector length, 0 to infer
	Logger    *slog.Logger
}

// NewFileStore creates a file-backed store. Nothing touches disk until the
// first operation.
func NewFileStore(opts FileStoreOptions) *FileStore {
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = opts.Path + ".lock"
	}
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Dir(opts.Path)
	}
	return &FileStore{
		path:      opts.Path,
		dir:       dir,
		slotCount: opts.SlotCount,
		dim:       opts.Dim,
		lock:      NewFileLock(lockPath),
		logger:    logging.OrDefault(opts.Logger),
	}
}

// Path returns the artifact path.
func (s *FileStore) Path() string {
	return s.path
}

// Dir returns the directory Clear empties.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Load(ctx context.Context) (Embeddings, error) {
	store, err := s.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Validate(s.slotCount, s.dim); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	return store, nil
}

func (s *FileStore) LoadRaw(ctx context.Context) (Embeddings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := s.lock.Lock(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to lock store for reading: %w", err)
	}
	defer unlock()

	return s.read()
}

func (s *FileStore) Get(ctx context.Context, slotID int) ([]Vector, error) {
	store, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	vecs := store[slotID]
	if vecs == nil {
		return []Vector{}, nil
	}
	return vecs, nil
}

func (s *FileStore) Save(ctx context.Context, store Embeddings) error {
	if err := store.Validate(s.slotCount, s.dim); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock.Lock(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to lock store for writing: %w", err)
	}
	defer unlock()

	return s.write(store)
}

func (s *FileStore) Put(ctx context.Context, slotID int, vectors []Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock.Lock(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to lock store for writing: %w", err)
	}
	defer unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	if err := current.Validate(s.slotCount, s.dim); err != nil {
		return fmt.Errorf("cannot update slot %d: %w", slotID, err)
	}
	if err := CheckPut(current, slotID, vectors, s.slotCount, s.dim); err != nil {
		return err
	}

	current[slotID] = cloneVectors(vectors)
	if err := s.write(current); err != nil {
		return err
	}
	s.logger.Info("slot record replaced", "slot", slotID, "vectors", len(vectors))
	return nil
}

// Clear empties the store directory and keeps the directory itself. The
// lock file is kept when it happens to live there.
func (s *FileStore) Clear(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock.Lock(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to lock store for clearing: %w", err)
	}
	defer unlock()

	return fsutil.ClearDir(s.Dir(), s.lock.Path())
}

// read must be called with the file lock held.
func (s *FileStore) read() (Embeddings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Embeddings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Embeddings{}, nil
	}
	return decodeStore(data)
}

// write must be called with the exclusive file lock held.
func (s *FileStore) write(store Embeddings) error {
	dim, err := store.Dim()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, 0o644, func(w io.Writer) error {
		return encodeStore(w, store, dim)
	})
}

func encodeStore(w io.Writer, store Embeddings, dim int) error {
	doc := storeFile{
		Version: storeFormatVersion,
		Dim:     dim,
		Slots:   make(map[string][]Vector, len(store)),
	}
	for id, vecs := range store {
		if vecs == nil {
			vecs = []Vector{}
		}
		doc.Slots[strconv.Itoa(id)] = vecs
	}
	enc := json.NewEncoder(w)
	return enc.Encode(doc)
}

func decodeStore(data []byte) (Embeddings, error) {
	var doc storeFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	if doc.Version != storeFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptStore, doc.Version)
	}

	store := make(Embeddings, len(doc.Slots))
	for key, vecs := range doc.Slots {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: slot key %q is not a number", ErrCorruptStore, key)
		}
		if vecs == nil {
			vecs = []Vector{}
		}
		store[id] = vecs
	}

	if doc.Dim < 0 {
		return nil, fmt.Errorf("%w: negative dimension %d", ErrCorruptStore, doc.Dim)
	}
	// Mixed vector lengths are left for Validate so LoadRaw can still hand
	// the records to audit.
	if dim, err := store.Dim(); err == nil && dim > 0 && dim != doc.Dim {
		return nil, fmt.Errorf("%w: header declares %d dimensions, vectors have %d", ErrCorruptStore, doc.Dim, dim)
	}
	return store, nil
}
