package reset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/database/mock"
	"github.com/kozaktomas/smart-locker/internal/fsutil"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

type fixture struct {
	root    string
	dataset string
	store   *database.FileStore
	counter *database.Counter
	lock    *database.FileLock
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:    root,
		dataset: filepath.Join(root, "dataset"),
		store: database.NewFileStore(database.FileStoreOptions{
			Path:      filepath.Join(root, "embeddings", "face_cosine_data.json"),
			LockPath:  filepath.Join(root, ".store.lock"),
			SlotCount: 4,
			Logger:    logging.Discard(),
		}),
		counter: database.NewCounter(filepath.Join(root, "available.txt")),
		lock:    database.NewFileLock(filepath.Join(root, ".maintenance.lock")),
	}
	f.manager = New(Options{
		DatasetDir:  f.dataset,
		Store:       f.store,
		Counter:     f.counter,
		SlotCount:   4,
		Maintenance: f.lock,
		Logger:      logging.Discard(),
	})
	return f
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, os.MkdirAll(filepath.Join(f.dataset, "1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dataset, "1", "a.jpg"), []byte("x"), 0o644))
	require.NoError(t, f.store.Put(ctx, 1, []database.Vector{{1, 0}}))
	require.NoError(t, f.counter.Write(1))

	rep, err := f.manager.Reset(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Failures)
	assert.Len(t, rep.Removed, 2)
	assert.Equal(t, 4, rep.CounterValue)

	assert.Empty(t, dirEntries(t, f.dataset))
	assert.Empty(t, dirEntries(t, f.store.Dir()))

	n, ok, err := f.counter.Read()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	store, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, store)
}

func TestResetIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := range 2 {
		rep, err := f.manager.Reset(ctx)
		require.NoError(t, err, "run %d", i)
		assert.Empty(t, rep.Failures)

		assert.Empty(t, dirEntries(t, f.dataset))
		assert.Empty(t, dirEntries(t, f.store.Dir()))
		n, _, err := f.counter.Read()
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}
}

func TestResetCreatesMissingDirectories(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Reset(context.Background())
	require.NoError(t, err)

	for _, dir := range []string{f.dataset, f.store.Dir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestResetPartialFailureStillWritesCounter(t *testing.T) {
	root := t.TempDir()
	store := mock.NewMockEmbeddingStore(4)
	store.ClearError = errors.Join(
		&fsutil.ItemError{Path: "/data/embeddings/face_cosine_data.json", Err: os.ErrPermission},
		&fsutil.ItemError{Path: "/data/embeddings/old.bak", Err: os.ErrPermission},
	)
	counter := database.NewCounter(filepath.Join(root, "available.txt"))
	m := New(Options{
		DatasetDir: filepath.Join(root, "dataset"),
		Store:      store,
		Counter:    counter,
		SlotCount:  4,
		Logger:     logging.Discard(),
	})

	rep, err := m.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.ClearCalls)
	require.Len(t, rep.Failures, 2)
	assert.Equal(t, "/data/embeddings/old.bak", rep.Failures[1].Path)

	n, ok, err := counter.Read()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, n)
}

func TestResetCounterFailure(t *testing.T) {
	root := t.TempDir()
	// A directory where the counter file should be makes the rename fail.
	counterPath := filepath.Join(root, "available.txt")
	require.NoError(t, os.MkdirAll(filepath.Join(counterPath, "blocker"), 0o755))

	m := New(Options{
		DatasetDir: filepath.Join(root, "dataset"),
		Store:      mock.NewMockEmbeddingStore(4),
		Counter:    database.NewCounter(counterPath),
		SlotCount:  4,
		Logger:     logging.Discard(),
	})
	rep, err := m.Reset(context.Background())
	require.Error(t, err)
	require.NotNil(t, rep)
}

func TestResetBlockedDuringEnrollment(t *testing.T) {
	f := newFixture(t)
	unlock, err := database.NewFileLock(f.lock.Path()).TryLock(true)
	require.NoError(t, err)
	defer unlock()

	_, err = f.manager.Reset(context.Background())
	assert.ErrorIs(t, err, database.ErrLocked)

	_, ok, err := f.counter.Read()
	require.NoError(t, err)
	assert.False(t, ok, "blocked reset must not touch the counter")
}
