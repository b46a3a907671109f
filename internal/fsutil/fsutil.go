// Package fsutil holds the small file-system primitives shared by the
// embedding store, the availability counter and the reset manager.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ItemError records a failure on a single path during a best-effort sweep.
type ItemError struct {
	Path string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// WriteFileAtomic writes path by streaming into a temp file in the same
// directory, syncing it and renaming it over the target. The parent
// directory is created if needed and synced after the rename. Readers see
// either the old content or the new content, never a mix.
func WriteFileAtomic(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}

	// Best-effort: fsync directory so the rename survives a power cut
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// ClearDir removes every entry inside dir and keeps dir itself. A missing
// dir is created. Each entry is attempted independently; the returned error
// joins one *ItemError per entry that could not be removed. Entries named
// in keep are left alone.
func ClearDir(dir string, keep ...string) (removed []string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ItemError{Path: dir, Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ItemError{Path: dir, Err: err}
	}

	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[filepath.Clean(k)] = true
	}

	var errs []error
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		if skip[filepath.Clean(p)] {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, &ItemError{Path: p, Err: err})
			continue
		}
		removed = append(removed, p)
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}

// ItemErrors flattens an error produced by ClearDir (or a join of several)
// into its per-item failures. Errors that are not *ItemError are wrapped
// with an empty path.
func ItemErrors(err error) []*ItemError {
	if err == nil {
		return nil
	}
	var out []*ItemError
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var item *ItemError
		if errors.As(e, &item) {
			out = append(out, item)
			return
		}
		out = append(out, &ItemError{Err: e})
	}
	walk(err)
	return out
}
