package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when a lock is held by another operation.
var ErrLocked = errors.New("lock is held by another operation")

const (
	lockMinBackoff     = 100 * time.Millisecond
	lockMaxBackoff     = 2 * time.Second
	defaultLockTimeout = 30 * time.Second
)

// FileLock is an advisory lock on a file, shared or exclusive. It guards
// state across processes (CLI and server on the same data directory).
type FileLock struct {
	path    string
	timeout time.Duration
}

// NewFileLock creates a lock backed by path. The file is created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, timeout: defaultLockTimeout}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// TryLock takes the lock without waiting. It returns ErrLocked when the
// lock is held elsewhere.
func (l *FileLock) TryLock(exclusive bool) (unlock func(), err error) {
	file, err := l.open()
	if err != nil {
		return nil, err
	}
	if err := tryFlock(file, exclusive); err != nil {
		file.Close()
		return nil, err
	}
	return func() { releaseFlock(file) }, nil
}

// Lock waits for the lock, polling with exponential backoff until ctx is
// done or the lock timeout elapses.
func (l *FileLock) Lock(ctx context.Context, exclusive bool) (unlock func(), err error) {
	file, err := l.open()
	if err != nil {
		return nil, err
	}

	err = tryFlock(file, exclusive)
	if err == nil {
		return func() { releaseFlock(file) }, nil
	}
	if !errors.Is(err, ErrLocked) {
		file.Close()
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	backoff := lockMinBackoff
	for {
		select {
		case <-lockCtx.Done():
			file.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrLocked, l.path, lockCtx.Err())
		case <-time.After(backoff):
			err = tryFlock(file, exclusive)
			if err == nil {
				return func() { releaseFlock(file) }, nil
			}
			if !errors.Is(err, ErrLocked) {
				file.Close()
				return nil, err
			}
			backoff *= 2
			if backoff > lockMaxBackoff {
				backoff = lockMaxBackoff
			}
		}
	}
}

// WithTimeout returns a copy of the lock that gives up waiting after d.
func (l *FileLock) WithTimeout(d time.Duration) *FileLock {
	return &FileLock{path: l.path, timeout: d}
}
