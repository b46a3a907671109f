package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLockExclusiveBlocksOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".maintenance.lock")
	a := NewFileLock(path)
	b := NewFileLock(path)

	unlock, err := a.TryLock(true)
	if err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}

	if _, err := b.TryLock(true); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := b.TryLock(false); !errors.Is(err, ErrLocked) {
		t.Fatalf("shared lock must wait for exclusive holder, got %v", err)
	}

	unlock()

	unlock2, err := b.TryLock(true)
	if err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	}
	unlock2()
}

func TestFileLockSharedHoldersCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".store.lock")

	u1, err := NewFileLock(path).TryLock(false)
	if err != nil {
		t.Fatal(err)
	}
	defer u1()

	u2, err := NewFileLock(path).TryLock(false)
	if err != nil {
		t.Fatalf("second shared lock failed: %v", err)
	}
	u2()
}

func TestFileLockWaitTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".store.lock")
	unlock, err := NewFileLock(path).TryLock(true)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	start := time.Now()
	_, err = NewFileLock(path).WithTimeout(250*time.Millisecond).Lock(context.Background(), true)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Lock waited too long: %v", time.Since(start))
	}
}

func TestFileLockWaitSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".store.lock")
	unlock, err := NewFileLock(path).TryLock(true)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(150 * time.Millisecond)
		unlock()
	}()

	u, err := NewFileLock(path).WithTimeout(5*time.Second).Lock(context.Background(), false)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	u()
}
