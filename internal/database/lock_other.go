//go:build !unix

package database

import (
	"os"
	"sync"
)

// Without flock the lock only coordinates goroutines of this process.
var (
	processLocksMu sync.Mutex
	processLocks   = map[string]int{} // path -> holders, -1 for exclusive
)

func tryFlock(file *os.File, exclusive bool) error {
	processLocksMu.Lock()
	defer processLocksMu.Unlock()

	held := processLocks[file.Name()]
	if held < 0 || (exclusive && held > 0) {
		return ErrLocked
	}
	if exclusive {
		processLocks[file.Name()] = -1
	} else {
		processLocks[file.Name()] = held + 1
	}
	return nil
}

func releaseFlock(file *os.File) {
	processLocksMu.Lock()
	if held := processLocks[file.Name()]; held <= 1 {
		delete(processLocks, file.Name())
	} else {
		processLocks[file.Name()] = held - 1
	}
	processLocksMu.Unlock()
	_ = file.Close()
}
