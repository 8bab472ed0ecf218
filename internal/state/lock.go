package state

import (
	"os"
	"sync"
)

// Locker serializes read-modify-write cycles on a state location.
type Locker interface {
	Lock() error
	Unlock() error
}

// FileLock provides mutual exclusion across goroutines and processes via an
// advisory lock on a side file. Platform-specific locking is in
// lock_unix.go and lock_windows.go.
type FileLock struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileLock creates a lock on path. The file is created on first Lock and
// is left in place afterwards.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// LockPath returns the conventional lock file for a state location.
func LockPath(location string) string {
	return location + ".lock"
}

// Path returns the lock file path.
func (fl *FileLock) Path() string { return fl.path }

// MutexLock is an in-process Locker.
type MutexLock struct {
	mu sync.Mutex
}

// Lock acquires the mutex. It never fails.
func (m *MutexLock) Lock() error {
	m.mu.Lock()
	return nil
}

// Unlock releases the mutex.
func (m *MutexLock) Unlock() error {
	m.mu.Unlock()
	return nil
}

var (
	_ Locker = (*FileLock)(nil)
	_ Locker = (*MutexLock)(nil)
)
