//go:build !windows

package state

import (
	"os"
	"path/filepath"
	"syscall"
)

// Lock acquires an exclusive lock (blocking).
func (fl *FileLock) Lock() error {
	fl.mu.Lock()
	//nolint:gosec // G301: state directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		fl.mu.Unlock()
		return err
	}
	//nolint:gosec // G304: lock path derives from the configured state path
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		fl.mu.Unlock()
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		fl.mu.Unlock()
		return err
	}
	fl.f = f
	return nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if fl.f == nil {
		return nil
	}
	f := fl.f
	fl.f = nil
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	err := f.Close()
	fl.mu.Unlock()
	return err
}
