//go:build windows

package state

import (
	"os"
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const lockfileExclusiveLock = 0x00000002

// Lock acquires an exclusive lock (blocking).
func (fl *FileLock) Lock() error {
	fl.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		fl.mu.Unlock()
		return err
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		fl.mu.Unlock()
		return err
	}

	var ol syscall.Overlapped
	r1, _, callErr := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock),
		0,
		1, 0,
		uintptr(unsafe.Pointer(&ol)),
	)
	if r1 == 0 {
		_ = f.Close()
		fl.mu.Unlock()
		return callErr
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

	var ol syscall.Overlapped
	_, _, _ = procUnlockFileEx.Call(
		f.Fd(),
		0,
		1, 0,
		uintptr(unsafe.Pointer(&ol)),
	)
	err := f.Close()
	fl.mu.Unlock()
	return err
}
