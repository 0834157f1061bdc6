//go:build windows

package pagestore

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFileExclusive acquires a non-blocking exclusive lock on f via
// LockFileEx, the Windows counterpart to the flock-based lockFileExclusive
// in filelock_unix.go.
func lockFileExclusive(f *os.File) error {
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		return NewError(ErrBackend, "file is locked by another process")
	}
	return nil
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
