//go:build unix

package pagestore

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFileExclusive acquires a non-blocking advisory write lock on f, in the
// manner of the teacher's lockWriter/tryLockWriter (lock.go): flock(2) rather
// than a reader-slot table, since the Page Store's own Backend contract
// (CAS on the Index Page's TxId) is what actually serializes commits — this
// lock only guards against two FileBackends opening the same file at once.
func lockFileExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return NewError(ErrBackend, "file is locked by another process")
		}
		return WrapError(ErrBackend, err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
