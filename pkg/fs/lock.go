package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock indicates a lock is already held by another holder and
// TryLock was asked not to wait for it.
var ErrWouldBlock = errors.New("fs: lock would block")

// Lock is a held advisory file lock. It must be released with Close.
type Lock struct {
	f *os.File
}

// Locker acquires advisory locks backed by files, for coordinating access
// to a resource across process boundaries (flock does not coordinate
// between threads of the same process; callers needing that must also
// serialize in-process, e.g. with a sync.Mutex).
type Locker struct {
	fsys FS
}

// NewLocker returns a Locker that creates lock files through fsys.
func NewLocker(fsys FS) *Locker {
	return &Locker{fsys: fsys}
}

// TryLock acquires an exclusive, non-blocking lock on the file at path,
// creating it if necessary. On contention it returns ErrWouldBlock.
//
// The lock file is never deleted by Close; it persists so that later
// lockers always have something to flock, even if this is the first
// process to ever touch the resource.
func (l *Locker) TryLock(path string) (*Lock, error) {
	file, err := l.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", path, err)
	}

	osFile, ok := file.(*os.File)
	if !ok {
		_ = file.Close()

		return nil, fmt.Errorf("lock file %q: %w", path, errNotOSFile)
	}

	flockErr := unix.Flock(int(osFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if flockErr != nil {
		_ = osFile.Close()

		if errors.Is(flockErr, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock %q: %w", path, flockErr)
	}

	return &Lock{f: osFile}, nil
}

// Lock acquires an exclusive lock on the file at path, blocking until it
// is available. Used for low-frequency, short-held interprocess critical
// sections (TransactionLogSet registration/rollback) where busy-waiting
// via TryLock would waste cycles.
func (l *Locker) Lock(path string) (*Lock, error) {
	file, err := l.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", path, err)
	}

	osFile, ok := file.(*os.File)
	if !ok {
		_ = file.Close()

		return nil, fmt.Errorf("lock file %q: %w", path, errNotOSFile)
	}

	if flockErr := unix.Flock(int(osFile.Fd()), unix.LOCK_EX); flockErr != nil {
		_ = osFile.Close()

		return nil, fmt.Errorf("flock %q: %w", path, flockErr)
	}

	return &Lock{f: osFile}, nil
}

var errNotOSFile = errors.New("lock files must be backed by the real filesystem")

// Close releases the lock. The underlying file descriptor is closed, which
// also releases the flock. Safe to call on a nil *Lock.
func (lk *Lock) Close() error {
	if lk == nil {
		return nil
	}

	err := unix.Flock(int(lk.f.Fd()), unix.LOCK_UN)
	closeErr := lk.f.Close()

	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}

	return nil
}
