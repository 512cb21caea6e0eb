// Package fs provides the filesystem abstraction pkg/rollback's PidTable
// snapshot and pkg/control's interprocess registration lock are built on:
// an atomic-rename writer and an flock-backed advisory lock, both
// parameterized over [FS]. Locker needs the files it opens to be
// [*os.File] (it flocks their descriptors) and rejects any other [File].
//
// The main types are:
//   - [FS]: the slice of filesystem operations AtomicWriter and Locker need
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] package
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.Seeker], or [io.Closer].
//
// The intent is os-like behavior: implementations must behave like [os.File],
// including that [File.Fd] returns a valid OS file descriptor usable with
// syscalls (for example [syscall.Flock]) until the file is closed.
//
// Note: [File] includes [io.Writer] even for read-only handles. Like [os.File],
// implementations should return an error from Write when the file wasn't opened
// for writing.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	// Embedded interfaces from [io] package.
	// These provide Read, Write, Close, and Seek methods.
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	// Used for low-level operations like [syscall.Flock].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chmod changes the mode of the file. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS defines the filesystem operations AtomicWriter's temp-file-then-rename
// sequence and Locker's flock-on-open-file both need. It is intentionally
// narrower than the full [os] surface: only what a caller in this package
// actually drives (temp file creation, the final rename, and cleanup of a
// failed attempt).
//
// Paths use OS semantics (like the os package and path/filepath), not the
// slash-separated paths used by the standard library io/fs package.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open]. AtomicWriter uses this
	// to open a directory handle for fsync after a rename.
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile]. Used for exclusive temp-file creation and for
	// opening the lock file Locker flocks.
	//
	// Common flags: [os.O_RDONLY], [os.O_WRONLY], [os.O_RDWR],
	// [os.O_APPEND], [os.O_CREATE], [os.O_EXCL], [os.O_TRUNC].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Remove deletes a file. See [os.Remove]. Used to clean up a temp
	// file left behind by a failed atomic write.
	Remove(path string) error

	// Rename moves/renames a file. See [os.Rename]. Atomic on the same
	// filesystem; this is the step that makes AtomicWriter's write atomic.
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
