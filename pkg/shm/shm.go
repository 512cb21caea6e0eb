// Package shm maps the fixed-size region that a skeleton and its proxies
// share for one service instance; pkg/control places the EventDataControl
// slot-status arrays and the parallel data arrays in it. It owns only the mapping
// itself; callers place their own structures at caller-chosen offsets inside
// the mapped bytes.
//
// The region is backed by a regular file so that proxies in other processes
// can open and map the same bytes by path, mirroring how a real POSIX shared
// memory object (shm_open) would be named. On Linux this file can equally
// live under /dev/shm to get the semantics of an actual tmpfs-backed shared
// memory segment; Region does not care which directory it is given.
package shm

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// ErrSizeMismatch is returned by Open when an existing region file's size
// does not match the size the caller expects to map.
var ErrSizeMismatch = errors.New("shm: region size mismatch")

// Region is a shared, memory-mapped byte range. All atomic cell types in
// this module operate directly on slices of Region.Bytes(); the Region
// itself carries no protocol knowledge.
type Region struct {
	data []byte
	fd   int
	path string
}

// Create creates a new region file of the given size (truncating any
// existing file) and maps it PROT_READ|PROT_WRITE|MAP_SHARED. The skeleton
// calls Create once, at service-instance offer time.
func Create(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: size must be > 0, got %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: create %q: %w", path, err)
	}

	defer func() { _ = f.Close() }()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("shm: truncate %q: %w", path, err)
	}

	return mapRegion(path, size)
}

// Open maps an existing region file of exactly size bytes. A proxy calls
// Open after discovering the region's path and size out-of-band (via the
// out-of-scope service-discovery/configuration layer).
func Open(path string, size int) (*Region, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("shm: stat %q: %w", path, err)
	}

	if fi.Size() != int64(size) {
		return nil, fmt.Errorf("shm: %q is %d bytes, want %d: %w", path, fi.Size(), size, ErrSizeMismatch)
	}

	return mapRegion(path, size)
}

func mapRegion(path string, size int) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("shm: mmap %q: %w", path, err)
	}

	r := &Region{data: data, fd: fd, path: path}
	// The mapping keeps the pages alive independently of fd; close it now so
	// we don't leak descriptors across a long-lived region's lifetime.
	if err := unix.Close(fd); err != nil {
		_ = unix.Munmap(data)

		return nil, fmt.Errorf("shm: close %q: %w", path, err)
	}

	r.fd = -1
	runtime.SetFinalizer(r, (*Region).finalize)

	return r, nil
}

// Bytes returns the mapped region. Callers slice into it to place
// EventDataControl cells and data payload arrays at their own fixed
// offsets.
func (r *Region) Bytes() []byte {
	return r.data
}

// Path returns the backing file path, for diagnostics.
func (r *Region) Path() string {
	return r.path
}

// Close unmaps the region. It does not remove the backing file: a crashed
// skeleton's region must remain mappable so surviving proxies can still
// read the slots they hold references to.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}

	runtime.SetFinalizer(r, nil)

	err := unix.Munmap(r.data)
	r.data = nil

	if err != nil {
		return fmt.Errorf("shm: munmap %q: %w", r.path, err)
	}

	return nil
}

func (r *Region) finalize() {
	_ = r.Close()
}
