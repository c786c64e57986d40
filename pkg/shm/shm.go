// Package shm implements the named, page-backed shared segments pods and
// the host agent map into their address spaces (spec §3 "Shared Segment",
// §6 "Shared segment"). On Linux, POSIX shared-memory objects created by
// shm_open(3) live on the tmpfs mounted at /dev/shm; this package opens
// segments there directly rather than wrapping shm_open itself, since
// Go's runtime does not expose it and golang.org/x/sys/unix (which this
// package uses for the mmap/ftruncate/munmap primitives) has
// no portable wrapper either — see DESIGN.md for why this is the one
// place this module reaches for a raw syscall over a third-party library.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultDir is where POSIX shared-memory objects are mounted on Linux.
const DefaultDir = "/dev/shm"

// Dir is overridable so tests don't need root-owned /dev/shm access.
var Dir = DefaultDir

// Name returns the canonical segment name for a pod, per spec §3/§6:
// "shm-<pid>".
func Name(pid uint32) string {
	return fmt.Sprintf("shm-%d", pid)
}

// Segment is a named, page-backed region of size Size bytes.
type Segment struct {
	Name string
	Size int

	fd   int
	path string
}

// Create creates (or truncates) and sizes a new named segment with mode
// 0666, per spec §6.
func Create(name string, size int) (*Segment, error) {
	path := filepath.Join(Dir, name)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate %s to %d: %w", path, size, err)
	}

	return &Segment{Name: name, Size: size, fd: fd, path: path}, nil
}

// Open maps an existing segment, writable, into the caller's address
// space. The host agent uses this only so the region can be registered
// for remote access (spec §4.2.1 step 1) — it never writes through the
// mapping itself.
func Open(name string, size int) (*Segment, []byte, error) {
	path := filepath.Join(Dir, name)

	fd, err := unix.Open(path, unix.O_RDWR, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &Segment{Name: name, Size: size, fd: fd, path: path}, data, nil
}

// Map maps a freshly created segment into the caller's address space,
// returning the backing byte slice.
func (s *Segment) Map() ([]byte, error) {
	data, err := unix.Mmap(s.fd, 0, s.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", s.path, err)
	}
	return data, nil
}

// Unmap releases a mapping previously returned by Map/Open.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// Close closes the segment's file descriptor without unlinking it.
func (s *Segment) Close() error {
	return unix.Close(s.fd)
}

// Unlink removes the named segment, tolerating ENOENT (spec §9 open
// question: the shared segment is unlinked at teardown, and a missing
// segment is not an error).
func Unlink(name string) error {
	path := filepath.Join(Dir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("shm: unlink %s: %w", path, err)
	}
	return nil
}
