//go:build linux

package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sharedRegion is a memfd-backed mapping shared with client processes.
// The pages are committed up front with fallocate so a later first
// touch cannot fault; see the construction notes in pool.go.
type sharedRegion struct {
	name string
	fd   int
	data []byte
}

func newSharedRegion(name string, size int) (*sharedRegion, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create %s: %w", name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate %s to %d bytes: %w", name, size, err)
	}

	// Require the kernel to commit the pages now. If the system cannot
	// back the region, fail construction instead of faulting on first
	// touch.
	if err := unix.Fallocate(fd, 0, 0, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("commit %d bytes for %s: %w", size, name, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", name, err)
	}

	return &sharedRegion{name: name, fd: fd, data: data}, nil
}

func (r *sharedRegion) bytes() []byte { return r.data }

// Fd returns the file descriptor clients duplicate to map the buffer
// into their own address space.
func (r *sharedRegion) Fd() int { return r.fd }

func (r *sharedRegion) close() error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("munmap %s: %w", r.name, err)
		}
		r.data = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			return fmt.Errorf("close %s: %w", r.name, err)
		}
		r.fd = -1
	}
	return nil
}
