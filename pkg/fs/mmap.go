package fs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap maps length bytes of the file referenced by fd into the process's
// address space starting at offset 0. writable selects PROT_READ|PROT_WRITE
// over PROT_READ; the mapping is always MAP_SHARED so writes (when writable)
// are visible to other mappings of the same file and are written back by the
// OS independently of [Msync].
//
// The returned slice has length and capacity equal to length. Callers must
// release it with [Munmap] exactly once.
func Mmap(fd int, length int64, writable bool) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("mmap: length must be > 0, got %d", length)
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(fd, 0, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return data, nil
}

// Munmap unmaps a region previously returned by [Mmap]. Safe to call once
// per mapping; calling it twice on the same slice is undefined, matching
// munmap(2).
func Munmap(data []byte) error {
	if data == nil {
		return nil
	}

	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	return nil
}

// Msync flushes dirty pages of a mapping returned by [Mmap] to the backing
// file. It blocks until the flush completes (MS_SYNC). A no-op on a mapping
// that was never written through is harmless; msync(2) defines it as such.
func Msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}

	return nil
}

// Ftruncate resizes the file referenced by fd to exactly size bytes,
// zero-filling any newly added range. The core does not depend on the
// zero-fill for its index: a growth rehash copies a complete image (slot
// array and store directory included) over the extended mapping, and an
// appended arena record is written field by field.
func Ftruncate(fd int, size int64) error {
	if err := unix.Ftruncate(fd, size); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}

	return nil
}
