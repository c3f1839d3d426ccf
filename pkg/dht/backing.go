package dht

import (
	"fmt"

	"github.com/calvinalkan/dht/pkg/fs"
)

// backing is the storage a Table projects its bytes from. Per the design
// notes this is modeled as a tagged variant rather than a mutable
// "isInMemory" flag: a Table holds exactly one of fileBacking or
// memoryBacking at a time, and LoadToMemory consumes the former to produce
// the latter.
type backing interface {
	// bytes returns the current view of the table's bytes. The slice may
	// be replaced wholesale (remap does this for fileBacking, on growth
	// and on every Insert) but its
	// identity must not be assumed stable across any mutating call.
	bytes() []byte

	// sync flushes dirty bytes to durable storage. A no-op for
	// memoryBacking.
	sync() error

	// close releases any OS resources. Safe to call once.
	close() error

	// remap replaces the mapped region with a freshly sized one of
	// length newSize, used by growTo and by Insert to append an arena
	// record. Only fileBacking supports this;
	// memoryBacking (read-only, fixed size) returns an error.
	remap(newSize int64) ([]byte, error)
}

// fileBacking projects the table file directly via mmap.
type fileBacking struct {
	file     fs.File
	data     []byte
	writable bool
}

func (b *fileBacking) fd() int { return int(b.file.Fd()) }

func (b *fileBacking) bytes() []byte { return b.data }

func (b *fileBacking) sync() error {
	if !b.writable {
		return nil
	}

	return fs.Msync(b.data)
}

func (b *fileBacking) close() error {
	var unmapErr error

	if b.data != nil {
		unmapErr = fs.Munmap(b.data)
		b.data = nil
	}

	closeErr := b.file.Close()

	if unmapErr != nil {
		return unmapErr
	}

	return closeErr
}

// remap grows (or shrinks) the backing file to newSize and maps a fresh
// region over it. If either step fails, b.data is left completely
// untouched — the old mapping remains valid, so a failed grow leaves no
// change visible to callers.
func (b *fileBacking) remap(newSize int64) ([]byte, error) {
	if err := fs.Ftruncate(b.fd(), newSize); err != nil {
		return nil, fmt.Errorf("extend file: %w", err)
	}

	newData, err := fs.Mmap(b.fd(), newSize, b.writable)
	if err != nil {
		return nil, fmt.Errorf("map grown file: %w", err)
	}

	old := b.data
	b.data = newData

	// Best-effort: failing to unmap the old, now-superseded region does
	// not affect the correctness of the new one.
	_ = fs.Munmap(old)

	return newData, nil
}

// memoryBacking is the residency a Table is promoted to by LoadToMemory: an
// anonymous, process-owned copy of the mapping, never written back.
type memoryBacking struct {
	buf []byte
}

func (b *memoryBacking) bytes() []byte { return b.buf }
func (b *memoryBacking) sync() error   { return nil }
func (b *memoryBacking) close() error  { return nil }

func (b *memoryBacking) remap(int64) ([]byte, error) {
	return nil, newErr(ErrImpossibleOperation, "cannot grow an in-memory resident table")
}
