// Package dht implements a persistent, memory-mapped on-disk hash table.
//
// A table is a single file whose entire state — header, hash index, store
// directory, record payloads — is mapped directly into the process's
// address space and manipulated in place. There is no write-ahead log, no
// external cache and no serialization step: a successful [Table.Insert]
// is, modulo OS page writeback, already "on disk".
//
// Basic usage:
//
//	tbl, err := dht.Open(dht.Options{
//		Path:          "entries.dht",
//		KeyMaxLen:     15,
//		ObjectDataLen: 8,
//	}, dht.ReadWrite)
//	if err != nil {
//		return err
//	}
//	defer tbl.Free()
//
//	inserted, err := tbl.Insert([]byte("alpha"), encode(0x01))
//	view, found, err := tbl.Lookup([]byte("alpha"))
//
// Concurrency model: a [Table] is not safe for concurrent use. Multiple
// readers may call [Table.Lookup] and [Table.IndexedLookup] concurrently
// against distinct handles opened read-only on the same file; any mutating
// call ([Table.Insert], [Table.Update], [Table.Delete], [Table.Reserve],
// [Table.LoadToMemory], [Table.Free]) requires the caller to hold exclusive
// access to the handle. The package does none of this serialization itself;
// callers running multiple writers, or writers alongside readers, must
// coordinate with their own locking.
//
// Error handling: every fallible operation returns an [*Error] wrapping one
// of the sentinel [Kind] values (ErrInvalidArgument, ErrPermissionDenied,
// ErrOutOfMemory, ErrVacant, ErrImpossibleOperation, ErrCorruption,
// ErrIOError). Use errors.Is against the sentinel to classify a failure.
package dht
