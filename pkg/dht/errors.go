package dht

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the categories the table engine
// can produce. Kind values are sentinel errors: use errors.Is(err, dht.ErrCorruption)
// rather than a type switch.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

// Error kinds. These are the only failure categories the engine reports;
// see SPEC_FULL.md §4.7 for the mapping from each operation to the kinds it
// can produce.
var (
	// ErrInvalidArgument covers a key too long (or of exactly key_maxlen),
	// a data slice of the wrong length, an options mismatch on Open, or an
	// indexed ordinal outside [0, slots_used).
	ErrInvalidArgument = Kind{"dht: invalid argument"}

	// ErrPermissionDenied is returned when a mutation is requested on a
	// handle opened ReadOnly.
	ErrPermissionDenied = Kind{"dht: permission denied"}

	// ErrOutOfMemory is returned when extending the file or mapping a
	// region fails, including during a growth rehash.
	ErrOutOfMemory = Kind{"dht: out of memory"}

	// ErrVacant is returned by IndexedLookup when the ordinal names a
	// retired (deleted) record.
	ErrVacant = Kind{"dht: vacant ordinal"}

	// ErrImpossibleOperation is returned when LoadToMemory is called a
	// second time, or on a handle opened ReadWrite.
	ErrImpossibleOperation = Kind{"dht: impossible operation"}

	// ErrCorruption is returned on header magic/version mismatch, or when
	// the probe sequence observes a state the format guarantees can never
	// occur (for example a hash index with no Empty slot reachable).
	ErrCorruption = Kind{"dht: corruption"}

	// ErrIOError wraps an underlying open/close/truncate failure that does
	// not fall into one of the more specific kinds above.
	ErrIOError = Kind{"dht: io error"}
)

// Error is the concrete error value returned by every fallible operation in
// this package. It carries a [Kind] plus an optional human-readable
// message. Unlike the C ancestor this package was distilled from, a failure
// to produce a diagnostic is not itself a distinct failure mode — Message
// is simply empty; callers that only care about the failure category
// should use errors.Is against the Kind sentinels instead of inspecting it.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.name
	}

	return fmt.Sprintf("%s: %s", e.Kind.name, e.Message)
}

// Unwrap lets errors.Is(err, dht.ErrCorruption) succeed against an *Error.
func (e *Error) Unwrap() error { return e.Kind }

// newErr builds an *Error of the given kind with a formatted message.
func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// asKind reports whether err (or something it wraps) is the given Kind.
func asKind(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
