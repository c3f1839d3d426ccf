package dht

// AccessMode selects whether Open maps the file read-only or read-write.
type AccessMode int

const (
	// ReadWrite maps the file PROT_READ|PROT_WRITE. Only a ReadWrite
	// handle may call Insert, Update, Delete or Reserve.
	ReadWrite AccessMode = iota

	// ReadOnly maps the file PROT_READ. Writing through a pointer
	// returned by Lookup on a ReadOnly handle is undefined behavior and
	// may fault, matching the mapping's actual page protection. Only a
	// ReadOnly handle may call LoadToMemory.
	ReadOnly
)

// Options configures Open.
type Options struct {
	// Path is the table file. Required.
	Path string

	// KeyMaxLen is the maximum key length the table will accept (a key of
	// exactly this length is rejected). When opening an
	// existing file, zero means "accept whatever the header says"; a
	// non-zero value that disagrees with the header is an
	// ErrInvalidArgument. Creating a new file requires KeyMaxLen > 0.
	KeyMaxLen uint64

	// ObjectDataLen is the fixed size, in bytes, of the data payload
	// stored alongside each key. Same zero/non-zero reconciliation rules
	// as KeyMaxLen.
	ObjectDataLen uint64
}
