package dht

// Hardcoded implementation limits, in the spirit of the prior art's own
// defensive limits: generous enough to never bind real configurations,
// tight enough to keep offset arithmetic safely inside uint64/int64 range.
// A KeyMaxLen or ObjectDataLen over its limit is reported by Open as
// ErrInvalidArgument; a capacity over maxCapacity is ErrOutOfMemory from
// Reserve or a growth rehash, and ErrCorruption in an opened file's header.
const (
	// maxKeyMaxLen bounds key_maxlen. Keys are short, fixed-schema
	// identifiers; nothing in this table's design wants megabyte keys.
	maxKeyMaxLen = 1 << 16 // 64 KiB

	// maxObjectDataLen bounds object_datalen.
	maxObjectDataLen = 1 << 24 // 16 MiB

	// maxCapacity bounds the number of slots (and, equally, store
	// directory entries). At 8 bytes/slot this caps the slot array and the
	// directory at 16 GiB each, far past anything this package is exercised
	// against, while keeping capacity*8 additions away from uint64
	// overflow.
	maxCapacity = uint64(1) << 31
)
