package dht

import "encoding/binary"

// The store directory is a capacity-length array of 8-byte words, indexed
// by ordinal, mapping ordinal -> slot index + 1. A zero word means the
// ordinal is vacant (retired by a delete, or never assigned).

// storeDirWord reads the raw word for ordinal.
func storeDirWord(data []byte, off, ordinal uint64) uint64 {
	return binary.LittleEndian.Uint64(data[off+ordinal*8:])
}

// setStoreDirWord writes the raw word for ordinal. A value of 0 marks the
// ordinal vacant; encodeOccupied(slotIdx)-style (slotIdx+1) marks it live
// and names the hash slot currently holding it.
func setStoreDirWord(data []byte, off, ordinal uint64, value uint64) {
	binary.LittleEndian.PutUint64(data[off+ordinal*8:], value)
}

// storeDirIsLive reports whether ordinal has a live directory entry.
func storeDirIsLive(data []byte, off, ordinal uint64) bool {
	return storeDirWord(data, off, ordinal) != 0
}
