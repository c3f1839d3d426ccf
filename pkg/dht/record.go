package dht

// A store entry occupies one record_stride-sized slice of the arena: the
// key, NUL-terminated and padded to an 8-byte boundary, followed by exactly
// object_datalen bytes of caller data. recordStride (format.go) already
// accounts for the padding and final 8-byte rounding.

// recordOffset returns the byte offset of the record for the given ordinal
// within the arena.
func recordOffset(arenaOff, ordinal, stride uint64) uint64 {
	return arenaOff + ordinal*stride
}

// writeRecord encodes key and data into the record at ordinal. key must
// already have been validated to be shorter than keyMaxLen.
func writeRecord(data []byte, arenaOff, ordinal, keyMaxLen, objectDataLen uint64, key, value []byte) {
	stride := recordStride(keyMaxLen, objectDataLen)
	off := recordOffset(arenaOff, ordinal, stride)

	keyField := data[off : off+align8(keyMaxLen+1)]
	for i := range keyField {
		keyField[i] = 0
	}

	copy(keyField, key)

	dataField := data[off+align8(keyMaxLen+1) : off+align8(keyMaxLen+1)+objectDataLen]
	copy(dataField, value)
}

// readRecordKey returns a copy of the NUL-terminated key stored at ordinal.
func readRecordKey(data []byte, arenaOff, ordinal, keyMaxLen, objectDataLen uint64) []byte {
	stride := recordStride(keyMaxLen, objectDataLen)
	off := recordOffset(arenaOff, ordinal, stride)
	keyField := data[off : off+align8(keyMaxLen+1)]

	n := 0
	for n < len(keyField) && keyField[n] != 0 {
		n++
	}

	key := make([]byte, n)
	copy(key, keyField[:n])

	return key
}

// recordKeyBytes returns the raw (not copied) key bytes stored at ordinal,
// for use in probe comparisons where no copy is needed.
func recordKeyBytes(data []byte, arenaOff, ordinal, keyMaxLen, objectDataLen uint64) []byte {
	stride := recordStride(keyMaxLen, objectDataLen)
	off := recordOffset(arenaOff, ordinal, stride)
	keyField := data[off : off+align8(keyMaxLen+1)]

	n := 0
	for n < len(keyField) && keyField[n] != 0 {
		n++
	}

	return keyField[:n]
}

// recordDataView returns a slice view (not a copy) over the object data
// field of ordinal's record. Callers in write mode may mutate it in place;
// lookup intentionally hands back a live view rather than a copy so that
// in-place mutation without re-keying is possible.
func recordDataView(data []byte, arenaOff, ordinal, keyMaxLen, objectDataLen uint64) []byte {
	stride := recordStride(keyMaxLen, objectDataLen)
	off := recordOffset(arenaOff, ordinal, stride)
	dataStart := off + align8(keyMaxLen+1)

	return data[dataStart : dataStart+objectDataLen]
}

// writeRecordData overwrites only the data field of ordinal's record,
// leaving the key untouched. Used by Update.
func writeRecordData(data []byte, arenaOff, ordinal, keyMaxLen, objectDataLen uint64, value []byte) {
	copy(recordDataView(data, arenaOff, ordinal, keyMaxLen, objectDataLen), value)
}
