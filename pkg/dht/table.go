package dht

import (
	"bytes"
	"encoding/binary"
	"os"

	atomicfile "github.com/natefinch/atomic"

	"github.com/calvinalkan/dht/pkg/fs"
)

// Table is a handle to an open table file. The zero value is not usable;
// obtain one via [Open].
//
// Table is not safe for concurrent use — see the package doc comment for
// the concurrency contract.
type Table struct {
	path string
	mode AccessMode

	backing backing

	keyMaxLen     uint64
	objectDataLen uint64

	// capacity and the three region offsets it implies change only across
	// a growth rehash; size and slotsUsed change on inserts, deletes and
	// rehashes. capacity, size and slotsUsed are mirrored into the header
	// on every write so that the file
	// on disk always matches this in-memory view once an operation
	// returns (invariant 6).
	capacity     uint64
	slotArrayOff uint64
	storeDirOff  uint64
	arenaOff     uint64
	size         uint64
	slotsUsed    uint64

	closed    bool
	poisoned  error // set by a failed LoadToMemory; once set, every op except Free fails
}

// Open opens or creates a table file.
//
// Creating a new file requires opts.KeyMaxLen > 0 and opts.ObjectDataLen >
// 0; the file is initialized with capacity 8, size 0, slots_used 0.
// Opening an existing file validates the header and reconciles opts against
// it: a zero field means "accept what the file says"; a non-zero field
// that disagrees with the header is [ErrInvalidArgument].
func Open(opts Options, mode AccessMode) (*Table, error) {
	if opts.Path == "" {
		return nil, newErr(ErrInvalidArgument, "Path is required")
	}

	if opts.KeyMaxLen > maxKeyMaxLen {
		return nil, newErr(ErrInvalidArgument, "KeyMaxLen %d exceeds maximum %d", opts.KeyMaxLen, maxKeyMaxLen)
	}

	if opts.ObjectDataLen > maxObjectDataLen {
		return nil, newErr(ErrInvalidArgument, "ObjectDataLen %d exceeds maximum %d", opts.ObjectDataLen, maxObjectDataLen)
	}

	realFS := fs.NewReal()

	info, statErr := realFS.Stat(opts.Path)

	switch {
	case statErr != nil && os.IsNotExist(statErr):
		if err := createNewFile(opts); err != nil {
			return nil, err
		}

		return openExisting(realFS, opts, mode)
	case statErr != nil:
		return nil, newErr(ErrIOError, "stat %q: %v", opts.Path, statErr)
	default:
		_ = info

		return openExisting(realFS, opts, mode)
	}
}

// createNewFile builds the initial (capacity=8, empty) file content and
// writes it out atomically via rename, so a process crashed mid-create
// never leaves a half-written table file for a later Open to trip over.
func createNewFile(opts Options) error {
	if opts.KeyMaxLen == 0 || opts.ObjectDataLen == 0 {
		return newErr(ErrInvalidArgument, "creating a new table requires KeyMaxLen > 0 and ObjectDataLen > 0")
	}

	lay := computeLayout(minCapacity, 0, opts.KeyMaxLen, opts.ObjectDataLen)
	buf := make([]byte, lay.FileSize)

	encodeHeader(buf, header{
		KeyMaxLen:     opts.KeyMaxLen,
		ObjectDataLen: opts.ObjectDataLen,
		Capacity:      minCapacity,
		Size:          0,
		SlotsUsed:     0,
	})

	if err := atomicfile.WriteFile(opts.Path, bytes.NewReader(buf)); err != nil {
		return newErr(ErrIOError, "create %q: %v", opts.Path, err)
	}

	return nil
}

// openExisting maps an already-on-disk file and validates its header.
func openExisting(realFS fs.FS, opts Options, mode AccessMode) (*Table, error) {
	flag := os.O_RDONLY
	if mode == ReadWrite {
		flag = os.O_RDWR
	}

	file, err := realFS.OpenFile(opts.Path, flag, 0)
	if err != nil {
		return nil, newErr(ErrIOError, "open %q: %v", opts.Path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, newErr(ErrIOError, "stat %q: %v", opts.Path, err)
	}

	size := info.Size()
	if size < headerSize {
		_ = file.Close()

		return nil, newErr(ErrCorruption, "%q is shorter than the header (%d bytes)", opts.Path, size)
	}

	data, err := fs.Mmap(int(file.Fd()), size, mode == ReadWrite)
	if err != nil {
		_ = file.Close()

		return nil, newErr(ErrOutOfMemory, "mmap %q: %v", opts.Path, err)
	}

	h, derr := decodeHeader(data)
	if derr != nil {
		_ = fs.Munmap(data)
		_ = file.Close()

		return nil, derr
	}

	if err := reconcileOptions(opts, h); err != nil {
		_ = fs.Munmap(data)
		_ = file.Close()

		return nil, err
	}

	if err := validateHeaderShape(h, size); err != nil {
		_ = fs.Munmap(data)
		_ = file.Close()

		return nil, err
	}

	lay := computeLayout(h.Capacity, h.SlotsUsed, h.KeyMaxLen, h.ObjectDataLen)

	return &Table{
		path:          opts.Path,
		mode:          mode,
		backing:       &fileBacking{file: file, data: data, writable: mode == ReadWrite},
		keyMaxLen:     h.KeyMaxLen,
		objectDataLen: h.ObjectDataLen,
		capacity:      h.Capacity,
		slotArrayOff:  lay.SlotArrayOffset,
		storeDirOff:   lay.StoreDirOffset,
		arenaOff:      lay.ArenaOffset,
		size:          h.Size,
		slotsUsed:     h.SlotsUsed,
	}, nil
}

func reconcileOptions(opts Options, h header) error {
	if opts.KeyMaxLen != 0 && opts.KeyMaxLen != h.KeyMaxLen {
		return newErr(ErrInvalidArgument, "KeyMaxLen %d disagrees with on-disk value %d", opts.KeyMaxLen, h.KeyMaxLen)
	}

	if opts.ObjectDataLen != 0 && opts.ObjectDataLen != h.ObjectDataLen {
		return newErr(ErrInvalidArgument, "ObjectDataLen %d disagrees with on-disk value %d", opts.ObjectDataLen, h.ObjectDataLen)
	}

	return nil
}

func validateHeaderShape(h header, fileSize int64) error {
	if h.Capacity < minCapacity || h.Capacity&(h.Capacity-1) != 0 {
		return newErr(ErrCorruption, "capacity %d is not a power of two >= %d", h.Capacity, minCapacity)
	}

	if h.Capacity > maxCapacity {
		return newErr(ErrCorruption, "capacity %d exceeds maximum %d", h.Capacity, maxCapacity)
	}

	if h.SlotsUsed > h.Capacity {
		return newErr(ErrCorruption, "slots_used %d exceeds capacity %d", h.SlotsUsed, h.Capacity)
	}

	if h.Size > h.SlotsUsed {
		return newErr(ErrCorruption, "size %d exceeds slots_used %d", h.Size, h.SlotsUsed)
	}

	lay := computeLayout(h.Capacity, h.SlotsUsed, h.KeyMaxLen, h.ObjectDataLen)
	if uint64(fileSize) != lay.FileSize {
		return newErr(ErrCorruption, "file size %d does not match header-implied layout size %d", fileSize, lay.FileSize)
	}

	return nil
}

// --- accessors ---

func (t *Table) Size() uint64      { return t.size }
func (t *Table) Capacity() uint64  { return t.capacity }
func (t *Table) SlotsUsed() uint64 { return t.slotsUsed }

// DirtySlots returns the number of retired arena records (ordinals freed by
// Delete and not yet compacted by a rehash): slots_used - size. It does not
// count tombstone slots; a tombstone later reused by Insert still leaves its
// retired ordinal counted here.
func (t *Table) DirtySlots() uint64 { return t.slotsUsed - t.size }

func (t *Table) checkUsable() error {
	if t.poisoned != nil {
		return t.poisoned
	}

	if t.closed {
		return newErr(ErrIOError, "table is closed")
	}

	return nil
}

func (t *Table) validateKeyLen(key []byte) error {
	if uint64(len(key)) >= t.keyMaxLen {
		return newErr(ErrInvalidArgument, "key length %d must be < key_maxlen %d", len(key), t.keyMaxLen)
	}

	return nil
}

func (t *Table) writeCounters() {
	data := t.backing.bytes()
	binary.LittleEndian.PutUint64(data[offCapacity:], t.capacity)
	binary.LittleEndian.PutUint64(data[offSize:], t.size)
	binary.LittleEndian.PutUint64(data[offSlotsUsed:], t.slotsUsed)
}

// probeResult is the outcome of walking the probe sequence for a key.
type probeResult struct {
	found   bool
	slotIdx uint64 // the Occupied slot, when found
	ordinal uint64 // the record's ordinal, when found

	hasFree     bool // an Empty or Tombstone slot was seen before any match
	freeSlotIdx uint64
}

// probe walks the linear probe sequence for key: it stops at the first
// Empty slot (recording the earliest Empty-or-Tombstone slot seen as the
// insertion candidate), skips Tombstones, and compares full key bytes on
// every Occupied slot it visits.
func (t *Table) probe(key []byte) (probeResult, error) {
	data := t.backing.bytes()
	mask := t.capacity - 1
	start := fnv1a64(key) & mask

	var res probeResult

	for i := uint64(0); i < t.capacity; i++ {
		idx := (start + i) & mask

		word := slotWord(data, t.slotArrayOff, idx)

		state, ordinal := decodeSlot(word)

		switch state {
		case stateEmpty:
			if !res.hasFree {
				res.hasFree = true
				res.freeSlotIdx = idx
			}

			return res, nil

		case stateTombstone:
			if !res.hasFree {
				res.hasFree = true
				res.freeSlotIdx = idx
			}

		case stateOccupied:
			if ordinal >= t.slotsUsed {
				return probeResult{}, newErr(ErrCorruption, "slot %d references ordinal %d >= slots_used %d", idx, ordinal, t.slotsUsed)
			}

			if bytes.Equal(recordKeyBytes(data, t.arenaOff, ordinal, t.keyMaxLen, t.objectDataLen), key) {
				return probeResult{found: true, slotIdx: idx, ordinal: ordinal}, nil
			}
		}
	}

	// Every slot visited was Occupied or Tombstone: the table is logically
	// full, which invariant 2 guarantees growth always prevents.
	return probeResult{}, newErr(ErrCorruption, "probe sequence exhausted capacity %d without an Empty slot", t.capacity)
}

// Lookup returns a view into the record's data bytes if key is present.
// The view aliases the table's mapping; on a ReadWrite handle the caller
// may mutate it in place. The view is valid only until the next mutating
// call or [Table.Free].
func (t *Table) Lookup(key []byte) ([]byte, bool, error) {
	if err := t.checkUsable(); err != nil {
		return nil, false, err
	}

	if err := t.validateKeyLen(key); err != nil {
		return nil, false, err
	}

	res, err := t.probe(key)
	if err != nil {
		return nil, false, err
	}

	if !res.found {
		return nil, false, nil
	}

	data := t.backing.bytes()

	return recordDataView(data, t.arenaOff, res.ordinal, t.keyMaxLen, t.objectDataLen), true, nil
}

// Insert adds (key, value) if key is not already present. Returns true if
// inserted, false if the key was already present (the table is
// unchanged). Triggers a growth rehash before inserting if slots_used
// is already at or past the load-factor threshold.
func (t *Table) Insert(key, value []byte) (bool, error) {
	if err := t.checkUsable(); err != nil {
		return false, err
	}

	if t.mode == ReadOnly {
		return false, newErr(ErrPermissionDenied, "table opened ReadOnly")
	}

	if err := t.validateKeyLen(key); err != nil {
		return false, err
	}

	if uint64(len(value)) != t.objectDataLen {
		return false, newErr(ErrInvalidArgument, "data length %d != object_datalen %d", len(value), t.objectDataLen)
	}

	res, err := t.probe(key)
	if err != nil {
		return false, err
	}

	if res.found {
		return false, nil
	}

	if t.slotsUsed+1 > growthThreshold(t.capacity) {
		if err := t.growTo(t.capacity * 2); err != nil {
			return false, err
		}

		res, err = t.probe(key)
		if err != nil {
			return false, err
		}

		if res.found {
			return false, newErr(ErrCorruption, "key present after growth rehash of an absent key")
		}
	}

	ordinal := t.slotsUsed

	// Extend the file by one arena record before writing it.
	lay := computeLayout(t.capacity, ordinal+1, t.keyMaxLen, t.objectDataLen)

	data, err := t.backing.remap(int64(lay.FileSize))
	if err != nil {
		return false, newErr(ErrOutOfMemory, "extend arena for ordinal %d: %v", ordinal, err)
	}

	writeRecord(data, t.arenaOff, ordinal, t.keyMaxLen, t.objectDataLen, key, value)
	setSlotWord(data, t.slotArrayOff, res.freeSlotIdx, encodeOccupied(ordinal))
	setStoreDirWord(data, t.storeDirOff, ordinal, res.freeSlotIdx+1)

	t.slotsUsed++
	t.size++
	t.writeCounters()

	return true, nil
}

// Update overwrites the data bytes of an existing key. Returns true if
// key was found and updated, false if not found.
func (t *Table) Update(key, value []byte) (bool, error) {
	if err := t.checkUsable(); err != nil {
		return false, err
	}

	if t.mode == ReadOnly {
		return false, newErr(ErrPermissionDenied, "table opened ReadOnly")
	}

	if err := t.validateKeyLen(key); err != nil {
		return false, err
	}

	if uint64(len(value)) != t.objectDataLen {
		return false, newErr(ErrInvalidArgument, "data length %d != object_datalen %d", len(value), t.objectDataLen)
	}

	res, err := t.probe(key)
	if err != nil {
		return false, err
	}

	if !res.found {
		return false, nil
	}

	writeRecordData(t.backing.bytes(), t.arenaOff, res.ordinal, t.keyMaxLen, t.objectDataLen, value)

	return true, nil
}

// Delete tombstones the slot holding key and retires its ordinal. Returns
// true if key was found and deleted, false if not found. slots_used is
// unchanged; the retired ordinal's directory entry becomes vacant until
// the next growth rehash compacts it away.
func (t *Table) Delete(key []byte) (bool, error) {
	if err := t.checkUsable(); err != nil {
		return false, err
	}

	if t.mode == ReadOnly {
		return false, newErr(ErrPermissionDenied, "table opened ReadOnly")
	}

	if err := t.validateKeyLen(key); err != nil {
		return false, err
	}

	res, err := t.probe(key)
	if err != nil {
		return false, err
	}

	if !res.found {
		return false, nil
	}

	data := t.backing.bytes()
	setSlotWord(data, t.slotArrayOff, res.slotIdx, slotTombstone)
	setStoreDirWord(data, t.storeDirOff, res.ordinal, 0)

	t.size--
	t.writeCounters()

	return true, nil
}

// IndexedLookup returns the key and a copy of the data stored at ordinal.
// ordinal must be in [0, slots_used); a retired ordinal reports
// [ErrVacant].
func (t *Table) IndexedLookup(ordinal uint64) (key, value []byte, err error) {
	if err := t.checkUsable(); err != nil {
		return nil, nil, err
	}

	if ordinal >= t.slotsUsed {
		return nil, nil, newErr(ErrInvalidArgument, "ordinal %d out of range [0,%d)", ordinal, t.slotsUsed)
	}

	data := t.backing.bytes()

	if !storeDirIsLive(data, t.storeDirOff, ordinal) {
		return nil, nil, newErr(ErrVacant, "ordinal %d was retired by a delete", ordinal)
	}

	k := readRecordKey(data, t.arenaOff, ordinal, t.keyMaxLen, t.objectDataLen)

	view := recordDataView(data, t.arenaOff, ordinal, t.keyMaxLen, t.objectDataLen)
	v := make([]byte, len(view))
	copy(v, view)

	return k, v, nil
}

// Reserve ensures the table's capacity is at least requested, rounded up to
// the next power of two. If requested is already <= the current capacity
// this is a no-op that reports the current capacity. Otherwise it performs
// a full growth rehash and reports the new capacity.
func (t *Table) Reserve(requested uint64) (uint64, error) {
	if err := t.checkUsable(); err != nil {
		return 0, err
	}

	if t.mode == ReadOnly {
		return 0, newErr(ErrPermissionDenied, "table opened ReadOnly")
	}

	newCap := nextPow2(max(requested, minCapacity))

	if newCap <= t.capacity {
		return t.capacity, nil
	}

	if newCap > maxCapacity {
		return 0, newErr(ErrOutOfMemory, "requested capacity %d exceeds maximum %d", requested, maxCapacity)
	}

	if err := t.growTo(newCap); err != nil {
		return 0, err
	}

	return t.capacity, nil
}

// liveRecord is a temporary holder used while collecting survivors ahead of
// a growth rehash.
type liveRecord struct {
	key, data []byte
}

// growTo performs the full rebuild: collect every live record in ordinal
// (= insertion) order, lay out a brand-new file image at newCapacity with
// ordinals compacted into [0, size), remap the backing file to that image,
// and only then adopt the new layout. If remapping fails, nothing about t
// has changed yet and the old mapping is still valid, so no change is
// visible to callers on failure. newCapacity is bounded by maxCapacity
// uniformly for every caller, whether the growth was requested explicitly
// via Reserve or triggered automatically by the load factor in Insert.
func (t *Table) growTo(newCapacity uint64) error {
	if newCapacity > maxCapacity {
		return newErr(ErrOutOfMemory, "grow to capacity %d exceeds maximum %d", newCapacity, maxCapacity)
	}

	data := t.backing.bytes()

	live := make([]liveRecord, 0, t.size)

	for ord := uint64(0); ord < t.slotsUsed; ord++ {
		if !storeDirIsLive(data, t.storeDirOff, ord) {
			continue
		}

		k := readRecordKey(data, t.arenaOff, ord, t.keyMaxLen, t.objectDataLen)

		view := recordDataView(data, t.arenaOff, ord, t.keyMaxLen, t.objectDataLen)
		v := make([]byte, len(view))
		copy(v, view)

		live = append(live, liveRecord{key: k, data: v})
	}

	if uint64(len(live)) != t.size {
		return newErr(ErrCorruption, "collected %d live records, header size says %d", len(live), t.size)
	}

	newLay := computeLayout(newCapacity, uint64(len(live)), t.keyMaxLen, t.objectDataLen)
	buf := make([]byte, newLay.FileSize)

	encodeHeader(buf, header{
		KeyMaxLen:     t.keyMaxLen,
		ObjectDataLen: t.objectDataLen,
		Capacity:      newCapacity,
		Size:          uint64(len(live)),
		SlotsUsed:     uint64(len(live)),
	})

	mask := newCapacity - 1

	for i, rec := range live {
		ordinal := uint64(i)

		writeRecord(buf, newLay.ArenaOffset, ordinal, t.keyMaxLen, t.objectDataLen, rec.key, rec.data)

		idx := fnv1a64(rec.key) & mask
		for slotWord(buf, newLay.SlotArrayOffset, idx) != slotEmpty {
			idx = (idx + 1) & mask
		}

		setSlotWord(buf, newLay.SlotArrayOffset, idx, encodeOccupied(ordinal))
		setStoreDirWord(buf, newLay.StoreDirOffset, ordinal, idx+1)
	}

	newData, err := t.backing.remap(int64(len(buf)))
	if err != nil {
		return newErr(ErrOutOfMemory, "grow to capacity %d: %v", newCapacity, err)
	}

	copy(newData, buf)

	t.capacity = newCapacity
	t.slotArrayOff = newLay.SlotArrayOffset
	t.storeDirOff = newLay.StoreDirOffset
	t.arenaOff = newLay.ArenaOffset
	t.slotsUsed = uint64(len(live))

	return nil
}

// LoadToMemory copies the entire mapping into an anonymous, process-owned
// buffer and switches the table to that residency thereafter. It is only
// permitted once, and only on a ReadOnly handle. A second call — on either
// residency — reports [ErrImpossibleOperation]. On failure the handle is
// poisoned: every subsequent call (other than [Table.Free]) returns the
// same error.
func (t *Table) LoadToMemory() error {
	if err := t.checkUsable(); err != nil {
		return err
	}

	if t.mode != ReadOnly {
		return newErr(ErrImpossibleOperation, "load_to_memory requires a ReadOnly handle")
	}

	if _, already := t.backing.(*memoryBacking); already {
		return newErr(ErrImpossibleOperation, "table is already resident in memory")
	}

	src := t.backing.bytes()
	buf := make([]byte, len(src))
	copy(buf, src)

	if err := t.backing.close(); err != nil {
		t.poisoned = newErr(ErrIOError, "release file-backed mapping during load_to_memory: %v", err)

		return t.poisoned
	}

	t.backing = &memoryBacking{buf: buf}

	return nil
}

// Free syncs the mapping (on a ReadWrite, file-backed handle), unmaps it
// and closes the underlying file descriptor. Safe to call exactly once;
// subsequent calls are no-ops.
func (t *Table) Free() error {
	if t.closed {
		return nil
	}

	t.closed = true

	syncErr := t.backing.sync()
	closeErr := t.backing.close()

	if syncErr != nil {
		return newErr(ErrIOError, "sync: %v", syncErr)
	}

	if closeErr != nil {
		return newErr(ErrIOError, "close: %v", closeErr)
	}

	return nil
}
