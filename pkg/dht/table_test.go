package dht

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, keyMaxLen, objectDataLen uint64) (*Table, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "table.dht")

	tbl, err := Open(Options{Path: path, KeyMaxLen: keyMaxLen, ObjectDataLen: objectDataLen}, ReadWrite)
	require.NoError(t, err)

	t.Cleanup(func() { _ = tbl.Free() })

	return tbl, path
}

func Test_Open_Creates_A_Fresh_File_With_Capacity_Eight(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	if got, want := tbl.Capacity(), uint64(8); got != want {
		t.Fatalf("Capacity()=%d, want=%d", got, want)
	}

	if got, want := tbl.Size(), uint64(0); got != want {
		t.Fatalf("Size()=%d, want=%d", got, want)
	}
}

func Test_Open_New_File_Requires_Positive_KeyMaxLen_And_ObjectDataLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	_, err := Open(Options{Path: path, KeyMaxLen: 0, ObjectDataLen: 8}, ReadWrite)

	if got, want := err, ErrInvalidArgument; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}
}

func Test_Insert_Then_Lookup_Roundtrips(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	inserted, err := tbl.Insert([]byte("alpha"), []byte{0x01, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = tbl.Insert([]byte("beta"), []byte{0x02, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, inserted)

	if got, want := tbl.Size(), uint64(2); got != want {
		t.Fatalf("Size()=%d, want=%d", got, want)
	}

	data, found, err := tbl.Lookup([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, byte(0x01), data[0])

	_, found, err = tbl.Lookup([]byte("gamma"))
	require.NoError(t, err)
	require.False(t, found)
}

func Test_Insert_Duplicate_Key_Returns_False_And_Leaves_Table_Unchanged(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	value := make([]byte, 8)
	_, err := tbl.Insert([]byte("alpha"), value)
	require.NoError(t, err)

	inserted, err := tbl.Insert([]byte("alpha"), value)
	require.NoError(t, err)

	if inserted {
		t.Fatalf("Insert of a duplicate key returned true, want false")
	}

	if got, want := tbl.Size(), uint64(1); got != want {
		t.Fatalf("Size()=%d, want=%d", got, want)
	}
}

func Test_Insert_Rejects_Key_Of_Length_Exactly_KeyMaxLen(t *testing.T) {
	tbl, _ := newTestTable(t, 5, 8)

	_, err := tbl.Insert([]byte("alpha"), make([]byte, 8)) // len("alpha") == 5 == key_maxlen

	if got, want := err, ErrInvalidArgument; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}
}

func Test_Insert_Accepts_Key_Of_Length_KeyMaxLen_Minus_One(t *testing.T) {
	tbl, _ := newTestTable(t, 6, 8)

	inserted, err := tbl.Insert([]byte("alpha"), make([]byte, 8)) // len 5 < 6
	require.NoError(t, err)
	require.True(t, inserted)
}

func Test_Update_Overwrites_Data_For_An_Existing_Key(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	first := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	second := []byte{2, 0, 0, 0, 0, 0, 0, 0}

	_, err := tbl.Insert([]byte("alpha"), first)
	require.NoError(t, err)

	updated, err := tbl.Update([]byte("alpha"), second)
	require.NoError(t, err)
	require.True(t, updated)

	data, found, err := tbl.Lookup([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second, data)
}

func Test_Update_Of_Missing_Key_Returns_False(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	updated, err := tbl.Update([]byte("ghost"), make([]byte, 8))
	require.NoError(t, err)

	if updated {
		t.Fatalf("Update of a missing key returned true, want false")
	}
}

func Test_Delete_Then_Insert_Same_Key_Succeeds_Both_Times(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	value := make([]byte, 8)

	inserted, err := tbl.Insert([]byte("alpha"), value)
	require.NoError(t, err)
	require.True(t, inserted)

	deleted, err := tbl.Delete([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, deleted)

	if got, want := tbl.Size(), uint64(0); got != want {
		t.Fatalf("Size()=%d, want=%d", got, want)
	}

	inserted, err = tbl.Insert([]byte("alpha"), value)
	require.NoError(t, err)
	require.True(t, inserted)

	if got, want := tbl.Size(), uint64(1); got != want {
		t.Fatalf("Size()=%d, want=%d", got, want)
	}
}

func Test_Delete_Leaves_SlotsUsed_Unchanged_Until_Rehash(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	_, err := tbl.Insert([]byte("alpha"), make([]byte, 8))
	require.NoError(t, err)

	before := tbl.SlotsUsed()

	_, err = tbl.Delete([]byte("alpha"))
	require.NoError(t, err)

	if got, want := tbl.SlotsUsed(), before; got != want {
		t.Fatalf("SlotsUsed()=%d, want unchanged at %d", got, want)
	}

	if got, want := tbl.DirtySlots(), uint64(1); got != want {
		t.Fatalf("DirtySlots()=%d, want=%d", got, want)
	}
}

func Test_IndexedLookup_Returns_Keys_In_Insertion_Order(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, k := range keys {
		_, err := tbl.Insert([]byte(k), make([]byte, 8))
		require.NoError(t, err)
	}

	for i, want := range keys {
		key, _, err := tbl.IndexedLookup(uint64(i))
		require.NoError(t, err)

		if got := string(key); got != want {
			t.Fatalf("IndexedLookup(%d)=%q, want=%q", i, got, want)
		}
	}
}

func Test_IndexedLookup_Reports_Vacant_For_A_Retired_Ordinal(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	_, err := tbl.Insert([]byte("alpha"), make([]byte, 8))
	require.NoError(t, err)

	_, err = tbl.Delete([]byte("alpha"))
	require.NoError(t, err)

	_, _, err = tbl.IndexedLookup(0)

	if got, want := err, ErrVacant; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}
}

func Test_IndexedLookup_Rejects_Ordinal_Outside_SlotsUsed_Range(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	_, _, err := tbl.IndexedLookup(0)

	if got, want := err, ErrInvalidArgument; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}
}

func Test_ReadOnly_Handle_Rejects_Mutations_But_Allows_Lookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	rw, err := Open(Options{Path: path, KeyMaxLen: 15, ObjectDataLen: 8}, ReadWrite)
	require.NoError(t, err)

	_, err = rw.Insert([]byte("alpha"), []byte{9, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, rw.Free())

	ro, err := Open(Options{Path: path}, ReadOnly)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Free() })

	_, err = ro.Insert([]byte("beta"), make([]byte, 8))

	if got, want := err, ErrPermissionDenied; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}

	data, found, err := ro.Lookup([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, byte(9), data[0])
}

func Test_Open_With_Zero_Options_On_Existing_File_Infers_From_Header(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	tbl, err := Open(Options{Path: path, KeyMaxLen: 15, ObjectDataLen: 8}, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tbl.Free())

	reopened, err := Open(Options{Path: path}, ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Free() })

	if got, want := reopened.keyMaxLen, uint64(15); got != want {
		t.Fatalf("keyMaxLen=%d, want=%d", got, want)
	}
}

func Test_Open_With_Mismatched_Options_Fails_With_InvalidArgument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	tbl, err := Open(Options{Path: path, KeyMaxLen: 15, ObjectDataLen: 8}, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tbl.Free())

	_, err = Open(Options{Path: path, KeyMaxLen: 16, ObjectDataLen: 8}, ReadWrite)

	if got, want := err, ErrInvalidArgument; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}
}

func Test_Reopening_After_Free_Yields_Identical_Lookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	tbl, err := Open(Options{Path: path, KeyMaxLen: 15, ObjectDataLen: 8}, ReadWrite)
	require.NoError(t, err)

	_, err = tbl.Insert([]byte("alpha"), []byte{7, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, tbl.Free())

	reopened, err := Open(Options{Path: path}, ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Free() })

	data, found, err := reopened.Lookup([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, byte(7), data[0])
}

func Test_Reserve_With_N_Not_Greater_Than_Current_Capacity_Is_A_NoOp(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	got, err := tbl.Reserve(4)
	require.NoError(t, err)

	if want := tbl.Capacity(); got != want {
		t.Fatalf("Reserve(4)=%d, want=%d (current capacity)", got, want)
	}
}

func Test_LoadToMemory_Requires_ReadOnly_Handle(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	err := tbl.LoadToMemory()

	if got, want := err, ErrImpossibleOperation; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}
}

func Test_LoadToMemory_Twice_Reports_ImpossibleOperation_Handle_Still_Usable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	rw, err := Open(Options{Path: path, KeyMaxLen: 15, ObjectDataLen: 8}, ReadWrite)
	require.NoError(t, err)

	_, err = rw.Insert([]byte("alpha"), []byte{3, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, rw.Free())

	ro, err := Open(Options{Path: path}, ReadOnly)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Free() })

	require.NoError(t, ro.LoadToMemory())

	err = ro.LoadToMemory()
	if got, want := err, ErrImpossibleOperation; !errors.Is(got, want) {
		t.Fatalf("err=%v, want Is(%v)", got, want)
	}

	data, found, lookupErr := ro.Lookup([]byte("alpha"))
	require.NoError(t, lookupErr)
	require.True(t, found)
	require.Equal(t, byte(3), data[0])
}
