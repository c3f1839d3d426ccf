package dht

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Insert_Past_LoadFactor_Doubles_Capacity_And_Keeps_All_Keys_Reachable(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	initialCap := tbl.Capacity()
	n := int(growthThreshold(initialCap)) + 1

	keys := make([]string, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%06d", i)
		keys[i] = k

		inserted, err := tbl.Insert([]byte(k), make([]byte, 8))
		require.NoError(t, err)
		require.True(t, inserted)
	}

	if got, want := tbl.Capacity(), initialCap*2; got != want {
		t.Fatalf("Capacity()=%d, want=%d (doubled)", got, want)
	}

	for _, k := range keys {
		_, found, err := tbl.Lookup([]byte(k))
		require.NoError(t, err)
		require.Truef(t, found, "key %q missing after growth", k)
	}
}

func Test_Reserve_Compacts_Ordinals_After_Half_The_Keys_Are_Deleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.dht")

	tbl, err := Open(Options{Path: path, KeyMaxLen: 16, ObjectDataLen: 8}, ReadWrite)
	require.NoError(t, err)

	t.Cleanup(func() { _ = tbl.Free() })

	const total = 10000

	for i := 0; i < total; i++ {
		key := fmt.Sprintf("k%09d", i) // 10 bytes
		inserted, err := tbl.Insert([]byte(key), make([]byte, 8))
		require.NoError(t, err)
		require.True(t, inserted)
	}

	for i := 0; i < total; i += 2 {
		key := fmt.Sprintf("k%09d", i)
		deleted, err := tbl.Delete([]byte(key))
		require.NoError(t, err)
		require.True(t, deleted)
	}

	if got, want := tbl.Size(), uint64(total/2); got != want {
		t.Fatalf("Size()=%d, want=%d", got, want)
	}

	if got, want := tbl.SlotsUsed(), uint64(total); got != want {
		t.Fatalf("SlotsUsed()=%d, want=%d (rehash has not happened yet)", got, want)
	}

	newCap, err := tbl.Reserve(20000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, newCap, uint64(20000))

	if got, want := tbl.SlotsUsed(), uint64(total/2); got != want {
		t.Fatalf("SlotsUsed()=%d after rehash, want=%d (compacted to size)", got, want)
	}

	for i := 1; i < total; i += 2 {
		key := fmt.Sprintf("k%09d", i)

		data, found, err := tbl.Lookup([]byte(key))
		require.NoError(t, err)
		require.Truef(t, found, "surviving key %q missing after rehash", key)
		require.Len(t, data, 8)
	}

	for i := 0; i < total; i += 2 {
		key := fmt.Sprintf("k%09d", i)

		_, found, err := tbl.Lookup([]byte(key))
		require.NoError(t, err)
		require.Falsef(t, found, "deleted key %q reappeared after rehash", key)
	}
}

func Test_Growth_Preserves_All_Live_Key_Value_Pairs(t *testing.T) {
	tbl, _ := newTestTable(t, 15, 8)

	want := map[string]byte{}

	n := int(growthThreshold(tbl.Capacity())) + 5
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("p%05d", i)
		val := byte(i % 256)
		want[key] = val

		_, err := tbl.Insert([]byte(key), []byte{val, 0, 0, 0, 0, 0, 0, 0})
		require.NoError(t, err)
	}

	for key, val := range want {
		data, found, err := tbl.Lookup([]byte(key))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, val, data[0])
	}
}
