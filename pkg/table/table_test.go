package table_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/table"
	"github.com/kristofer/cloxgo/pkg/value"
)

func newKey(s string) *value.ObjString {
	b := []byte(s)
	return &value.ObjString{Chars: b, Hash: value.FNV1a32(b)}
}

func TestSetGetRoundTrip(t *testing.T) {
	tbl := table.New()
	a, b := newKey("a"), newKey("b")

	require.True(t, tbl.Set(a, value.Number(1)))
	require.True(t, tbl.Set(b, value.Number(2)))
	assert.False(t, tbl.Set(a, value.Number(3)), "overwriting an existing key is not a new key")

	v, ok := tbl.Get(a)
	require.True(t, ok)
	assert.Equal(t, value.Number(3), v)

	v, ok = tbl.Get(b)
	require.True(t, ok)
	assert.Equal(t, value.Number(2), v)

	assert.Equal(t, 2, tbl.Count())
}

func TestGetMissingKey(t *testing.T) {
	tbl := table.New()
	_, ok := tbl.Get(newKey("missing"))
	assert.False(t, ok)
}

func TestDeleteLeavesTombstoneThatKeepsProbeChainIntact(t *testing.T) {
	tbl := table.New()
	// Force a handful of entries into the same small table so at least one
	// collision (and thus a meaningful probe chain) occurs.
	keys := make([]*value.ObjString, 0, 6)
	for _, s := range []string{"one", "two", "three", "four", "five", "six"} {
		k := newKey(s)
		keys = append(keys, k)
		tbl.Set(k, value.Obj(k))
	}

	require.True(t, tbl.Delete(keys[0]))
	_, ok := tbl.Get(keys[0])
	assert.False(t, ok)

	// Every other key must still be reachable despite the tombstone left
	// behind by the delete.
	for _, k := range keys[1:] {
		v, ok := tbl.Get(k)
		require.True(t, ok, "key %q should survive a sibling's deletion", k.Chars)
		assert.Equal(t, value.Obj(k), v)
	}
}

func TestGrowsPastLoadFactor(t *testing.T) {
	tbl := table.New()
	for i := 0; i < 100; i++ {
		k := newKey(string(rune('a' + i%26)) + string(rune(i)))
		tbl.Set(k, value.Number(float64(i)))
	}
	assert.Equal(t, 100, tbl.Count())
}

func TestFindStringInterningLookup(t *testing.T) {
	tbl := table.New()
	k := newKey("hello")
	tbl.Set(k, value.Bool(true))

	found := tbl.FindString([]byte("hello"), value.FNV1a32([]byte("hello")))
	require.NotNil(t, found)
	assert.Same(t, k, found)

	assert.Nil(t, tbl.FindString([]byte("nope"), value.FNV1a32([]byte("nope"))))
}

func TestAddAllCopiesLiveEntries(t *testing.T) {
	src := table.New()
	k := newKey("greet")
	src.Set(k, value.Number(1))

	dst := table.New()
	dst.AddAll(src)

	v, ok := dst.Get(k)
	require.True(t, ok)
	assert.Equal(t, value.Number(1), v)
}

func TestRemoveUnmarkedDropsWeakReferences(t *testing.T) {
	tbl := table.New()
	kept := newKey("kept")
	dropped := newKey("dropped")
	tbl.Set(kept, value.Bool(true))
	tbl.Set(dropped, value.Bool(true))

	tbl.RemoveUnmarked(func(s *value.ObjString) bool { return s == kept })

	_, ok := tbl.Get(kept)
	assert.True(t, ok)
	_, ok = tbl.Get(dropped)
	assert.False(t, ok)
}

func TestEachVisitsEveryLiveEntry(t *testing.T) {
	tbl := table.New()
	tbl.Set(newKey("x"), value.Number(1))
	tbl.Set(newKey("y"), value.Number(2))

	seen := map[string]value.Value{}
	tbl.Each(func(key *value.ObjString, val value.Value) {
		seen[string(key.Chars)] = val
	})

	assert.Len(t, seen, 2)
	assert.Equal(t, value.Number(1), seen["x"])
	assert.Equal(t, value.Number(2), seen["y"])
}
