package globals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/value"
)

func name(s string) *value.ObjString {
	b := []byte(s)
	return &value.ObjString{Chars: b, Hash: value.FNV1a32(b)}
}

func TestDeclareAssignsMonotonicSlots(t *testing.T) {
	store := globals.New()

	x := store.Declare(name("x"))
	y := store.Declare(name("y"))
	z := store.Declare(name("z"))

	assert.Equal(t, 0, x)
	assert.Equal(t, 1, y)
	assert.Equal(t, 2, z)
	assert.Equal(t, 3, store.Count)
}

func TestRedeclaringExistingGlobalReturnsSameSlot(t *testing.T) {
	store := globals.New()
	xName := name("x")

	first := store.Declare(xName)
	second := store.Declare(xName)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Count)
}

func TestUninitializedUntilMarkState(t *testing.T) {
	store := globals.New()
	slot := store.Declare(name("x"))

	assert.Equal(t, globals.Uninitialized, store.State(slot))

	store.MarkState(slot, true)
	assert.Equal(t, globals.Writeable, store.State(slot))
}

func TestConstSlotMarkedReadable(t *testing.T) {
	store := globals.New()
	slot := store.Declare(name("k"))
	store.MarkState(slot, false)
	assert.Equal(t, globals.Readable, store.State(slot))
}

func TestDefineAndGet(t *testing.T) {
	store := globals.New()
	slot := store.Declare(name("x"))
	store.Define(slot, value.Number(42))
	assert.Equal(t, value.Number(42), store.Get(slot))
}

func TestEachVisitsDeclaredSlotsInOrder(t *testing.T) {
	store := globals.New()
	store.Declare(name("a"))
	store.Declare(name("b"))
	store.Define(0, value.Number(1))
	store.Define(1, value.Number(2))

	var seen []string
	store.Each(func(n *value.ObjString, v value.Value) {
		seen = append(seen, string(n.Chars))
	})

	require.Len(t, seen, 2)
	assert.Equal(t, []string{"a", "b"}, seen)
}
