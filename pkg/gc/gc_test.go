package gc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/value"
)

// fakeRoots implements gc.RootProvider, marking a fixed, mutable set of
// values as live — a minimal stand-in for the VM/Compiler during collection.
type fakeRoots struct {
	live []value.Value
}

func (f *fakeRoots) MarkRoots(h *gc.Heap) {
	for _, v := range f.live {
		h.MarkValue(v)
	}
}

func (f *fakeRoots) HandleWeak(h *gc.Heap) {}

func TestCollectFreesUnreachableStrings(t *testing.T) {
	heap := gc.New()
	roots := &fakeRoots{}
	heap.Register(roots)

	kept := heap.CopyString([]byte("kept"))
	roots.live = []value.Value{value.Obj(kept)}

	garbage := heap.CopyString([]byte("garbage"))

	heap.Collect()

	// The kept string is still reachable through the intern table via its
	// canonical pointer (interning is weak, not a root by itself), but the
	// object itself must survive because fakeRoots marks it directly.
	assert.Equal(t, "kept", kept.String())
	assert.Same(t, kept, heap.CopyString([]byte("kept")))
	// The unrooted string was freed, so interning its bytes again yields a
	// new object.
	assert.NotSame(t, garbage, heap.CopyString([]byte("garbage")))
}

func TestCollectPrunesInternTableOfUnreachableStrings(t *testing.T) {
	heap := gc.New()
	roots := &fakeRoots{}
	heap.Register(roots)

	first := heap.CopyString([]byte("transient"))
	heap.Collect()

	// After the collection, re-interning the same bytes must allocate a
	// fresh ObjString rather than return a freed one — FindString on the
	// intern table should report nothing for a string nothing roots.
	again := heap.CopyString([]byte("transient"))
	require.NotNil(t, again)
	assert.Equal(t, "transient", again.String())
	assert.NotSame(t, first, again)
}

func TestMarkObjectIsIdempotentOnGrayObjects(t *testing.T) {
	heap := gc.New()
	s := heap.CopyString([]byte("x"))

	heap.MarkObject(s)
	assert.True(t, s.MarkedForGC())
	// Marking twice must not push the object onto the gray worklist twice;
	// Collect would otherwise blacken it more than once. Calling Collect
	// here and getting back without panicking/looping forever is the
	// observable proof.
	heap.MarkObject(s)
	heap.Collect()
}

func TestStressModeCollectsOnEveryAllocation(t *testing.T) {
	heap := gc.New()
	heap.StressMode = true
	roots := &fakeRoots{}
	heap.Register(roots)

	var calls int
	heap.Log = func(format string, args ...interface{}) { calls++ }

	heap.CopyString([]byte("a"))
	heap.CopyString([]byte("b"))

	assert.GreaterOrEqual(t, calls, 2)
}

func TestClassAndInstanceGraphSurvivesCollection(t *testing.T) {
	heap := gc.New()
	roots := &fakeRoots{}
	heap.Register(roots)

	name := heap.CopyString([]byte("Point"))
	class := heap.NewClass(name)
	instance := heap.NewInstance(class)
	fieldName := heap.CopyString([]byte("x"))
	instance.Fields[fieldName] = value.Number(1)

	roots.live = []value.Value{value.Obj(instance)}
	heap.Collect()

	assert.Equal(t, "Point", class.Name.String())
	v, ok := instance.Fields[fieldName]
	require.True(t, ok)
	assert.Equal(t, value.Number(1), v)
}
