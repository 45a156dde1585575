// Package gc implements a tri-color mark-sweep collector: a gray worklist
// drained by blacken, rooted through a registry of pluggable
// root-providers, with weak-reference cleanup of the interned-string
// table between mark and sweep.
//
// Components that hold references to heap objects register themselves
// as a RootProvider and are consulted at collection time, rather than
// the collector needing hardcoded knowledge of the VM or compiler.
package gc

import (
	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/table"
	"github.com/kristofer/cloxgo/pkg/value"
)

// GCHeapGrowFactor is the multiplier applied to bytesAllocated (at the end
// of a collection) to compute the next collection threshold.
const GCHeapGrowFactor = 2

// initialNextGC is the threshold before the very first collection, chosen
// generously so short scripts never collect needlessly.
const initialNextGC = 1 << 20

// RootProvider is implemented by every component that can hold references
// to heap objects the collector must not reclaim: the VM and, while a
// script is being compiled, the Compiler. MarkRoots should call
// Heap.MarkValue/MarkObject for everything the component currently
// references. HandleWeak runs once mark is complete and the only weak
// table (string interning) has been pruned, just before sweep; most
// providers leave it empty.
type RootProvider interface {
	MarkRoots(h *Heap)
	HandleWeak(h *Heap)
}

// Heap owns every object allocated by the compiler and VM, the intern
// table, and the registered root-providers: the memory manager that owns
// the heap object chain.
type Heap struct {
	head Object // head of the singly-linked heap object chain

	bytesAllocated int64
	nextGC         int64
	StressMode     bool // collect on every allocation, for testing

	interned *table.Table
	roots    []RootProvider
	gray     []Object

	// Log, if non-nil, receives one line per collection cycle. Left nil
	// in normal operation; tests and --trace-gc wire it up.
	Log func(format string, args ...interface{})
}

// Object is a local alias for value.Object kept short for readability in
// this package.
type Object = value.Object

// New returns an empty heap with an interned string table ready to use.
func New() *Heap {
	return &Heap{
		interned: table.New(),
		nextGC:   initialNextGC,
	}
}

// Register attaches a root-provider. Providers are consulted in
// registration order during MarkRoots and HandleWeak. Detaching one
// should happen in LIFO order via Unregister: Compile and format.Decode
// unregister their provider when they return, while the VM stays
// registered for the life of the Heap.
func (h *Heap) Register(rp RootProvider) {
	h.roots = append(h.roots, rp)
}

// Unregister detaches rp, searching from the end so LIFO callers (a
// Compiler finishing a nested compile) remove the provider they actually
// registered even if another with the same identity is still present.
func (h *Heap) Unregister(rp RootProvider) {
	for i := len(h.roots) - 1; i >= 0; i-- {
		if h.roots[i] == rp {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// track links a freshly allocated object at the head of the heap chain and
// accounts for its size, possibly triggering a collection first if the new
// allocation would grow the heap past its threshold. This is called by
// every New*/Copy*/Take* constructor in alloc.go, after the object's own fields
// are fully populated (so nothing reachable from it is left half-built
// across a collection it might itself provoke).
func (h *Heap) track(o Object, size int) {
	h.bytesAllocated += int64(size)
	if h.StressMode || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
	o.SetNextInChain(h.head)
	h.head = o
}

// Collect runs one full mark-sweep cycle: mark roots, drain the gray
// worklist, prune the intern table of unmarked (about-to-die) strings,
// sweep unmarked objects, then reset the growth threshold.
func (h *Heap) Collect() {
	before := h.bytesAllocated

	for _, rp := range h.roots {
		rp.MarkRoots(h)
	}
	h.traceReferences()

	h.interned.RemoveUnmarked(func(s *value.ObjString) bool { return s.MarkedForGC() })

	for _, rp := range h.roots {
		rp.HandleWeak(h)
	}

	freed := h.sweep()
	h.nextGC = h.bytesAllocated * GCHeapGrowFactor
	if h.nextGC < initialNextGC {
		h.nextGC = initialNextGC
	}

	if h.Log != nil {
		h.Log("gc: %d -> %d bytes (freed %d objects), next at %d", before, h.bytesAllocated, freed, h.nextGC)
	}
}

// MarkValue marks v's object if it holds one. Numbers, bools, nil and
// undefined need no marking.
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObject() && v.AsObject() != nil {
		h.MarkObject(v.AsObject())
	}
}

// MarkObject grays o if it is currently white, pushing it onto the
// worklist for traceReferences to blacken later. Marking an already-gray
// or already-black object is a no-op, which is what keeps the chain free
// of duplicate gray-stack entries and guarantees termination.
func (h *Heap) MarkObject(o Object) {
	if o == nil || o.MarkedForGC() {
		return
	}
	o.SetMarkedForGC(true)
	h.gray = append(h.gray, o)
}

func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		n := len(h.gray) - 1
		o := h.gray[n]
		h.gray = h.gray[:n]
		h.blacken(o)
	}
}

// blacken marks every object and value directly reachable from o. This is
// the only place in the package that needs to know about every object
// variant's shape.
func (h *Heap) blacken(o Object) {
	switch obj := o.(type) {
	case *value.ObjString, *value.ObjNative:
		// leaves: no outgoing references
	case *value.ObjFunction:
		if obj.Name != nil {
			h.MarkObject(obj.Name)
		}
		if c, ok := obj.Chunk.(*chunk.Chunk); ok && c != nil {
			for _, k := range c.Constants {
				h.MarkValue(k)
			}
		}
	case *value.ObjClosure:
		h.MarkObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				h.MarkObject(uv)
			}
		}
	case *value.ObjUpvalue:
		h.MarkValue(obj.Closed)
	case *value.ObjClass:
		h.MarkObject(obj.Name)
		for name, m := range obj.Methods {
			h.MarkObject(name)
			h.MarkObject(m)
		}
	case *value.ObjInstance:
		h.MarkObject(obj.Class)
		for name, v := range obj.Fields {
			h.MarkObject(name)
			h.MarkValue(v)
		}
	case *value.ObjBoundMethod:
		h.MarkValue(obj.Receiver)
		h.MarkObject(obj.Method)
	}
}

// sweep frees every unmarked object in the chain and clears the mark bit
// on survivors, returning the number of objects it freed.
func (h *Heap) sweep() int {
	var prev Object
	cur := h.head
	freed := 0

	for cur != nil {
		if cur.MarkedForGC() {
			cur.SetMarkedForGC(false)
			prev = cur
			cur = cur.NextInChain()
		} else {
			unreached := cur
			cur = cur.NextInChain()
			if prev != nil {
				prev.SetNextInChain(cur)
			} else {
				h.head = cur
			}
			h.bytesAllocated -= int64(objectSize(unreached))
			freed++
		}
	}
	return freed
}
