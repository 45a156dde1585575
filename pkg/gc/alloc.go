package gc

import "github.com/kristofer/cloxgo/pkg/value"

// objectSize estimates an object's footprint for the allocation-driven GC
// trigger. Exactness doesn't matter, only that bigger objects count for
// more, so the collector runs proportionally more often under heavier
// allocation pressure.
func objectSize(o Object) int {
	switch v := o.(type) {
	case *value.ObjString:
		return 32 + len(v.Chars)
	case *value.ObjFunction:
		return 64
	case *value.ObjNative:
		return 32
	case *value.ObjClosure:
		return 24 + 8*len(v.Upvalues)
	case *value.ObjUpvalue:
		return 24
	case *value.ObjClass:
		return 32 + 32*len(v.Methods)
	case *value.ObjInstance:
		return 32 + 32*len(v.Fields)
	case *value.ObjBoundMethod:
		return 32
	default:
		return 16
	}
}

// CopyString interns (or creates and interns) the ObjString for the given
// byte sequence, copying it into a fresh buffer the heap owns. This is the
// path used for string literals read out of source text, where the
// compiler does not own the underlying bytes.
func (h *Heap) CopyString(chars []byte) *value.ObjString {
	hash := value.FNV1a32(chars)
	if s := h.interned.FindString(chars, hash); s != nil {
		return s
	}
	owned := make([]byte, len(chars))
	copy(owned, chars)
	return h.internNew(owned, hash)
}

// TakeString interns a byte buffer the caller already allocated and is
// handing ownership of, e.g. the freshly built result of concatenation.
// If an equal string is already interned, the canonical object is
// returned and the provided buffer is simply dropped (Go's GC reclaims
// it; there is no manual free step).
func (h *Heap) TakeString(chars []byte) *value.ObjString {
	hash := value.FNV1a32(chars)
	if s := h.interned.FindString(chars, hash); s != nil {
		return s
	}
	return h.internNew(chars, hash)
}

func (h *Heap) internNew(chars []byte, hash uint32) *value.ObjString {
	s := &value.ObjString{Chars: chars, Hash: hash}
	h.track(s, objectSize(s))
	h.interned.Set(s, value.Nil)
	return s
}

// NewFunction allocates a fresh, nameless, zero-arity ObjFunction; callers
// (the compiler) fill in Arity/Name/Chunk once known.
func (h *Heap) NewFunction() *value.ObjFunction {
	f := &value.ObjFunction{}
	h.track(f, objectSize(f))
	return f
}

// NewNative wraps a host callable as a heap object.
func (h *Heap) NewNative(name string, arity int, fn value.NativeFn) *value.ObjNative {
	n := &value.ObjNative{Name: name, Arity: arity, Fn: fn}
	h.track(n, objectSize(n))
	return n
}

// NewClosure allocates a closure around fn with fn.UpvalueCount empty
// upvalue slots for OP_CLOSURE to fill in.
func (h *Heap) NewClosure(fn *value.ObjFunction) *value.ObjClosure {
	c := &value.ObjClosure{Function: fn, Upvalues: make([]*value.ObjUpvalue, fn.UpvalueCount)}
	h.track(c, objectSize(c))
	return c
}

// NewUpvalue allocates an open upvalue pointing at the given stack slot.
func (h *Heap) NewUpvalue(slot *value.Value) *value.ObjUpvalue {
	u := &value.ObjUpvalue{Location: slot}
	h.track(u, objectSize(u))
	return u
}

// NewClass allocates an empty class with the given interned name.
func (h *Heap) NewClass(name *value.ObjString) *value.ObjClass {
	c := &value.ObjClass{Name: name, Methods: make(value.MethodTable)}
	h.track(c, objectSize(c))
	return c
}

// NewInstance allocates an instance of cls with an empty field table.
func (h *Heap) NewInstance(cls *value.ObjClass) *value.ObjInstance {
	i := &value.ObjInstance{Class: cls, Fields: make(value.FieldTable)}
	h.track(i, objectSize(i))
	return i
}

// NewBoundMethod allocates a receiver/method pair.
func (h *Heap) NewBoundMethod(receiver value.Value, method *value.ObjClosure) *value.ObjBoundMethod {
	b := &value.ObjBoundMethod{Receiver: receiver, Method: method}
	h.track(b, objectSize(b))
	return b
}
