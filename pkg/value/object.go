package value

import "fmt"

// ObjType discriminates the heap object variants.
type ObjType uint8

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeNative
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
)

func (t ObjType) String() string {
	switch t {
	case ObjTypeString:
		return "string"
	case ObjTypeFunction:
		return "function"
	case ObjTypeNative:
		return "native"
	case ObjTypeClosure:
		return "closure"
	case ObjTypeUpvalue:
		return "upvalue"
	case ObjTypeClass:
		return "class"
	case ObjTypeInstance:
		return "instance"
	case ObjTypeBoundMethod:
		return "bound method"
	default:
		return "unknown"
	}
}

// Object is the common interface every heap-allocated value satisfies.
// The header fields (mark bit, chain link) live on each concrete type
// via the embedded Header, so the collector walks and marks the heap
// with an interface plus a type switch rather than unsafe.Pointer
// header casts.
type Object interface {
	Type() ObjType
	String() string

	// Header accessors. Exported so pkg/gc, the only other package that
	// needs them, can walk and mark the heap chain; ordinary code should
	// never call these directly.
	MarkedForGC() bool
	SetMarkedForGC(bool)
	NextInChain() Object
	SetNextInChain(Object)
}

// Header is embedded by every concrete object type and supplies the
// common {is_marked, next} header.
type Header struct {
	isMarked bool
	nextObj  Object
}

func (h *Header) MarkedForGC() bool          { return h.isMarked }
func (h *Header) SetMarkedForGC(m bool)      { h.isMarked = m }
func (h *Header) NextInChain() Object        { return h.nextObj }
func (h *Header) SetNextInChain(o Object)    { h.nextObj = o }

// ObjString is an immutable, interned byte sequence.
type ObjString struct {
	Header
	Chars []byte
	Hash  uint32
}

func (s *ObjString) Type() ObjType { return ObjTypeString }
func (s *ObjString) String() string { return string(s.Chars) }

// FNV1a32 computes the 32-bit FNV-1a hash used for string keys.
func FNV1a32(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

// ObjFunction is a compiled function body: arity, upvalue count, an
// optional name (nil for the implicit top-level script) and its Chunk.
// Chunk is an interface{} here to avoid an import cycle with pkg/chunk;
// pkg/vm and pkg/compiler both know the concrete *chunk.Chunk type and
// type-assert it back out where needed.
type ObjFunction struct {
	Header
	Arity        int
	UpvalueCount int
	Name         *ObjString
	Chunk        interface{}
}

func (f *ObjFunction) Type() ObjType { return ObjTypeFunction }
func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.String())
}

// NativeFn is the host callable contract: given the argument count and a
// slice of arguments, return the result and report success. A false
// return triggers "Error in native call" at the call site.
type NativeFn func(argCount int, args []Value) (Value, bool)

// ObjNative wraps a host-provided function so it can live on the value
// stack and be called through OP_CALL like any other callable.
type ObjNative struct {
	Header
	Name  string
	Arity int
	Fn    NativeFn
}

func (n *ObjNative) Type() ObjType   { return ObjTypeNative }
func (n *ObjNative) String() string  { return fmt.Sprintf("<native fn %s>", n.Name) }

// ObjUpvalue is either open (Location points into the value stack, Closed
// is unused) or closed (Location aliases &Closed after close_upvalues has
// run). Open upvalues are linked together in VM.openUpvalues, ordered by
// descending stack address.
type ObjUpvalue struct {
	Header
	Location *Value
	Closed   Value
	NextOpen *ObjUpvalue
}

func (u *ObjUpvalue) Type() ObjType  { return ObjTypeUpvalue }
func (u *ObjUpvalue) String() string { return "<upvalue>" }

// Close copies *Location into Closed and retargets Location to alias it,
// so a closed upvalue's location always aliases its own Closed field.
func (u *ObjUpvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// ObjClosure pairs a Function with one captured Upvalue handle per
// upvalue-slot the function declares.
type ObjClosure struct {
	Header
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) Type() ObjType  { return ObjTypeClosure }
func (c *ObjClosure) String() string { return c.Function.String() }

// MethodTable is the String→*ObjClosure map classes use for their methods.
// It is a bare Go map rather than pkg/table.Table: method tables are never
// content-addressed by byte sequence (only by already-interned *ObjString
// identity), so the open-addressing/tombstone machinery of pkg/table
// (built for the intern table and globals-by-name) buys nothing here.
type MethodTable map[*ObjString]*ObjClosure

// ObjClass is a named, single-inheritance class with a method table.
type ObjClass struct {
	Header
	Name    *ObjString
	Methods MethodTable
}

func (c *ObjClass) Type() ObjType  { return ObjTypeClass }
func (c *ObjClass) String() string { return c.Name.String() }

// FieldTable is the String→Value map backing instance fields.
type FieldTable map[*ObjString]Value

// ObjInstance is an object of a given Class with its own field table.
type ObjInstance struct {
	Header
	Class  *ObjClass
	Fields FieldTable
}

func (i *ObjInstance) Type() ObjType  { return ObjTypeInstance }
func (i *ObjInstance) String() string { return fmt.Sprintf("%s instance", i.Class.Name.String()) }

// ObjBoundMethod pairs a receiver with the method Closure it was looked up
// from, materialized lazily on GET_PROPERTY method hits.
type ObjBoundMethod struct {
	Header
	Receiver Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) Type() ObjType  { return ObjTypeBoundMethod }
func (b *ObjBoundMethod) String() string { return b.Method.String() }
