// Package value defines the runtime value representation shared by the
// compiler, the virtual machine and the garbage collector.
//
// A Value is a small tagged union over four cases: nil, bool, number (a
// IEEE-754 double) and object (a handle to a heap-allocated Object). A fifth,
// internal-only case, Undefined, marks a global slot that has been reserved
// but not yet initialized; it is never produced by user-visible expressions.
//
// Values are passed by copy. Heap objects are compared by identity (pointer
// equality on the Object interface value), never structurally, which is what
// makes string interning meaningful: two Values wrapping the same *ObjString
// are `==`, two distinct ObjStrings with identical bytes are not (unless the
// table layer has interned them into the same object).
package value

import "fmt"

// Kind discriminates the case a Value currently holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObject
	// KindUndefined marks a global slot whose name has been declared but
	// whose initializer has not run yet. It is a compiler/VM bookkeeping
	// device, not a value a program can observe and compare meaningfully.
	KindUndefined
)

// Value is the tagged union described in the package doc.
type Value struct {
	kind   Kind
	b      bool
	number float64
	obj    Object
}

// Nil is the singleton nil value.
var Nil = Value{kind: KindNil}

// Undefined is the singleton "slot reserved, not yet defined" sentinel.
var Undefined = Value{kind: KindUndefined}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// Obj wraps a heap object handle.
func Obj(o Object) Value { return Value{kind: KindObject, obj: o} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool       { return v.kind == KindNil }
func (v Value) IsBool() bool      { return v.kind == KindBool }
func (v Value) IsNumber() bool    { return v.kind == KindNumber }
func (v Value) IsObject() bool    { return v.kind == KindObject }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// AsBool returns the boolean payload. Callers must check IsBool first.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the float64 payload. Callers must check IsNumber first.
func (v Value) AsNumber() float64 { return v.number }

// AsObject returns the object handle. Callers must check IsObject first.
func (v Value) AsObject() Object { return v.obj }

// IsObjType reports whether v is an object of the given type.
func (v Value) IsObjType(t ObjType) bool {
	return v.kind == KindObject && v.obj != nil && v.obj.Type() == t
}

// IsString reports whether v holds an *ObjString.
func (v Value) IsString() bool { return v.IsObjType(ObjTypeString) }

// AsString returns the *ObjString payload. Callers must check IsString first.
func (v Value) AsString() *ObjString { return v.obj.(*ObjString) }

// Falsey implements the language's truthiness rule: nil and false are
// falsey, everything else (including 0 and "") is truthy.
func (v Value) Falsey() bool {
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return !v.b
	default:
		return false
	}
}

func (v Value) Truthy() bool { return !v.Falsey() }

// Equal implements same-tag structural equality; objects compare by
// identity; Undefined is never equal to anything, including itself.
func Equal(a, b Value) bool {
	if a.kind == KindUndefined || b.kind == KindUndefined {
		return false
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.number == b.number
	case KindObject:
		return a.obj == b.obj
	default:
		return false
	}
}

// String renders a Value the way the language's print statement does.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindUndefined:
		return "undefined"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.number)
	case KindObject:
		if v.obj == nil {
			return "nil"
		}
		return v.obj.String()
	default:
		return "<invalid value>"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
