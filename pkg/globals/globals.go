// Package globals implements the by-index global-variable store: a
// name→slot table plus parallel value/identifier arrays, shared between
// the compiler (which assigns slots and tracks const/var state at
// compile time) and the VM (which reads and writes by slot at runtime).
// Sharing one *Store across repeated REPL compile/run cycles is what
// gives globals their persist-across-lines behavior.
//
// Global access compiles down to a 1-byte slot index rather than a name
// hash, so lookup at runtime is a plain array index.
package globals

import (
	"github.com/kristofer/cloxgo/pkg/table"
	"github.com/kristofer/cloxgo/pkg/value"
)

// MaxGlobals is the fixed capacity of the globals store.
const MaxGlobals = 256

// State is the compile-time write-legality of a global slot.
type State uint8

const (
	// Uninitialized means declared (slot reserved) but no initializer has
	// run yet; reading it at runtime yields value.Undefined.
	Uninitialized State = iota
	// Readable marks a const: writes to it are compile errors.
	Readable
	// Writeable marks a var: both reads and writes are legal.
	Writeable
)

// Store is the globals store, shared by compiler and VM.
type Store struct {
	names       *table.Table
	Values      [MaxGlobals]value.Value
	Identifiers [MaxGlobals]*value.ObjString
	states      [MaxGlobals]State
	Count       int
}

// New returns an empty globals store.
func New() *Store {
	return &Store{names: table.New()}
}

// Slot returns the slot already assigned to name, if any.
func (s *Store) Slot(name *value.ObjString) (int, bool) {
	v, ok := s.names.Get(name)
	if !ok {
		return 0, false
	}
	return int(v.AsNumber()), true
}

// Declare assigns name a slot if it doesn't have one yet (monotonically —
// slots are never reused or reassigned), leaving its state Uninitialized
// until MarkState fixes it — so an implicit forward
// reference (a bare identifier the compiler has never seen `var`/`const`
// for yet) gets a slot without prematurely deciding its writeability.
// Redeclaring an existing global (e.g. `var x; var x;` at the REPL
// prompt) returns its existing slot untouched.
func (s *Store) Declare(name *value.ObjString) int {
	if slot, ok := s.Slot(name); ok {
		return slot
	}
	slot := s.Count
	s.Count++
	s.names.Set(name, value.Number(float64(slot)))
	s.Identifiers[slot] = name
	s.Values[slot] = value.Undefined
	s.states[slot] = Uninitialized
	return slot
}

// MarkState transitions slot out of Uninitialized once its declaration's
// initializer has fully compiled, fixing whether later writes to it are
// legal.
func (s *Store) MarkState(slot int, writeable bool) {
	if writeable {
		s.states[slot] = Writeable
	} else {
		s.states[slot] = Readable
	}
}

// State reports the const/var state of an already-declared slot.
func (s *Store) State(slot int) State { return s.states[slot] }

// Define stores the initializer result for slot, marking it initialized.
func (s *Store) Define(slot int, v value.Value) { s.Values[slot] = v }

// Get reads a slot's current value.
func (s *Store) Get(slot int) value.Value { return s.Values[slot] }

// Set writes slot's value; callers are responsible for the const check
// (the compiler rejects const writes statically, so by the time the VM
// executes SET_GLOBAL the write is always legal).
func (s *Store) Set(slot int, v value.Value) { s.Values[slot] = v }

// Each calls fn with every declared slot's identifier string and value;
// the VM's MarkRoots uses it to mark them. The name table's keys are the
// same *ObjString pointers as Identifiers, so walking Identifiers covers
// both.
func (s *Store) Each(fn func(name *value.ObjString, v value.Value)) {
	for i := 0; i < s.Count; i++ {
		fn(s.Identifiers[i], s.Values[i])
	}
}
