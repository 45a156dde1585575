// Package table implements the open-addressed String→Value hash table that
// underlies string interning and the globals-by-name lookup used while
// compiling.
//
// The design is linear probing, a 0.75 load factor, capacity doubling,
// and tombstone reuse on insertion. Keys are compared by *value.ObjString
// identity, which is safe only because every distinct byte sequence is
// interned to a single ObjString (see pkg/gc.Heap.CopyString/TakeString) before it
// is ever used as a table key.
package table

import "github.com/kristofer/cloxgo/pkg/value"

const maxLoad = 0.75

type entry struct {
	key   *value.ObjString
	value value.Value
	// tombstone is true for a deleted slot: key is nil, value is Bool(true)
	// so probe chains past it keep working.
	tombstone bool
}

// Table is the hash table described above. The zero value is not usable;
// construct with New.
type Table struct {
	count   int // live entries + tombstones
	entries []entry
}

// New returns an empty table with an initial capacity of 8.
func New() *Table {
	return &Table{entries: make([]entry, 8)}
}

// Count is the number of live (non-tombstone) entries.
func (t *Table) Count() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].key != nil {
			n++
		}
	}
	return n
}

// Get looks up key, returning its value and whether it was found.
func (t *Table) Get(key *value.ObjString) (value.Value, bool) {
	if len(t.entries) == 0 || t.count == 0 {
		return value.Nil, false
	}
	e := t.findEntry(t.entries, key)
	if e.key == nil {
		return value.Nil, false
	}
	return e.value, true
}

// Set inserts or updates key's value. Returns true if key was not already
// present (including when its slot is a reused tombstone), false if an
// existing entry for key was overwritten.
func (t *Table) Set(key *value.ObjString, val value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		t.grow(len(t.entries) * 2)
	}

	e := t.findEntry(t.entries, key)
	isNewKey := e.key == nil
	if isNewKey && !e.tombstone {
		t.count++
	}

	e.key = key
	e.value = val
	e.tombstone = false
	return isNewKey
}

// Delete removes key, leaving a tombstone so later probe chains still find
// entries that were inserted after a collision with this slot.
func (t *Table) Delete(key *value.ObjString) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := t.findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = value.Bool(true)
	e.tombstone = true
	return true
}

// findEntry locates the first slot matching the key, or failing that the
// first tombstone seen, or failing that the first empty slot.
func (t *Table) findEntry(entries []entry, key *value.ObjString) *entry {
	capMask := uint32(len(entries) - 1)
	index := key.Hash & capMask
	var tombstone *entry

	for {
		e := &entries[index]
		switch {
		case e.key == nil:
			if !e.tombstone {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		case e.key == key:
			return e
		}
		index = (index + 1) & capMask
	}
}

func (t *Table) grow(newCap int) {
	newEntries := make([]entry, newCap)
	liveCount := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		dest := t.findEntry(newEntries, e.key)
		dest.key = e.key
		dest.value = e.value
		liveCount++
	}
	t.entries = newEntries
	t.count = liveCount
}

// AddAll copies every live entry of src into t.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// FindString is the interning primitive: walk the probe chain comparing
// by length, hash and byte equality, returning the canonical ObjString
// already stored here, or nil if none matches.
func (t *Table) FindString(chars []byte, hash uint32) *value.ObjString {
	if len(t.entries) == 0 {
		return nil
	}
	capMask := uint32(len(t.entries) - 1)
	index := hash & capMask

	for {
		e := &t.entries[index]
		if e.key == nil {
			if !e.tombstone {
				return nil
			}
		} else if e.key.Hash == hash && len(e.key.Chars) == len(chars) && string(e.key.Chars) == string(chars) {
			return e.key
		}
		index = (index + 1) & capMask
	}
}

// RemoveUnmarked deletes every entry whose key is an unmarked ObjString.
// Called by the collector between the mark and sweep phases to drop weak
// references to strings about to be freed.
func (t *Table) RemoveUnmarked(isMarked func(*value.ObjString) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !isMarked(e.key) {
			e.key = nil
			e.value = value.Bool(true)
			e.tombstone = true
		}
	}
}

// Each calls fn for every live key/value pair. The collector does not use
// it: the globals name table's keys are marked through globals.Store.Each.
func (t *Table) Each(fn func(key *value.ObjString, val value.Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}
