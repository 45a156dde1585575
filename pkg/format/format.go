// Package format implements optional on-disk persistence for compiled
// functions: a `.clo` binary file pairing a magic number and version
// with a recursively-encoded ObjFunction, so `cmd/clox compile` can
// produce bytecode a later `cmd/clox run` invocation loads without
// re-parsing or re-compiling.
//
// The layout is a count-prefixed section per field, one type byte per
// constant, and recursion into a nested Chunk for function constants —
// since classes aren't compile-time constants in this language, only
// functions are, the constant pool only needs to encode numbers,
// strings, booleans, nil, and nested functions.
package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/value"
)

const (
	// MagicNumber identifies a .clo file: "CLOX" as big-endian bytes.
	MagicNumber uint32 = 0x434C4F58
	// FormatVersion is the current .clo layout version.
	FormatVersion uint32 = 1
)

const (
	constTypeNumber byte = iota + 1
	constTypeString
	constTypeFunction
	constTypeNil
	constTypeBool
)

// Encode writes fn (and, recursively, every function reachable through its
// constant pool) to w in the .clo binary format.
func Encode(fn *value.ObjFunction, w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, MagicNumber); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, FormatVersion); err != nil {
		return err
	}
	return writeFunction(w, fn)
}

// Decode reads a .clo file from r, interning any strings it contains into
// heap so the returned function's constant pool is immediately usable by a
// VM sharing that heap.
func Decode(r io.Reader, heap *gc.Heap) (*value.ObjFunction, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("format: bad magic number 0x%08X (expected 0x%08X)", magic, MagicNumber)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("format: unsupported version %d (expected %d)", version, FormatVersion)
	}

	d := &decoder{heap: heap}
	heap.Register(d)
	defer heap.Unregister(d)
	return d.readFunction(r)
}

// decoder reads the body of a .clo file. It registers as a root-provider
// for the duration of the load: constants are materialized bottom-up, so
// without it a collection triggered mid-decode could prune strings from
// the intern table before the function that owns them is reachable.
type decoder struct {
	heap *gc.Heap
	objs []value.Object
}

func (d *decoder) MarkRoots(h *gc.Heap) {
	for _, o := range d.objs {
		h.MarkObject(o)
	}
}

func (d *decoder) HandleWeak(h *gc.Heap) {}

func (d *decoder) keep(o value.Object) {
	d.objs = append(d.objs, o)
}

func writeFunction(w io.Writer, fn *value.ObjFunction) error {
	if err := binary.Write(w, binary.BigEndian, int32(fn.Arity)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, int32(fn.UpvalueCount)); err != nil {
		return err
	}
	if err := writeOptionalString(w, fn.Name); err != nil {
		return err
	}
	return writeChunk(w, fn.Chunk.(*chunk.Chunk))
}

func (d *decoder) readFunction(r io.Reader) (*value.ObjFunction, error) {
	var arity, upvalueCount int32
	if err := binary.Read(r, binary.BigEndian, &arity); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &upvalueCount); err != nil {
		return nil, err
	}
	name, err := d.readOptionalString(r)
	if err != nil {
		return nil, err
	}
	ck, err := d.readChunk(r)
	if err != nil {
		return nil, err
	}

	fn := d.heap.NewFunction()
	d.keep(fn)
	fn.Arity = int(arity)
	fn.UpvalueCount = int(upvalueCount)
	fn.Name = name
	fn.Chunk = ck
	return fn, nil
}

func writeChunk(w io.Writer, c *chunk.Chunk) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(c.Code))); err != nil {
		return err
	}
	if _, err := w.Write(c.Code); err != nil {
		return err
	}
	for _, line := range c.Lines {
		if err := binary.Write(w, binary.BigEndian, line); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(c.Constants))); err != nil {
		return err
	}
	for i, v := range c.Constants {
		if err := writeValue(w, v); err != nil {
			return fmt.Errorf("format: constant %d: %w", i, err)
		}
	}
	return nil
}

func (d *decoder) readChunk(r io.Reader) (*chunk.Chunk, error) {
	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, err
	}
	lines := make([]int32, codeLen)
	for i := range lines {
		if err := binary.Read(r, binary.BigEndian, &lines[i]); err != nil {
			return nil, err
		}
	}
	var constCount uint32
	if err := binary.Read(r, binary.BigEndian, &constCount); err != nil {
		return nil, err
	}
	constants := make([]value.Value, constCount)
	for i := range constants {
		v, err := d.readValue(r)
		if err != nil {
			return nil, fmt.Errorf("format: constant %d: %w", i, err)
		}
		constants[i] = v
	}
	return &chunk.Chunk{Code: code, Lines: lines, Constants: constants}, nil
}

func writeValue(w io.Writer, v value.Value) error {
	switch {
	case v.IsNumber():
		if err := writeByte(w, constTypeNumber); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.AsNumber())
	case v.IsString():
		if err := writeByte(w, constTypeString); err != nil {
			return err
		}
		return writeBytes(w, v.AsString().Chars)
	case v.IsObjType(value.ObjTypeFunction):
		if err := writeByte(w, constTypeFunction); err != nil {
			return err
		}
		return writeFunction(w, v.AsObject().(*value.ObjFunction))
	case v.IsBool():
		if err := writeByte(w, constTypeBool); err != nil {
			return err
		}
		var b byte
		if v.AsBool() {
			b = 1
		}
		return writeByte(w, b)
	case v.IsNil():
		return writeByte(w, constTypeNil)
	default:
		return fmt.Errorf("format: unsupported constant kind %v", v.Kind())
	}
}

func (d *decoder) readValue(r io.Reader) (value.Value, error) {
	var tag byte
	if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
		return value.Nil, err
	}
	switch tag {
	case constTypeNumber:
		var n float64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return value.Nil, err
		}
		return value.Number(n), nil
	case constTypeString:
		b, err := readBytes(r)
		if err != nil {
			return value.Nil, err
		}
		s := d.heap.CopyString(b)
		d.keep(s)
		return value.Obj(s), nil
	case constTypeFunction:
		fn, err := d.readFunction(r)
		if err != nil {
			return value.Nil, err
		}
		return value.Obj(fn), nil
	case constTypeBool:
		var b byte
		if err := binary.Read(r, binary.BigEndian, &b); err != nil {
			return value.Nil, err
		}
		return value.Bool(b != 0), nil
	case constTypeNil:
		return value.Nil, nil
	default:
		return value.Nil, fmt.Errorf("format: unknown constant tag 0x%02X", tag)
	}
}

func writeOptionalString(w io.Writer, s *value.ObjString) error {
	if s == nil {
		return binary.Write(w, binary.BigEndian, uint32(0xFFFFFFFF))
	}
	return writeBytes(w, s.Chars)
}

func (d *decoder) readOptionalString(r io.Reader) (*value.ObjString, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0xFFFFFFFF {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	s := d.heap.CopyString(buf)
	d.keep(s)
	return s, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}
