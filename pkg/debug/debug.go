// Package debug implements a diagnostic-only disassembler: a
// human-readable dump of a Chunk's instruction stream, used by `cmd/clox
// disassemble` and by the VM's optional --trace mode.
//
// It walks the instruction stream and prints one line per instruction
// with the opcode name and decoded operand, decoding the packed byte
// stream inline the same way the VM's own dispatch loop does.
package debug

import (
	"fmt"
	"io"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/value"
)

// DisassembleChunk prints every instruction in c to w, preceded by a name
// header.
func DisassembleChunk(w io.Writer, c *chunk.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
}

// DisassembleInstruction prints the instruction at offset and returns the
// offset of the next one.
func DisassembleInstruction(w io.Writer, c *chunk.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	op := chunk.OpCode(c.Code[offset])
	switch op {
	case chunk.OpConstant, chunk.OpGetSuper:
		return constantInstruction(w, op, c, offset)
	case chunk.OpNil, chunk.OpTrue, chunk.OpFalse, chunk.OpPop, chunk.OpEqual,
		chunk.OpLess, chunk.OpGreater, chunk.OpAdd, chunk.OpSubtract,
		chunk.OpMultiply, chunk.OpDivide, chunk.OpNot, chunk.OpNegate,
		chunk.OpPrint, chunk.OpCloseUpvalue, chunk.OpReturn, chunk.OpInherit:
		return simpleInstruction(w, op, offset)
	case chunk.OpGetLocal, chunk.OpSetLocal, chunk.OpGetUpvalue, chunk.OpSetUpvalue,
		chunk.OpCall, chunk.OpGetGlobal, chunk.OpDefineGlobal, chunk.OpSetGlobal:
		return byteInstruction(w, op, c, offset)
	case chunk.OpGetProperty, chunk.OpSetProperty, chunk.OpClass, chunk.OpMethod:
		return constantInstruction(w, op, c, offset)
	case chunk.OpJump, chunk.OpJumpIfFalse:
		return jumpInstruction(w, op, 1, c, offset)
	case chunk.OpLoop:
		return jumpInstruction(w, op, -1, c, offset)
	case chunk.OpInvoke, chunk.OpSuperInvoke:
		return invokeInstruction(w, op, c, offset)
	case chunk.OpClosure:
		return closureInstruction(w, c, offset)
	default:
		fmt.Fprintf(w, "Unknown opcode %d\n", op)
		return offset + 1
	}
}

func simpleInstruction(w io.Writer, op chunk.OpCode, offset int) int {
	fmt.Fprintf(w, "%s\n", op)
	return offset + 1
}

func byteInstruction(w io.Writer, op chunk.OpCode, c *chunk.Chunk, offset int) int {
	slot := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, op chunk.OpCode, sign int, c *chunk.Chunk, offset int) int {
	jump := int(c.ReadUint16(offset + 1))
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func constantInstruction(w io.Writer, op chunk.OpCode, c *chunk.Chunk, offset int) int {
	idx := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, c.Constants[idx].String())
	return offset + 2
}

func invokeInstruction(w io.Writer, op chunk.OpCode, c *chunk.Chunk, offset int) int {
	idx := c.Code[offset+1]
	argCount := c.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argCount, idx, c.Constants[idx].String())
	return offset + 3
}

func closureInstruction(w io.Writer, c *chunk.Chunk, offset int) int {
	offset++
	idx := c.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d '%s'\n", chunk.OpClosure, idx, c.Constants[idx].String())

	// Walk the upvalue descriptors the compiler emitted after OP_CLOSURE.
	if of, ok := c.Constants[idx].AsObject().(*value.ObjFunction); ok {
		for i := 0; i < of.UpvalueCount; i++ {
			isLocal := c.Code[offset]
			offset++
			index := c.Code[offset]
			offset++
			kind := "upvalue"
			if isLocal != 0 {
				kind = "local"
			}
			fmt.Fprintf(w, "%04d      |                     %s %d\n", offset-2, kind, index)
		}
	}
	return offset
}
