// This file holds the VM's main dispatch loop: a fixed-capacity stack of
// CallFrames, each pointing into its own Closure's Chunk, with the
// packed byte instruction stream decoded inline
// (readByte/readUint16/readConstant) rather than working off pre-decoded
// instruction structs.
package vm

import (
	"fmt"
	"io"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/compiler"
	"github.com/kristofer/cloxgo/pkg/debug"
	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/value"
)

// FramesMax and StackMax are the fixed capacities of the VM's call-frame
// stack and value stack: 64 frames of 256 slots each, 16384 Values total.
const (
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// InterpretResult is the {OK, COMPILE_ERROR, RUNTIME_ERROR} tri-state the
// CLI maps to exit codes 0/65/70.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

type openUpvalue struct {
	slot int
	uv   *value.ObjUpvalue
}

// CallFrame is one entry of the call stack: the executing closure, an
// instruction pointer into its chunk, and the stack base its locals
// start at.
type CallFrame struct {
	Closure *value.ObjClosure
	IP      int
	Slots   int
}

// VM is the interpreter state: the value stack, the frame stack, the
// open-upvalue list, the shared globals store, the shared Heap (which
// owns the intern table), and I/O sinks.
type VM struct {
	heap    *gc.Heap
	Globals *globals.Store

	stack    [StackMax]value.Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	openUpvalues []openUpvalue

	initString *value.ObjString

	Out    io.Writer
	ErrOut io.Writer

	// Trace, when set, disassembles each instruction to ErrOut as it is
	// about to execute.
	Trace bool

	lastErr *RuntimeError
}

// New builds a VM sharing heap and globalStore with whatever Compiler
// will compile source for it, registers it as a GC root-provider, and
// installs the native function set.
func New(heap *gc.Heap, globalStore *globals.Store, out, errOut io.Writer) *VM {
	vm := &VM{heap: heap, Globals: globalStore, Out: out, ErrOut: errOut}
	vm.initString = heap.CopyString([]byte("init"))
	heap.Register(vm)
	vm.defineNatives()
	return vm
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// LastError returns the structured RuntimeError from the most recent
// failed Interpret/InterpretFunction call, or nil if the last run
// succeeded. The formatted message plus stack trace has already been
// written to ErrOut by then; this is for hosts that want the frames.
func (vm *VM) LastError() *RuntimeError { return vm.lastErr }

// Interpret compiles and runs source against this VM's shared heap and
// globals.
func (vm *VM) Interpret(source []byte) InterpretResult {
	fn := compiler.Compile(source, vm.heap, vm.Globals, vm.ErrOut)
	if fn == nil {
		return InterpretCompileError
	}
	return vm.InterpretFunction(fn)
}

// InterpretFunction runs an already-compiled top-level function directly,
// skipping the compile step — the path `cmd/clox run` takes for a
// pre-compiled .clo bytecode file.
func (vm *VM) InterpretFunction(fn *value.ObjFunction) InterpretResult {
	vm.push(value.Obj(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(value.Obj(closure))
	vm.call(closure, 0)

	vm.lastErr = nil
	if err := vm.run(); err != nil {
		fmt.Fprintln(vm.ErrOut, err.Error())
		vm.resetStack()
		vm.lastErr = err
		return InterpretRuntimeError
	}
	return InterpretOK
}

func (vm *VM) run() *RuntimeError {
	frame := &vm.frames[vm.frameCount-1]
	ck := func() *chunk.Chunk { return frame.Closure.Function.Chunk.(*chunk.Chunk) }

	readByte := func() byte {
		b := ck().Code[frame.IP]
		frame.IP++
		return b
	}
	readUint16 := func() uint16 {
		v := ck().ReadUint16(frame.IP)
		frame.IP += 2
		return v
	}
	readConstant := func() value.Value {
		return ck().Constants[readByte()]
	}
	readString := func() *value.ObjString {
		return readConstant().AsString()
	}

	for {
		if vm.Trace {
			debug.DisassembleInstruction(vm.ErrOut, ck(), frame.IP)
		}

		op := chunk.OpCode(readByte())
		switch op {
		case chunk.OpConstant:
			vm.push(readConstant())

		case chunk.OpNil:
			vm.push(value.Nil)
		case chunk.OpTrue:
			vm.push(value.Bool(true))
		case chunk.OpFalse:
			vm.push(value.Bool(false))
		case chunk.OpPop:
			vm.pop()

		case chunk.OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.Slots+slot])
		case chunk.OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.Slots+slot] = vm.peek(0)

		case chunk.OpGetGlobal:
			slot := int(readByte())
			v := vm.Globals.Get(slot)
			if v.IsUndefined() {
				return vm.runtimeError("Undefined variable '%s'.", vm.Globals.Identifiers[slot].String())
			}
			vm.push(v)
		case chunk.OpDefineGlobal:
			slot := int(readByte())
			vm.Globals.Define(slot, vm.peek(0))
			vm.pop()
		case chunk.OpSetGlobal:
			slot := int(readByte())
			if vm.Globals.Get(slot).IsUndefined() {
				return vm.runtimeError("Undefined variable '%s'.", vm.Globals.Identifiers[slot].String())
			}
			vm.Globals.Set(slot, vm.peek(0))

		case chunk.OpGetUpvalue:
			slot := int(readByte())
			vm.push(*frame.Closure.Upvalues[slot].Location)
		case chunk.OpSetUpvalue:
			slot := int(readByte())
			*frame.Closure.Upvalues[slot].Location = vm.peek(0)

		case chunk.OpGetProperty:
			if !vm.peek(0).IsObjType(value.ObjTypeInstance) {
				return vm.runtimeError("Only instances have properties.")
			}
			inst := vm.peek(0).AsObject().(*value.ObjInstance)
			name := readString()
			if v, ok := inst.Fields[name]; ok {
				vm.pop()
				vm.push(v)
				break
			}
			bound, ok := vm.bindMethod(inst.Class, name)
			if !ok {
				return vm.runtimeError("Undefined property '%s'.", name.String())
			}
			vm.pop()
			vm.push(value.Obj(bound))

		case chunk.OpSetProperty:
			if !vm.peek(1).IsObjType(value.ObjTypeInstance) {
				return vm.runtimeError("Only instances have fields.")
			}
			inst := vm.peek(1).AsObject().(*value.ObjInstance)
			name := readString()
			inst.Fields[name] = vm.peek(0)
			v := vm.pop()
			vm.pop()
			vm.push(v)

		case chunk.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObject().(*value.ObjClass)
			bound, ok := vm.bindMethod(superclass, name)
			if !ok {
				return vm.runtimeError("Undefined property '%s'.", name.String())
			}
			vm.pop()
			vm.push(value.Obj(bound))

		case chunk.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case chunk.OpGreater:
			if err := vm.binaryNumberOp(func(a, b float64) value.Value { return value.Bool(a > b) }); err != nil {
				return err
			}
		case chunk.OpLess:
			if err := vm.binaryNumberOp(func(a, b float64) value.Value { return value.Bool(a < b) }); err != nil {
				return err
			}

		case chunk.OpAdd:
			if vm.peek(0).IsString() && vm.peek(1).IsString() {
				vm.concatenate()
			} else if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(value.Number(a + b))
			} else {
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}
		case chunk.OpSubtract:
			if err := vm.binaryNumberOp(func(a, b float64) value.Value { return value.Number(a - b) }); err != nil {
				return err
			}
		case chunk.OpMultiply:
			if err := vm.binaryNumberOp(func(a, b float64) value.Value { return value.Number(a * b) }); err != nil {
				return err
			}
		case chunk.OpDivide:
			if err := vm.binaryNumberOp(func(a, b float64) value.Value { return value.Number(a / b) }); err != nil {
				return err
			}

		case chunk.OpNot:
			vm.push(value.Bool(vm.pop().Falsey()))
		case chunk.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case chunk.OpPrint:
			fmt.Fprintln(vm.Out, vm.pop().String())

		case chunk.OpJump:
			offset := readUint16()
			frame.IP += int(offset)
		case chunk.OpJumpIfFalse:
			offset := readUint16()
			if vm.peek(0).Falsey() {
				frame.IP += int(offset)
			}
		case chunk.OpLoop:
			offset := readUint16()
			frame.IP -= int(offset)

		case chunk.OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case chunk.OpInvoke:
			name := readString()
			argCount := int(readByte())
			if err := vm.invoke(name, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case chunk.OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObject().(*value.ObjClass)
			if err := vm.invokeFromClass(superclass, name, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case chunk.OpClosure:
			fn := readConstant().AsObject().(*value.ObjFunction)
			closure := vm.heap.NewClosure(fn)
			vm.push(value.Obj(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.Slots + index)
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[index]
				}
			}

		case chunk.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case chunk.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.Slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.Slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case chunk.OpClass:
			name := readString()
			vm.push(value.Obj(vm.heap.NewClass(name)))

		case chunk.OpInherit:
			superVal := vm.peek(1)
			if !superVal.IsObjType(value.ObjTypeClass) {
				return vm.runtimeError("Superclass must be a class.")
			}
			superclass := superVal.AsObject().(*value.ObjClass)
			subclass := vm.peek(0).AsObject().(*value.ObjClass)
			for name, m := range superclass.Methods {
				subclass.Methods[name] = m
			}
			vm.pop() // drop this instruction's subclass operand; the
			// compiler re-pushes a fresh reference to it right after for
			// the method-binding loop to use as its stack baseline

		case chunk.OpMethod:
			name := readString()
			vm.defineMethod(name)

		default:
			return vm.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func (vm *VM) binaryNumberOp(op func(a, b float64) value.Value) *RuntimeError {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(op(a, b))
	return nil
}

// concatenate follows a push-before-you-allocate discipline: both
// operands are only peeked, so they remain GC roots (they're still on
// the value stack) while TakeString potentially allocates and triggers a
// collection; only once the new string exists are they popped.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsString()
	a := vm.peek(1).AsString()
	buf := make([]byte, 0, len(a.Chars)+len(b.Chars))
	buf = append(buf, a.Chars...)
	buf = append(buf, b.Chars...)
	result := vm.heap.TakeString(buf)
	vm.pop()
	vm.pop()
	vm.push(value.Obj(result))
}

func (vm *VM) defineMethod(name *value.ObjString) {
	method := vm.peek(0).AsObject().(*value.ObjClosure)
	class := vm.peek(1).AsObject().(*value.ObjClass)
	class.Methods[name] = method
	vm.pop()
}

func (vm *VM) bindMethod(class *value.ObjClass, name *value.ObjString) (*value.ObjBoundMethod, bool) {
	method, ok := class.Methods[name]
	if !ok {
		return nil, false
	}
	return vm.heap.NewBoundMethod(vm.peek(0), method), true
}

// callValue dispatches CALL over every callable variant.
func (vm *VM) callValue(callee value.Value, argCount int) *RuntimeError {
	if callee.IsObject() {
		switch obj := callee.AsObject().(type) {
		case *value.ObjClosure:
			return vm.call(obj, argCount)
		case *value.ObjNative:
			return vm.callNative(obj, argCount)
		case *value.ObjClass:
			instance := vm.heap.NewInstance(obj)
			vm.stack[vm.stackTop-argCount-1] = value.Obj(instance)
			if init, ok := obj.Methods[vm.initString]; ok {
				return vm.call(init, argCount)
			}
			if argCount != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argCount)
			}
			return nil
		case *value.ObjBoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) callNative(native *value.ObjNative, argCount int) *RuntimeError {
	if argCount != native.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", native.Arity, argCount)
	}
	args := vm.stack[vm.stackTop-argCount : vm.stackTop]
	result, ok := native.Fn(argCount, args)
	if !ok {
		return vm.runtimeError("Error in native call.")
	}
	vm.stackTop -= argCount + 1
	vm.push(result)
	return nil
}

func (vm *VM) call(closure *value.ObjClosure, argCount int) *RuntimeError {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.Closure = closure
	frame.IP = 0
	frame.Slots = vm.stackTop - argCount - 1
	return nil
}

// invoke fuses property lookup and call into the OP_INVOKE hot path.
// Fields are checked before methods, so a field that shadows a method
// wins.
func (vm *VM) invoke(name *value.ObjString, argCount int) *RuntimeError {
	receiver := vm.peek(argCount)
	if !receiver.IsObjType(value.ObjTypeInstance) {
		return vm.runtimeError("Only instances have methods.")
	}
	instance := receiver.AsObject().(*value.ObjInstance)

	if field, ok := instance.Fields[name]; ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *value.ObjClass, name *value.ObjString, argCount int) *RuntimeError {
	method, ok := class.Methods[name]
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.String())
	}
	return vm.call(method, argCount)
}

// captureUpvalue returns the open upvalue already covering slot, or
// allocates one and splices it into the list, which is kept ordered by
// descending slot so closeUpvalues can stop at the first entry below its
// threshold. At most one upvalue exists per stack slot.
func (vm *VM) captureUpvalue(slot int) *value.ObjUpvalue {
	insertAt := len(vm.openUpvalues)
	for i, entry := range vm.openUpvalues {
		if entry.slot == slot {
			return entry.uv
		}
		if entry.slot < slot {
			insertAt = i
			break
		}
	}
	uv := vm.heap.NewUpvalue(&vm.stack[slot])

	vm.openUpvalues = append(vm.openUpvalues, openUpvalue{})
	copy(vm.openUpvalues[insertAt+1:], vm.openUpvalues[insertAt:])
	vm.openUpvalues[insertAt] = openUpvalue{slot: slot, uv: uv}
	return uv
}

// closeUpvalues closes every open upvalue at or above stack index from,
// so that afterward no open upvalue has a location at or above from.
func (vm *VM) closeUpvalues(from int) {
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].slot >= from {
		vm.openUpvalues[i].uv.Close()
		i++
	}
	vm.openUpvalues = vm.openUpvalues[i:]
}

func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	trace := make([]StackFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.Closure.Function
		c := fn.Chunk.(*chunk.Chunk)
		line := 0
		if f.IP-1 >= 0 && f.IP-1 < len(c.Lines) {
			line = int(c.Lines[f.IP-1])
		}
		name := "script"
		if fn.Name != nil {
			name = fn.Name.String() + "()"
		}
		trace = append(trace, StackFrame{Line: line, Function: name})
	}
	return newRuntimeError(msg, trace)
}

// MarkRoots implements gc.RootProvider: the value stack, every frame's
// closure, every open upvalue, the globals store and the cached init
// string.
func (vm *VM) MarkRoots(h *gc.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].Closure)
	}
	for _, entry := range vm.openUpvalues {
		h.MarkObject(entry.uv)
	}
	vm.Globals.Each(func(name *value.ObjString, v value.Value) {
		h.MarkObject(name)
		h.MarkValue(v)
	})
	if vm.initString != nil {
		h.MarkObject(vm.initString)
	}
}

// HandleWeak: the VM keeps no weak tables of its own (the intern table
// lives on the Heap, which prunes it directly).
func (vm *VM) HandleWeak(h *gc.Heap) {}
