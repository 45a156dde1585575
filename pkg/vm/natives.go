package vm

import (
	"time"

	"github.com/kristofer/cloxgo/pkg/value"
)

// defineNative installs a host callable as a global, bypassing the
// compiler's declaration path so natives are available before any user
// source runs. The name is declared before the ObjNative is allocated:
// declaring roots it through the globals store, so a collection triggered
// by the allocation can't prune the name from the intern table.
func (vm *VM) defineNative(name string, arity int, fn value.NativeFn) {
	nameStr := vm.heap.CopyString([]byte(name))
	slot := vm.Globals.Declare(nameStr)
	vm.Globals.MarkState(slot, true)
	native := vm.heap.NewNative(name, arity, fn)
	vm.Globals.Define(slot, value.Obj(native))
}

// defineNatives installs the VM's built-in native functions: clock and a
// small pair of string helpers.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", 0, func(argCount int, args []value.Value) (value.Value, bool) {
		return value.Number(float64(time.Now().UnixNano()) / 1e9), true
	})

	vm.defineNative("str", 1, func(argCount int, args []value.Value) (value.Value, bool) {
		return value.Obj(vm.heap.CopyString([]byte(args[0].String()))), true
	})

	vm.defineNative("len", 1, func(argCount int, args []value.Value) (value.Value, bool) {
		if !args[0].IsString() {
			return value.Nil, false
		}
		return value.Number(float64(len(args[0].AsString().Chars))), true
	})
}
