package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/vm"
)

// run compiles and interprets source against a fresh VM, returning stdout,
// stderr and the InterpretResult — the harness every end-to-end test in
// this file is built on.
func run(t *testing.T, source string) (string, string, vm.InterpretResult) {
	t.Helper()
	var out, errOut bytes.Buffer
	heap := gc.New()
	machine := vm.New(heap, globals.New(), &out, &errOut)
	result := machine.Interpret([]byte(source))
	return out.String(), errOut.String(), result
}

func TestPrintArithmetic(t *testing.T) {
	out, _, result := run(t, "print 1 + 2 * 3;")
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "7\n", out)
}

func TestClosureCapturesByReference(t *testing.T) {
	out, _, result := run(t, `
		fun makeCounter() { var n = 0; fun inc() { n = n + 1; return n; } return inc; }
		var c = makeCounter(); print c(); print c(); print c();
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "1\n2\n3\n", out)
}

func TestClosedOverLoopVariableIsFreshPerIteration(t *testing.T) {
	out, _, result := run(t, `
		var fns = nil;
		for (var i = 0; i < 3; i = i + 1) { fun f() { print i; } if (fns == nil) fns = f; }
		fns();
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "0\n", out)
}

func TestClosuresShareCapturedVariableAfterClose(t *testing.T) {
	out, _, result := run(t, `
		var setB = nil;
		var sum = nil;
		fun makePair() {
			var a = 1;
			var b = 10;
			fun s(v) { b = v; }
			fun q() { return a + b; }
			setB = s;
			sum = q;
		}
		makePair();
		setB(100);
		print sum();
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "101\n", out)
}

func TestInheritanceAndSuper(t *testing.T) {
	out, _, result := run(t, `
		class A { greet() { print "A"; } }
		class B < A { greet() { super.greet(); print "B"; } }
		B().greet();
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "A\nB\n", out)
}

func TestInitializerReturnsThis(t *testing.T) {
	out, _, result := run(t, `
		class P { init(x) { this.x = x; } }
		print P(42).x;
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "42\n", out)
}

func TestStringInterningAndConcatenation(t *testing.T) {
	out, _, result := run(t, `print "ab" + "c" == "a" + "bc";`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "true\n", out)
}

func TestRuntimeTypeError(t *testing.T) {
	_, errOut, result := run(t, `print 1 + "x";`)
	assert.Equal(t, vm.InterpretRuntimeError, result)
	assert.Contains(t, errOut, "Operands must be two numbers or two strings.")
}

func TestRuntimeErrorCarriesStackTrace(t *testing.T) {
	var out, errOut bytes.Buffer
	heap := gc.New()
	machine := vm.New(heap, globals.New(), &out, &errOut)

	result := machine.Interpret([]byte(`
		fun inner() { return 1 < nil; }
		fun outer() { return inner(); }
		outer();
	`))
	require.Equal(t, vm.InterpretRuntimeError, result)

	err := machine.LastError()
	require.NotNil(t, err)
	assert.Equal(t, "Operands must be numbers.", err.Message)
	require.GreaterOrEqual(t, len(err.Trace), 3)
	assert.Equal(t, "inner()", err.Trace[0].Function)
	assert.Equal(t, "outer()", err.Trace[1].Function)
	assert.Equal(t, "script", err.Trace[len(err.Trace)-1].Function)
}

func TestConstWriteIsCompileError(t *testing.T) {
	_, errOut, result := run(t, `const k = 1; k = 2;`)
	assert.Equal(t, vm.InterpretCompileError, result)
	assert.Contains(t, errOut, "Writing to const variable.")
}

func TestInvokeFieldShadowsMethod(t *testing.T) {
	out, _, result := run(t, `
		class C {
			hello() { print "method"; }
		}
		fun greeter() { print "field"; }
		var c = C();
		c.hello = greeter;
		c.hello();
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "field\n", out)
}

func TestStackOverflowOnDeepRecursion(t *testing.T) {
	_, errOut, result := run(t, `
		fun recurse() { return recurse(); }
		recurse();
	`)
	assert.Equal(t, vm.InterpretRuntimeError, result)
	assert.Contains(t, errOut, "Stack overflow.")
}

func TestUndefinedVariableIsRuntimeError(t *testing.T) {
	_, errOut, result := run(t, `print undeclared;`)
	assert.Equal(t, vm.InterpretRuntimeError, result)
	assert.Contains(t, errOut, "Undefined variable")
}

func TestAndOrShortCircuit(t *testing.T) {
	out, _, result := run(t, `
		fun sideEffect() { print "called"; return true; }
		print false and sideEffect();
		print true or sideEffect();
	`)
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "false\ntrue\n", out)
	assert.False(t, strings.Contains(out, "called"))
}

func TestManyShortLivedStringsAreCollectedWithoutExhaustingMemory(t *testing.T) {
	var out, errOut bytes.Buffer
	heap := gc.New()
	heap.StressMode = true
	machine := vm.New(heap, globals.New(), &out, &errOut)

	result := machine.Interpret([]byte(`
		var total = 0;
		for (var i = 0; i < 2000; i = i + 1) {
			var s = "prefix" + str(i);
			total = total + len(s);
		}
		print total > 0;
	`))
	require.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "true\n", out.String())
}

func TestGlobalsPersistAcrossRepeatedInterpretCalls(t *testing.T) {
	var out, errOut bytes.Buffer
	heap := gc.New()
	store := globals.New()
	machine := vm.New(heap, store, &out, &errOut)

	require.Equal(t, vm.InterpretOK, machine.Interpret([]byte("var x = 1;")))
	require.Equal(t, vm.InterpretOK, machine.Interpret([]byte("print x;")))
	assert.Equal(t, "1\n", out.String())
}
