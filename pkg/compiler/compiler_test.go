package compiler_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/compiler"
	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/globals"
)

func compile(t *testing.T, source string) (*bytes.Buffer, *globals.Store, bool) {
	t.Helper()
	heap := gc.New()
	store := globals.New()
	var errOut bytes.Buffer
	fn := compiler.Compile([]byte(source), heap, store, &errOut)
	return &errOut, store, fn != nil
}

func TestValidProgramsCompileCleanly(t *testing.T) {
	cases := []string{
		`print 1 + 1;`,
		`var x = 1; x = 2;`,
		`const k = 1;`,
		`fun f(a, b) { return a + b; }`,
		`class C { init() {} method() {} }`,
		`class A {} class B < A { f() { super.f(); } }`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			errOut, _, ok := compile(t, src)
			assert.True(t, ok, "expected %q to compile, errors: %s", src, errOut.String())
		})
	}
}

func TestWritingToConstGlobalIsCompileError(t *testing.T) {
	errOut, _, ok := compile(t, `const k = 1; k = 2;`)
	assert.False(t, ok)
	assert.Contains(t, errOut.String(), "Writing to const variable.")
}

func TestReturnAtTopLevelIsCompileError(t *testing.T) {
	_, _, ok := compile(t, `return 1;`)
	assert.False(t, ok, "return outside any function must be a compile error")
}

func TestReturnInsideFunctionIsLegal(t *testing.T) {
	_, _, ok := compile(t, `fun f() { return 1; }`)
	assert.True(t, ok)
}

func TestInitializerReturningAValueIsCompileError(t *testing.T) {
	_, _, ok := compile(t, `class C { init() { return 1; } }`)
	assert.False(t, ok)
}

func TestBareReturnInsideInitializerIsLegal(t *testing.T) {
	_, _, ok := compile(t, `class C { init() { return; } }`)
	assert.True(t, ok)
}

func TestDeclaringGlobalsAssignsMonotonicSlots(t *testing.T) {
	_, store, ok := compile(t, `var a = 1; var b = 2; var c = 3;`)
	require.True(t, ok)
	assert.Equal(t, 3, store.Count)
}

func TestTooManyGlobalsIsCompileError(t *testing.T) {
	var src strings.Builder
	for i := 0; i <= globals.MaxGlobals; i++ {
		fmt.Fprintf(&src, "var g%d = %d;\n", i, i)
	}
	errOut, _, ok := compile(t, src.String())
	assert.False(t, ok)
	assert.Contains(t, errOut.String(), "Too many global variables.")
}

func TestSuperOutsideSubclassIsCompileError(t *testing.T) {
	_, _, ok := compile(t, `class A { f() { super.f(); } }`)
	assert.False(t, ok, "super is only legal in a class with a superclass")
}

func TestThisOutsideClassIsCompileError(t *testing.T) {
	_, _, ok := compile(t, `fun f() { print this; }`)
	assert.False(t, ok)
}
