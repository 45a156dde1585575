package format_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/compiler"
	"github.com/kristofer/cloxgo/pkg/debug"
	"github.com/kristofer/cloxgo/pkg/format"
	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/vm"
)

func TestEncodeDecodeRoundTripsRunnableBytecode(t *testing.T) {
	heap := gc.New()
	var compileErrs bytes.Buffer
	fn := compiler.Compile([]byte(`
		fun add(a, b) { return a + b; }
		print add(2, 3);
	`), heap, globals.New(), &compileErrs)
	require.NotNil(t, fn, "compile error: %s", compileErrs.String())

	var buf bytes.Buffer
	require.NoError(t, format.Encode(fn, &buf))

	decodeHeap := gc.New()
	decoded, err := format.Decode(&buf, decodeHeap)
	require.NoError(t, err)
	assert.Equal(t, fn.Arity, decoded.Arity)

	var out, errOut bytes.Buffer
	machine := vm.New(decodeHeap, globals.New(), &out, &errOut)
	result := machine.InterpretFunction(decoded)

	assert.Equal(t, vm.InterpretOK, result)
	assert.Equal(t, "5\n", out.String())
}

func TestDecodeRejectsBadMagicNumber(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 1})

	_, err := format.Decode(&buf, gc.New())
	assert.Error(t, err)
}

func TestDecodedChunkDisassemblesCleanly(t *testing.T) {
	heap := gc.New()
	var compileErrs bytes.Buffer
	fn := compiler.Compile([]byte(`
		class Greeter {
			init(name) { this.name = name; }
			greet() { print this.name; }
		}
		var g = Greeter("world");
		g.greet();
	`), heap, globals.New(), &compileErrs)
	require.NotNil(t, fn, "compile error: %s", compileErrs.String())

	var buf bytes.Buffer
	require.NoError(t, format.Encode(fn, &buf))

	decoded, err := format.Decode(&buf, gc.New())
	require.NoError(t, err)

	var out bytes.Buffer
	assert.NotPanics(t, func() {
		debug.DisassembleChunk(&out, decoded.Chunk.(*chunk.Chunk), "<script>")
	})
	assert.Contains(t, out.String(), "== <script> ==")
	assert.Contains(t, out.String(), "OP_CLASS")
}
