package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/value"
)

func TestWriteByteKeepsCodeAndLinesInLockstep(t *testing.T) {
	c := chunk.New()
	c.WriteOp(chunk.OpNil, 1)
	c.WriteOp(chunk.OpPop, 2)
	c.WriteByte(0xFF, 3)

	require.Len(t, c.Code, 3)
	require.Len(t, c.Lines, 3)
	assert.Equal(t, []int32{1, 2, 3}, c.Lines)
}

func TestWriteUint16BigEndianRoundTrip(t *testing.T) {
	c := chunk.New()
	c.WriteOp(chunk.OpJump, 1)
	c.WriteUint16(0x1234, 1)

	assert.Equal(t, uint16(0x1234), c.ReadUint16(1))
}

func TestAddConstantReturnsIndex(t *testing.T) {
	c := chunk.New()
	i0 := c.AddConstant(value.Number(1))
	i1 := c.AddConstant(value.Number(2))

	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, value.Number(2), c.Constants[i1])
}
