package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kristofer/cloxgo/pkg/value"
)

func TestFalseyness(t *testing.T) {
	cases := []struct {
		name   string
		v      value.Value
		falsey bool
	}{
		{"nil", value.Nil, true},
		{"false", value.Bool(false), true},
		{"true", value.Bool(true), false},
		{"zero", value.Number(0), false},
		{"empty string is truthy", value.Obj(&value.ObjString{Chars: []byte("")}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.falsey, tc.v.Falsey())
			assert.Equal(t, !tc.falsey, tc.v.Truthy())
		})
	}
}

func TestEqualAcrossKinds(t *testing.T) {
	assert.False(t, value.Equal(value.Number(1), value.Bool(true)), "different kinds never equal")
	assert.True(t, value.Equal(value.Number(1), value.Number(1)))
	assert.False(t, value.Equal(value.Number(1), value.Number(2)))
	assert.True(t, value.Equal(value.Nil, value.Nil))
}

func TestUndefinedNeverEqual(t *testing.T) {
	assert.False(t, value.Equal(value.Undefined, value.Undefined))
	assert.False(t, value.Equal(value.Undefined, value.Nil))
}

func TestObjectEqualityIsByIdentity(t *testing.T) {
	a := &value.ObjString{Chars: []byte("hi")}
	b := &value.ObjString{Chars: []byte("hi")}

	assert.True(t, value.Equal(value.Obj(a), value.Obj(a)))
	assert.False(t, value.Equal(value.Obj(a), value.Obj(b)), "distinct objects with identical bytes are not equal without interning")
}

func TestStringRendersIntegralFloatsWithoutDecimal(t *testing.T) {
	assert.Equal(t, "3", value.Number(3).String())
	assert.Equal(t, "3.5", value.Number(3.5).String())
	assert.Equal(t, "nil", value.Nil.String())
	assert.Equal(t, "true", value.Bool(true).String())
}

func TestIsStringAndAsString(t *testing.T) {
	s := &value.ObjString{Chars: []byte("abc")}
	v := value.Obj(s)
	assert.True(t, v.IsString())
	assert.Same(t, s, v.AsString())

	assert.False(t, value.Number(1).IsString())
}
