package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceIntegerBulk(t *testing.T) {
	got := Coerce(Reply{Kind: KindBulk, Bulk: []byte("42")}, "utf-8")
	assert.EqualValues(t, 42, got)
}

func TestCoerceFloatBulk(t *testing.T) {
	got := Coerce(Reply{Kind: KindBulk, Bulk: []byte("3.5")}, "utf-8")
	assert.InDelta(t, 3.5, got, 0.0001)
}

func TestCoerceLeavesSpecialFloatsAsStrings(t *testing.T) {
	for _, s := range []string{"+inf", "-inf", "NaN"} {
		got := Coerce(Reply{Kind: KindBulk, Bulk: []byte(s)}, "utf-8")
		assert.Equal(t, s, got, "special float token %q must not be coerced numerically", s)
	}
}

func TestCoerceFallsBackOnParseFailure(t *testing.T) {
	got := Coerce(Reply{Kind: KindBulk, Bulk: []byte("-not-a-number")}, "utf-8")
	assert.Equal(t, "-not-a-number", got)
}

func TestCoerceRawBytesWithoutCharset(t *testing.T) {
	got := Coerce(Reply{Kind: KindBulk, Bulk: []byte("hello")}, "")
	assert.Equal(t, []byte("hello"), got)
}

func TestCoerceArrayRecursesElementWise(t *testing.T) {
	in := Reply{Kind: KindArray, Array: []Reply{
		{Kind: KindBulk, Bulk: []byte("7")},
		{Kind: KindArray, Array: []Reply{{Kind: KindBulk, Bulk: []byte("hi")}}},
	}}
	got := Coerce(in, "utf-8").([]any)
	assert.EqualValues(t, 7, got[0])
	nested := got[1].([]any)
	assert.Equal(t, "hi", nested[0])
}

func TestCoerceNullBulkIsNil(t *testing.T) {
	got := Coerce(Reply{Kind: KindBulk, IsNull: true}, "utf-8")
	assert.Nil(t, got)
}
