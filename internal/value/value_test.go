package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareCanonicalOrdering(t *testing.T) {
	ordered := []Value{
		Null(),
		Bool(false),
		Bool(true),
		Int(1),
		Float(2.5),
		String("a"),
		Array([]Value{Int(1)}),
		Doc(Document{"a": Int(1)}),
	}

	for i := 0; i < len(ordered)-1; i++ {
		assert.Negativef(t, Compare(ordered[i], ordered[i+1]), "expected %v < %v", ordered[i], ordered[i+1])
	}
}

func TestCompareNumericPromotion(t *testing.T) {
	assert.Equal(t, 0, Compare(Int(5), Float(5.0)))
	assert.True(t, Equal(Int(5), Float(5.0)))
	assert.True(t, DeepEqual(Int(5), Float(5.0)))
}

func TestCompareNaNIsConsistentExtremum(t *testing.T) {
	nan := Float(math.NaN())

	assert.Negative(t, Compare(nan, Int(-1000)))
	assert.Positive(t, Compare(Int(-1000), nan))
	assert.Equal(t, 0, Compare(nan, Float(math.NaN())))
}

func TestDeepEqualDocumentIgnoresFieldOrder(t *testing.T) {
	a := Doc(Document{"x": Int(1), "y": String("hi")})
	b := Doc(Document{"y": String("hi"), "x": Int(1)})
	assert.True(t, DeepEqual(a, b))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(-42),
		Float(3.14159),
		String("hello, world"),
		Array([]Value{Int(1), String("two"), Bool(true)}),
		Doc(Document{"a": Int(1), "b": Array([]Value{Null(), Float(2.5)})}),
	}

	for _, v := range cases {
		buf := Encode(nil, v)
		got, n, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.True(t, DeepEqual(v, got), "round trip mismatch for %v", v)
	}
}

func TestDecodeTruncatedBufferErrors(t *testing.T) {
	buf := Encode(nil, String("abcdef"))
	_, _, err := Decode(buf[:len(buf)-2])
	require.Error(t, err)
}

func TestFromAnyToAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "ada",
		"age":   int64(30),
		"admin": true,
		"tags":  []any{"x", "y"},
	}
	v, err := FromAny(in)
	require.NoError(t, err)
	require.Equal(t, KindDoc, v.Kind())

	out := ToAny(v).(map[string]any)
	assert.Equal(t, "ada", out["name"])
	assert.Equal(t, int64(30), out["age"])
	assert.Equal(t, true, out["admin"])
}

func TestClonePreventsAliasing(t *testing.T) {
	orig := Document{"tags": Array([]Value{String("a")})}
	clone := orig.Clone()
	clone["tags"] = Array([]Value{String("b")})
	assert.True(t, DeepEqual(orig["tags"], Array([]Value{String("a")})))
}
