package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	doc := Document{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": 42.0,
			},
			"n": nil,
		},
		"s": "hello",
	}

	assert.Equal(t, 42.0, ResolvePath(doc, "a.b.c"))
	assert.Equal(t, "hello", ResolvePath(doc, "s"))
	assert.Nil(t, ResolvePath(doc, "a.n"))

	// Missing is distinct from null.
	assert.True(t, IsMissing(ResolvePath(doc, "a.b.missing")))
	assert.True(t, IsMissing(ResolvePath(doc, "nope")))
	assert.False(t, IsMissing(ResolvePath(doc, "a.n")))

	// Stepping through a scalar or a null resolves to missing.
	assert.True(t, IsMissing(ResolvePath(doc, "s.x")))
	assert.True(t, IsMissing(ResolvePath(doc, "a.n.x")))
}

func TestSetAndUnsetPath(t *testing.T) {
	doc := Document{}

	SetPath(doc, "a.b.c", 1.0)
	assert.Equal(t, 1.0, ResolvePath(doc, "a.b.c"))

	SetPath(doc, "a.b.c", 2.0)
	assert.Equal(t, 2.0, ResolvePath(doc, "a.b.c"))

	UnsetPath(doc, "a.b.c")
	assert.True(t, IsMissing(ResolvePath(doc, "a.b.c")))

	// Unsetting through a scalar is a no-op.
	SetPath(doc, "x", "scalar")
	UnsetPath(doc, "x.y")
	assert.Equal(t, "scalar", doc["x"])
}

func TestDeepEqual(t *testing.T) {
	assert.True(t, DeepEqual(1.0, 1))
	assert.True(t, DeepEqual("a", "a"))
	assert.True(t, DeepEqual(nil, nil))
	assert.True(t, DeepEqual(
		[]interface{}{1.0, "x"},
		[]interface{}{1, "x"},
	))
	assert.True(t, DeepEqual(
		map[string]interface{}{"a": 1.0},
		map[string]interface{}{"a": 1},
	))

	assert.False(t, DeepEqual(1.0, "1"))
	assert.False(t, DeepEqual(nil, Missing))
	assert.False(t, DeepEqual(false, nil))
	assert.False(t, DeepEqual(
		map[string]interface{}{"a": 1.0},
		map[string]interface{}{"a": 1.0, "b": 2.0},
	))
}

func TestCanonicalKeyStableForEqualValues(t *testing.T) {
	assert.Equal(t, CanonicalKey(1), CanonicalKey(1.0))
	assert.Equal(t, `"cust001"`, CanonicalKey("cust001"))
	assert.Equal(t, "null", CanonicalKey(nil))
	assert.Equal(t, "true", CanonicalKey(true))

	// Objects key by canonical serialization regardless of map ordering.
	a := map[string]interface{}{"x": 1.0, "y": 2.0}
	b := map[string]interface{}{"y": 2, "x": 1}
	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}

func TestDecodeCanonicalKeyRoundTrip(t *testing.T) {
	for _, value := range []interface{}{nil, true, 3.5, "abc", []interface{}{1.0, 2.0}} {
		decoded, err := DecodeCanonicalKey(CanonicalKey(value))
		require.NoError(t, err)
		assert.True(t, DeepEqual(value, decoded))
	}
}

func TestCompareValuesTotalOrder(t *testing.T) {
	// Missing sorts before everything, then null, bool, number, string.
	ordered := []interface{}{Missing, nil, false, true, -1.0, 0.0, 10.0, "a", "b"}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Negative(t, CompareValues(ordered[i], ordered[i+1]),
			"expected %v < %v", ordered[i], ordered[i+1])
	}

	assert.Zero(t, CompareValues(1.0, 1))
	assert.Zero(t, CompareValues(Missing, Missing))
	assert.Zero(t, CompareValues(nil, nil))
}

func TestDeepCopyIsolation(t *testing.T) {
	doc := Document{
		"nested": map[string]interface{}{"k": 1.0},
		"list":   []interface{}{1.0, 2.0},
	}

	clone := CopyDocument(doc)
	SetPath(clone, "nested.k", 99.0)
	clone["list"].([]interface{})[0] = 99.0

	assert.Equal(t, 1.0, ResolvePath(doc, "nested.k"))
	assert.Equal(t, 1.0, doc["list"].([]interface{})[0])
}
