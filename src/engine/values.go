package engine

import (
	"encoding/json"
	"sort"
	"strings"
)

// Documents are JSON objects as decoded by encoding/json: nil, bool, float64,
// string, []interface{} and map[string]interface{}. Resolving a field path
// that does not exist yields Missing, which is distinct from a stored null.

type missingValue struct{}

// Missing is the value of a field path that does not resolve.
var Missing = missingValue{}

// IsMissing reports whether v is the missing value.
func IsMissing(v interface{}) bool {
	_, ok := v.(missingValue)
	return ok
}

// ResolvePath resolves a dot-separated field path against a document.
// If any intermediate value is missing, null, or not an object, the whole
// path resolves to Missing.
func ResolvePath(doc map[string]interface{}, path string) interface{} {
	if path == "" {
		return Missing
	}

	var current interface{} = doc
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return Missing
		}
		current, ok = obj[segment]
		if !ok {
			return Missing
		}
	}

	return current
}

// SetPath assigns value at a dot-separated path, creating intermediate
// objects as needed. Intermediate values that are not objects are replaced.
func SetPath(doc map[string]interface{}, path string, value interface{}) {
	segments := strings.Split(path, ".")
	current := doc

	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}

	current[segments[len(segments)-1]] = value
}

// UnsetPath removes the field at a dot-separated path. A path through a
// non-object is a no-op.
func UnsetPath(doc map[string]interface{}, path string) {
	segments := strings.Split(path, ".")
	current := doc

	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			return
		}
		current = next
	}

	delete(current, segments[len(segments)-1])
}

// NumberOf converts any Go numeric value to float64. The second return is
// false when v is not a number.
func NumberOf(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Normalize maps every numeric representation to float64 and recurses into
// arrays and objects, so equality and canonical encodings do not depend on
// how a value was produced.
func Normalize(v interface{}) interface{} {
	if n, ok := NumberOf(v); ok {
		return n
	}

	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	default:
		return v
	}
}

// DeepEqual compares two JSON values structurally. Numbers compare by value
// regardless of their Go representation. Missing equals only Missing.
func DeepEqual(a, b interface{}) bool {
	if IsMissing(a) || IsMissing(b) {
		return IsMissing(a) && IsMissing(b)
	}

	if an, ok := NumberOf(a); ok {
		bn, ok := NumberOf(b)
		return ok && an == bn
	}

	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case []interface{}:
		bt, ok := b.([]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !DeepEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bt, ok := b.(map[string]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !DeepEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// kindRank orders value kinds for sorting: missing sorts before everything,
// then null, booleans, numbers, strings, arrays and objects.
func kindRank(v interface{}) int {
	if IsMissing(v) {
		return 0
	}
	if _, ok := NumberOf(v); ok {
		return 3
	}
	switch v.(type) {
	case nil:
		return 1
	case bool:
		return 2
	case string:
		return 4
	case []interface{}:
		return 5
	default:
		return 6
	}
}

// CompareValues imposes a total order over JSON values (plus Missing) for
// sorting. Values of different kinds order by kind rank; numbers compare
// numerically, strings lexicographically, false before true, and arrays and
// objects by their canonical encodings.
func CompareValues(a, b interface{}) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0, 1: // missing, null
		return 0
	case 2:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case 3:
		an, _ := NumberOf(a)
		bn, _ := NumberOf(b)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case 4:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(CanonicalKey(a), CanonicalKey(b))
	}
}

// CanonicalKey returns the canonical encoding of a value, used as the bucket
// key in indexes. The encoding is compact JSON with numbers normalized to
// float64 and object keys sorted, so equal values always produce equal keys.
// This is the "json/v1" key encoding recorded in index files.
func CanonicalKey(v interface{}) string {
	data, err := json.Marshal(canonicalForm(Normalize(v)))
	if err != nil {
		// Only non-JSON Go values can fail to marshal; fold them into the
		// null bucket so indexing never errors on exotic input.
		return "null"
	}
	return string(data)
}

// canonicalForm copies arrays and objects recursively. Objects stay Go maps,
// so the sorted key order of the output comes from encoding/json, which
// writes map keys in sorted order.
func canonicalForm(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalForm(e)
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(t))
		for _, k := range keys {
			out[k] = canonicalForm(t[k])
		}
		return out
	default:
		return v
	}
}

// DecodeCanonicalKey parses a canonical key back into a value so the planner
// can compare bucket keys with range operators.
func DecodeCanonicalKey(key string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(key), &v); err != nil {
		return nil, WrapError(KindInternal, err, "invalid canonical key %q", key)
	}
	return v, nil
}

// DeepCopy clones a JSON value. Mutating the copy never affects the source.
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = DeepCopy(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

// CopyDocument clones a document.
func CopyDocument(doc map[string]interface{}) map[string]interface{} {
	return DeepCopy(doc).(map[string]interface{})
}
