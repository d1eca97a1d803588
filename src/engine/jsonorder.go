package engine

import (
	"bytes"
	"encoding/json"
)

// encoding/json decodes objects into Go maps, which forget the order keys
// appeared in. The planner picks "the first query field that has an index"
// and $sort ranks its keys by position, so both need the original order.
// ObjectKeys recovers it from the raw request body.

// ObjectKeys returns the top-level keys of a JSON object in the order they
// appear in raw. A JSON null yields no keys. Anything else is a bad request.
func ObjectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, WrapError(KindBadRequest, err, "invalid JSON object")
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, BadRequestf("expected a JSON object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, WrapError(KindBadRequest, err, "invalid JSON object")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, BadRequestf("expected an object key, got %v", tok)
		}
		keys = append(keys, key)

		// Skip the value belonging to this key.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, WrapError(KindBadRequest, err, "invalid JSON object")
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, WrapError(KindBadRequest, err, "invalid JSON object")
	}

	return keys, nil
}

// DecodeObject decodes a JSON object and reports its key order alongside the
// decoded map.
func DecodeObject(raw []byte) (map[string]interface{}, []string, error) {
	keys, err := ObjectKeys(raw)
	if err != nil {
		return nil, nil, err
	}
	if keys == nil && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, WrapError(KindBadRequest, err, "invalid JSON object")
	}
	return obj, keys, nil
}
