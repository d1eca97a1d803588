package hashindex

import (
	"sort"

	"lumendb/src/engine"
)

// The query planner's index half: given one field's criterion and that
// field's index, compute the candidate identifier set. The full filter is
// always re-applied by the caller, because the index covers a single field
// and a subset of operators.

var plannerOperators = map[string]bool{
	"$eq":  true,
	"$ne":  true,
	"$gt":  true,
	"$gte": true,
	"$lt":  true,
	"$lte": true,
}

// CandidateIDs computes the identifiers selected by criterion using the
// index alone. The second return is false when the criterion contains no
// operator the index can serve; the caller must then fall back to a full
// scan.
func CandidateIDs(idx *HashIndex, criterion interface{}) ([]string, bool, error) {
	// A bare value selects the bucket of its canonical key.
	if !engine.IsOperatorObject(criterion) {
		ids := idx.Index[engine.CanonicalKey(criterion)]
		return append([]string(nil), ids...), true, nil
	}

	// Union-then-intersect: each operator selects the union of the buckets
	// whose key satisfies it; successive operators intersect.
	var result map[string]bool
	restricted := false

	for op, operand := range criterion.(map[string]interface{}) {
		if !plannerOperators[op] {
			continue
		}

		selected, err := selectBuckets(idx, op, operand)
		if err != nil {
			return nil, false, err
		}

		if !restricted {
			result = selected
			restricted = true
			continue
		}

		for id := range result {
			if !selected[id] {
				delete(result, id)
			}
		}
	}

	if !restricted {
		return nil, false, nil
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, true, nil
}

// selectBuckets unions the buckets whose decoded key satisfies the operator
// predicate.
func selectBuckets(idx *HashIndex, op string, operand interface{}) (map[string]bool, error) {
	selected := make(map[string]bool)

	for key, ids := range idx.Index {
		value, err := engine.DecodeCanonicalKey(key)
		if err != nil {
			return nil, err
		}

		if keySatisfies(value, op, operand) {
			for _, id := range ids {
				selected[id] = true
			}
		}
	}

	return selected, nil
}

func keySatisfies(value interface{}, op string, operand interface{}) bool {
	switch op {
	case "$eq":
		return engine.DeepEqual(value, operand)
	case "$ne":
		return !engine.DeepEqual(value, operand)
	default:
		cmp, comparable := compareScalars(value, operand)
		if !comparable {
			return false
		}
		switch op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		case "$lte":
			return cmp <= 0
		}
	}
	return false
}

// compareScalars orders number/number and string/string pairs; any other
// combination is not comparable.
func compareScalars(a, b interface{}) (int, bool) {
	if an, ok := engine.NumberOf(a); ok {
		bn, ok := engine.NumberOf(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}

	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}

	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	default:
		return 0, true
	}
}
