package engine

import (
	"regexp"
	"strings"
)

// The filter sublanguage: a query is an object, a document matches iff every
// key matches. A criterion that is not an object compares by deep equality;
// an object of $-operators must hold in full. Unknown operators match
// nothing but do not error.

// IsOperatorObject reports whether a criterion is an operator object, i.e. a
// non-empty object whose every key starts with '$'.
func IsOperatorObject(c interface{}) bool {
	obj, ok := c.(map[string]interface{})
	if !ok || len(obj) == 0 {
		return false
	}
	for key := range obj {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

// MatchQuery evaluates a query object against a document.
func MatchQuery(doc Document, query map[string]interface{}) (bool, error) {
	for field, criterion := range query {
		value := ResolvePath(doc, field)

		ok, err := matchCriterion(value, criterion)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// matchCriterion evaluates one field's criterion against its resolved value.
func matchCriterion(value, criterion interface{}) (bool, error) {
	if !IsOperatorObject(criterion) {
		if IsMissing(value) {
			return false, nil
		}
		return DeepEqual(value, criterion), nil
	}

	// Every operator in the object must hold.
	for op, operand := range criterion.(map[string]interface{}) {
		ok, err := matchOperator(value, op, operand)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func matchOperator(value interface{}, op string, operand interface{}) (bool, error) {
	switch op {
	case "$eq":
		if IsMissing(value) {
			return false, nil
		}
		return DeepEqual(value, operand), nil

	case "$ne":
		if IsMissing(value) {
			return true, nil
		}
		return !DeepEqual(value, operand), nil

	case "$gt":
		cmp, comparable := compareOrdered(value, operand)
		return comparable && cmp > 0, nil

	case "$gte":
		cmp, comparable := compareOrdered(value, operand)
		return comparable && cmp >= 0, nil

	case "$lt":
		cmp, comparable := compareOrdered(value, operand)
		return comparable && cmp < 0, nil

	case "$lte":
		cmp, comparable := compareOrdered(value, operand)
		return comparable && cmp <= 0, nil

	case "$in":
		list, ok := operand.([]interface{})
		if !ok {
			return false, BadRequestf("$in requires an array operand")
		}
		if IsMissing(value) {
			return false, nil
		}
		for _, elem := range list {
			if DeepEqual(value, elem) {
				return true, nil
			}
		}
		return false, nil

	case "$nin":
		list, ok := operand.([]interface{})
		if !ok {
			return false, BadRequestf("$nin requires an array operand")
		}
		if IsMissing(value) {
			return true, nil
		}
		for _, elem := range list {
			if DeepEqual(value, elem) {
				return false, nil
			}
		}
		return true, nil

	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			return false, BadRequestf("$exists requires a boolean operand")
		}
		return !IsMissing(value) == want, nil

	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return false, BadRequestf("$regex requires a string pattern")
		}
		str, ok := value.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, WrapError(KindBadRequest, err, "invalid $regex pattern %q", pattern)
		}
		return re.MatchString(str), nil

	default:
		// Unknown operators match nothing. Callers never see an error here.
		return false, nil
	}
}

// compareOrdered compares value against operand for the range operators.
// Only number/number and string/string pairs are ordered; every other
// combination is not comparable and the operator yields false.
func compareOrdered(value, operand interface{}) (int, bool) {
	if IsMissing(value) {
		return 0, false
	}

	if vn, ok := NumberOf(value); ok {
		on, ok := NumberOf(operand)
		if !ok {
			return 0, false
		}
		switch {
		case vn < on:
			return -1, true
		case vn > on:
			return 1, true
		default:
			return 0, true
		}
	}

	if vs, ok := value.(string); ok {
		os, ok := operand.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(vs, os), true
	}

	return 0, false
}
