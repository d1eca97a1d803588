package aggregate

import (
	"math"
	"strings"

	"lumendb/src/engine"
)

// Aggregation expressions are parsed into an explicit tree once per pipeline
// and then evaluated per document, instead of re-interpreting the JSON shape
// on every call.

// Expr is a parsed aggregation expression.
type Expr interface {
	Evaluate(doc engine.Document) (interface{}, error)
}

type literalExpr struct {
	value interface{}
}

func (e *literalExpr) Evaluate(engine.Document) (interface{}, error) {
	return e.value, nil
}

type fieldExpr struct {
	path string
}

func (e *fieldExpr) Evaluate(doc engine.Document) (interface{}, error) {
	return engine.ResolvePath(doc, e.path), nil
}

type arrayExpr struct {
	elems []Expr
}

func (e *arrayExpr) Evaluate(doc engine.Document) (interface{}, error) {
	out := make([]interface{}, len(e.elems))
	for i, elem := range e.elems {
		v, err := elem.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		if engine.IsMissing(v) {
			v = nil
		}
		out[i] = v
	}
	return out, nil
}

type docExpr struct {
	fields map[string]Expr
}

func (e *docExpr) Evaluate(doc engine.Document) (interface{}, error) {
	out := make(map[string]interface{}, len(e.fields))
	for name, expr := range e.fields {
		v, err := expr.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		if engine.IsMissing(v) {
			continue
		}
		out[name] = v
	}
	return out, nil
}

type opExpr struct {
	name string
	args []Expr
}

// ParseExpr builds an expression tree from its JSON form. A string starting
// with '$' is a field reference, an object with a single '$'-key is an
// operator application, any other object is a nested document, arrays
// evaluate element-wise, and everything else is a literal.
func ParseExpr(spec interface{}) (Expr, error) {
	switch t := spec.(type) {
	case string:
		if strings.HasPrefix(t, "$") {
			return &fieldExpr{path: strings.TrimPrefix(t, "$")}, nil
		}
		return &literalExpr{value: t}, nil

	case []interface{}:
		elems := make([]Expr, len(t))
		for i, raw := range t {
			elem, err := ParseExpr(raw)
			if err != nil {
				return nil, err
			}
			elems[i] = elem
		}
		return &arrayExpr{elems: elems}, nil

	case map[string]interface{}:
		if len(t) == 1 {
			for key, raw := range t {
				if strings.HasPrefix(key, "$") {
					return parseOperator(key, raw)
				}
			}
		}
		fields := make(map[string]Expr, len(t))
		for name, raw := range t {
			expr, err := ParseExpr(raw)
			if err != nil {
				return nil, err
			}
			fields[name] = expr
		}
		return &docExpr{fields: fields}, nil

	default:
		return &literalExpr{value: spec}, nil
	}
}

func parseOperator(name string, rawArgs interface{}) (Expr, error) {
	if name == "$literal" {
		return &literalExpr{value: rawArgs}, nil
	}

	switch name {
	case "$add", "$subtract", "$multiply", "$divide", "$concat", "$toLower", "$toUpper", "$round", "$first":
	default:
		return nil, engine.NewError(engine.KindUnsupportedOperator,
			"unsupported expression operator %q", name)
	}

	// Operands are written either as an argument array or, for single-arg
	// operators, as the bare argument.
	var rawList []interface{}
	if list, ok := rawArgs.([]interface{}); ok {
		rawList = list
	} else {
		rawList = []interface{}{rawArgs}
	}

	args := make([]Expr, len(rawList))
	for i, raw := range rawList {
		arg, err := ParseExpr(raw)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}

	if err := checkArity(name, len(args)); err != nil {
		return nil, err
	}

	return &opExpr{name: name, args: args}, nil
}

func checkArity(name string, n int) error {
	switch name {
	case "$subtract", "$divide":
		if n != 2 {
			return engine.BadRequestf("%s takes exactly two arguments, got %d", name, n)
		}
	case "$toLower", "$toUpper", "$first":
		if n != 1 {
			return engine.BadRequestf("%s takes exactly one argument, got %d", name, n)
		}
	case "$round":
		if n < 1 || n > 2 {
			return engine.BadRequestf("$round takes one or two arguments, got %d", n)
		}
	case "$add", "$multiply":
		if n < 1 {
			return engine.BadRequestf("%s takes at least one argument", name)
		}
	}
	return nil
}

func (e *opExpr) Evaluate(doc engine.Document) (interface{}, error) {
	values := make([]interface{}, len(e.args))
	for i, arg := range e.args {
		v, err := arg.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	switch e.name {
	case "$add":
		return foldNumbers(e.name, values, 0, func(acc, n float64) float64 { return acc + n })

	case "$multiply":
		return foldNumbers(e.name, values, 1, func(acc, n float64) float64 { return acc * n })

	case "$subtract":
		nums, null, err := numericArgs(e.name, values)
		if err != nil || null {
			return nil, err
		}
		return nums[0] - nums[1], nil

	case "$divide":
		nums, null, err := numericArgs(e.name, values)
		if err != nil || null {
			return nil, err
		}
		if nums[1] == 0 {
			return nil, engine.NewError(engine.KindDivisionByZero, "$divide by zero")
		}
		return nums[0] / nums[1], nil

	case "$concat":
		var sb strings.Builder
		for _, v := range values {
			if v == nil || engine.IsMissing(v) {
				return nil, nil
			}
			str, ok := v.(string)
			if !ok {
				return nil, engine.BadRequestf("$concat requires string arguments")
			}
			sb.WriteString(str)
		}
		return sb.String(), nil

	case "$toLower":
		str, err := stringArg("$toLower", values[0])
		if err != nil {
			return nil, err
		}
		return strings.ToLower(str), nil

	case "$toUpper":
		str, err := stringArg("$toUpper", values[0])
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(str), nil

	case "$round":
		if values[0] == nil || engine.IsMissing(values[0]) {
			return nil, nil
		}
		n, ok := engine.NumberOf(values[0])
		if !ok {
			return nil, engine.BadRequestf("$round requires a numeric argument")
		}
		places := 0.0
		if len(values) == 2 {
			places, ok = engine.NumberOf(values[1])
			if !ok {
				return nil, engine.BadRequestf("$round requires a numeric place count")
			}
		}
		factor := math.Pow(10, math.Trunc(places))
		return math.Round(n*factor) / factor, nil

	case "$first":
		if values[0] == nil || engine.IsMissing(values[0]) {
			return engine.Missing, nil
		}
		arr, ok := values[0].([]interface{})
		if !ok {
			return nil, engine.BadRequestf("$first requires an array argument")
		}
		if len(arr) == 0 {
			return engine.Missing, nil
		}
		return arr[0], nil
	}

	return nil, engine.NewError(engine.KindUnsupportedOperator,
		"unsupported expression operator %q", e.name)
}

// foldNumbers folds numeric arguments; a null or missing argument makes the
// whole expression null.
func foldNumbers(name string, values []interface{}, init float64, fold func(acc, n float64) float64) (interface{}, error) {
	acc := init
	for _, v := range values {
		if v == nil || engine.IsMissing(v) {
			return nil, nil
		}
		n, ok := engine.NumberOf(v)
		if !ok {
			return nil, engine.BadRequestf("%s requires numeric arguments", name)
		}
		acc = fold(acc, n)
	}
	return acc, nil
}

// numericArgs converts the arguments of a fixed-arity numeric operator.
// null reports that an argument was null or missing.
func numericArgs(name string, values []interface{}) ([]float64, bool, error) {
	nums := make([]float64, len(values))
	for i, v := range values {
		if v == nil || engine.IsMissing(v) {
			return nil, true, nil
		}
		n, ok := engine.NumberOf(v)
		if !ok {
			return nil, false, engine.BadRequestf("%s requires numeric arguments", name)
		}
		nums[i] = n
	}
	return nums, false, nil
}

func stringArg(name string, v interface{}) (string, error) {
	if v == nil || engine.IsMissing(v) {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", engine.BadRequestf("%s requires a string argument", name)
	}
	return str, nil
}
