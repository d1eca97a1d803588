package aggregate

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"lumendb/src/engine"
)

// A pipeline is an ordered list of stages executed over a document array.
// Stages are parsed up front so a malformed pipeline fails before any
// document is touched.

// LookupSpec is the parsed form of a $lookup stage.
type LookupSpec struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

// LookupFunc joins foreign documents for a $lookup stage. The built-in
// behavior is a stub that attaches an empty array at the target field;
// callers may install a real implementation.
type LookupFunc func(docs []engine.Document, spec LookupSpec) ([]engine.Document, error)

type stage interface {
	apply(p *Pipeline, docs []engine.Document) ([]engine.Document, error)
}

// Pipeline is a parsed aggregation pipeline.
type Pipeline struct {
	stages []stage

	// Lookup, when set, replaces the $lookup stub.
	Lookup LookupFunc
}

// ParsePipeline parses the raw JSON array of stage objects.
func ParsePipeline(raw []byte) (*Pipeline, error) {
	var rawStages []json.RawMessage
	if err := json.Unmarshal(raw, &rawStages); err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "pipeline must be a JSON array")
	}

	p := &Pipeline{}
	for i, rawStage := range rawStages {
		st, err := parseStage(rawStage)
		if err != nil {
			return nil, engine.WrapError(engine.KindOf(err), err, "stage %d", i)
		}
		p.stages = append(p.stages, st)
	}

	return p, nil
}

// Run executes the stages in order. The input slice is never mutated.
func (p *Pipeline) Run(docs []engine.Document) ([]engine.Document, error) {
	current := make([]engine.Document, len(docs))
	for i, doc := range docs {
		current[i] = engine.CopyDocument(doc)
	}

	for _, st := range p.stages {
		var err error
		current, err = st.apply(p, current)
		if err != nil {
			return nil, err
		}
	}

	if current == nil {
		current = []engine.Document{}
	}

	return current, nil
}

func parseStage(raw json.RawMessage) (stage, error) {
	var spec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "stage must be a JSON object")
	}
	if len(spec) != 1 {
		return nil, engine.BadRequestf("stage must have exactly one operator key, got %d", len(spec))
	}

	var name string
	var body json.RawMessage
	for k, v := range spec {
		name, body = k, v
	}

	switch name {
	case "$match":
		return parseMatchStage(body)
	case "$project":
		return parseProjectStage(body)
	case "$group":
		return parseGroupStage(body)
	case "$sort":
		return parseSortStage(body)
	case "$limit":
		return parseLimitStage(body)
	case "$skip":
		return parseSkipStage(body)
	case "$unwind":
		return parseUnwindStage(body)
	case "$lookup":
		return parseLookupStage(body)
	case "$count":
		return parseCountStage(body)
	default:
		return nil, engine.NewError(engine.KindUnsupportedStage, "unsupported stage %q", name)
	}
}

// ---------------------------------------------------------------- $match

type matchStage struct {
	query map[string]interface{}
}

func parseMatchStage(body json.RawMessage) (stage, error) {
	query, _, err := engine.DecodeObject(body)
	if err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "$match criteria must be an object")
	}
	return &matchStage{query: query}, nil
}

func (s *matchStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	out := docs[:0]
	for _, doc := range docs {
		ok, err := engine.MatchQuery(doc, s.query)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// -------------------------------------------------------------- $project

type projectField struct {
	path string
	expr Expr // nil means copy the resolved value
}

type projectStage struct {
	include   []projectField
	exclude   []string
	includeID bool
	idOnly    bool // {"_id": 1} with no other inclusions
}

func parseProjectStage(body json.RawMessage) (stage, error) {
	spec, keys, err := engine.DecodeObject(body)
	if err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "$project spec must be an object")
	}

	st := &projectStage{includeID: true}

	for _, key := range keys {
		value := spec[key]

		if key == engine.IDField {
			switch flagOf(value) {
			case 0:
				st.includeID = false
				continue
			case 1:
				st.idOnly = true
				continue
			}
		}

		switch flagOf(value) {
		case 0:
			st.exclude = append(st.exclude, key)
		case 1:
			st.include = append(st.include, projectField{path: key})
		default:
			obj, ok := value.(map[string]interface{})
			if !ok {
				return nil, engine.BadRequestf("$project value for %q must be 0, 1 or an expression", key)
			}
			expr, err := ParseExpr(obj)
			if err != nil {
				return nil, err
			}
			st.include = append(st.include, projectField{path: key, expr: expr})
		}
	}

	if len(st.include) > 0 && len(st.exclude) > 0 {
		return nil, engine.BadRequestf("$project cannot mix inclusion and exclusion")
	}

	return st, nil
}

// flagOf classifies a projection value: 0, 1 or -1 for "neither".
func flagOf(v interface{}) int {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	if n, ok := engine.NumberOf(v); ok {
		if n == 0 {
			return 0
		}
		return 1
	}
	return -1
}

func (s *projectStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	out := make([]engine.Document, 0, len(docs))

	for _, doc := range docs {
		if len(s.include) == 0 && !s.idOnly {
			// Exclusion: start from the document and delete the named paths.
			projected := engine.CopyDocument(doc)
			for _, path := range s.exclude {
				engine.UnsetPath(projected, path)
			}
			if !s.includeID {
				delete(projected, engine.IDField)
			}
			out = append(out, projected)
			continue
		}

		// Inclusion: start from empty and copy each requested field.
		projected := make(engine.Document)
		if s.includeID {
			if id, ok := doc[engine.IDField]; ok {
				projected[engine.IDField] = id
			}
		}
		for _, field := range s.include {
			var value interface{}
			if field.expr == nil {
				value = engine.ResolvePath(doc, field.path)
			} else {
				var err error
				value, err = field.expr.Evaluate(doc)
				if err != nil {
					return nil, err
				}
			}
			if engine.IsMissing(value) {
				continue
			}
			engine.SetPath(projected, field.path, value)
		}
		out = append(out, projected)
	}

	return out, nil
}

// ---------------------------------------------------------------- $group

type accumulatorSpec struct {
	name string
	op   string
	expr Expr
}

type groupStage struct {
	keyExpr      Expr
	accumulators []accumulatorSpec
}

var groupAccumulators = map[string]bool{
	"$sum":      true,
	"$avg":      true,
	"$min":      true,
	"$max":      true,
	"$first":    true,
	"$last":     true,
	"$push":     true,
	"$addToSet": true,
}

func parseGroupStage(body json.RawMessage) (stage, error) {
	spec, keys, err := engine.DecodeObject(body)
	if err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "$group spec must be an object")
	}

	rawKey, ok := spec[engine.IDField]
	if !ok {
		return nil, engine.BadRequestf("$group requires an %s expression", engine.IDField)
	}
	keyExpr, err := ParseExpr(rawKey)
	if err != nil {
		return nil, err
	}

	st := &groupStage{keyExpr: keyExpr}

	for _, name := range keys {
		if name == engine.IDField {
			continue
		}

		accSpec, ok := spec[name].(map[string]interface{})
		if !ok || len(accSpec) != 1 {
			return nil, engine.BadRequestf("accumulator %q must be an object with one $-operator", name)
		}

		for op, rawExpr := range accSpec {
			if !groupAccumulators[op] {
				return nil, engine.NewError(engine.KindUnsupportedOperator,
					"unsupported accumulator %q", op)
			}
			expr, err := ParseExpr(rawExpr)
			if err != nil {
				return nil, err
			}
			st.accumulators = append(st.accumulators, accumulatorSpec{name: name, op: op, expr: expr})
		}
	}

	return st, nil
}

type groupState struct {
	key    interface{}
	values [][]interface{} // observed values per accumulator, missing included
}

func (s *groupStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	groups := make(map[string]*groupState)
	var order []string // first-encounter order of group keys

	for _, doc := range docs {
		key, err := s.keyExpr.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		if engine.IsMissing(key) {
			key = nil
		}

		canonical := engine.CanonicalKey(key)
		state, ok := groups[canonical]
		if !ok {
			state = &groupState{
				key:    key,
				values: make([][]interface{}, len(s.accumulators)),
			}
			groups[canonical] = state
			order = append(order, canonical)
		}

		for i, acc := range s.accumulators {
			v, err := acc.expr.Evaluate(doc)
			if err != nil {
				return nil, err
			}
			state.values[i] = append(state.values[i], v)
		}
	}

	out := make([]engine.Document, 0, len(order))
	for _, canonical := range order {
		state := groups[canonical]

		result := engine.Document{engine.IDField: state.key}
		for i, acc := range s.accumulators {
			value, err := finishAccumulator(acc.op, state.values[i])
			if err != nil {
				return nil, err
			}
			if engine.IsMissing(value) {
				continue
			}
			result[acc.name] = value
		}
		out = append(out, result)
	}

	return out, nil
}

// finishAccumulator folds the observed values of one group. Undefined values
// count as zero for $sum, are skipped by $avg/$min/$max (nothing observed
// means no result), and are skipped by $push/$addToSet.
func finishAccumulator(op string, values []interface{}) (interface{}, error) {
	switch op {
	case "$sum":
		total := 0.0
		for _, v := range values {
			if n, ok := engine.NumberOf(v); ok {
				total += n
			}
		}
		return total, nil

	case "$avg":
		total, count := 0.0, 0
		for _, v := range values {
			if n, ok := engine.NumberOf(v); ok {
				total += n
				count++
			}
		}
		if count == 0 {
			return nil, nil
		}
		return total / float64(count), nil

	case "$min":
		var best interface{} = engine.Missing
		for _, v := range values {
			if engine.IsMissing(v) {
				continue
			}
			if engine.IsMissing(best) || engine.CompareValues(v, best) < 0 {
				best = v
			}
		}
		return best, nil

	case "$max":
		var best interface{} = engine.Missing
		for _, v := range values {
			if engine.IsMissing(v) {
				continue
			}
			if engine.IsMissing(best) || engine.CompareValues(v, best) > 0 {
				best = v
			}
		}
		return best, nil

	case "$first":
		if len(values) == 0 {
			return engine.Missing, nil
		}
		return values[0], nil

	case "$last":
		if len(values) == 0 {
			return engine.Missing, nil
		}
		return values[len(values)-1], nil

	case "$push":
		list := make([]interface{}, 0, len(values))
		for _, v := range values {
			if engine.IsMissing(v) {
				continue
			}
			list = append(list, v)
		}
		return list, nil

	case "$addToSet":
		set := make([]interface{}, 0, len(values))
		for _, v := range values {
			if engine.IsMissing(v) {
				continue
			}
			seen := false
			for _, existing := range set {
				if engine.DeepEqual(existing, v) {
					seen = true
					break
				}
			}
			if !seen {
				set = append(set, v)
			}
		}
		return set, nil
	}

	return nil, engine.NewError(engine.KindUnsupportedOperator, "unsupported accumulator %q", op)
}

// ----------------------------------------------------------------- $sort

type sortKey struct {
	path      string
	ascending bool
}

type sortStage struct {
	keys []sortKey
}

func parseSortStage(body json.RawMessage) (stage, error) {
	spec, keys, err := engine.DecodeObject(body)
	if err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "$sort spec must be an object")
	}
	if len(keys) == 0 {
		return nil, engine.BadRequestf("$sort requires at least one key")
	}

	st := &sortStage{}
	for _, key := range keys {
		direction, ok := engine.NumberOf(spec[key])
		if !ok || (direction != 1 && direction != -1) {
			return nil, engine.BadRequestf("$sort direction for %q must be 1 or -1", key)
		}
		st.keys = append(st.keys, sortKey{path: key, ascending: direction == 1})
	}

	return st, nil
}

func (s *sortStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range s.keys {
			cmp := engine.CompareValues(
				engine.ResolvePath(docs[i], key.path),
				engine.ResolvePath(docs[j], key.path),
			)
			if cmp == 0 {
				continue
			}
			if key.ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	return docs, nil
}

// ---------------------------------------------------------- $limit, $skip

type limitStage struct {
	n int
}

func parseLimitStage(body json.RawMessage) (stage, error) {
	n, err := parseStageCount(body, "$limit")
	if err != nil {
		return nil, err
	}
	return &limitStage{n: n}, nil
}

func (s *limitStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	if len(docs) > s.n {
		docs = docs[:s.n]
	}
	return docs, nil
}

type skipStage struct {
	n int
}

func parseSkipStage(body json.RawMessage) (stage, error) {
	n, err := parseStageCount(body, "$skip")
	if err != nil {
		return nil, err
	}
	return &skipStage{n: n}, nil
}

func (s *skipStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	if len(docs) <= s.n {
		return docs[:0], nil
	}
	return docs[s.n:], nil
}

func parseStageCount(body json.RawMessage, name string) (int, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, engine.WrapError(engine.KindBadRequest, err, "%s requires a number", name)
	}

	n, ok := engine.NumberOf(raw)
	if !ok || n != math.Trunc(n) {
		return 0, engine.BadRequestf("%s requires an integer", name)
	}
	if n < 0 {
		return 0, engine.BadRequestf("%s cannot be negative", name)
	}

	return int(n), nil
}

// --------------------------------------------------------------- $unwind

type unwindStage struct {
	path              string
	preserveEmpty     bool
	includeArrayIndex string
}

func parseUnwindStage(body json.RawMessage) (stage, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "invalid $unwind spec")
	}

	st := &unwindStage{}

	switch t := raw.(type) {
	case string:
		st.path = t
	case map[string]interface{}:
		path, _ := t["path"].(string)
		st.path = path
		st.preserveEmpty, _ = t["preserveNullAndEmptyArrays"].(bool)
		st.includeArrayIndex, _ = t["includeArrayIndex"].(string)
	default:
		return nil, engine.BadRequestf("$unwind requires a path string or an options object")
	}

	if !strings.HasPrefix(st.path, "$") {
		return nil, engine.BadRequestf("$unwind path must start with '$'")
	}
	st.path = strings.TrimPrefix(st.path, "$")

	return st, nil
}

func (s *unwindStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	out := make([]engine.Document, 0, len(docs))

	for _, doc := range docs {
		value := engine.ResolvePath(doc, s.path)

		arr, isArray := value.([]interface{})
		if !isArray {
			// Missing resolutions and empty arrays can be preserved as a
			// null field; other scalars drop the document.
			if engine.IsMissing(value) && s.preserveEmpty {
				clone := engine.CopyDocument(doc)
				engine.SetPath(clone, s.path, nil)
				out = append(out, clone)
			}
			continue
		}

		if len(arr) == 0 {
			if s.preserveEmpty {
				clone := engine.CopyDocument(doc)
				engine.SetPath(clone, s.path, nil)
				out = append(out, clone)
			}
			continue
		}

		for i, elem := range arr {
			clone := engine.CopyDocument(doc)
			engine.SetPath(clone, s.path, engine.DeepCopy(elem))
			if s.includeArrayIndex != "" {
				engine.SetPath(clone, s.includeArrayIndex, float64(i))
			}
			out = append(out, clone)
		}
	}

	return out, nil
}

// --------------------------------------------------------------- $lookup

type lookupStage struct {
	spec LookupSpec
}

func parseLookupStage(body json.RawMessage) (stage, error) {
	var raw struct {
		From         string `json:"from"`
		LocalField   string `json:"localField"`
		ForeignField string `json:"foreignField"`
		As           string `json:"as"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "invalid $lookup spec")
	}
	if raw.As == "" {
		return nil, engine.BadRequestf("$lookup requires a non-empty 'as' field")
	}

	return &lookupStage{spec: LookupSpec{
		From:         raw.From,
		LocalField:   raw.LocalField,
		ForeignField: raw.ForeignField,
		As:           raw.As,
	}}, nil
}

func (s *lookupStage) apply(p *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	if p.Lookup != nil {
		return p.Lookup(docs, s.spec)
	}

	// Stub: attach an empty joined array to every document.
	for _, doc := range docs {
		engine.SetPath(doc, s.spec.As, []interface{}{})
	}
	return docs, nil
}

// ---------------------------------------------------------------- $count

type countStage struct {
	name string
}

func parseCountStage(body json.RawMessage) (stage, error) {
	var name string
	if err := json.Unmarshal(body, &name); err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "$count requires a field name")
	}
	if name == "" {
		return nil, engine.BadRequestf("$count requires a non-empty field name")
	}
	return &countStage{name: name}, nil
}

func (s *countStage) apply(_ *Pipeline, docs []engine.Document) ([]engine.Document, error) {
	return []engine.Document{{s.name: float64(len(docs))}}, nil
}
