// Package aggregate implements the aggregation pipeline: $match, $project,
// $sort, $limit, $skip, $group. Stages are composed as Seq transforms, the
// same range-over-func shape the module family's slot cache uses for its
// own entry iterator so intermediate pipeline stages stay lazy until a
// materializing stage ($sort, $group) forces them.
package aggregate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/value"
)

// ErrInvalidStage is returned by Compile for an unknown stage name or
// malformed stage document.
var ErrInvalidStage = errors.New("aggregate: invalid stage")

// ErrInvalidProjection is returned by Compile when a $project document
// mixes inclusion and exclusion of fields. It also satisfies
// errors.Is(err, ErrInvalidStage).
var ErrInvalidProjection = fmt.Errorf("%w: invalid projection", ErrInvalidStage)

// Seq matches the shape of iter.Seq[value.Document] without depending on
// the iter package directly, exactly like this module family's own cache
// entry iterator.
type Seq func(yield func(value.Document) bool)

// Stage transforms one document sequence into another.
type Stage func(in Seq) Seq

// Pipeline is a compiled, ordered list of stages.
type Pipeline struct {
	stages []Stage
}

// Compile parses a pipeline document array (each element one
// single-key stage document) into a Pipeline.
func Compile(stages []value.Document) (Pipeline, error) {
	var p Pipeline
	for _, s := range stages {
		if len(s) != 1 {
			return Pipeline{}, fmt.Errorf("%w: stage must have exactly one operator", ErrInvalidStage)
		}
		for name, arg := range s {
			stage, err := compileStage(name, arg)
			if err != nil {
				return Pipeline{}, err
			}
			p.stages = append(p.stages, stage)
		}
	}
	return p, nil
}

// Run applies the pipeline to an input sequence and collects the result.
func (p Pipeline) Run(in Seq) []value.Document {
	seq := in
	for _, s := range p.stages {
		seq = s(seq)
	}
	var out []value.Document
	seq(func(d value.Document) bool {
		out = append(out, d)
		return true
	})
	return out
}

// FromSlice adapts a plain slice to Seq, the entry point from a collection
// scan or index scan's materialized candidate list.
func FromSlice(docs []value.Document) Seq {
	return func(yield func(value.Document) bool) {
		for _, d := range docs {
			if !yield(d) {
				return
			}
		}
	}
}

func compileStage(name string, arg value.Value) (Stage, error) {
	switch name {
	case "$match":
		if arg.Kind() != value.KindDoc {
			return nil, fmt.Errorf("%w: $match requires a document", ErrInvalidStage)
		}
		pred, err := query.Compile(arg.AsDoc())
		if err != nil {
			return nil, fmt.Errorf("%w: $match: %v", ErrInvalidStage, err)
		}
		return matchStage(pred), nil
	case "$project":
		if arg.Kind() != value.KindDoc {
			return nil, fmt.Errorf("%w: $project requires a document", ErrInvalidStage)
		}
		return compileProject(arg.AsDoc())
	case "$sort":
		if arg.Kind() != value.KindDoc {
			return nil, fmt.Errorf("%w: $sort requires a document", ErrInvalidStage)
		}
		return compileSort(arg.AsDoc())
	case "$limit":
		n, ok := arg.Numeric()
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: $limit requires a non-negative number", ErrInvalidStage)
		}
		return limitStage(int(n)), nil
	case "$skip":
		n, ok := arg.Numeric()
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: $skip requires a non-negative number", ErrInvalidStage)
		}
		return skipStage(int(n)), nil
	case "$group":
		if arg.Kind() != value.KindDoc {
			return nil, fmt.Errorf("%w: $group requires a document", ErrInvalidStage)
		}
		return compileGroup(arg.AsDoc())
	default:
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidStage, name)
	}
}

func matchStage(pred query.Predicate) Stage {
	return func(in Seq) Seq {
		return func(yield func(value.Document) bool) {
			in(func(d value.Document) bool {
				if query.Match(pred, d) {
					return yield(d)
				}
				return true
			})
		}
	}
}

func limitStage(n int) Stage {
	return func(in Seq) Seq {
		return func(yield func(value.Document) bool) {
			if n == 0 {
				return
			}
			count := 0
			in(func(d value.Document) bool {
				if !yield(d) {
					return false
				}
				count++
				return count < n
			})
		}
	}
}

func skipStage(n int) Stage {
	return func(in Seq) Seq {
		return func(yield func(value.Document) bool) {
			count := 0
			in(func(d value.Document) bool {
				if count < n {
					count++
					return true
				}
				return yield(d)
			})
		}
	}
}

// projectSpec is one output field: either an inclusion of an existing
// field, a rename sourced from another field ("$field" syntax), or an
// exclusion.
type projectSpec struct {
	outName  string
	srcField string
	include  bool
}

// compileProject rejects mixing inclusion and exclusion in the same
// $project, the same rule MongoDB's projection enforces, since "include
// everything except X" and "include only Y" can't be satisfied together.
// _id is exempt from that rule: {_id: 0, name: 1} is a normal inclusion
// projection that additionally drops _id.
func compileProject(spec value.Document) (Stage, error) {
	includeID := true
	if v, ok := spec["_id"]; ok {
		switch {
		case v.Kind() == value.KindBool:
			includeID = v.AsBool()
		case v.IsNumeric():
			n, _ := v.Numeric()
			includeID = n != 0
		default:
			return nil, fmt.Errorf("%w: $project _id must be a boolean or a number", ErrInvalidStage)
		}
	}

	keys := value.SortedKeys(spec)
	specs := make([]projectSpec, 0, len(keys))
	sawInclude, sawExclude := false, false
	for _, k := range keys {
		if k == "_id" {
			continue
		}
		v := spec[k]
		switch v.Kind() {
		case value.KindBool, value.KindInt, value.KindFloat:
			include := v.AsBool()
			if v.IsNumeric() {
				n, _ := v.Numeric()
				include = n != 0
			}
			if include {
				sawInclude = true
			} else {
				sawExclude = true
			}
			specs = append(specs, projectSpec{outName: k, srcField: k, include: include})
		case value.KindString:
			s := v.AsString()
			if len(s) == 0 || s[0] != '$' {
				return nil, fmt.Errorf("%w: $project field reference must start with '$'", ErrInvalidStage)
			}
			sawInclude = true
			specs = append(specs, projectSpec{outName: k, srcField: s[1:], include: true})
		default:
			return nil, fmt.Errorf("%w: $project field %q has unsupported spec", ErrInvalidStage, k)
		}
	}
	if sawInclude && sawExclude {
		return nil, fmt.Errorf("%w: $project cannot mix inclusion and exclusion", ErrInvalidProjection)
	}

	// An exclude-only spec (or a bare {_id: 0}) passes every other field
	// through unchanged; an include spec keeps only the listed fields.
	exclude := sawExclude || len(specs) == 0

	return func(in Seq) Seq {
		return func(yield func(value.Document) bool) {
			in(func(d value.Document) bool {
				var out value.Document
				if exclude {
					dropped := make(map[string]bool, len(specs))
					for _, s := range specs {
						dropped[s.srcField] = true
					}
					out = make(value.Document, len(d))
					for k, v := range d {
						if k == "_id" || dropped[k] {
							continue
						}
						out[k] = v
					}
				} else {
					out = make(value.Document, len(specs))
					for _, s := range specs {
						if v, ok := d[s.srcField]; ok {
							out[s.outName] = v
						}
					}
				}
				if includeID {
					if id, ok := d["_id"]; ok {
						out["_id"] = id
					}
				}
				return yield(out)
			})
		}
	}, nil
}

type sortKey struct {
	field     string
	ascending bool
}

func compileSort(spec value.Document) (Stage, error) {
	keys := value.SortedKeys(spec)
	sortKeys := make([]sortKey, 0, len(keys))
	for _, k := range keys {
		v := spec[k]
		n, ok := v.Numeric()
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("%w: $sort direction must be 1 or -1", ErrInvalidStage)
		}
		sortKeys = append(sortKeys, sortKey{field: k, ascending: n == 1})
	}

	return func(in Seq) Seq {
		return func(yield func(value.Document) bool) {
			var docs []value.Document
			in(func(d value.Document) bool {
				docs = append(docs, d)
				return true
			})
			sort.SliceStable(docs, func(i, j int) bool {
				for _, sk := range sortKeys {
					c := value.Compare(docs[i][sk.field], docs[j][sk.field])
					if c == 0 {
						continue
					}
					if sk.ascending {
						return c < 0
					}
					return c > 0
				}
				return false
			})
			for _, d := range docs {
				if !yield(d) {
					return
				}
			}
		}
	}, nil
}

// accumulatorKind names a $group accumulator.
type accumulatorKind int

const (
	accSum accumulatorKind = iota
	accAvg
	accMin
	accMax
	accFirst
	accLast
)

type groupAccum struct {
	outField   string
	srcField   string
	constant   value.Value
	isConstant bool
	kind       accumulatorKind
}

func compileGroup(spec value.Document) (Stage, error) {
	idSpec, ok := spec["_id"]
	if !ok {
		return nil, fmt.Errorf("%w: $group requires an _id expression", ErrInvalidStage)
	}

	var idField string
	groupByField := false
	if idSpec.Kind() == value.KindString && len(idSpec.AsString()) > 0 && idSpec.AsString()[0] == '$' {
		idField = idSpec.AsString()[1:]
		groupByField = true
	} else if !idSpec.IsNull() {
		return nil, fmt.Errorf("%w: $group _id must be null or a \"$field\" reference", ErrInvalidStage)
	}

	accums := make([]groupAccum, 0, len(spec)-1)
	for outField, accSpec := range spec {
		if outField == "_id" {
			continue
		}
		if accSpec.Kind() != value.KindDoc || len(accSpec.AsDoc()) != 1 {
			return nil, fmt.Errorf("%w: $group field %q must have exactly one accumulator", ErrInvalidStage, outField)
		}
		for opName, operand := range accSpec.AsDoc() {
			kind, err := accumulatorKindFor(opName)
			if err != nil {
				return nil, err
			}
			a := groupAccum{outField: outField, kind: kind}
			switch {
			case operand.Kind() == value.KindString && len(operand.AsString()) > 0 && operand.AsString()[0] == '$':
				a.srcField = operand.AsString()[1:]
			case operand.IsNumeric():
				// A literal numeric operand (the {$sum: 1} counting idiom)
				// contributes itself once per input document in the group,
				// rather than being read off each document.
				a.constant = operand
				a.isConstant = true
			default:
				return nil, fmt.Errorf("%w: $group accumulator operand must be a \"$field\" reference or a number", ErrInvalidStage)
			}
			accums = append(accums, a)
		}
	}

	return func(in Seq) Seq {
		return func(yield func(value.Document) bool) {
			type bucket struct {
				key    value.Value
				values map[string][]value.Value
				order  int
			}
			buckets := map[string]*bucket{}
			var order []*bucket
			n := 0

			in(func(d value.Document) bool {
				var key value.Value
				if groupByField {
					key = d[idField]
				} else {
					key = value.Null()
				}
				bk := key.String()
				b, ok := buckets[bk]
				if !ok {
					b = &bucket{key: key, values: map[string][]value.Value{}, order: n}
					buckets[bk] = b
					order = append(order, b)
				}
				for _, a := range accums {
					switch {
					case a.isConstant:
						b.values[a.outField] = append(b.values[a.outField], a.constant)
					case a.srcField != "":
						if v, ok := d[a.srcField]; ok {
							b.values[a.outField] = append(b.values[a.outField], v)
						}
					}
				}
				n++
				return true
			})

			for _, b := range order {
				out := value.Document{"_id": b.key}
				for _, a := range accums {
					out[a.outField] = applyAccumulator(a.kind, b.values[a.outField])
				}
				if !yield(out) {
					return
				}
			}
		}
	}, nil
}

func accumulatorKindFor(opName string) (accumulatorKind, error) {
	switch opName {
	case "$sum":
		return accSum, nil
	case "$avg":
		return accAvg, nil
	case "$min":
		return accMin, nil
	case "$max":
		return accMax, nil
	case "$first":
		return accFirst, nil
	case "$last":
		return accLast, nil
	default:
		return 0, fmt.Errorf("%w: unknown accumulator %q", ErrInvalidStage, opName)
	}
}

func applyAccumulator(kind accumulatorKind, vals []value.Value) value.Value {
	switch kind {
	case accSum:
		var sum float64
		allInt := true
		var isum int64
		for _, v := range vals {
			f, _ := v.Numeric()
			sum += f
			if v.Kind() != value.KindInt {
				allInt = false
			} else {
				isum += v.AsInt()
			}
		}
		if allInt {
			return value.Int(isum)
		}
		return value.Float(sum)
	case accAvg:
		if len(vals) == 0 {
			return value.Null()
		}
		var sum float64
		for _, v := range vals {
			f, _ := v.Numeric()
			sum += f
		}
		return value.Float(sum / float64(len(vals)))
	case accMin:
		if len(vals) == 0 {
			return value.Null()
		}
		m := vals[0]
		for _, v := range vals[1:] {
			if value.Compare(v, m) < 0 {
				m = v
			}
		}
		return m
	case accMax:
		if len(vals) == 0 {
			return value.Null()
		}
		m := vals[0]
		for _, v := range vals[1:] {
			if value.Compare(v, m) > 0 {
				m = v
			}
		}
		return m
	case accFirst:
		if len(vals) == 0 {
			return value.Null()
		}
		return vals[0]
	case accLast:
		if len(vals) == 0 {
			return value.Null()
		}
		return vals[len(vals)-1]
	default:
		return value.Null()
	}
}
