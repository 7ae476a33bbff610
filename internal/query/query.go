// Package query compiles a query document (the $eq/$gt/$and/... vocabulary)
// into a typed Predicate tree once, then matches that tree against
// documents repeatedly — no per-document string dispatch.
package query

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/docbase/internal/value"
)

// ErrInvalidQuery is returned by Compile for unknown operators or
// malformed operator shapes.
var ErrInvalidQuery = errors.New("query: invalid query")

// Op names a field-level comparison or existence operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNin
	OpNot
	OpExists
)

// FieldOp is one operator applied to one field: e.g. {age: {$gt: 21}}
// compiles to FieldOp{Op: OpGt, Operand: Int(21)}.
type FieldOp struct {
	Op      Op
	Operand value.Value
	Operands []value.Value // for $in/$nin
	Sub     *FieldOp       // for $not, which wraps another field operator
}

// Predicate is the compiled query tree. Exactly one of the fields is set,
// matching the query language's top-level shape: a conjunction of field
// constraints and/or boolean combinators.
type Predicate struct {
	Kind PredicateKind

	// PredField: field name -> ops that must ALL match.
	Field    string
	FieldOps []FieldOp

	// PredAnd / PredOr / PredNor: sub-predicates.
	Sub []Predicate
}

type PredicateKind int

const (
	PredField PredicateKind = iota
	PredAnd
	PredOr
	PredNor
)

// Compile turns a query document into a Predicate. A bare field with a
// literal value (not a document starting with "$") is sugar for
// {field: {$eq: literal}}.
func Compile(q value.Document) (Predicate, error) {
	if len(q) == 0 {
		return Predicate{Kind: PredAnd}, nil
	}

	var subs []Predicate
	for key, val := range q {
		switch key {
		case "$and":
			ps, err := compileSubList(val)
			if err != nil {
				return Predicate{}, err
			}
			subs = append(subs, Predicate{Kind: PredAnd, Sub: ps})
		case "$or":
			ps, err := compileSubList(val)
			if err != nil {
				return Predicate{}, err
			}
			subs = append(subs, Predicate{Kind: PredOr, Sub: ps})
		case "$nor":
			ps, err := compileSubList(val)
			if err != nil {
				return Predicate{}, err
			}
			subs = append(subs, Predicate{Kind: PredNor, Sub: ps})
		default:
			ops, err := compileFieldOps(val)
			if err != nil {
				return Predicate{}, fmt.Errorf("%w: field %q: %v", ErrInvalidQuery, key, err)
			}
			subs = append(subs, Predicate{Kind: PredField, Field: key, FieldOps: ops})
		}
	}

	if len(subs) == 1 {
		return subs[0], nil
	}
	return Predicate{Kind: PredAnd, Sub: subs}, nil
}

func compileSubList(v value.Value) ([]Predicate, error) {
	if v.Kind() != value.KindArray {
		return nil, fmt.Errorf("%w: expected array of sub-queries", ErrInvalidQuery)
	}
	arr := v.AsArray()
	out := make([]Predicate, 0, len(arr))
	for _, e := range arr {
		if e.Kind() != value.KindDoc {
			return nil, fmt.Errorf("%w: sub-query must be a document", ErrInvalidQuery)
		}
		p, err := Compile(e.AsDoc())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// compileFieldOps compiles the value attached to a field key: either a
// bare literal ($eq sugar) or a document of one or more $-operators.
func compileFieldOps(v value.Value) ([]FieldOp, error) {
	if v.Kind() != value.KindDoc {
		return []FieldOp{{Op: OpEq, Operand: v}}, nil
	}

	doc := v.AsDoc()
	allOperator := true
	for k := range doc {
		if len(k) == 0 || k[0] != '$' {
			allOperator = false
			break
		}
	}
	if !allOperator {
		// A document value with no operator keys at all is a literal to
		// compare for deep equality (e.g. {addr: {city: "ny"}}).
		return []FieldOp{{Op: OpEq, Operand: v}}, nil
	}

	ops := make([]FieldOp, 0, len(doc))
	for opName, operand := range doc {
		op, err := compileOne(opName, operand)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func compileOne(opName string, operand value.Value) (FieldOp, error) {
	switch opName {
	case "$eq":
		return FieldOp{Op: OpEq, Operand: operand}, nil
	case "$ne":
		return FieldOp{Op: OpNe, Operand: operand}, nil
	case "$gt":
		return FieldOp{Op: OpGt, Operand: operand}, nil
	case "$gte":
		return FieldOp{Op: OpGte, Operand: operand}, nil
	case "$lt":
		return FieldOp{Op: OpLt, Operand: operand}, nil
	case "$lte":
		return FieldOp{Op: OpLte, Operand: operand}, nil
	case "$in":
		if operand.Kind() != value.KindArray {
			return FieldOp{}, fmt.Errorf("%w: $in requires an array", ErrInvalidQuery)
		}
		return FieldOp{Op: OpIn, Operands: operand.AsArray()}, nil
	case "$nin":
		if operand.Kind() != value.KindArray {
			return FieldOp{}, fmt.Errorf("%w: $nin requires an array", ErrInvalidQuery)
		}
		return FieldOp{Op: OpNin, Operands: operand.AsArray()}, nil
	case "$exists":
		if operand.Kind() != value.KindBool {
			return FieldOp{}, fmt.Errorf("%w: $exists requires a boolean", ErrInvalidQuery)
		}
		return FieldOp{Op: OpExists, Operand: operand}, nil
	case "$not":
		if operand.Kind() != value.KindDoc {
			return FieldOp{}, fmt.Errorf("%w: $not requires an operator document", ErrInvalidQuery)
		}
		subOps, err := compileFieldOps(operand)
		if err != nil {
			return FieldOp{}, err
		}
		if len(subOps) != 1 {
			return FieldOp{}, fmt.Errorf("%w: $not requires exactly one operator", ErrInvalidQuery)
		}
		return FieldOp{Op: OpNot, Sub: &subOps[0]}, nil
	default:
		return FieldOp{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, opName)
	}
}

// Match reports whether doc satisfies pred.
func Match(pred Predicate, doc value.Document) bool {
	switch pred.Kind {
	case PredField:
		fv, exists := doc[pred.Field]
		for _, op := range pred.FieldOps {
			if !matchOp(op, fv, exists) {
				return false
			}
		}
		return true
	case PredAnd:
		for _, s := range pred.Sub {
			if !Match(s, doc) {
				return false
			}
		}
		return true
	case PredOr:
		if len(pred.Sub) == 0 {
			return false
		}
		for _, s := range pred.Sub {
			if Match(s, doc) {
				return true
			}
		}
		return false
	case PredNor:
		for _, s := range pred.Sub {
			if Match(s, doc) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func matchOp(op FieldOp, fv value.Value, exists bool) bool {
	switch op.Op {
	case OpExists:
		return exists == op.Operand.AsBool()
	case OpEq:
		return exists && value.DeepEqual(fv, op.Operand)
	case OpNe:
		return !exists || !value.DeepEqual(fv, op.Operand)
	case OpGt:
		return exists && value.Compare(fv, op.Operand) > 0
	case OpGte:
		return exists && value.Compare(fv, op.Operand) >= 0
	case OpLt:
		return exists && value.Compare(fv, op.Operand) < 0
	case OpLte:
		return exists && value.Compare(fv, op.Operand) <= 0
	case OpIn:
		if !exists {
			return false
		}
		for _, o := range op.Operands {
			if value.DeepEqual(fv, o) {
				return true
			}
		}
		return false
	case OpNin:
		if !exists {
			return true
		}
		for _, o := range op.Operands {
			if value.DeepEqual(fv, o) {
				return false
			}
		}
		return true
	case OpNot:
		return !matchOp(*op.Sub, fv, exists)
	default:
		return false
	}
}
