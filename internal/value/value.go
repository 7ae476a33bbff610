// Package value implements the tagged value variant shared by the matcher,
// the index engine, the update applier, and storage encoding: null, bool,
// number (int64/float64), string, sequence, and mapping, per the canonical
// ordering null < bool < number < string < sequence < mapping.
package value

import (
	"fmt"
	"sort"
)

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindDoc
)

// Value is a small tagged union rather than an any-based interface, so
// callers pattern-match on Kind instead of type-switching on interface{}.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	doc  Document
}

// Document is a mapping from field name to Value. Every stored document
// carries an "_id" field of KindInt, assigned by the engine if absent.
type Document map[string]Value

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(vs []Value) Value     { return Value{kind: KindArray, arr: vs} }
func Doc(d Document) Value       { return Value{kind: KindDoc, doc: d} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool, AsInt, AsFloat, AsString, AsArray, AsDoc return the underlying payload. Callers
// must check Kind first; these do not panic on a mismatched kind, they
// simply return the zero value, mirroring how a type switch would be used.
func (v Value) AsBool() bool       { return v.b }
func (v Value) AsInt() int64       { return v.i }
func (v Value) AsFloat() float64   { return v.f }
func (v Value) AsString() string   { return v.s }
func (v Value) AsArray() []Value   { return v.arr }
func (v Value) AsDoc() Document    { return v.doc }

// IsNumeric reports whether v is KindInt or KindFloat.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Numeric returns v's numeric value promoted to float64, and whether v is
// numeric at all.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindArray:
		return fmt.Sprintf("%v", v.arr)
	case KindDoc:
		return fmt.Sprintf("%v", v.doc)
	default:
		return "<invalid>"
	}
}

// DeepEqual compares two values for matcher/equality-operator purposes:
// numeric promotion applies (Int(5) == Float(5.0)), arrays compare
// element-wise in order, and documents compare key-by-key regardless of
// insertion order.
func DeepEqual(a, b Value) bool {
	an, aok := a.Numeric()
	bn, bok := b.Numeric()
	if aok && bok {
		return an == bn
	}

	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !DeepEqual(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindDoc:
		if len(a.doc) != len(b.doc) {
			return false
		}
		for k, av := range a.doc {
			bv, ok := b.doc[k]
			if !ok || !DeepEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SortedKeys returns a Document's field names in deterministic order, used
// by encoding and by $project's include-mode field-order decision.
func SortedKeys(d Document) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of d, used by the update applier so a failed
// update never mutates the caller's document in place.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.clone()
		}
		return Array(arr)
	case KindDoc:
		return Doc(v.doc.Clone())
	default:
		return v
	}
}
