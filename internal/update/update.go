// Package update compiles and applies the $set/$unset/$inc update
// vocabulary. Apply is pure: it returns a new document and never mutates
// its input, so a partially-applied update can never leak into storage.
package update

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/docbase/internal/value"
)

var (
	// ErrInvalidUpdate is returned by Compile for an unknown operator or
	// malformed update document.
	ErrInvalidUpdate = errors.New("update: invalid update")
	// ErrTypeMismatch is returned by Apply when $inc targets a non-numeric
	// existing field.
	ErrTypeMismatch = errors.New("update: type mismatch")
)

// Ops is a compiled update: one set of operations to apply atomically to a
// single document.
type Ops struct {
	set   map[string]value.Value
	unset []string
	inc   map[string]value.Value
}

// Compile parses an update document of the form
// {$set: {...}, $unset: {...}, $inc: {...}} into Ops. At least one
// recognized operator must be present.
func Compile(u value.Document) (Ops, error) {
	var ops Ops
	found := false

	for key, val := range u {
		switch key {
		case "$set":
			if val.Kind() != value.KindDoc {
				return Ops{}, fmt.Errorf("%w: $set requires a document", ErrInvalidUpdate)
			}
			ops.set = val.AsDoc()
			found = true
		case "$unset":
			if val.Kind() != value.KindDoc {
				return Ops{}, fmt.Errorf("%w: $unset requires a document", ErrInvalidUpdate)
			}
			for field := range val.AsDoc() {
				ops.unset = append(ops.unset, field)
			}
			found = true
		case "$inc":
			if val.Kind() != value.KindDoc {
				return Ops{}, fmt.Errorf("%w: $inc requires a document", ErrInvalidUpdate)
			}
			for field, amount := range val.AsDoc() {
				if !amount.IsNumeric() {
					return Ops{}, fmt.Errorf("%w: $inc amount for %q must be numeric", ErrInvalidUpdate, field)
				}
			}
			ops.inc = val.AsDoc()
			found = true
		default:
			return Ops{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidUpdate, key)
		}
	}

	if !found {
		return Ops{}, fmt.Errorf("%w: update document has no recognized operator", ErrInvalidUpdate)
	}
	return ops, nil
}

// Apply runs ops against doc, returning a new document, whether anything
// actually changed (modified_count bookkeeping lives in the caller), and
// an error if $inc hits a non-numeric existing field.
func Apply(ops Ops, doc value.Document) (value.Document, bool, error) {
	out := doc.Clone()
	changed := false

	for field, v := range ops.set {
		if existing, ok := out[field]; !ok || !value.DeepEqual(existing, v) {
			changed = true
		}
		out[field] = v
	}

	for _, field := range ops.unset {
		if _, ok := out[field]; ok {
			delete(out, field)
			changed = true
		}
	}

	for field, amount := range ops.inc {
		existing, ok := out[field]
		if !ok {
			out[field] = amount
			changed = true
			continue
		}
		if !existing.IsNumeric() {
			return doc, false, fmt.Errorf("update: field %q: %w", field, ErrTypeMismatch)
		}
		sum, changedField := incr(existing, amount)
		out[field] = sum
		changed = changed || changedField
	}

	return out, changed, nil
}

func incr(existing, amount value.Value) (value.Value, bool) {
	if existing.Kind() == value.KindInt && amount.Kind() == value.KindInt {
		return value.Int(existing.AsInt() + amount.AsInt()), amount.AsInt() != 0
	}
	ef, _ := existing.Numeric()
	af, _ := amount.Numeric()
	return value.Float(ef + af), af != 0
}
