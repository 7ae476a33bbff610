package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FromAny converts an arbitrary Go value (as produced by encoding/json's
// default decoding, or hand-built by a caller) into a Value. This is the
// single conversion point the docdb package uses at the API boundary, so
// callers can pass map[string]any query/update/document literals the way
// a Mongo-style driver would accept bson.M.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: fromAny: invalid json.Number %q: %w", t, err)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Array(arr), nil
	case map[string]any:
		doc := make(Document, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("value: fromAny: field %q: %w", k, err)
			}
			doc[k] = ev
		}
		return Doc(doc), nil
	case Document:
		return Doc(t), nil
	case Value:
		return t, nil
	default:
		return Value{}, fmt.Errorf("value: fromAny: unsupported type %T", v)
	}
}

// ToAny converts a Value back to a plain Go value (bool/int64/float64/
// string/[]any/map[string]any/nil), the shape the docdb package returns to
// callers from Find/FindOne results.
func ToAny(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToAny(e)
		}
		return out
	case KindDoc:
		out := make(map[string]any, len(v.doc))
		for k, e := range v.doc {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler so a Document can be returned
// directly from the docdb API and marshaled by callers without an extra
// ToAny conversion step.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToAny(Doc(d)))
}

// UnmarshalJSON implements json.Unmarshaler, decoding JSON numbers via
// json.Number so integers round-trip as KindInt instead of always landing
// on KindFloat.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("value: unmarshal document: %w", err)
	}
	v, err := FromAny(raw)
	if err != nil {
		return err
	}
	*d = v.AsDoc()
	return nil
}
