package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary tag bytes, stable on disk: never renumber these without a format
// version bump in internal/storage.
const (
	tagNull byte = iota
	tagBoolFalse
	tagBoolTrue
	tagInt
	tagFloat
	tagString
	tagArray
	tagDoc
)

// Encode appends v's self-describing binary form to buf: a tag byte
// followed by a fixed-width or length-prefixed payload depending on kind.
// This is the on-page representation internal/storage writes into
// PageDocumentBlock and PageIndexNode payloads.
func Encode(buf []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return append(buf, tagNull)
	case KindBool:
		if v.b {
			return append(buf, tagBoolTrue)
		}
		return append(buf, tagBoolFalse)
	case KindInt:
		buf = append(buf, tagInt)
		return binary.LittleEndian.AppendUint64(buf, uint64(v.i))
	case KindFloat:
		buf = append(buf, tagFloat)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.f))
	case KindString:
		buf = append(buf, tagString)
		return appendLenPrefixed(buf, []byte(v.s))
	case KindArray:
		buf = append(buf, tagArray)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.arr)))
		for _, e := range v.arr {
			buf = Encode(buf, e)
		}
		return buf
	case KindDoc:
		buf = append(buf, tagDoc)
		keys := SortedKeys(v.doc)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendLenPrefixed(buf, []byte(k))
			buf = Encode(buf, v.doc[k])
		}
		return buf
	default:
		panic(fmt.Sprintf("value: encode: unknown kind %d", v.kind))
	}
}

func appendLenPrefixed(buf, payload []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// Decode reads one Value from buf's head and returns it plus the number of
// bytes consumed. It returns an error if buf is truncated or carries an
// unknown tag, which internal/storage surfaces as ErrCorruptFormat.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("value: decode: empty buffer")
	}
	tag := buf[0]
	rest := buf[1:]

	switch tag {
	case tagNull:
		return Null(), 1, nil
	case tagBoolFalse:
		return Bool(false), 1, nil
	case tagBoolTrue:
		return Bool(true), 1, nil
	case tagInt:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("value: decode: truncated int")
		}
		return Int(int64(binary.LittleEndian.Uint64(rest))), 9, nil
	case tagFloat:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("value: decode: truncated float")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(rest))), 9, nil
	case tagString:
		s, n, err := decodeLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return String(string(s)), 1 + n, nil
	case tagArray:
		if len(rest) < 4 {
			return Value{}, 0, fmt.Errorf("value: decode: truncated array length")
		}
		count := binary.LittleEndian.Uint32(rest)
		off := 4
		arr := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			arr = append(arr, v)
			off += n
		}
		return Array(arr), 1 + off, nil
	case tagDoc:
		if len(rest) < 4 {
			return Value{}, 0, fmt.Errorf("value: decode: truncated doc length")
		}
		count := binary.LittleEndian.Uint32(rest)
		off := 4
		doc := make(Document, count)
		for i := uint32(0); i < count; i++ {
			key, n, err := decodeLenPrefixed(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			v, n, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			doc[string(key)] = v
			off += n
		}
		return Doc(doc), 1 + off, nil
	default:
		return Value{}, 0, fmt.Errorf("value: decode: unknown tag %d", tag)
	}
}

func decodeLenPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("value: decode: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf)
	if uint64(len(buf)) < 4+uint64(n) {
		return nil, 0, fmt.Errorf("value: decode: truncated payload")
	}
	return buf[4 : 4+n], 4 + int(n), nil
}
