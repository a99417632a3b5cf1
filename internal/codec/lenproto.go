package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/value"
)

// Wire field types recognized by Lenproto, the reflection-free flat binary
// codec for compact fixed-schema frames.
const (
	WireString  = "string"
	WireBytes   = "bytes"
	WireInt64   = "int64"
	WireFloat64 = "float64"
	WireBool    = "bool"
)

// Lenproto is a schema-ful, fixed-layout binary codec. Every field is
// preceded by a one-byte null/presence flag, then an encoding specific to
// the field's declared wire type:
//   - string/bytes: uint32 big-endian length, then that many bytes
//   - int64:        8 bytes big-endian
//   - float64:      8 bytes big-endian (IEEE 754 bits)
//   - bool:         1 byte, 0 or 1
//
// This is the codec a length_prefixed source processor pairs with; the
// outer frame length prefix (u32be/u16be/varint) is the
// processor's framing concern, not this codec's.
type Lenproto struct {
	schema gschema.Schema
}

// NewLenproto builds a Lenproto codec over an explicit field list. Each
// field's Type.Name must be one of the Wire* constants.
func NewLenproto(schema gschema.Schema) *Lenproto {
	return &Lenproto{schema: schema}
}

func (c *Lenproto) Schema() (gschema.Schema, bool) { return c.schema, true }

const presentFlag = 0xFF
const nullFlag = 0x00

func (c *Lenproto) Deserialize(data []byte) (value.Row, error) {
	row := make(value.Row, len(c.schema.Fields))
	off := 0
	for i, f := range c.schema.Fields {
		if off >= len(data) {
			return nil, fmt.Errorf("%w: truncated at field %q", ErrMalformedFrame, f.Name)
		}
		flag := data[off]
		off++
		if flag == nullFlag {
			row[i] = value.Null()
			continue
		}

		v, n, err := decodeWireValue(f.Type.Name, data[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedFrame, f.Name, err)
		}
		row[i] = v
		off += n
	}
	return row, nil
}

func decodeWireValue(wireType string, data []byte) (value.Value, int, error) {
	switch wireType {
	case WireString, WireBytes:
		if len(data) < 4 {
			return value.Value{}, 0, fmt.Errorf("truncated length prefix")
		}
		n := int(binary.BigEndian.Uint32(data))
		if len(data) < 4+n {
			return value.Value{}, 0, fmt.Errorf("truncated payload")
		}
		payload := data[4 : 4+n]
		if wireType == WireString {
			return value.BorrowedString(payload), 4 + n, nil
		}
		return value.BorrowedBytes(payload), 4 + n, nil
	case WireInt64:
		if len(data) < 8 {
			return value.Value{}, 0, fmt.Errorf("truncated int64")
		}
		return value.Int64(int64(binary.BigEndian.Uint64(data))), 8, nil
	case WireFloat64:
		if len(data) < 8 {
			return value.Value{}, 0, fmt.Errorf("truncated float64")
		}
		bits := binary.BigEndian.Uint64(data)
		return value.Float64(math.Float64frombits(bits)), 8, nil
	case WireBool:
		if len(data) < 1 {
			return value.Value{}, 0, fmt.Errorf("truncated bool")
		}
		return value.Bool(data[0] != 0), 1, nil
	default:
		return value.Value{}, 0, fmt.Errorf("unknown wire type %q", wireType)
	}
}

func (c *Lenproto) Serialize(row value.Row) ([]byte, error) {
	if len(row) != len(c.schema.Fields) {
		return nil, fmt.Errorf("%w: row has %d values, schema has %d fields", ErrInvalidValue, len(row), len(c.schema.Fields))
	}

	out := make([]byte, 0, 64)
	for i, f := range c.schema.Fields {
		v := row[i]
		if v.IsNull() {
			out = append(out, nullFlag)
			continue
		}
		out = append(out, presentFlag)

		enc, err := encodeWireValue(f.Type.Name, v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, f.Name, err)
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeWireValue(wireType string, v value.Value) ([]byte, error) {
	switch wireType {
	case WireString, WireBytes:
		b, ok := v.Bytes()
		if !ok {
			return nil, fmt.Errorf("expected string/bytes, got %s", v.Kind)
		}
		out := make([]byte, 4+len(b))
		binary.BigEndian.PutUint32(out, uint32(len(b)))
		copy(out[4:], b)
		return out, nil
	case WireInt64:
		n, ok := v.Int64()
		if !ok {
			return nil, fmt.Errorf("expected int64, got %s", v.Kind)
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(n))
		return out, nil
	case WireFloat64:
		f, ok := v.Float64()
		if !ok {
			return nil, fmt.Errorf("expected float64, got %s", v.Kind)
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, math.Float64bits(f))
		return out, nil
	case WireBool:
		b, ok := v.Bool()
		if !ok {
			return nil, fmt.Errorf("expected bool, got %s", v.Kind)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, fmt.Errorf("unknown wire type %q", wireType)
	}
}
