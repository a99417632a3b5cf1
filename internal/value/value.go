// Package value implements Gauss's canonical typed-value representation:
// a tagged union capable of holding any primitive or composite payload a
// format codec can produce, with borrow-aware string/bytes variants so a
// deserialized Row can alias its owning record's bytes without copying.
package value

import "fmt"

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindDecimal
	KindTimestamp
	KindString
	KindBytes
	KindArray
	KindMap
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindDecimal:
		return "decimal"
	case KindTimestamp:
		return "timestamp"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindTuple:
		return "tuple"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Decimal is a 128-bit-scaled fixed-point number: Unscaled * 10^-Scale.
// Unscaled is split into high/low 64-bit halves since Go has no native
// int128; Scale is a single byte.
type Decimal struct {
	Hi    int64
	Lo    uint64
	Scale uint8
}

// Timestamp is microseconds since the Unix epoch plus a precision byte
// (number of significant fractional digits the source format carried, 0-9).
type Timestamp struct {
	Micros    int64
	Precision uint8
}

// Pair is one (key, value) entry of a Value of KindMap.
type Pair struct {
	Key Value
	Val Value
}

// Value is a tagged union. Exactly one of the typed fields is meaningful,
// selected by Kind. String/Bytes variants carry `owned`: when false, raw
// aliases memory owned elsewhere (typically a TopicRecord's data) and must
// not be retained past the scope that pins that memory — see
// internal/pipeline.Executor for the enforcement point.
type Value struct {
	Kind Kind

	i64   int64
	u64   uint64
	f32   float32
	f64   float64
	b     bool
	dec   Decimal
	ts    Timestamp
	raw   []byte // String/Bytes backing storage, borrowed or owned
	owned bool    // true if raw is this Value's own copy
	arr   []Value
	pairs []Pair
	tup   []Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

func Int64(v int64) Value   { return Value{Kind: KindInt64, i64: v} }
func Uint64(v uint64) Value { return Value{Kind: KindUint64, u64: v} }
func Float32(v float32) Value { return Value{Kind: KindFloat32, f32: v} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, f64: v} }
func Bool(v bool) Value     { return Value{Kind: KindBool, b: v} }

func DecimalValue(d Decimal) Value { return Value{Kind: KindDecimal, dec: d} }

func TimestampValue(t Timestamp) Value { return Value{Kind: KindTimestamp, ts: t} }

// BorrowedString wraps a byte slice aliasing the caller's memory as a text
// value. The caller is responsible for the borrow's lifetime.
func BorrowedString(b []byte) Value {
	return Value{Kind: KindString, raw: b, owned: false}
}

// OwnedString copies s into a Value the Value itself owns.
func OwnedString(s string) Value {
	b := make([]byte, len(s))
	copy(b, s)
	return Value{Kind: KindString, raw: b, owned: true}
}

// BorrowedBytes wraps a byte slice aliasing the caller's memory as an
// opaque-binary value.
func BorrowedBytes(b []byte) Value {
	return Value{Kind: KindBytes, raw: b, owned: false}
}

// OwnedBytes copies b into a Value the Value itself owns.
func OwnedBytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{Kind: KindBytes, raw: cp, owned: true}
}

func Array(items []Value) Value { return Value{Kind: KindArray, arr: items} }
func Map(pairs []Pair) Value    { return Value{Kind: KindMap, pairs: pairs} }
func Tuple(items []Value) Value { return Value{Kind: KindTuple, tup: items} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Borrowed reports whether a String/Bytes value aliases memory it does not
// own. Meaningless for other kinds.
func (v Value) Borrowed() bool {
	return (v.Kind == KindString || v.Kind == KindBytes) && !v.owned
}

// Int64 returns the int64 payload; ok is false if Kind != KindInt64.
func (v Value) Int64() (int64, bool) { return v.i64, v.Kind == KindInt64 }

// Uint64 returns the uint64 payload; ok is false if Kind != KindUint64.
func (v Value) Uint64() (uint64, bool) { return v.u64, v.Kind == KindUint64 }

// Float32 returns the float32 payload; ok is false if Kind != KindFloat32.
func (v Value) Float32() (float32, bool) { return v.f32, v.Kind == KindFloat32 }

// Float64 returns the float64 payload; ok is false if Kind != KindFloat64.
func (v Value) Float64() (float64, bool) { return v.f64, v.Kind == KindFloat64 }

// Bool returns the bool payload; ok is false if Kind != KindBool.
func (v Value) Bool() (bool, bool) { return v.b, v.Kind == KindBool }

// DecimalVal returns the Decimal payload; ok is false if Kind != KindDecimal.
func (v Value) DecimalVal() (Decimal, bool) { return v.dec, v.Kind == KindDecimal }

// TimestampVal returns the Timestamp payload; ok is false if Kind != KindTimestamp.
func (v Value) TimestampVal() (Timestamp, bool) { return v.ts, v.Kind == KindTimestamp }

// Bytes returns the underlying byte slice for String/Bytes kinds. The
// returned slice is the Value's own backing storage (borrowed or owned);
// callers that need the bytes to outlive the originating record must copy.
func (v Value) Bytes() ([]byte, bool) {
	if v.Kind != KindString && v.Kind != KindBytes {
		return nil, false
	}
	return v.raw, true
}

// Str returns the string form of a KindString value as a fresh Go string
// (which always copies, per Go string semantics).
func (v Value) Str() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return string(v.raw), true
}

// Elems returns the element slice of an Array or Tuple value.
func (v Value) Elems() ([]Value, bool) {
	switch v.Kind {
	case KindArray:
		return v.arr, true
	case KindTuple:
		return v.tup, true
	default:
		return nil, false
	}
}

// Pairs returns the entries of a Map value.
func (v Value) Pairs() ([]Pair, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.pairs, true
}

// ToOwned returns a Value guaranteed not to borrow external memory: for
// String/Bytes it copies raw if still borrowed; composites are recursively
// made owned. Used by storages that must retain a Value past the pipeline
// executor's single-record scope.
func (v Value) ToOwned() Value {
	switch v.Kind {
	case KindString:
		if v.owned {
			return v
		}
		return OwnedString(string(v.raw))
	case KindBytes:
		if v.owned {
			return v
		}
		return OwnedBytes(v.raw)
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToOwned()
		}
		return Array(out)
	case KindTuple:
		out := make([]Value, len(v.tup))
		for i, e := range v.tup {
			out[i] = e.ToOwned()
		}
		return Tuple(out)
	case KindMap:
		out := make([]Pair, len(v.pairs))
		for i, p := range v.pairs {
			out[i] = Pair{Key: p.Key.ToOwned(), Val: p.Val.ToOwned()}
		}
		return Map(out)
	default:
		return v
	}
}

// CanonicalBytes renders v to a canonical byte form suitable for use as an
// upsert key. The encoding is stable for a given
// Value but is not guaranteed to round-trip back into a Value.
func (v Value) CanonicalBytes() []byte {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt64:
		return fmt.Appendf(nil, "i:%d", v.i64)
	case KindUint64:
		return fmt.Appendf(nil, "u:%d", v.u64)
	case KindFloat32:
		return fmt.Appendf(nil, "f32:%v", v.f32)
	case KindFloat64:
		return fmt.Appendf(nil, "f64:%v", v.f64)
	case KindBool:
		return fmt.Appendf(nil, "b:%t", v.b)
	case KindDecimal:
		return fmt.Appendf(nil, "d:%d:%d:%d", v.dec.Hi, v.dec.Lo, v.dec.Scale)
	case KindTimestamp:
		return fmt.Appendf(nil, "t:%d:%d", v.ts.Micros, v.ts.Precision)
	case KindString, KindBytes:
		out := make([]byte, len(v.raw)+2)
		copy(out, "s:")
		copy(out[2:], v.raw)
		return out
	default:
		return fmt.Appendf(nil, "%v", v)
	}
}
