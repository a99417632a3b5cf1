package convert

import (
	"math/big"

	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/value"
)

// DecimalRescale rescales a KindDecimal value to a new scale, rounding
// toward zero on truncation. Non-decimal input converts to null rather
// than failing at call time.
type DecimalRescale struct {
	TargetScale uint8
}

func (c DecimalRescale) Convert(v value.Value) value.Value {
	d, ok := v.DecimalVal()
	if !ok {
		return value.Null()
	}
	if d.Scale == c.TargetScale {
		return v
	}

	unscaled := decimalBigInt(d)
	diff := int(c.TargetScale) - int(d.Scale)
	if diff > 0 {
		unscaled.Mul(unscaled, pow10(diff))
	} else {
		unscaled.Quo(unscaled, pow10(-diff))
	}

	hi, lo := splitBigInt(unscaled)
	return value.DecimalValue(value.Decimal{Hi: hi, Lo: lo, Scale: c.TargetScale})
}

func (DecimalRescale) Close() error { return nil }

func decimalBigInt(d value.Decimal) *big.Int {
	hi := new(big.Int).SetInt64(d.Hi)
	hi.Lsh(hi, 64)
	lo := new(big.Int).SetUint64(d.Lo)
	return hi.Or(hi, lo)
}

func splitBigInt(n *big.Int) (hi int64, lo uint64) {
	mask := new(big.Int).SetUint64(^uint64(0))
	loBig := new(big.Int).And(n, mask)
	hiBig := new(big.Int).Rsh(n, 64)
	return hiBig.Int64(), loBig.Uint64()
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// UnixMillisToTimestamp converts a KindInt64 epoch-millisecond value into a
// KindTimestamp value: Micros holds the instant, Precision is 3 (the
// millisecond digits the input carries).
type UnixMillisToTimestamp struct{}

func (UnixMillisToTimestamp) Convert(v value.Value) value.Value {
	ms, ok := v.Int64()
	if !ok {
		return value.Null()
	}
	return value.TimestampValue(value.Timestamp{Micros: ms * 1000, Precision: 3})
}

func (UnixMillisToTimestamp) Close() error { return nil }

// PgNumericToChDecimal converts a PostgreSQL-style numeric (rendered by the
// upstream format codec as a decimal Value at arbitrary scale) into a fixed
// ClickHouse Decimal64(scale) representation: the same underlying decimal,
// rescaled, with overflow of the 64-bit lane treated as a conversion
// failure expressed as null rather than an error.
type PgNumericToChDecimal struct {
	Scale uint8
}

func (c PgNumericToChDecimal) Convert(v value.Value) value.Value {
	d, ok := v.DecimalVal()
	if !ok {
		return value.Null()
	}
	rescaled := DecimalRescale{TargetScale: c.Scale}.Convert(value.DecimalValue(d))
	rd, _ := rescaled.DecimalVal()
	if rd.Hi != 0 && rd.Hi != -1 {
		// Does not fit in a signed 64-bit lane (Decimal64); express as a
		// conversion failure, not a call-time error.
		return value.Null()
	}
	return rescaled
}

func (PgNumericToChDecimal) Close() error { return nil }

// RegisterBuiltins registers every built-in converter under its
// conventional name with a plugin registry. Built-ins take no
// configuration beyond what's embedded in their constructors; config_blob
// keys not recognized are ignored.
func RegisterBuiltins(r *registry.Registry) error {
	builtins := map[string]registry.Constructor{
		"passthrough": func(map[string]any) (registry.Plugin, registry.Capabilities, error) {
			return Passthrough{}, registry.Capabilities{}, nil
		},
		"decimal-rescale": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			scale := uint8(0)
			if v, ok := cfg["target_scale"]; ok {
				scale = uint8(toInt(v))
			}
			return DecimalRescale{TargetScale: scale}, registry.Capabilities{}, nil
		},
		"unix-millis-to-timestamp": func(map[string]any) (registry.Plugin, registry.Capabilities, error) {
			return UnixMillisToTimestamp{}, registry.Capabilities{}, nil
		},
		"pg-numeric-to-ch-decimal": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			scale := uint8(8)
			if v, ok := cfg["scale"]; ok {
				scale = uint8(toInt(v))
			}
			return PgNumericToChDecimal{Scale: scale}, registry.Capabilities{}, nil
		},
	}

	for name, ctor := range builtins {
		if err := r.Register(registry.KindConverter, name, ctor); err != nil {
			return err
		}
	}
	return nil
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
