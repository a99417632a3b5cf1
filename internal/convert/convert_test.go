package convert

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/value"
)

// decimalFromString builds a value.Decimal for an unscaled integer string
// at the given scale, mirroring how a source format codec would hand a
// decimal(p,s) column to the converter layer.
func decimalFromString(t *testing.T, unscaled string, scale uint8) value.Decimal {
	t.Helper()
	n, ok := new(big.Int).SetString(unscaled, 10)
	require.True(t, ok)
	hi := new(big.Int).Rsh(n, 64).Int64()
	lo := new(big.Int).And(n, new(big.Int).SetUint64(^uint64(0))).Uint64()
	return value.Decimal{Hi: hi, Lo: lo, Scale: scale}
}

func decimalToString(d value.Decimal) string {
	n := decimalBigInt(d)
	s := n.String()
	scale := int(d.Scale)
	if scale == 0 {
		return s
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for len(s) <= scale {
		s = "0" + s
	}
	out := s[:len(s)-scale] + "." + s[len(s)-scale:]
	if neg {
		out = "-" + out
	}
	return out
}

func TestPassthroughIsIdentity(t *testing.T) {
	v := value.Int64(42)
	assert.Equal(t, v, Passthrough{}.Convert(v))
}

func TestDecimalRescaleUpscales(t *testing.T) {
	d := decimalFromString(t, "12345", 2) // 123.45
	out := DecimalRescale{TargetScale: 4}.Convert(value.DecimalValue(d))
	rd, ok := out.DecimalVal()
	require.True(t, ok)
	assert.Equal(t, "123.4500", decimalToString(rd))
}

func TestDecimalRescaleDownscalesTruncating(t *testing.T) {
	d := decimalFromString(t, "1234567", 4) // 123.4567
	out := DecimalRescale{TargetScale: 2}.Convert(value.DecimalValue(d))
	rd, ok := out.DecimalVal()
	require.True(t, ok)
	assert.Equal(t, "123.45", decimalToString(rd))
}

func TestDecimalRescaleNonDecimalIsNull(t *testing.T) {
	out := DecimalRescale{TargetScale: 2}.Convert(value.Int64(5))
	assert.True(t, out.IsNull())
}

func TestUnixMillisToTimestamp(t *testing.T) {
	out := UnixMillisToTimestamp{}.Convert(value.Int64(1_700_000_000_000))
	ts, ok := out.TimestampVal()
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_000_000_000), ts.Micros)
	assert.Equal(t, uint8(3), ts.Precision)
}

func TestUnixMillisToTimestampNonIntIsNull(t *testing.T) {
	out := UnixMillisToTimestamp{}.Convert(value.OwnedString("not a number"))
	assert.True(t, out.IsNull())
}

// TestPgNumericToChDecimalRescale: a source value
// decimal(18,8)=12345678901 (i.e. 123.45678901) routed through
// pg-numeric-to-ch-decimal decodes back to 123.45678901.
func TestPgNumericToChDecimalRescale(t *testing.T) {
	d := decimalFromString(t, "12345678901", 8)
	out := PgNumericToChDecimal{Scale: 8}.Convert(value.DecimalValue(d))
	rd, ok := out.DecimalVal()
	require.True(t, ok)
	assert.Equal(t, "123.45678901", decimalToString(rd))
}

func TestPgNumericToChDecimalOverflowIsNull(t *testing.T) {
	huge := decimalFromString(t, "123456789012345678901234567890", 8)
	out := PgNumericToChDecimal{Scale: 8}.Convert(value.DecimalValue(huge))
	assert.True(t, out.IsNull())
}

func TestRegisterBuiltinsLoadsEachByName(t *testing.T) {
	r := registry.New()
	require.NoError(t, RegisterBuiltins(r))

	for _, name := range []string{"passthrough", "decimal-rescale", "unix-millis-to-timestamp", "pg-numeric-to-ch-decimal"} {
		h, _, err := r.Load(registry.KindConverter, name, nil)
		require.NoError(t, err, name)
		inst, err := r.Instance(h)
		require.NoError(t, err)
		_, ok := inst.(Converter)
		assert.True(t, ok, name)
	}
}
