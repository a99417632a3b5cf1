package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/value"
)

func TestJSONLineSchemaLessPassthrough(t *testing.T) {
	c := NewJSONLine(JSONLineConfig{})
	_, hasSchema := c.Schema()
	assert.False(t, hasSchema)

	raw := []byte(`{"symbol":"BTC","bid":50000}`)
	row, err := c.Deserialize(raw)
	require.NoError(t, err)
	require.Len(t, row, 1)

	out, err := c.Serialize(row)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestJSONLineFieldExtractionAndHierarchicalPaths(t *testing.T) {
	c := NewJSONLine(JSONLineConfig{Fields: []string{"symbol", "$.order.id"}})
	schema, ok := c.Schema()
	require.True(t, ok)
	assert.Equal(t, 2, schema.Len())

	row, err := c.Deserialize([]byte(`{"symbol":"BTC","order":{"id":"abc"}}`))
	require.NoError(t, err)
	require.Len(t, row, 2)

	sym, _ := row[0].Str()
	assert.Equal(t, "BTC", sym)
	id, _ := row[1].Str()
	assert.Equal(t, "abc", id)
}

func TestJSONLineMalformedFrame(t *testing.T) {
	c := NewJSONLine(JSONLineConfig{})
	_, err := c.Deserialize([]byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func lenprotoTestSchema() gschema.Schema {
	return gschema.Schema{Fields: []gschema.Field{
		{Name: "exchange", Type: gschema.FieldType{Name: WireString}},
		{Name: "symbol", Type: gschema.FieldType{Name: WireString}},
		{Name: "bid", Type: gschema.FieldType{Name: WireFloat64}},
		{Name: "ask", Type: gschema.FieldType{Name: WireFloat64}},
		{Name: "volume", Type: gschema.FieldType{Name: WireInt64}},
	}}
}

func TestLenprotoRoundTrip(t *testing.T) {
	c := NewLenproto(lenprotoTestSchema())

	row := value.Row{
		value.OwnedString("X"),
		value.OwnedString("BTC"),
		value.Float64(50000.0),
		value.Float64(50001.0),
		value.Int64(12345),
	}

	encoded, err := c.Serialize(row)
	require.NoError(t, err)

	decoded, err := c.Deserialize(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 5)

	sym, _ := decoded[1].Str()
	assert.Equal(t, "BTC", sym)
	bid, _ := decoded[2].Float64()
	assert.Equal(t, 50000.0, bid)
	vol, _ := decoded[4].Int64()
	assert.Equal(t, int64(12345), vol)
}

func TestLenprotoNullField(t *testing.T) {
	c := NewLenproto(lenprotoTestSchema())
	row := value.Row{
		value.Null(),
		value.OwnedString("ETH"),
		value.Float64(1.0),
		value.Float64(1.1),
		value.Int64(1),
	}

	encoded, err := c.Serialize(row)
	require.NoError(t, err)
	decoded, err := c.Deserialize(encoded)
	require.NoError(t, err)
	assert.True(t, decoded[0].IsNull())
}

func TestLenprotoTruncatedFrameIsMalformed(t *testing.T) {
	c := NewLenproto(lenprotoTestSchema())
	_, err := c.Deserialize([]byte{presentFlag, 0, 0, 0, 10, 'a'})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestLenprotoWrongKindIsInvalidValue(t *testing.T) {
	c := NewLenproto(lenprotoTestSchema())
	row := value.Row{
		value.Int64(1), // should be string
		value.OwnedString("BTC"),
		value.Float64(1.0),
		value.Float64(1.1),
		value.Int64(1),
	}
	_, err := c.Serialize(row)
	require.ErrorIs(t, err, ErrInvalidValue)
}
