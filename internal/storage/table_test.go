package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/convert"
	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/mapping"
	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/value"
)

func tradeLenprotoSchema() gschema.Schema {
	return gschema.Schema{Fields: []gschema.Field{
		{Name: "symbol", Type: gschema.FieldType{Name: codec.WireString}},
		{Name: "bid", Type: gschema.FieldType{Name: codec.WireFloat64}},
		{Name: "ask", Type: gschema.FieldType{Name: codec.WireFloat64}},
	}}
}

func resolveIdentityMapSchema(t *testing.T, source gschema.Schema) mapping.MapSchema {
	t.Helper()
	r := registry.New()
	require.NoError(t, convert.RegisterBuiltins(r))
	resolver := mapping.NewResolver(r)

	ms, err := resolver.Resolve(source, gschema.Schema{}, `[
		field("symbol", "symbol"),
		field("bid", "bid"),
		field("ask", "ask"),
		computed({"name": "spread", "type": "Float64", "properties": {"expr": "ask-bid"}})
	]`)
	require.NoError(t, err)
	return ms
}

// TestTableUpsertKeepsLatestPerKey: four frames for keys BTC, ETH, BTC,
// SOL; a snapshot read after all four applies returns
// exactly three entries with BTC holding the second-of-two BTC frame.
func TestTableUpsertKeepsLatestPerKey(t *testing.T) {
	source := tradeLenprotoSchema()
	ms := resolveIdentityMapSchema(t, source)

	tbl, err := NewTable("trades", TableConfig{KeyField: "symbol"})
	require.NoError(t, err)
	defer tbl.Close()

	lp := codec.NewLenproto(source)
	ctx := context.Background()
	require.NoError(t, tbl.Init(ctx, topic.Context{Codec: lp, MapSchema: &ms}))

	type frame struct {
		symbol   string
		bid, ask float64
	}
	frames := []frame{
		{"BTC", 50000, 50001},
		{"ETH", 3000, 3001},
		{"BTC", 51000, 51002},
		{"SOL", 100, 101},
	}

	for i, f := range frames {
		row := value.Row{value.OwnedString(f.symbol), value.Float64(f.bid), value.Float64(f.ask)}
		enc, err := lp.Serialize(row)
		require.NoError(t, err)
		require.NoError(t, tbl.Save(ctx, topicrecord.New(int64(i), enc)))
	}

	res, err := tbl.Read(ctx, topic.ReadSnapshot, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	var btcBid float64
	for _, r := range res.Records {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(r.Data, &doc))
		if doc["symbol"] == "BTC" {
			btcBid = doc["bid"].(float64)
		}
	}
	assert.Equal(t, 51000.0, btcBid)
}

func TestTableComputedSpreadMaterializes(t *testing.T) {
	source := tradeLenprotoSchema()
	ms := resolveIdentityMapSchema(t, source)

	tbl, err := NewTable("trades2", TableConfig{KeyField: "symbol"})
	require.NoError(t, err)
	defer tbl.Close()

	lp := codec.NewLenproto(source)
	ctx := context.Background()
	require.NoError(t, tbl.Init(ctx, topic.Context{Codec: lp, MapSchema: &ms}))

	row := value.Row{value.OwnedString("BTC"), value.Float64(50000.0), value.Float64(50001.0)}
	enc, err := lp.Serialize(row)
	require.NoError(t, err)
	require.NoError(t, tbl.Save(ctx, topicrecord.New(0, enc)))

	res, err := tbl.Read(ctx, topic.ReadSnapshot, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(res.Records[0].Data, &doc))
	assert.Equal(t, 1.0, doc["spread"])
}

// TestTableQueryFiltersByTimestampAndLimit: query reads apply the ts_ms
// range and limit against the mapped ts_ms column; a zero ToMs means no
// upper bound.
func TestTableQueryFiltersByTimestampAndLimit(t *testing.T) {
	source := gschema.Schema{Fields: []gschema.Field{
		{Name: "symbol", Type: gschema.FieldType{Name: codec.WireString}},
		{Name: "ts_ms", Type: gschema.FieldType{Name: codec.WireInt64}},
	}}
	r := registry.New()
	require.NoError(t, convert.RegisterBuiltins(r))
	ms, err := mapping.NewResolver(r).Resolve(source, gschema.Schema{}, `[
		field("symbol", "symbol"),
		field("ts_ms", "ts_ms")
	]`)
	require.NoError(t, err)

	tbl, err := NewTable("stamped", TableConfig{KeyField: "symbol"})
	require.NoError(t, err)
	defer tbl.Close()

	lp := codec.NewLenproto(source)
	ctx := context.Background()
	require.NoError(t, tbl.Init(ctx, topic.Context{Codec: lp, MapSchema: &ms}))

	for i, sym := range []string{"BTC", "ETH", "SOL", "ADA"} {
		ts := int64((i + 1) * 1000)
		row := value.Row{value.OwnedString(sym), value.Int64(ts)}
		enc, err := lp.Serialize(row)
		require.NoError(t, err)
		require.NoError(t, tbl.Save(ctx, topicrecord.New(ts, enc)))
	}

	res, err := tbl.Read(ctx, topic.ReadQuery, topic.ReadParams{FromMs: 2000, ToMs: 3000})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	for _, rec := range res.Records {
		assert.GreaterOrEqual(t, rec.TsMs, int64(2000))
		assert.LessOrEqual(t, rec.TsMs, int64(3000))
	}

	res, err = tbl.Read(ctx, topic.ReadQuery, topic.ReadParams{FromMs: 2000, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	res, err = tbl.Read(ctx, topic.ReadQuery, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)
}

// TestTableSaveRejectsNullKeyField: key-field
// extraction fails when the key position's value is Null.
func TestTableSaveRejectsNullKeyField(t *testing.T) {
	source := tradeLenprotoSchema()
	ms := resolveIdentityMapSchema(t, source)

	tbl, err := NewTable("trades3", TableConfig{KeyField: "symbol"})
	require.NoError(t, err)
	defer tbl.Close()

	lp := codec.NewLenproto(source)
	ctx := context.Background()
	require.NoError(t, tbl.Init(ctx, topic.Context{Codec: lp, MapSchema: &ms}))

	row := value.Row{value.Null(), value.Float64(50000.0), value.Float64(50001.0)}
	enc, err := lp.Serialize(row)
	require.NoError(t, err)

	err = tbl.Save(ctx, topicrecord.New(0, enc))
	require.ErrorIs(t, err, ErrMissingKeyField)
}

func TestTableSubscribeBlocksUntilNextSave(t *testing.T) {
	source := tradeLenprotoSchema()
	ms := resolveIdentityMapSchema(t, source)

	tbl, err := NewTable("trades3", TableConfig{KeyField: "symbol"})
	require.NoError(t, err)
	defer tbl.Close()

	lp := codec.NewLenproto(source)
	ctx := context.Background()
	require.NoError(t, tbl.Init(ctx, topic.Context{Codec: lp, MapSchema: &ms}))

	row := value.Row{value.OwnedString("BTC"), value.Float64(1), value.Float64(2)}
	enc, err := lp.Serialize(row)
	require.NoError(t, err)
	require.NoError(t, tbl.Save(ctx, topicrecord.New(0, enc)))

	initial, err := tbl.Read(ctx, topic.ReadSubscribe, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, initial.Records, 1)

	done := make(chan topic.ReadResult, 1)
	go func() {
		res, _ := tbl.Read(ctx, topic.ReadSubscribe, topic.ReadParams{Previous: initial.Continuation})
		done <- res
	}()

	row2 := value.Row{value.OwnedString("ETH"), value.Float64(3), value.Float64(4)}
	enc2, err := lp.Serialize(row2)
	require.NoError(t, err)
	require.NoError(t, tbl.Save(ctx, topicrecord.New(1, enc2)))

	res := <-done
	assert.Len(t, res.Records, 2)
}
