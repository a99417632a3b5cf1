package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/convert"
	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/registry"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r := registry.New()
	require.NoError(t, convert.RegisterBuiltins(r))
	return NewResolver(r)
}

func tradeSourceSchema() gschema.Schema {
	return gschema.Schema{Fields: []gschema.Field{
		{Name: "exchange", Type: gschema.FieldType{Name: "string"}},
		{Name: "symbol", Type: gschema.FieldType{Name: "string"}},
		{Name: "bid", Type: gschema.FieldType{Name: "float64"}},
		{Name: "ask", Type: gschema.FieldType{Name: "float64"}},
		{Name: "volume", Type: gschema.FieldType{Name: "int64"}},
		{Name: "ts_ms", Type: gschema.FieldType{Name: "int64"}},
	}}
}

// TestResolveRenameExcludeComputed: the mapping script excludes exchange,
// renames symbol->sym as LowCardinality(String), passes
// bid/ask/volume through, and synthesizes wrt_ts and spread. The resolved
// target field order is exactly sym, bid, ask, volume, wrt_ts, spread --
// the source's ts_ms is not named by the script, so it does not appear in
// the target.
func TestResolveRenameExcludeComputed(t *testing.T) {
	script := `[
		exclude("exchange"),
		field("symbol", {"name": "sym", "type": "LowCardinality(String)"}),
		field("bid", "bid"),
		field("ask", "ask"),
		field("volume", "volume"),
		computed({"name": "wrt_ts", "type": "DateTime64(3)"}),
		computed({"name": "spread", "type": "Float64"})
	]`

	r := newTestResolver(t)
	initial := gschema.Schema{Attrs: map[string]string{"table": "trades", "engine": "MergeTree"}}

	ms, err := r.Resolve(tradeSourceSchema(), initial, script)
	require.NoError(t, err)

	gotNames := make([]string, 0, len(ms.Target.Fields))
	for _, f := range ms.Target.Fields {
		gotNames = append(gotNames, f.Name)
	}
	assert.Equal(t, []string{"sym", "bid", "ask", "volume", "wrt_ts", "spread"}, gotNames)
	assert.Equal(t, "MergeTree", ms.Target.Attrs["engine"])

	// exchange is excluded, not emitted to the target.
	var excluded *FieldMap
	for i := range ms.Fields {
		if ms.Fields[i].HasSource && ms.Fields[i].Source.Name == "exchange" {
			excluded = &ms.Fields[i]
		}
	}
	require.NotNil(t, excluded)
	assert.False(t, excluded.HasTarget)
	assert.Equal(t, ConverterExcluded, excluded.ConverterKind)

	// symbol maps to sym via passthrough, preserving the source index.
	var symField *FieldMap
	for i := range ms.Fields {
		if ms.Fields[i].HasSource && ms.Fields[i].Source.Name == "symbol" {
			symField = &ms.Fields[i]
		}
	}
	require.NotNil(t, symField)
	assert.Equal(t, 1, symField.Source.Index)
	assert.Equal(t, "sym", symField.Target.Name)
	assert.Equal(t, "passthrough", symField.ConverterName)

	// wrt_ts and spread are computed, with no source binding.
	for _, name := range []string{"wrt_ts", "spread"} {
		var found *FieldMap
		for i := range ms.Fields {
			if ms.Fields[i].HasTarget && ms.Fields[i].Target.Name == name {
				found = &ms.Fields[i]
			}
		}
		require.NotNil(t, found, name)
		assert.False(t, found.HasSource, name)
		assert.Equal(t, ConverterComputed, found.ConverterKind, name)
	}
}

// TestResolveComputedPropertiesSurviveRoundTrip guards against the
// "properties" map getting dropped between the script's map literal and
// the resolved MapSchema (Field is a {name, field_type,
// properties} triple) -- pipeline.DefaultMaterialize relies on Attr("expr")
// reaching the target field intact.
func TestResolveComputedPropertiesSurviveRoundTrip(t *testing.T) {
	r := newTestResolver(t)
	script := `[computed({"name": "spread", "type": "Float64", "properties": {"expr": "ask-bid"}})]`
	ms, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, script)
	require.NoError(t, err)
	require.Len(t, ms.Target.Fields, 1)

	expr, ok := ms.Target.Fields[0].Attr("expr")
	require.True(t, ok)
	assert.Equal(t, "ask-bid", expr)
}

func TestResolveUnknownSourceFieldFails(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, `[field("does_not_exist", "x")]`)
	require.ErrorIs(t, err, ErrUnknownSourceField)
}

func TestResolveUnknownConverterFails(t *testing.T) {
	r := newTestResolver(t)
	script := `[field("bid", {"name": "bid", "converter": "not-a-real-converter"})]`
	_, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, script)
	require.ErrorIs(t, err, ErrUnknownConverter)
}

func TestResolveDuplicateTargetNameFails(t *testing.T) {
	r := newTestResolver(t)
	script := `[field("bid", "x"), field("ask", "x")]`
	_, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, script)
	require.ErrorIs(t, err, ErrDuplicateTargetField)
}

func TestResolveFieldComputedCollisionFails(t *testing.T) {
	r := newTestResolver(t)
	script := `[field("bid", "x"), computed("x")]`
	_, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, script)
	require.ErrorIs(t, err, ErrDuplicateTargetField)
}

func TestResolveHasPredicateBranchesOnSourceSchema(t *testing.T) {
	r := newTestResolver(t)
	script := `[has("nonexistent_col") ? field("nonexistent_col", "x") : computed("x")]`
	ms, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, script)
	require.NoError(t, err)
	require.Len(t, ms.Fields, 1)
	assert.Equal(t, ConverterComputed, ms.Fields[0].ConverterKind)
}

func TestResolveFieldWithExplicitConverter(t *testing.T) {
	r := newTestResolver(t)
	script := `[field("ts_ms", {"name": "event_time", "converter": "unix-millis-to-timestamp"})]`
	ms, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, script)
	require.NoError(t, err)
	require.Len(t, ms.Fields, 1)
	assert.Equal(t, "unix-millis-to-timestamp", ms.Fields[0].ConverterName)
	assert.NotNil(t, ms.Fields[0].Converter)
}

func TestResolveScriptCompileErrorIsWrapped(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, `this is not valid CEL (((`)
	require.ErrorIs(t, err, ErrScriptCompile)
}

func TestResolveScriptMustEvaluateToList(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.Resolve(tradeSourceSchema(), gschema.Schema{}, `"not a list"`)
	require.ErrorIs(t, err, ErrScriptEval)
}
