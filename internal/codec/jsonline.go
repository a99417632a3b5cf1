package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/value"
)

// JSONLine decodes one JSON object per frame into a Row. Field order is
// fixed at construction time by the configured field list (JSONPath-like
// access paths such as "$.order.id" address nested objects, the
// hierarchical-format note; a flat codec just uses plain names). With no
// fields configured, JSONLine is schema-less: Schema() reports ok=false,
// and Deserialize returns a single-element Row holding the whole decoded
// document as an opaque map Value — suitable only for pipelines with no
// schema-mapping configured.
type JSONLine struct {
	fields []jsonField
	schema gschema.Schema
	hasSchema bool
}

type jsonField struct {
	name string
	path []string // split JSONPath segments, "$" stripped
}

// JSONLineConfig names the ordered fields JSONLine should extract. Paths
// prefixed with "$." are split on "." past the prefix; plain names are
// treated as a single top-level key.
type JSONLineConfig struct {
	Fields []string
}

// NewJSONLine builds a JSONLine codec. With an empty Fields list the codec
// is schema-less.
func NewJSONLine(cfg JSONLineConfig) *JSONLine {
	c := &JSONLine{}
	if len(cfg.Fields) == 0 {
		return c
	}

	c.hasSchema = true
	fields := make([]gschema.Field, 0, len(cfg.Fields))
	for _, name := range cfg.Fields {
		c.fields = append(c.fields, jsonField{name: name, path: splitJSONPath(name)})
		fields = append(fields, gschema.Field{Name: name, Type: gschema.FieldType{Name: "json"}})
	}
	c.schema = gschema.Schema{Fields: fields}
	return c
}

func splitJSONPath(name string) []string {
	trimmed := strings.TrimPrefix(name, "$.")
	if trimmed == name {
		return []string{name}
	}
	return strings.Split(trimmed, ".")
}

func (c *JSONLine) Schema() (gschema.Schema, bool) {
	return c.schema, c.hasSchema
}

func (c *JSONLine) Deserialize(data []byte) (value.Row, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if !c.hasSchema {
		return value.Row{jsonToValue(doc)}, nil
	}

	row := make(value.Row, len(c.fields))
	for i, f := range c.fields {
		row[i] = jsonToValue(navigate(doc, f.path))
	}
	return row, nil
}

func navigate(doc any, path []string) any {
	cur := doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func jsonToValue(v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(t)
	case float64:
		return value.Float64(t)
	case string:
		return value.OwnedString(t)
	case []any:
		elems := make([]value.Value, len(t))
		for i, e := range t {
			elems[i] = jsonToValue(e)
		}
		return value.Array(elems)
	case map[string]any:
		pairs := make([]value.Pair, 0, len(t))
		for k, e := range t {
			pairs = append(pairs, value.Pair{Key: value.OwnedString(k), Val: jsonToValue(e)})
		}
		return value.Map(pairs)
	default:
		return value.Null()
	}
}

func (c *JSONLine) Serialize(row value.Row) ([]byte, error) {
	if !c.hasSchema {
		if len(row) != 1 {
			return nil, fmt.Errorf("%w: schema-less JSONLine serializes a single document value", ErrInvalidValue)
		}
		return json.Marshal(valueToJSON(row[0]))
	}

	doc := make(map[string]any, len(c.fields))
	for i, f := range c.fields {
		if i >= len(row) {
			return nil, fmt.Errorf("%w: row shorter than schema", ErrInvalidValue)
		}
		assignPath(doc, f.path, valueToJSON(row[i]))
	}
	return json.Marshal(doc)
}

func assignPath(doc map[string]any, path []string, v any) {
	cur := doc
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = v
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
}

func valueToJSON(v value.Value) any {
	switch v.Kind {
	case value.KindNull:
		return nil
	case value.KindBool:
		b, _ := v.Bool()
		return b
	case value.KindInt64:
		n, _ := v.Int64()
		return n
	case value.KindUint64:
		n, _ := v.Uint64()
		return n
	case value.KindFloat32:
		f, _ := v.Float32()
		return f
	case value.KindFloat64:
		f, _ := v.Float64()
		return f
	case value.KindString:
		s, _ := v.Str()
		return s
	case value.KindBytes:
		b, _ := v.Bytes()
		return b
	case value.KindArray, value.KindTuple:
		elems, _ := v.Elems()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = valueToJSON(e)
		}
		return out
	case value.KindMap:
		pairs, _ := v.Pairs()
		out := make(map[string]any, len(pairs))
		for _, p := range pairs {
			k, _ := p.Key.Str()
			out[k] = valueToJSON(p.Val)
		}
		return out
	default:
		return nil
	}
}
