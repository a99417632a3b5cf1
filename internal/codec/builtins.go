package codec

import (
	"fmt"

	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/registry"
)

// pluginCodec adapts a Codec to registry.Plugin; codecs hold no resources
// of their own to release (codecs are stateless except for the schema/
// config captured at construction).
type pluginCodec struct {
	Codec
}

func (pluginCodec) Close() error { return nil }

// RegisterBuiltins registers the two concrete format codecs this build
// ships under their conventional plugin names: "jsonline" and "lenproto".
func RegisterBuiltins(r *registry.Registry) error {
	builtins := map[string]registry.Constructor{
		"jsonline": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			fields, _ := cfg["fields"].([]any)
			names := make([]string, 0, len(fields))
			for _, f := range fields {
				if s, ok := f.(string); ok {
					names = append(names, s)
				}
			}
			return pluginCodec{NewJSONLine(JSONLineConfig{Fields: names})}, registry.Capabilities{}, nil
		},
		"lenproto": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			schema, err := lenprotoSchemaFromConfig(cfg)
			if err != nil {
				return nil, registry.Capabilities{}, err
			}
			return pluginCodec{NewLenproto(schema)}, registry.Capabilities{}, nil
		},
	}

	for name, ctor := range builtins {
		if err := r.Register(registry.KindFormat, name, ctor); err != nil {
			return err
		}
	}
	return nil
}

// lenprotoSchemaFromConfig reads a `fields = [{name=..., type=...}, ...]`
// config blob into the explicit Schema Lenproto requires (a
// flat, schema-ful codec standing in for Protobuf).
func lenprotoSchemaFromConfig(cfg map[string]any) (gschema.Schema, error) {
	raw, _ := cfg["fields"].([]any)
	fields := make([]gschema.Field, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return gschema.Schema{}, fmt.Errorf("codec: lenproto field entry must be a table with name/type")
		}
		name, _ := m["name"].(string)
		wireType, _ := m["type"].(string)
		if name == "" || wireType == "" {
			return gschema.Schema{}, fmt.Errorf("codec: lenproto field requires both name and type")
		}
		fields = append(fields, gschema.Field{Name: name, Type: gschema.FieldType{Name: wireType}})
	}
	return gschema.Schema{Fields: fields}, nil
}
