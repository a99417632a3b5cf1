// Package mapping implements Gauss's Schema-Mapping Resolver:
// it compiles a source schema, an initial target schema, and a
// user-supplied mapping script into a MapSchema — an ordered list of
// FieldMap bindings baked once at startup and walked on every record
// thereafter.
//
// The mapping script is CEL (google/cel-go): compile-once, eval-many, no
// filesystem/network/process access by construction — a sandboxed
// embedded scripting language. The resolver evaluates one list expression
// against three builder functions (field/exclude/computed) plus a has()
// predicate closed over the source schema.
package mapping

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/convert"
	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/registry"
)

var (
	// ErrUnknownSourceField is returned when field(s, _) or exclude(s)
	// names a source field absent from the source schema.
	ErrUnknownSourceField = errors.New("mapping: unknown source field")
	// ErrUnknownConverter is returned when a field() target definition
	// names a converter not registered with the registry.
	ErrUnknownConverter = errors.New("mapping: unknown converter")
	// ErrDuplicateTargetField is returned when two FieldMap entries would
	// produce the same target field name.
	ErrDuplicateTargetField = errors.New("mapping: duplicate target field name")
	// ErrScriptCompile wraps a CEL compile-time error in the mapping script.
	ErrScriptCompile = errors.New("mapping: script compile error")
	// ErrScriptEval wraps a CEL runtime error evaluating the script, or the
	// script producing a value of the wrong shape.
	ErrScriptEval = errors.New("mapping: script evaluation error")
)

// FieldRef names a source field by both its schema position and its name;
// the position is what the hot path uses, the name is what diagnostics and
// duplicate-reference warnings report.
type FieldRef struct {
	Index int
	Name  string
}

// ConverterKind classifies how a FieldMap's converter column should be
// read: direct copy, plugin conversion, exclusion, or computed column.
type ConverterKind string

const (
	ConverterPassthrough ConverterKind = "passthrough"
	ConverterPlugin      ConverterKind = "plugin"
	ConverterExcluded    ConverterKind = "excluded"
	ConverterComputed    ConverterKind = "computed"
)

// FieldMap is one resolved binding between a source field (by position),
// a target field, and a converter. Source or Target may be absent — never
// both.
type FieldMap struct {
	HasSource bool
	Source    FieldRef

	HasTarget bool
	Target    gschema.Field

	ConverterKind ConverterKind
	ConverterName string
	Converter     convert.Converter
}

// MapSchema is the resolved execution plan: the preserved source schema,
// the final target schema, and the ordered FieldMap list the executor
// walks per record.
type MapSchema struct {
	Source gschema.Schema
	Target gschema.Schema
	Fields []FieldMap
}

// Resolver compiles a mapping script once and produces a MapSchema. One
// Resolver instance is created per (format, storage) pair at startup;
// it holds no state between calls to Resolve.
type Resolver struct {
	converters *registry.Registry
}

// NewResolver builds a Resolver that resolves converter names from the
// given plugin registry.
func NewResolver(converters *registry.Registry) *Resolver {
	return &Resolver{converters: converters}
}

// scriptOp is the native shape a compiled script's field/exclude/computed
// calls accumulate into, carried through CEL as a dynamic map tagged by
// "__op" and reassembled here after evaluation.
type scriptOp struct {
	op        string // "field", "exclude", "computed"
	source    string
	target    targetDef
	hasTarget bool
}

type targetDef struct {
	Name       string
	Type       string
	Properties map[string]string
	Converter  string
	HasConv    bool
}

// Resolve runs script against source, starting from the DDL-level
// attributes of initial (an empty-fields target schema carrying only
// schema-level attributes such as table name/engine/order key), and
// produces a MapSchema.
func (r *Resolver) Resolve(source gschema.Schema, initial gschema.Schema, script string) (MapSchema, error) {
	env, err := buildEnv(source)
	if err != nil {
		return MapSchema{}, fmt.Errorf("building CEL environment: %w", err)
	}

	ast, issues := env.Compile(script)
	if issues != nil && issues.Err() != nil {
		return MapSchema{}, fmt.Errorf("%w: %v", ErrScriptCompile, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return MapSchema{}, fmt.Errorf("%w: %v", ErrScriptCompile, err)
	}

	out, _, err := prg.Eval(cel.NoVars())
	if err != nil {
		return MapSchema{}, fmt.Errorf("%w: %v", ErrScriptEval, err)
	}

	ops, err := toOps(out)
	if err != nil {
		return MapSchema{}, err
	}

	return r.build(source, initial, ops)
}

// build runs the resolution algorithm over the already-decoded
// builder operations.
func (r *Resolver) build(source, initial gschema.Schema, ops []scriptOp) (MapSchema, error) {
	fields := make([]FieldMap, 0, len(ops))
	targetNames := make(map[string]bool)
	sourceRefs := make(map[string]int)

	for _, op := range ops {
		switch op.op {
		case "field":
			idx := source.IndexOf(op.source)
			if idx < 0 {
				return MapSchema{}, fmt.Errorf("%w: %q", ErrUnknownSourceField, op.source)
			}
			sourceRefs[op.source]++

			convName := op.target.Converter
			if !op.target.HasConv || convName == "" {
				convName = "passthrough"
			}
			conv, err := r.loadConverter(convName)
			if err != nil {
				return MapSchema{}, err
			}

			kind := ConverterPlugin
			if convName == "passthrough" {
				kind = ConverterPassthrough
			}
			tf := targetField(op.target)
			fields = append(fields, FieldMap{
				HasSource:     true,
				Source:        FieldRef{Index: idx, Name: op.source},
				HasTarget:     true,
				Target:        tf,
				ConverterKind: kind,
				ConverterName: convName,
				Converter:     conv,
			})
			targetNames[tf.Name] = true

		case "exclude":
			idx := source.IndexOf(op.source)
			if idx < 0 {
				return MapSchema{}, fmt.Errorf("%w: %q", ErrUnknownSourceField, op.source)
			}
			sourceRefs[op.source]++
			fields = append(fields, FieldMap{
				HasSource:     true,
				Source:        FieldRef{Index: idx, Name: op.source},
				ConverterKind: ConverterExcluded,
			})

		case "computed":
			tf := targetField(op.target)
			if targetNames[tf.Name] {
				return MapSchema{}, fmt.Errorf("%w: %q", ErrDuplicateTargetField, tf.Name)
			}
			targetNames[tf.Name] = true
			fields = append(fields, FieldMap{
				HasTarget:     true,
				Target:        tf,
				ConverterKind: ConverterComputed,
			})

		default:
			return MapSchema{}, fmt.Errorf("%w: unrecognized builder operation %q", ErrScriptEval, op.op)
		}
	}

	// duplicate target names among field() entries are only now fully
	// knowable; recheck across all entries (computed already checked above).
	seen := make(map[string]bool, len(fields))
	targetFields := make([]gschema.Field, 0, len(fields))
	for _, fm := range fields {
		if !fm.HasTarget {
			continue
		}
		if seen[fm.Target.Name] {
			return MapSchema{}, fmt.Errorf("%w: %q", ErrDuplicateTargetField, fm.Target.Name)
		}
		seen[fm.Target.Name] = true
		targetFields = append(targetFields, fm.Target)
	}

	for name, count := range sourceRefs {
		if count > 1 {
			log.Warn().Str("source_field", name).Int("reference_count", count).Msg("mapping script references source field more than once")
		}
	}

	target := gschema.Schema{Fields: targetFields, Attrs: initial.Attrs}
	return MapSchema{Source: source, Target: target, Fields: fields}, nil
}

func (r *Resolver) loadConverter(name string) (convert.Converter, error) {
	h, _, err := r.converters.Load(registry.KindConverter, name, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownConverter, name, err)
	}
	inst, err := r.converters.Instance(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownConverter, name, err)
	}
	conv, ok := inst.(convert.Converter)
	if !ok {
		return nil, fmt.Errorf("%w: %q: plugin is not a Converter", ErrUnknownConverter, name)
	}
	return conv, nil
}

func targetField(t targetDef) gschema.Field {
	return gschema.Field{Name: t.Name, Type: gschema.FieldType{Name: t.Type}, Properties: t.Properties}
}

// buildEnv constructs the CEL environment exposing field/exclude/computed
// as builder functions and has() as a predicate closed over source.
func buildEnv(source gschema.Schema) (*cel.Env, error) {
	dynMapType := cel.MapType(cel.StringType, cel.DynType)

	return cel.NewEnv(
		// has() is ordinarily a CEL macro for field-presence tests on a
		// select expression (has(msg.field)); the mapping script instead
		// calls it with a plain source-field-name string, so the standard
		// macro set is cleared and has is declared as a normal function.
		cel.ClearMacros(),
		cel.Function("field",
			cel.Overload("field_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.DynType,
				cel.BinaryBinding(func(s, t ref.Val) ref.Val {
					return newOpVal("field", s.(types.String).Value().(string), targetFromString(t))
				})),
			cel.Overload("field_string_map", []*cel.Type{cel.StringType, dynMapType}, cel.DynType,
				cel.BinaryBinding(func(s, t ref.Val) ref.Val {
					return newOpVal("field", s.(types.String).Value().(string), targetFromMap(t))
				})),
		),
		cel.Function("exclude",
			cel.Overload("exclude_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					return newOpVal("exclude", s.(types.String).Value().(string), targetDef{})
				})),
		),
		cel.Function("computed",
			cel.Overload("computed_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(func(t ref.Val) ref.Val {
					return newOpVal("computed", "", targetFromString(t))
				})),
			cel.Overload("computed_map", []*cel.Type{dynMapType}, cel.DynType,
				cel.UnaryBinding(func(t ref.Val) ref.Val {
					return newOpVal("computed", "", targetFromMap(t))
				})),
		),
		cel.Function("has",
			cel.Overload("has_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					name := s.(types.String).Value().(string)
					return types.Bool(source.IndexOf(name) >= 0)
				})),
		),
	)
}

func targetFromString(name ref.Val) targetDef {
	return targetDef{Name: name.(types.String).Value().(string)}
}

func targetFromMap(v ref.Val) targetDef {
	m, ok := v.(traits.Mapper)
	if !ok {
		return targetDef{}
	}
	t := targetDef{Properties: map[string]string{}}
	if name, found := m.Find(types.String("name")); found {
		t.Name = asString(name)
	}
	if typ, found := m.Find(types.String("type")); found {
		t.Type = asString(typ)
	}
	if conv, found := m.Find(types.String("converter")); found {
		t.Converter = asString(conv)
		t.HasConv = true
	}
	if props, found := m.Find(types.String("properties")); found {
		if pm, ok := props.(traits.Mapper); ok {
			it := pm.Iterator()
			for it.HasNext() == types.True {
				k := it.Next()
				v, _ := pm.Find(k)
				t.Properties[asString(k)] = asString(v)
			}
		}
	}
	return t
}

func asString(v ref.Val) string {
	if s, ok := v.(types.String); ok {
		return string(s)
	}
	return fmt.Sprintf("%v", v.Value())
}

// newOpVal packages one builder-function result as a CEL dynamic map
// tagged "__op", so the top-level script's list literal can mix
// field()/exclude()/computed() results and still be walked uniformly by
// toOps after evaluation.
func newOpVal(op, source string, target targetDef) ref.Val {
	m := map[string]any{"__op": op}
	if source != "" {
		m["source"] = source
	}
	if target.Name != "" || target.Type != "" || target.HasConv || len(target.Properties) > 0 {
		tm := map[string]any{"name": target.Name, "type": target.Type}
		if target.HasConv {
			tm["converter"] = target.Converter
		}
		if len(target.Properties) > 0 {
			props := make(map[string]any, len(target.Properties))
			for k, v := range target.Properties {
				props[k] = v
			}
			tm["properties"] = props
		}
		m["target"] = tm
	}
	return types.DefaultTypeAdapter.NativeToValue(m)
}

// toOps converts the script's top-level list(dyn) result into scriptOps.
func toOps(v ref.Val) ([]scriptOp, error) {
	lister, ok := v.(traits.Lister)
	if !ok {
		return nil, fmt.Errorf("%w: script must evaluate to a list of builder operations, got %s", ErrScriptEval, v.Type().TypeName())
	}

	var ops []scriptOp
	it := lister.Iterator()
	for it.HasNext() == types.True {
		elem := it.Next()
		m, ok := elem.(traits.Mapper)
		if !ok {
			return nil, fmt.Errorf("%w: list element is not a builder operation", ErrScriptEval)
		}

		op := scriptOp{}
		if opName, found := m.Find(types.String("__op")); found {
			op.op = asString(opName)
		}
		if src, found := m.Find(types.String("source")); found {
			op.source = asString(src)
		}
		if tgt, found := m.Find(types.String("target")); found {
			if tm, ok := tgt.(traits.Mapper); ok {
				op.hasTarget = true
				op.target = targetDef{Properties: map[string]string{}}
				if name, f := tm.Find(types.String("name")); f {
					op.target.Name = asString(name)
				}
				if typ, f := tm.Find(types.String("type")); f {
					op.target.Type = asString(typ)
				}
				if conv, f := tm.Find(types.String("converter")); f {
					op.target.Converter = asString(conv)
					op.target.HasConv = true
				}
				if props, f := tm.Find(types.String("properties")); f {
					if pm, ok := props.(traits.Mapper); ok {
						pit := pm.Iterator()
						for pit.HasNext() == types.True {
							k := pit.Next()
							v, _ := pm.Find(k)
							op.target.Properties[asString(k)] = asString(v)
						}
					}
				}
			}
		}
		ops = append(ops, op)
	}
	return ops, nil
}
