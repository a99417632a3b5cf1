// Package gschema implements Gauss's schema model: the shared
// structure used for a format codec's source schema, a storage's target
// schema, and an existing-storage introspection schema. Field position is
// the only identity carried at runtime; names exist for mapping-time
// lookups only.
package gschema

// FieldType is a (name, attribute map) pair. Both the name and the
// attribute keys are free-form strings; their meaning is assigned by
// whichever component declares the field — a format codec for source
// types, a storage engine for target types.
type FieldType struct {
	Name  string
	Attrs map[string]string
}

// Attr looks up an attribute by key.
func (t FieldType) Attr(key string) (string, bool) {
	if t.Attrs == nil {
		return "", false
	}
	v, ok := t.Attrs[key]
	return v, ok
}

// Field is one column/slot of a Schema: a name, a type, and its own
// attribute map distinct from the type's (the three-part
// `Field{name, field_type, properties}`). Properties carries mapping-script
// field-level settings (a computed field's "expr"/"default" convention);
// FieldType.Attrs carries type-level attributes assigned by the format
// codec or storage engine that declared the type itself.
type Field struct {
	Name       string
	Type       FieldType
	Properties map[string]string
}

// Attr looks up a field-level property by key.
func (f Field) Attr(key string) (string, bool) {
	if f.Properties == nil {
		return "", false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// Schema is an ordered vector of Field plus schema-level attributes (e.g.
// table name, storage engine, order key for a target schema).
type Schema struct {
	Fields []Field
	Attrs  map[string]string
}

// IndexOf returns the position of the field named name, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the field named name and whether it was found.
func (s Schema) Field(name string) (Field, bool) {
	i := s.IndexOf(name)
	if i < 0 {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.Fields) }

// Attr looks up a schema-level attribute.
func (s Schema) Attr(key string) (string, bool) {
	if s.Attrs == nil {
		return "", false
	}
	v, ok := s.Attrs[key]
	return v, ok
}

// Names returns the ordered field names, a convenience for building DDL or
// diagnostics.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}
