package gschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaIndexOf(t *testing.T) {
	s := Schema{Fields: []Field{
		{Name: "symbol", Type: FieldType{Name: "string"}},
		{Name: "bid", Type: FieldType{Name: "float64"}},
	}}

	assert.Equal(t, 0, s.IndexOf("symbol"))
	assert.Equal(t, 1, s.IndexOf("bid"))
	assert.Equal(t, -1, s.IndexOf("missing"))
}

func TestSchemaFieldLookup(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "id", Type: FieldType{Name: "uuid"}}}}

	f, ok := s.Field("id")
	assert.True(t, ok)
	assert.Equal(t, "uuid", f.Type.Name)

	_, ok = s.Field("nope")
	assert.False(t, ok)
}

func TestSchemaAttrAndNames(t *testing.T) {
	s := Schema{
		Fields: []Field{{Name: "a"}, {Name: "b"}},
		Attrs:  map[string]string{"engine": "MergeTree"},
	}

	v, ok := s.Attr("engine")
	assert.True(t, ok)
	assert.Equal(t, "MergeTree", v)

	assert.Equal(t, []string{"a", "b"}, s.Names())
}
