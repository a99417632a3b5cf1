// Package codec implements Gauss's format codec contract: a
// stateless byte↔Row translator that exposes an optional source schema.
package codec

import (
	"errors"

	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/value"
)

// ErrMalformedFrame is returned by Deserialize when bytes cannot be parsed
// into a Row at all (truncated frame, invalid encoding).
var ErrMalformedFrame = errors.New("codec: malformed frame")

// ErrInvalidValue is returned by Serialize when a Row's value disagrees
// with the codec's known schema (wrong Kind for a field's declared type).
var ErrInvalidValue = errors.New("codec: invalid value for field")

// Codec is the format codec contract. Implementations are stateless except
// for schema/config captured at construction.
type Codec interface {
	// Deserialize decodes one frame's bytes into a Row. The Row may borrow
	// from data for any string/bytes variants it produces; the returned
	// Row has the same length and positional correspondence as Schema's
	// field list when Schema is present.
	Deserialize(data []byte) (value.Row, error)

	// Serialize encodes a Row back into owned bytes.
	Serialize(row value.Row) ([]byte, error)

	// Schema returns the source schema, if this codec has one. A
	// schema-less codec (e.g. raw JSON with no declared field list)
	// returns ok=false; configuring a schema-mapping against such a codec
	// is a start-time fatal configuration error.
	Schema() (gschema.Schema, bool)
}
