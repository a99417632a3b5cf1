// Package convert implements Gauss's field converter contract:
// named Value→Value translators resolved once at start time and baked into
// a MapSchema's FieldMap entries.
package convert

import "github.com/gauss-stream/gauss/internal/value"

// Converter is a named, stateless-at-call-time Value transform. A
// converter must never fail at call time; domain-invalid input is
// expressed as a null output.
type Converter interface {
	// Convert transforms one Value. Implementations must not panic and
	// must not return an error — encode "can't convert this" as
	// value.Null().
	Convert(v value.Value) value.Value

	// Close releases any resources the converter holds. Most converters
	// are pure functions and no-op here; it exists so Converter satisfies
	// registry.Plugin and participates in ordered plugin teardown.
	Close() error
}

// Passthrough is the identity converter. It is always available under the
// name "passthrough" and is also the implicit converter
// when a FieldMap names no converter plugin.
type Passthrough struct{}

func (Passthrough) Convert(v value.Value) value.Value { return v }
func (Passthrough) Close() error                      { return nil }
