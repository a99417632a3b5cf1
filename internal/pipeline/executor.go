// Package pipeline implements Gauss's Pipeline Supervisor and
// the per-record Data-Pipeline Executor: topology build,
// start-time read-mode validation, schema-mapping resolution, subscription
// wiring with per-subscriber back-pressure, and the deserialize → convert →
// write-native loop a decoding storage runs per record.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/mapping"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/value"
)

// NativeWriter is the storage-side half of the executor contract: the
// collected output values land here, and the storage either emits one
// native row or appends to a batch buffer. Columns and vals are
// positional and aligned.
type NativeWriter interface {
	WriteNative(cols []string, vals []any) error
}

// MaterializeFunc synthesizes a computed target field's value from the
// already-resolved columns of the same row (a target-only column with a
// default or materialized expression). byName holds every target column
// resolved so far, keyed by target field name.
type MaterializeFunc func(target gschema.Field, byName map[string]any) value.Value

// DefaultMaterialize recognizes two conventions: a "default" property of
// "now_ms" stamps the current time, and an "expr" property of the form
// "a-b" subtracts two already-resolved target columns by name — enough
// for write-timestamp and spread-style derived columns.
func DefaultMaterialize(target gschema.Field, byName map[string]any) value.Value {
	if expr, ok := target.Attr("expr"); ok {
		parts := strings.SplitN(expr, "-", 2)
		if len(parts) == 2 {
			a, aok := asFloat(byName[strings.TrimSpace(parts[0])])
			b, bok := asFloat(byName[strings.TrimSpace(parts[1])])
			if aok && bok {
				return value.Float64(a - b)
			}
		}
	}
	if def, ok := target.Attr("default"); ok && def == "now_ms" {
		return value.Int64(time.Now().UnixMilli())
	}
	return value.Null()
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Executor runs the per-record pipeline for one decoding storage:
// deserialize the record, walk the resolved MapSchema applying each
// field's converter, and hand the collected output to a NativeWriter.
type Executor struct {
	Codec       codec.Codec
	Mapping     *mapping.MapSchema
	Materialize MaterializeFunc
}

// NewExecutor builds an Executor. A nil materialize uses DefaultMaterialize.
func NewExecutor(c codec.Codec, ms *mapping.MapSchema, materialize MaterializeFunc) *Executor {
	if materialize == nil {
		materialize = DefaultMaterialize
	}
	return &Executor{Codec: c, Mapping: ms, Materialize: materialize}
}

// Process deserializes rec, resolves every FieldMap, and calls
// writer.WriteNative once. The Row produced by Deserialize is never
// retained past this call: Resolve takes owned copies into vals before
// returning.
func (e *Executor) Process(rec topicrecord.Record, writer NativeWriter) error {
	row, err := e.Codec.Deserialize(rec.Data)
	if err != nil {
		return fmt.Errorf("pipeline: deserializing record for executor: %w", err)
	}
	cols, vals, err := e.Resolve(row)
	if err != nil {
		return err
	}
	return writer.WriteNative(cols, vals)
}

// Resolve walks e.Mapping.Fields in order, producing the target column
// name and native Go value for every entry that has a target: passthrough
// copies the source value, plugin runs its resolved Converter, computed
// materializes, excluded is skipped entirely.
func (e *Executor) Resolve(row value.Row) (cols []string, vals []any, err error) {
	cols = make([]string, 0, len(e.Mapping.Fields))
	vals = make([]any, 0, len(e.Mapping.Fields))
	byName := make(map[string]any, len(e.Mapping.Fields))

	for _, fm := range e.Mapping.Fields {
		if !fm.HasTarget {
			continue
		}

		var v value.Value
		switch fm.ConverterKind {
		case mapping.ConverterComputed:
			v = e.Materialize(fm.Target, byName)
		default:
			if fm.Source.Index >= len(row) {
				return nil, nil, fmt.Errorf("pipeline: source index %d out of range for a %d-field row", fm.Source.Index, len(row))
			}
			in := row[fm.Source.Index]
			if fm.Converter != nil {
				v = fm.Converter.Convert(in)
			} else {
				v = in
			}
		}

		native := nativeValue(v)
		cols = append(cols, fm.Target.Name)
		vals = append(vals, native)
		byName[fm.Target.Name] = native
	}
	return cols, vals, nil
}

// nativeValue extracts a Go-native form of v, taking owned copies of any
// borrowed string/bytes payload so it can outlive the originating record:
// owned bytes land in native column buffers before the Row is dropped.
func nativeValue(v value.Value) any {
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
		return float64(f)
	case value.KindFloat64:
		f, _ := v.Float64()
		return f
	case value.KindString:
		s, _ := v.Str()
		return s
	case value.KindBytes:
		b, _ := v.Bytes()
		return append([]byte(nil), b...)
	case value.KindTimestamp:
		ts, _ := v.TimestampVal()
		return ts.Micros
	case value.KindDecimal:
		d, _ := v.DecimalVal()
		return d
	default:
		return nil
	}
}
