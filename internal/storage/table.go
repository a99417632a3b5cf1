package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/gauss-stream/gauss/internal/mapping"
	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/pipeline"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/value"
)

// ErrMissingKeyField is returned by Save when the configured key field
// resolves to Null for a record being upserted.
var ErrMissingKeyField = errors.New("storage: missing key field")

// ErrKeyFieldNotFound is returned by Init when the configured key field
// does not name a position in the source schema, or when that
// source field has no corresponding target column to hold the upsert key.
var ErrKeyFieldNotFound = errors.New("storage: key field not found")

// TableConfig configures a Table storage: the upsert key field (a source
// schema field name — resolved against the source schema
// at Init, not against the mapped target column name) and an optional
// sqlite DSN (a shared-cache in-memory database when empty). Modeled on a conventional
// internal/database.Open: a modernc.org/sqlite DSN opened through
// database/sql, no cgo.
type TableConfig struct {
	KeyField string
	DSN      string
}

// Table is the "memory table" storage variant: decodes each
// record's payload, extracts a configured key field, and performs an
// upsert; snapshot/subscribe/query read modes. Backed by an embedded
// modernc.org/sqlite database rather than a bare Go map, so upserts and
// range scans reuse SQL rather than hand-rolled indexing.
type Table struct {
	mu           sync.Mutex
	db           *sql.DB
	name         string
	keyField     string
	keySourceIdx int // key_field's position in the source schema, resolved at Init
	keyTargetCol string
	ms           *mapping.MapSchema
	executor     *pipeline.Executor
	codec        interface {
		Deserialize([]byte) (value.Row, error)
	}
	version   int64
	versionCh chan struct{} // closed and replaced each time version advances
	session   topic.Session
}

// NewTable opens (or creates) the backing sqlite database. The actual
// CREATE TABLE is deferred to Init, once the resolved MapSchema's target
// fields are known.
func NewTable(name string, cfg TableConfig) (*Table, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening table database: %w", err)
	}
	return &Table{
		db:        db,
		name:      sanitizeIdent(name),
		keyField:  cfg.KeyField,
		versionCh: make(chan struct{}),
	}, nil
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Close transitions the storage session to CLOSING before closing the
// backing sqlite handle, then CLOSED once that has finished — no
// Save/Read is valid once Close has been called.
func (t *Table) Close() error {
	t.session.BeginClosing()
	err := t.db.Close()
	t.session.MarkClosed()
	return err
}

func (t *Table) SessionState() topic.SessionState { return t.session.State() }

func (t *Table) BackPressurePolicy() topic.BackPressurePolicy { return topic.PolicyBlock }

func (t *Table) SupportedReadModes() []topic.ReadMode {
	return []topic.ReadMode{topic.ReadSnapshot, topic.ReadSubscribe, topic.ReadQuery}
}

// Init renders DDL from ctx.MapSchema.Target and creates the table if it
// does not already exist. key_field names a position
// in the *source* schema, not a target column — the resolver here mirrors
// bootstrap.keyFuncFor's approach (also used for join key extraction) of
// locating it against sctx.MapSchema.Source and then walking the
// FieldMap list to find which target column that source position maps
// to, for the PRIMARY KEY declaration below.
func (t *Table) Init(ctx context.Context, sctx topic.Context) error {
	if sctx.MapSchema == nil {
		return fmt.Errorf("storage: table %q requires a resolved MapSchema", t.name)
	}
	t.ms = sctx.MapSchema
	t.executor = pipeline.NewExecutor(sctx.Codec, sctx.MapSchema, nil)
	if sctx.Codec != nil {
		t.codec = sctx.Codec
	}

	keyIdx := sctx.MapSchema.Source.IndexOf(t.keyField)
	if keyIdx < 0 {
		return fmt.Errorf("storage: table %q: %w: %q not in source schema", t.name, ErrKeyFieldNotFound, t.keyField)
	}
	t.keySourceIdx = keyIdx

	var keyTargetCol string
	cols := make([]string, 0, len(sctx.MapSchema.Target.Fields))
	for _, fm := range sctx.MapSchema.Fields {
		if !fm.HasTarget {
			continue
		}
		typeName := fm.Target.Type.Name
		if typeName == "" && fm.HasSource && fm.Source.Index < len(sctx.MapSchema.Source.Fields) {
			// field()'s plain-name form (e.g. field("bid", "bid")) carries
			// no target type; fall back to the source codec's wire type.
			typeName = sctx.MapSchema.Source.Fields[fm.Source.Index].Type.Name
		}

		colName := sanitizeIdent(fm.Target.Name)
		sqlType := sqlColumnType(typeName)
		if fm.HasSource && fm.Source.Index == keyIdx {
			keyTargetCol = colName
			cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", colName, sqlType))
		} else {
			cols = append(cols, fmt.Sprintf("%s %s", colName, sqlType))
		}
	}
	if keyTargetCol == "" {
		return fmt.Errorf("storage: table %q: %w: %q has no target column to hold the upsert key", t.name, ErrKeyFieldNotFound, t.keyField)
	}
	t.keyTargetCol = keyTargetCol

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, strings.Join(cols, ", "))
	_, err := t.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("storage: rendering table DDL: %w", err)
	}
	t.session.MarkReady()
	return nil
}

// sqlColumnType maps a source/target field type name to a SQLite storage
// class. Matching is substring-based and case-insensitive since target
// type names come from the mapping script's own vocabulary (e.g.
// "LowCardinality(String)", "DateTime64(3)", "Float64") rather than a
// fixed enum.
func sqlColumnType(fieldType string) string {
	lower := strings.ToLower(fieldType)
	switch {
	case strings.Contains(lower, "float") || strings.Contains(lower, "double") || strings.Contains(lower, "decimal"):
		return "REAL"
	case strings.Contains(lower, "int") || strings.Contains(lower, "bool") || strings.Contains(lower, "datetime") || strings.Contains(lower, "timestamp"):
		return "INTEGER"
	case strings.Contains(lower, "bytes") || strings.Contains(lower, "blob"):
		return "BLOB"
	default:
		return "TEXT"
	}
}

// Save decodes the record payload, extracts the upsert key from the
// source schema position resolved at Init (the corresponding Value,
// rendered to its canonical byte form, is the upsert key — fails with
// ErrMissingKeyField when that Value is Null),
// then walks the MapSchema to produce target column values (computed
// fields are materialized here) and performs an upsert on keyTargetCol.
func (t *Table) Save(ctx context.Context, rec topicrecord.Record) error {
	if err := t.session.Guard(); err != nil {
		return err
	}
	if t.codec == nil || t.ms == nil {
		return fmt.Errorf("storage: table %q not initialized", t.name)
	}

	start := time.Now()
	row, err := t.codec.Deserialize(rec.Data)
	if err != nil {
		metrics.RecordDropped(t.name, "malformed_frame")
		return fmt.Errorf("storage: decoding record for table %q: %w", t.name, err)
	}

	if t.keySourceIdx >= len(row) {
		return fmt.Errorf("storage: table %q: source index %d out of range for key_field %q", t.name, t.keySourceIdx, t.keyField)
	}
	keyVal := row[t.keySourceIdx]
	if keyVal.IsNull() {
		metrics.RecordDropped(t.name, "missing_key_field")
		return fmt.Errorf("storage: table %q: %w: %q", t.name, ErrMissingKeyField, t.keyField)
	}
	keyBytes := keyVal.CanonicalBytes()
	log.Debug().Str("table", t.name).Str("key_col", t.keyTargetCol).Bytes("key", keyBytes).Msg("upserting by key")

	cols, vals, err := t.executor.Resolve(row)
	if err != nil {
		return fmt.Errorf("storage: resolving record for table %q: %w", t.name, err)
	}
	for i := range cols {
		cols[i] = sanitizeIdent(cols[i])
		vals[i] = driverValue(vals[i])
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	placeholders := make([]string, len(vals))
	for i := range vals {
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := t.db.ExecContext(ctx, stmt, vals...); err != nil {
		return fmt.Errorf("storage: upserting into table %q: %w", t.name, err)
	}

	t.version++
	close(t.versionCh)
	t.versionCh = make(chan struct{})
	metrics.ObserveRecordLatency(t.name, time.Since(start))
	return nil
}

// driverValue narrows pipeline.Executor.Resolve's native Go values to
// types database/sql can bind directly; a decimal that survived conversion
// lands as its canonical string form.
func driverValue(v any) any {
	switch n := v.(type) {
	case nil, bool, int64, uint64, float64, string, []byte:
		return n
	case value.Decimal:
		return string(value.DecimalValue(n).CanonicalBytes())
	default:
		return fmt.Sprint(n)
	}
}

// Read supports snapshot (full table contents), query (ts_ms-bounded and
// limited, when the table has a ts_ms column), and subscribe (an initial
// snapshot, then blocks until the next Save, then one more snapshot).
func (t *Table) Read(ctx context.Context, mode topic.ReadMode, params topic.ReadParams) (topic.ReadResult, error) {
	if err := t.session.Guard(); err != nil {
		return topic.ReadResult{}, err
	}
	switch mode {
	case topic.ReadSnapshot:
		return t.snapshot(ctx)

	case topic.ReadQuery:
		return t.query(ctx, params)

	case topic.ReadSubscribe:
		prevVersion, _ := params.Previous.(int64)
		t.mu.Lock()
		curVersion := t.version
		ch := t.versionCh
		t.mu.Unlock()

		if prevVersion != 0 && curVersion == prevVersion {
			select {
			case <-ch:
			case <-ctx.Done():
				return topic.ReadResult{}, ctx.Err()
			}
		}

		res, err := t.snapshot(ctx)
		if err != nil {
			return topic.ReadResult{}, err
		}
		t.mu.Lock()
		res.Continuation = t.version
		t.mu.Unlock()
		return res, nil

	default:
		return topic.ReadResult{}, fmt.Errorf("%w: %q", topic.ErrUnsupportedReadMode, mode)
	}
}

func (t *Table) snapshot(ctx context.Context) (topic.ReadResult, error) {
	return t.scan(ctx, "", nil)
}

// query applies the ts_ms range and limit when the mapped target carries a
// ts_ms column; without one the table has no time axis and the range is
// ignored (the limit still applies). A zero ToMs means no upper bound.
func (t *Table) query(ctx context.Context, params topic.ReadParams) (topic.ReadResult, error) {
	var clauses []string
	var args []any
	hasTs := t.hasTsMsColumn()
	if hasTs {
		if params.FromMs > 0 {
			clauses = append(clauses, "ts_ms >= ?")
			args = append(args, params.FromMs)
		}
		if params.ToMs > 0 {
			clauses = append(clauses, "ts_ms <= ?")
			args = append(args, params.ToMs)
		}
	}
	var tail string
	if len(clauses) > 0 {
		tail = " WHERE " + strings.Join(clauses, " AND ")
	}
	if hasTs {
		tail += " ORDER BY ts_ms"
	}
	if params.Limit > 0 {
		tail += " LIMIT ?"
		args = append(args, params.Limit)
	}
	return t.scan(ctx, tail, args)
}

func (t *Table) hasTsMsColumn() bool {
	for _, f := range t.ms.Target.Fields {
		if sanitizeIdent(f.Name) == "ts_ms" {
			return true
		}
	}
	return false
}

// scan runs one SELECT over the mapped target columns, with tail (WHERE/
// ORDER BY/LIMIT) appended, and re-encodes each row as a JSON document
// record.
func (t *Table) scan(ctx context.Context, tail string, args []any) (topic.ReadResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	colNames := make([]string, 0, len(t.ms.Target.Fields))
	for _, f := range t.ms.Target.Fields {
		colNames = append(colNames, sanitizeIdent(f.Name))
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(colNames, ", "), t.name, tail)

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return topic.ReadResult{}, fmt.Errorf("storage: querying table %q: %w", t.name, err)
	}
	defer rows.Close()

	var out []topicrecord.Record
	for rows.Next() {
		dest := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return topic.ReadResult{}, fmt.Errorf("storage: scanning table %q row: %w", t.name, err)
		}

		doc := make(map[string]any, len(colNames))
		var tsMs int64
		for i, name := range colNames {
			doc[name] = dest[i]
			if name == "ts_ms" {
				if n, ok := dest[i].(int64); ok {
					tsMs = n
				}
			}
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return topic.ReadResult{}, fmt.Errorf("storage: encoding table %q row: %w", t.name, err)
		}
		out = append(out, topicrecord.New(tsMs, data))
	}
	if err := rows.Err(); err != nil {
		return topic.ReadResult{}, fmt.Errorf("storage: iterating table %q rows: %w", t.name, err)
	}

	return topic.ReadResult{Records: out}, nil
}
