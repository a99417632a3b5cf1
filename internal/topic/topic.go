// Package topic implements Gauss's Topic abstraction and the
// Storage Contract: a named opaque-byte bucket backed by a
// pluggable storage engine, the five read modes a storage may support, and
// the back-pressure policy it exposes to writers.
//
// The package follows a familiar storage-layer shape: a small
// interface contract implemented by several concrete engines, resolved by
// name through the plugin registry rather than constructed directly.
package topic

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/mapping"
	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// ReadMode names one of the five ways a consumer may read a topic's
// storage.
type ReadMode string

const (
	ReadOffset    ReadMode = "offset"
	ReadLatest    ReadMode = "latest"
	ReadQuery     ReadMode = "query"
	ReadSnapshot  ReadMode = "snapshot"
	ReadSubscribe ReadMode = "subscribe"
)

// BackPressurePolicy names the overflow behavior a storage exposes to
// writers when it is at capacity.
type BackPressurePolicy string

const (
	// PolicyBlock makes the writer await capacity.
	PolicyBlock BackPressurePolicy = "block"
	// PolicyDrop discards the incoming record.
	PolicyDrop BackPressurePolicy = "drop"
	// PolicyOverwrite evicts the oldest record to make room.
	PolicyOverwrite BackPressurePolicy = "overwrite"
)

var (
	// ErrUnsupportedReadMode is returned by Read when the storage did not
	// declare the requested mode in its capabilities.
	ErrUnsupportedReadMode = errors.New("topic: unsupported read mode")
	// ErrBackPressure is returned by Save under PolicyDrop when the
	// storage is at capacity, and is never returned under PolicyBlock
	// (which instead blocks until capacity exists, or until ctx is done).
	ErrBackPressure = errors.New("topic: record dropped under back-pressure")
	// ErrSessionNotReady is returned by Save/Read when the underlying
	// storage's session is not in the READY state.
	ErrSessionNotReady = errors.New("topic: storage session not ready")
)

// SessionState names one state in the storage-session state
// machine: UNINIT -> READY -> CLOSING -> CLOSED. Reads and writes are
// valid only in READY.
type SessionState int32

const (
	SessionUninit SessionState = iota
	SessionReady
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionUninit:
		return "uninit"
	case SessionReady:
		return "ready"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is an atomic session-state tracker: storage engines embed one
// to implement the storage-session state machine without hand-
// rolling the transition bookkeeping in every backend. Zero value is
// SessionUninit.
type Session struct {
	state atomic.Int32
}

// State reports the current session state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// MarkReady transitions UNINIT -> READY, called once at the end of a
// successful Init.
func (s *Session) MarkReady() { s.state.Store(int32(SessionReady)) }

// BeginClosing transitions READY -> CLOSING, called at the start of
// Close, before any destructor work that frees underlying resources.
func (s *Session) BeginClosing() { s.state.Store(int32(SessionClosing)) }

// MarkClosed transitions CLOSING -> CLOSED, called once Close's
// destructor work has finished.
func (s *Session) MarkClosed() { s.state.Store(int32(SessionClosed)) }

// Guard returns ErrSessionNotReady unless the session is READY.
func (s *Session) Guard() error {
	if st := s.State(); st != SessionReady {
		return fmt.Errorf("%w: session is %s", ErrSessionNotReady, st)
	}
	return nil
}

// ReadParams carries the parameters for whichever ReadMode is requested;
// fields irrelevant to a given mode are left zero.
type ReadParams struct {
	Cursor   int64 // offset mode: starting cursor
	FromMs   int64 // query mode: inclusive lower ts_ms bound
	ToMs     int64 // query mode: inclusive upper ts_ms bound; <= 0 means unbounded
	Limit    int   // query mode: max records returned; <= 0 means unlimited
	Previous any   // subscribe mode: opaque continuation from a prior Read
}

// ReadResult is the outcome of one Read call. Which fields are populated
// depends on the mode: offset/query/snapshot populate Records; latest
// populates Records with at most one entry; subscribe populates Records
// (the delta or initial snapshot) and Continuation (opaque token for the
// next call).
type ReadResult struct {
	Records      []topicrecord.Record
	NextCursor   int64
	Continuation any
}

// Context is handed to Storage.Init once, before any Save. It carries the
// optional serializer and resolved schema mapping a decoding storage needs
// to render DDL and convert records on the native write path; both are nil
// for opaque-byte storages.
type Context struct {
	Codec     codec.Codec
	MapSchema *mapping.MapSchema
	Config    map[string]any
}

// Storage is the contract every storage engine plugin implements. A
// Storage is also a registry.Plugin: its Close method is the
// destructor the registry runs at release time.
type Storage interface {
	registry.Plugin

	// Init is called once before any Save. Storage engines that decode
	// (table, columnar) render DDL from ctx.MapSchema.Target here.
	Init(ctx context.Context, sctx Context) error

	// Save appends one record, honoring the storage's declared
	// back-pressure policy. Returns ErrBackPressure only under
	// PolicyDrop; under PolicyBlock it blocks (respecting ctx
	// cancellation) rather than returning that error.
	Save(ctx context.Context, rec topicrecord.Record) error

	// Read executes one read in the given mode. Returns
	// ErrUnsupportedReadMode if mode is absent from SupportedReadModes().
	Read(ctx context.Context, mode ReadMode, params ReadParams) (ReadResult, error)

	// SupportedReadModes reports which ReadModes this instance honors.
	SupportedReadModes() []ReadMode

	// BackPressurePolicy reports the configured overflow behavior.
	BackPressurePolicy() BackPressurePolicy

	// SessionState reports the storage's current position in the
	// UNINIT->READY->CLOSING->CLOSED session state machine.
	SessionState() SessionState
}

// DepthReporter is an optional Storage extension for engines with a
// countable record store (ring entries, file records across every
// segment). Topic.Save polls it into the topic-depth gauge.
type DepthReporter interface {
	Depth() int
}

// Topic is a named bucket bound to one storage handle. The
// engine enforces read-mode compatibility against the storage's declared
// capabilities at startup, once, rather than per read.
type Topic struct {
	Name         string
	Storage      Storage
	StorageBlob  map[string]any
	supportedSet map[ReadMode]bool
}

// New binds a name to an already-constructed storage instance and caches
// its declared read modes for fast compatibility checks.
func New(name string, storage Storage, blob map[string]any) *Topic {
	t := &Topic{Name: name, Storage: storage, StorageBlob: blob}
	t.supportedSet = make(map[ReadMode]bool, 4)
	for _, m := range storage.SupportedReadModes() {
		t.supportedSet[m] = true
	}
	return t
}

// SupportsReadMode reports whether this topic's storage declared mode.
func (t *Topic) SupportsReadMode(mode ReadMode) bool {
	return t.supportedSet[mode]
}

// Save rejects the record unless the storage's session is READY — no
// reads or writes are valid in UNINIT or CLOSING — then
// forwards to the underlying storage.
func (t *Topic) Save(ctx context.Context, rec topicrecord.Record) error {
	if st := t.Storage.SessionState(); st != SessionReady {
		return fmt.Errorf("%w: topic %q storage session is %s", ErrSessionNotReady, t.Name, st)
	}
	err := t.Storage.Save(ctx, rec)
	metrics.SetBackpressureActive(t.Name, string(t.Storage.BackPressurePolicy()), errors.Is(err, ErrBackPressure))
	st := t.Storage
	if u, ok := st.(interface{ Unwrap() Storage }); ok {
		st = u.Unwrap()
	}
	if d, ok := st.(DepthReporter); ok {
		metrics.SetTopicDepth(t.Name, d.Depth())
	}
	return err
}

// Read validates mode against the topic's supported set and the
// storage's session state before delegating, so callers get a uniform
// error regardless of which storage engine backs the topic.
func (t *Topic) Read(ctx context.Context, mode ReadMode, params ReadParams) (ReadResult, error) {
	if !t.supportedSet[mode] {
		return ReadResult{}, fmt.Errorf("%w: topic %q storage does not support %q", ErrUnsupportedReadMode, t.Name, mode)
	}
	if st := t.Storage.SessionState(); st != SessionReady {
		return ReadResult{}, fmt.Errorf("%w: topic %q storage session is %s", ErrSessionNotReady, t.Name, st)
	}
	return t.Storage.Read(ctx, mode, params)
}
