// Package processor implements Gauss's three processor variants:
// source (transport → topic), transform (topic → topic), and sink
// (topic → transport), plus the phase/lifecycle discipline the pipeline
// supervisor observes.
//
// Each processor is a named, independently start/stoppable unit with its
// own lifecycle state and a context-driven run loop managing one
// topic-to-topic or transport-to-topic data path.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// Kind classifies a processor by data-flow shape.
type Kind string

const (
	KindSource    Kind = "source"
	KindTransform Kind = "transform"
	KindSink      Kind = "sink"
)

// Lifecycle is the processor state machine: INIT → PHASE1 → STEADY →
// STOPPING → STOPPED. A processor never retreats to PHASE1 once it has
// reached STEADY.
type Lifecycle int32

const (
	LifecycleInit Lifecycle = iota
	LifecyclePhase1
	LifecycleSteady
	LifecycleStopping
	LifecycleStopped
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleInit:
		return "init"
	case LifecyclePhase1:
		return "phase1"
	case LifecycleSteady:
		return "steady"
	case LifecycleStopping:
		return "stopping"
	case LifecycleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrRetreatFromSteady is returned by setLifecycle if a processor
// implementation tries to move back to PHASE1 after reaching STEADY — a
// programmer error in the processor, not a runtime condition.
var ErrRetreatFromSteady = errors.New("processor: cannot retreat from steady to phase1")

// Processor is the common contract the pipeline supervisor drives: Run
// executes until ctx is cancelled or the processor decides to stop itself,
// and returns once drained.
type Processor interface {
	Name() string
	Kind() Kind
	// Stateful reports whether this processor keeps state between records.
	// It is declarative: neither the supervisor nor the engine core reads
	// it.
	Stateful() bool
	// Active reports whether this processor may share a target topic with
	// other active writers (append semantics) as opposed to requiring
	// exclusive ownership (join semantics).
	Active() bool
	// Framed reports whether this processor materializes TopicRecord
	// values at all; a false return means this processor only ever
	// participates in the zero-copy bypass and assigns no ts_ms.
	Framed() bool

	Lifecycle() Lifecycle

	// Run executes the processor until ctx is cancelled. Run must not
	// return until every buffered record from the init/detect phase has
	// either been emitted or discarded — "drain" in the supervisor's
	// shutdown sequence means waiting for Run to return.
	Run(ctx context.Context) error
}

// base provides the lifecycle bookkeeping every concrete processor
// embeds: an atomic state field plus the wg-based drain-on-stop pattern.
type base struct {
	name      string
	stateful  bool
	active    bool
	framed    bool
	lifecycle atomic.Int32
}

func (b *base) Name() string      { return b.name }
func (b *base) Stateful() bool     { return b.stateful }
func (b *base) Active() bool       { return b.active }
func (b *base) Framed() bool       { return b.framed }
func (b *base) Lifecycle() Lifecycle { return Lifecycle(b.lifecycle.Load()) }

// setLifecycle moves the processor to next, rejecting any PHASE1 retreat
// from STEADY.
func (b *base) setLifecycle(next Lifecycle) error {
	cur := Lifecycle(b.lifecycle.Load())
	if cur == LifecycleSteady && next == LifecyclePhase1 {
		return ErrRetreatFromSteady
	}
	b.lifecycle.Store(int32(next))
	log.Debug().Str("processor", b.name).Str("from", cur.String()).Str("to", next.String()).Msg("processor lifecycle transition")
	return nil
}

// emitTarget is the minimal contract a processor needs against a target
// topic: ts_ms is assigned exactly once, here, at the moment the record
// is emitted.
type emitTarget struct {
	topic *topic.Topic
	nowMs func() int64
}

func (e emitTarget) emit(ctx context.Context, data []byte) error {
	rec := topicrecord.New(e.nowMs(), data)
	return e.topic.Save(ctx, rec)
}

// drainGroup tracks in-flight emissions so Run can wait for all of them
// to land before returning.
type drainGroup struct {
	wg sync.WaitGroup
}

func (d *drainGroup) track(f func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		f()
	}()
}

func (d *drainGroup) wait() { d.wg.Wait() }

// fatalf is a small helper that wraps a processor-identifying prefix onto
// an error, used by the passthrough processor.
func fatalf(name string, format string, args ...any) error {
	return fmt.Errorf("processor %q: "+format, append([]any{name}, args...)...)
}
