package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/processor"
	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/topic"
)

// State is the pipeline lifecycle state machine: LOADING →
// RESOLVED → RUNNING → DRAINING → STOPPED.
type State int32

const (
	StateLoading State = iota
	StateResolved
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateResolved:
		return "resolved"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Topology is the fully-resolved wiring a Supervisor drives: topics and
// processors already constructed (plugin resolution, schema-mapping
// resolution, and subscription-channel wiring all happen before a
// Topology is handed to NewSupervisor); the Supervisor itself performs
// read-mode validation, subscription wiring, and processor start.
type Topology struct {
	Registry *registry.Registry
	Topics   []*topic.Topic

	Sources    []processor.Processor
	Transforms []processor.Processor
	Sinks      []processor.Processor

	// TransformSubs/SinkSubs feed the channels Transforms/Sinks were
	// constructed with; the Supervisor owns running and cancelling them
	// so their lifetime tracks their consuming processor's, per the
	// reverse-order shutdown sequence below.
	TransformSubs []*Subscription
	SinkSubs      []*Subscription
}

// Supervisor drives the pipeline lifecycle: at startup it validates every
// subscription's read mode against its topic's declared capabilities, then
// wires and starts everything in dependency order; at shutdown it reverses
// that order, draining each tier before stopping the next.
type Supervisor struct {
	topo  Topology
	state atomic.Int32

	cancels struct {
		source, transform, transformSub, sink, sinkSub context.CancelFunc
	}
	wg struct {
		source, transform, transformSub, sink, sinkSub sync.WaitGroup
	}
}

// NewSupervisor builds a Supervisor over an already-resolved Topology.
func NewSupervisor(topo Topology) *Supervisor {
	s := &Supervisor{topo: topo}
	s.state.Store(int32(StateLoading))
	return s
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

// Validate asserts, for every processor subscription, that its read mode
// is one the topic's storage declared. A failure here is start-time
// fatal — callers should abort startup rather than call Start.
func (s *Supervisor) Validate() error {
	for _, sub := range s.topo.TransformSubs {
		if !sub.Topic.SupportsReadMode(sub.Mode) {
			return fmt.Errorf("%w: topic %q does not support read mode %q", topic.ErrUnsupportedReadMode, sub.Topic.Name, sub.Mode)
		}
	}
	for _, sub := range s.topo.SinkSubs {
		if !sub.Topic.SupportsReadMode(sub.Mode) {
			return fmt.Errorf("%w: topic %q does not support read mode %q", topic.ErrUnsupportedReadMode, sub.Topic.Name, sub.Mode)
		}
	}
	s.state.Store(int32(StateResolved))
	return nil
}

// Start validates the topology then wires subscriptions and launches every
// processor. A RUNNING supervisor restarts a failed
// processor that returns an error from Run, rather than tearing down the
// whole pipeline: failures while RUNNING are recoverable by restarting
// the offending processor.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.State() == StateLoading {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	transformSubCtx, transformSubCancel := context.WithCancel(ctx)
	s.cancels.transformSub = transformSubCancel
	for _, sub := range s.topo.TransformSubs {
		sub := sub
		s.wg.transformSub.Add(1)
		go func() {
			defer s.wg.transformSub.Done()
			if err := sub.Run(transformSubCtx); err != nil {
				log.Error().Str("topic", sub.Topic.Name).Err(err).Msg("transform subscription stopped with error")
			}
		}()
	}

	sinkSubCtx, sinkSubCancel := context.WithCancel(ctx)
	s.cancels.sinkSub = sinkSubCancel
	for _, sub := range s.topo.SinkSubs {
		sub := sub
		s.wg.sinkSub.Add(1)
		go func() {
			defer s.wg.sinkSub.Done()
			if err := sub.Run(sinkSubCtx); err != nil {
				log.Error().Str("topic", sub.Topic.Name).Err(err).Msg("sink subscription stopped with error")
			}
		}()
	}

	sourceCtx, sourceCancel := context.WithCancel(ctx)
	s.cancels.source = sourceCancel
	s.runTier(sourceCtx, &s.wg.source, s.topo.Sources)

	transformCtx, transformCancel := context.WithCancel(ctx)
	s.cancels.transform = transformCancel
	s.runTier(transformCtx, &s.wg.transform, s.topo.Transforms)

	sinkCtx, sinkCancel := context.WithCancel(ctx)
	s.cancels.sink = sinkCancel
	s.runTier(sinkCtx, &s.wg.sink, s.topo.Sinks)

	s.state.Store(int32(StateRunning))
	return nil
}

// runTier launches every processor in procs under its own restart
// supervision: a processor whose Run returns a non-nil error is restarted
// as long as tierCtx is not done.
func (s *Supervisor) runTier(tierCtx context.Context, wg *sync.WaitGroup, procs []processor.Processor) {
	for _, p := range procs {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tierCtx.Err() == nil {
				if err := p.Run(tierCtx); err != nil {
					log.Error().Str("processor", p.Name()).Err(err).Msg("processor stopped with error, restarting")
					metrics.RecordRestart(p.Name())
					continue
				}
				return
			}
		}()
	}
}

// Shutdown is the reverse-order teardown: stop sources,
// drain, stop transforms, drain, stop sinks, release storages, release
// plugins. The final two steps collapse into one registry.ReleaseAll
// call: storages are themselves registry plugins, released in
// load-reverse order.
func (s *Supervisor) Shutdown() {
	s.state.Store(int32(StateDraining))

	s.cancels.source()
	s.wg.source.Wait()

	s.cancels.transform()
	s.cancels.transformSub()
	s.wg.transform.Wait()
	s.wg.transformSub.Wait()

	s.cancels.sink()
	s.cancels.sinkSub()
	s.wg.sink.Wait()
	s.wg.sinkSub.Wait()

	s.topo.Registry.ReleaseAll()
	s.state.Store(int32(StateStopped))
}
