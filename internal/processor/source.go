package processor

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/transport"
)

// SourceConfig configures a Source processor: the byte stream to frame and
// the topic records are emitted into.
type SourceConfig struct {
	Name     string
	Reader   transport.Reader
	Frame    transport.FrameConfig
	Target   *topic.Topic
	Stateful bool
	// NowMs stamps ts_ms at emission time; overridable in tests, defaults
	// to time.Now().UnixMilli.
	NowMs func() int64
}

// Source reads a byte stream from a transport, applies framing, and emits
// one TopicRecord per frame into a target topic.
type Source struct {
	base
	cfg    SourceConfig
	framer transport.Framer
	target emitTarget
	drain  drainGroup
}

// NewSource builds a Source processor. Framing is resolved immediately so
// a bad config (e.g. avro_container) fails at construction, not at Run.
func NewSource(cfg SourceConfig) (*Source, error) {
	framer, err := transport.NewFramer(cfg.Reader, cfg.Frame)
	if err != nil {
		return nil, err
	}
	nowMs := cfg.NowMs
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Source{
		base:   base{name: cfg.Name, stateful: cfg.Stateful, active: true, framed: true},
		cfg:    cfg,
		framer: framer,
		target: emitTarget{topic: cfg.Target, nowMs: nowMs},
	}, nil
}

func (s *Source) Kind() Kind { return KindSource }

// Run frames incoming bytes and emits one record per frame until the
// stream ends or ctx is cancelled. A Source processor has no init/detect
// handshake of its own, so it moves straight from INIT to STEADY.
func (s *Source) Run(ctx context.Context) error {
	if err := s.setLifecycle(LifecycleSteady); err != nil {
		return err
	}
	defer s.setLifecycle(LifecycleStopped)
	defer s.cfg.Reader.Close()

	done := make(chan struct{})
	context.AfterFunc(ctx, func() { s.cfg.Reader.Close() })

	go func() {
		defer close(done)
		for {
			frame, err := s.framer.ReadFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					log.Error().Str("processor", s.name).Err(err).Msg("source framing error")
					metrics.RecordFailed(s.name, "decode")
				}
				return
			}
			// The record's bytes are this frame's own backing array,
			// never the framer's shared buffer: ReadFrame's contract says
			// its result is only valid until the next call, so copy here
			// before handing off to an async emission.
			payload := append([]byte(nil), frame...)
			s.drain.track(func() {
				if err := s.target.emit(ctx, payload); err != nil && ctx.Err() == nil {
					log.Warn().Str("processor", s.name).Err(err).Msg("source emit failed")
					metrics.RecordFailed(s.name, "write")
				}
			})
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	s.setLifecycle(LifecycleStopping)
	s.drain.wait()
	return nil
}
