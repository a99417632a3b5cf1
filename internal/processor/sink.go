package processor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/transport"
)

// SinkConfig configures a Sink processor.
type SinkConfig struct {
	Name string
	// Input is fed by the pipeline supervisor's subscription wiring.
	Input <-chan topicrecord.Record
	// InputCodec decodes each record before re-encoding with OutputCodec.
	// Nil means the record's bytes are forwarded unchanged (pure
	// transport replay, no format translation).
	InputCodec  codec.Codec
	OutputCodec codec.Codec
	Writer      transport.Writer
	Frame       transport.FrameConfig
	Stateful    bool
}

// Sink reads records, serializes with an output codec, frames, and writes
// to a transport.
type Sink struct {
	base
	cfg    SinkConfig
	framer transport.Framer
}

// NewSink builds a Sink processor. Only the write side of Framer is used;
// NewFramer is given a discardReader, since sinks never read frames.
func NewSink(cfg SinkConfig) (*Sink, error) {
	framer, err := transport.NewFramer(discardReader{}, cfg.Frame)
	if err != nil {
		return nil, err
	}
	return &Sink{
		base:   base{name: cfg.Name, stateful: cfg.Stateful, active: true, framed: true},
		cfg:    cfg,
		framer: framer,
	}, nil
}

type discardReader struct{}

func (discardReader) Read([]byte) (int, error) { return 0, nil }

func (s *Sink) Kind() Kind { return KindSink }

// Run consumes Input until it closes or ctx is cancelled, writing one
// framed output per record.
func (s *Sink) Run(ctx context.Context) error {
	if err := s.setLifecycle(LifecycleSteady); err != nil {
		return err
	}
	defer s.setLifecycle(LifecycleStopped)
	defer s.cfg.Writer.Close()

loop:
	for {
		select {
		case rec, ok := <-s.cfg.Input:
			if !ok {
				break loop
			}
			s.handle(rec)
		case <-ctx.Done():
			break loop
		}
	}
	s.setLifecycle(LifecycleStopping)
	return nil
}

func (s *Sink) handle(rec topicrecord.Record) {
	payload := rec.Data
	if s.cfg.InputCodec != nil && s.cfg.OutputCodec != nil {
		row, err := s.cfg.InputCodec.Deserialize(rec.Data)
		if err != nil {
			log.Warn().Str("processor", s.name).Err(err).Msg("sink decode failed, dropping record")
			metrics.RecordFailed(s.name, "decode")
			return
		}
		encoded, err := s.cfg.OutputCodec.Serialize(row)
		if err != nil {
			log.Warn().Str("processor", s.name).Err(err).Msg("sink encode failed, dropping record")
			metrics.RecordFailed(s.name, "encode")
			return
		}
		payload = encoded
	}

	if err := s.framer.WriteFrame(s.cfg.Writer, payload); err != nil {
		log.Warn().Str("processor", s.name).Err(err).Msg("sink write failed")
		metrics.RecordFailed(s.name, "write")
	}
}
