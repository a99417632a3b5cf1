package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/value"
)

// TransformFunc is the transform processor's logic. It receives the
// decoded input Row (nil when no input codec
// is configured, in which case raw is the record's undecoded bytes) and
// returns an output Row to re-encode and emit, or emit=false to consume
// the input without producing output.
type TransformFunc func(ctx context.Context, in value.Row, raw []byte) (out value.Row, emit bool, err error)

// Identity is the default TransformFunc for a passthrough-shaped
// transform: it emits exactly what it received.
func Identity(_ context.Context, in value.Row, raw []byte) (value.Row, bool, error) {
	if in == nil {
		return value.Row{value.BorrowedBytes(raw)}, true, nil
	}
	return in, true, nil
}

// TransformConfig configures a Transform processor.
type TransformConfig struct {
	Name string
	// Input is fed by the pipeline supervisor's subscription wiring
	// and closes when the subscription is torn down.
	Input <-chan topicrecord.Record
	// InputCodec decodes each record's data into a Row before Fn runs.
	// Nil means Fn receives raw bytes only (in is nil).
	InputCodec codec.Codec
	// OutputCodec re-encodes Fn's output Row. Nil means Fn's raw return
	// (via a Row of a single borrowed-bytes Value) is taken as the
	// record payload directly.
	OutputCodec codec.Codec
	Fn          TransformFunc
	Target      *topic.Topic
	Stateful    bool
	Active      bool
	NowMs       func() int64
}

// Transform reads records from a source topic's subscription channel,
// optionally decodes, runs its logic, optionally re-encodes, and emits to
// a target topic.
type Transform struct {
	base
	cfg    TransformConfig
	target emitTarget
	drain  drainGroup
}

// NewTransform builds a Transform processor.
func NewTransform(cfg TransformConfig) *Transform {
	if cfg.Fn == nil {
		cfg.Fn = Identity
	}
	nowMs := cfg.NowMs
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Transform{
		base:   base{name: cfg.Name, stateful: cfg.Stateful, active: cfg.Active, framed: true},
		cfg:    cfg,
		target: emitTarget{topic: cfg.Target, nowMs: nowMs},
	}
}

func (t *Transform) Kind() Kind { return KindTransform }

// Run consumes Input until it closes or ctx is cancelled, draining
// in-flight emissions before returning.
func (t *Transform) Run(ctx context.Context) error {
	if err := t.setLifecycle(LifecycleSteady); err != nil {
		return err
	}
	defer t.setLifecycle(LifecycleStopped)

loop:
	for {
		select {
		case rec, ok := <-t.cfg.Input:
			if !ok {
				break loop
			}
			t.handle(ctx, rec)
		case <-ctx.Done():
			break loop
		}
	}

	t.setLifecycle(LifecycleStopping)
	t.drain.wait()
	return nil
}

func (t *Transform) handle(ctx context.Context, rec topicrecord.Record) {
	var in value.Row
	if t.cfg.InputCodec != nil {
		row, err := t.cfg.InputCodec.Deserialize(rec.Data)
		if err != nil {
			log.Warn().Str("processor", t.name).Err(err).Msg("transform decode failed, dropping record")
			metrics.RecordFailed(t.name, "decode")
			return
		}
		in = row
	}

	out, emit, err := t.cfg.Fn(ctx, in, rec.Data)
	if err != nil {
		log.Warn().Str("processor", t.name).Err(err).Msg("transform logic failed, dropping record")
		metrics.RecordFailed(t.name, "convert")
		return
	}
	if !emit {
		return
	}

	var payload []byte
	if t.cfg.OutputCodec != nil {
		encoded, err := t.cfg.OutputCodec.Serialize(out)
		if err != nil {
			log.Warn().Str("processor", t.name).Err(err).Msg("transform encode failed, dropping record")
			metrics.RecordFailed(t.name, "encode")
			return
		}
		payload = encoded
	} else if len(out) == 1 {
		if b, ok := out[0].Bytes(); ok {
			payload = append([]byte(nil), b...)
		}
	}

	t.drain.track(func() {
		if err := t.target.emit(ctx, payload); err != nil && ctx.Err() == nil {
			log.Warn().Str("processor", t.name).Err(err).Msg("transform emit failed")
			metrics.RecordFailed(t.name, "write")
		}
	})
}
