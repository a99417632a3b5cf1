package processor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/value"
)

// KeyFunc extracts a join key from a decoded Row. A false ok drops the
// record from join consideration (e.g. the configured key field is null).
type KeyFunc func(value.Row) (key string, ok bool)

// JoinOutputFunc combines a matched left/right Row pair into the Row
// handed to OutputCodec.
type JoinOutputFunc func(leftRow, rightRow value.Row) value.Row

// JoinConfig configures a window-join Transform specialization — join
// semantics get their own dedicated processor rather than piggybacking on
// multi-writer append.
type JoinConfig struct {
	Name string

	Left, Right           <-chan topicrecord.Record
	LeftCodec, RightCodec codec.Codec
	LeftKey, RightKey     KeyFunc

	// Window bounds how far apart two records' ts_ms may be and still
	// match: |leftTs - rightTs| <= Window.
	Window time.Duration

	Output      JoinOutputFunc
	OutputCodec codec.Codec
	Target      *topic.Topic
	NowMs       func() int64
}

type pendingEntry struct {
	row        value.Row
	tsMs       int64
	bufferedAt time.Time
}

// Join is a stateful Transform specialization: it buffers one side's
// unmatched records keyed by the join key, and on arrival of the other
// side's record with a matching key within Window, emits one combined
// record. Structured like an event-bus subscriber
// map shape (a mutex-guarded map keyed by a derived string), repurposed
// from pub/sub dispatch to windowed matching.
type Join struct {
	base
	cfg    JoinConfig
	target emitTarget
	drain  drainGroup

	mu           sync.Mutex
	leftPending  map[string]pendingEntry
	rightPending map[string]pendingEntry
}

// NewJoin builds a Join processor. Stateful is always true: a Join holds
// unmatched records in memory between Run iterations. This in-memory
// form is the no-state-topic case, discarded on restart.
func NewJoin(cfg JoinConfig) *Join {
	nowMs := cfg.NowMs
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Join{
		base:         base{name: cfg.Name, stateful: true, active: false, framed: true},
		cfg:          cfg,
		target:       emitTarget{topic: cfg.Target, nowMs: nowMs},
		leftPending:  make(map[string]pendingEntry),
		rightPending: make(map[string]pendingEntry),
	}
}

func (j *Join) Kind() Kind { return KindTransform }

// Run consumes both Left and Right until both close or ctx is cancelled.
func (j *Join) Run(ctx context.Context) error {
	if err := j.setLifecycle(LifecycleSteady); err != nil {
		return err
	}
	defer j.setLifecycle(LifecycleStopped)

	sweep := time.NewTicker(j.cfg.Window + time.Second)
	defer sweep.Stop()

	left, right := j.cfg.Left, j.cfg.Right
	for left != nil || right != nil {
		select {
		case rec, ok := <-left:
			if !ok {
				left = nil
				continue
			}
			j.handleSide(ctx, rec, true)
		case rec, ok := <-right:
			if !ok {
				right = nil
				continue
			}
			j.handleSide(ctx, rec, false)
		case <-sweep.C:
			j.sweepExpired()
		case <-ctx.Done():
			left, right = nil, nil
		}
	}

	j.setLifecycle(LifecycleStopping)
	j.drain.wait()
	return nil
}

func (j *Join) handleSide(ctx context.Context, rec topicrecord.Record, fromLeft bool) {
	codec, keyFn := j.cfg.LeftCodec, j.cfg.LeftKey
	if !fromLeft {
		codec, keyFn = j.cfg.RightCodec, j.cfg.RightKey
	}

	row, err := codec.Deserialize(rec.Data)
	if err != nil {
		log.Warn().Str("processor", j.name).Err(err).Msg("join decode failed, dropping record")
		return
	}
	key, ok := keyFn(row)
	if !ok {
		return
	}

	j.mu.Lock()
	own, other := j.leftPending, j.rightPending
	if !fromLeft {
		own, other = j.rightPending, j.leftPending
	}

	match, found := other[key]
	if found && absDuration(match.tsMs, rec.TsMs) <= j.cfg.Window {
		delete(other, key)
		j.mu.Unlock()

		var leftRow, rightRow value.Row
		var outTs int64
		if fromLeft {
			leftRow, rightRow = row, match.row
			outTs = rec.TsMs
		} else {
			leftRow, rightRow = match.row, row
			outTs = match.tsMs
		}
		j.emitJoined(ctx, leftRow, rightRow, outTs)
		return
	}

	own[key] = pendingEntry{row: row, tsMs: rec.TsMs, bufferedAt: time.Now()}
	j.mu.Unlock()
}

func (j *Join) emitJoined(ctx context.Context, left, right value.Row, tsMs int64) {
	out := left
	if j.cfg.Output != nil {
		out = j.cfg.Output(left, right)
	}

	var payload []byte
	if j.cfg.OutputCodec != nil {
		encoded, err := j.cfg.OutputCodec.Serialize(out)
		if err != nil {
			log.Warn().Str("processor", j.name).Err(err).Msg("join encode failed, dropping match")
			return
		}
		payload = encoded
	}

	j.drain.track(func() {
		rec := topicrecord.New(tsMs, payload)
		if err := j.cfg.Target.Save(ctx, rec); err != nil && ctx.Err() == nil {
			log.Warn().Str("processor", j.name).Err(err).Msg("join emit failed")
		}
	})
}

// sweepExpired discards pending entries that have sat unmatched for
// longer than Window, bounding memory for keys that never find a match.
func (j *Join) sweepExpired() {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := time.Now().Add(-j.cfg.Window)
	for k, v := range j.leftPending {
		if v.bufferedAt.Before(cutoff) {
			delete(j.leftPending, k)
		}
	}
	for k, v := range j.rightPending {
		if v.bufferedAt.Before(cutoff) {
			delete(j.rightPending, k)
		}
	}
}

func absDuration(a, b int64) time.Duration {
	d := a - b
	if d < 0 {
		d = -d
	}
	return time.Duration(d) * time.Millisecond
}
