package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// DefaultPollInterval paces the offset/latest/snapshot polling loops below
// when a storage has no push-based notification of its own (only the
// table storage's subscribe mode blocks internally on a change signal).
const DefaultPollInterval = 20 * time.Millisecond

// Subscription wires notification from one topic to one subscribing
// processor, with the subscriber's chosen overflow policy. One
// Subscription backs one processor's Input channel.
type Subscription struct {
	Topic        *topic.Topic
	Mode         topic.ReadMode
	Policy       topic.BackPressurePolicy
	PollInterval time.Duration
	// OnDrop is called once per record discarded under PolicyDrop or
	// evicted under PolicyOverwrite, wiring into internal/metrics'
	// gauss_records_dropped_total counter.
	OnDrop func(reason string)
	// FromMs/ToMs/Limit parameterize the one-shot query read mode; the
	// zero values mean unbounded range and no limit, so a bare
	// read = "query" subscription sees the whole topic.
	FromMs int64
	ToMs   int64
	Limit  int

	out chan topicrecord.Record
}

// NewSubscription builds a Subscription with a channel of the given
// buffer size, bounding how many records can queue ahead of a slow
// subscriber.
func NewSubscription(t *topic.Topic, mode topic.ReadMode, policy topic.BackPressurePolicy, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Subscription{
		Topic:        t,
		Mode:         mode,
		Policy:       policy,
		PollInterval: DefaultPollInterval,
		out:          make(chan topicrecord.Record, bufSize),
	}
}

// Records returns the channel a processor reads from. It closes when Run
// returns.
func (s *Subscription) Records() <-chan topicrecord.Record { return s.out }

// Run pumps records from the topic's storage into the subscription's
// channel according to Mode, until ctx is cancelled.
func (s *Subscription) Run(ctx context.Context) error {
	defer close(s.out)

	switch s.Mode {
	case topic.ReadOffset:
		return s.runOffset(ctx)
	case topic.ReadLatest:
		return s.runLatest(ctx)
	case topic.ReadSnapshot:
		return s.runSnapshot(ctx)
	case topic.ReadSubscribe:
		return s.runSubscribe(ctx)
	case topic.ReadQuery:
		return s.runQueryOnce(ctx)
	default:
		return fmt.Errorf("pipeline: subscription has unknown read mode %q", s.Mode)
	}
}

func (s *Subscription) runOffset(ctx context.Context) error {
	var cursor int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.Topic.Read(ctx, topic.ReadOffset, topic.ReadParams{Cursor: cursor})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("topic", s.Topic.Name).Err(err).Msg("subscription offset read failed")
			if !sleep(ctx, s.PollInterval) {
				return nil
			}
			continue
		}
		for _, rec := range res.Records {
			if !s.push(ctx, rec) {
				return nil
			}
		}
		cursor = res.NextCursor
		if len(res.Records) == 0 {
			if !sleep(ctx, s.PollInterval) {
				return nil
			}
		}
	}
}

func (s *Subscription) runLatest(ctx context.Context) error {
	// The (ts_ms, payload length) pair is a dedup heuristic, not an
	// identity: two successive distinct records sharing both are coalesced
	// into one delivery. Latest-mode consumers only care about the current
	// value, so a missed same-ts same-size intermediate is acceptable.
	var lastTs int64 = -1
	var lastLen = -1
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.Topic.Read(ctx, topic.ReadLatest, topic.ReadParams{})
		if err == nil && len(res.Records) == 1 {
			rec := res.Records[0]
			if rec.TsMs != lastTs || len(rec.Data) != lastLen {
				lastTs, lastLen = rec.TsMs, len(rec.Data)
				if !s.push(ctx, rec) {
					return nil
				}
			}
		}
		if !sleep(ctx, s.PollInterval) {
			return nil
		}
	}
}

func (s *Subscription) runSnapshot(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.Topic.Read(ctx, topic.ReadSnapshot, topic.ReadParams{})
		if err == nil {
			for _, rec := range res.Records {
				if !s.push(ctx, rec) {
					return nil
				}
			}
		}
		if !sleep(ctx, s.PollInterval) {
			return nil
		}
	}
}

func (s *Subscription) runSubscribe(ctx context.Context) error {
	var continuation any
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.Topic.Read(ctx, topic.ReadSubscribe, topic.ReadParams{Previous: continuation})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("topic", s.Topic.Name).Err(err).Msg("subscription subscribe read failed")
			if !sleep(ctx, s.PollInterval) {
				return nil
			}
			continue
		}
		for _, rec := range res.Records {
			if !s.push(ctx, rec) {
				return nil
			}
		}
		continuation = res.Continuation
	}
}

func (s *Subscription) runQueryOnce(ctx context.Context) error {
	res, err := s.Topic.Read(ctx, topic.ReadQuery, topic.ReadParams{FromMs: s.FromMs, ToMs: s.ToMs, Limit: s.Limit})
	if err != nil {
		return fmt.Errorf("pipeline: one-shot query subscription on %q: %w", s.Topic.Name, err)
	}
	for _, rec := range res.Records {
		if !s.push(ctx, rec) {
			return nil
		}
	}
	return nil
}

// push delivers rec to the subscription's channel per Policy, returning
// false if ctx was cancelled while trying to deliver.
func (s *Subscription) push(ctx context.Context, rec topicrecord.Record) bool {
	switch s.Policy {
	case topic.PolicyDrop:
		select {
		case s.out <- rec:
		default:
			metrics.RecordDropped(s.Topic.Name, "drop")
			if s.OnDrop != nil {
				s.OnDrop("drop")
			}
		}
		return true

	case topic.PolicyOverwrite:
		for {
			select {
			case s.out <- rec:
				return true
			default:
			}
			select {
			case <-s.out:
				metrics.RecordDropped(s.Topic.Name, "overwrite")
				if s.OnDrop != nil {
					s.OnDrop("overwrite")
				}
			default:
			}
		}

	default: // topic.PolicyBlock
		select {
		case s.out <- rec:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
