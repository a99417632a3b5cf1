// Package storage implements Gauss's concrete storage engines:
// a memory ring buffer, a memory upsert table, a file append log, and a
// columnar external archive. Each implements topic.Storage and is
// registered with the plugin registry under its conventional name.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// RingConfig configures a Ring storage: fixed capacity and the overflow
// policy applied once that capacity is reached.
type RingConfig struct {
	Capacity int
	Policy   topic.BackPressurePolicy
}

type ringEntry struct {
	seq int64
	rec topicrecord.Record
}

// Ring is the "memory ring buffer" storage variant: fixed
// capacity, offset/latest/query read modes.
//
// Under PolicyBlock, a writer blocked on a full ring is released once a
// registered RingCursor (an offset-mode consumer) acknowledges having
// read past the oldest entry — there is no other source of capacity in a
// fixed-size ring.
type Ring struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int
	policy    topic.BackPressurePolicy
	entries   []ringEntry
	baseSeq   int64
	nextSeq   int64
	consumers map[*RingCursor]struct{}
	session   topic.Session
}

// NewRing constructs a Ring storage. Capacity must be positive.
func NewRing(cfg RingConfig) *Ring {
	r := &Ring{
		capacity:  cfg.Capacity,
		policy:    cfg.Policy,
		consumers: make(map[*RingCursor]struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Ring) Init(context.Context, topic.Context) error {
	r.session.MarkReady()
	return nil
}

// Close transitions the storage session to CLOSING before releasing any
// writer blocked on a full ring, then CLOSED once every waiter has woken
// — no Save/Read is valid once Close has been called.
func (r *Ring) Close() error {
	r.mu.Lock()
	r.session.BeginClosing()
	r.cond.Broadcast()
	r.mu.Unlock()
	r.session.MarkClosed()
	return nil
}

func (r *Ring) SessionState() topic.SessionState { return r.session.State() }

func (r *Ring) BackPressurePolicy() topic.BackPressurePolicy { return r.policy }

func (r *Ring) SupportedReadModes() []topic.ReadMode {
	return []topic.ReadMode{topic.ReadOffset, topic.ReadLatest, topic.ReadQuery}
}

// Depth reports the number of records currently held, for the topic-depth
// gauge.
func (r *Ring) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RingCursor tracks one offset/block consumer's read progress, letting the
// ring reclaim slots a blocking writer is waiting on once every
// registered cursor has moved past them.
type RingCursor struct {
	ring  *Ring
	acked int64
}

// RegisterConsumer registers a new offset-mode consumer starting at the
// ring's current base sequence. Callers running under PolicyBlock must
// register a cursor and Ack it as they read, or writers will block
// indefinitely once the ring fills.
func (r *Ring) RegisterConsumer() *RingCursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &RingCursor{ring: r, acked: r.baseSeq}
	r.consumers[c] = struct{}{}
	return c
}

// Ack records that the consumer has finished with every record up to and
// including seq.
func (c *RingCursor) Ack(seq int64) {
	c.ring.mu.Lock()
	if seq+1 > c.acked {
		c.acked = seq + 1
	}
	c.ring.cond.Broadcast()
	c.ring.mu.Unlock()
}

// Close unregisters the cursor, releasing any writer blocked only on its
// lag.
func (c *RingCursor) Close() {
	c.ring.mu.Lock()
	delete(c.ring.consumers, c)
	c.ring.cond.Broadcast()
	c.ring.mu.Unlock()
}

func (r *Ring) minAcked() int64 {
	min := r.nextSeq
	for c := range r.consumers {
		if c.acked < min {
			min = c.acked
		}
	}
	return min
}

func (r *Ring) Save(ctx context.Context, rec topicrecord.Record) error {
	if err := r.session.Guard(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.entries) >= r.capacity {
		switch r.policy {
		case topic.PolicyOverwrite:
			r.entries = r.entries[1:]
			r.baseSeq++

		case topic.PolicyDrop:
			return fmt.Errorf("%w: ring at capacity %d", topic.ErrBackPressure, r.capacity)

		case topic.PolicyBlock:
			if r.baseSeq < r.minAcked() {
				r.entries = r.entries[1:]
				r.baseSeq++
				continue
			}
			stop := context.AfterFunc(ctx, r.cond.Broadcast)
			r.cond.Wait()
			stop()
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.session.State() != topic.SessionReady {
				return fmt.Errorf("%w: ring closing under a blocked writer", topic.ErrSessionNotReady)
			}

		default:
			return fmt.Errorf("storage: ring has unknown back-pressure policy %q", r.policy)
		}
	}

	r.entries = append(r.entries, ringEntry{seq: r.nextSeq, rec: rec})
	r.nextSeq++
	return nil
}

// Rotate is the ring's compaction sweep: it reclaims every entry every
// registered cursor has already acked, shrinking the backing slice instead
// of waiting
// for the next Save to trigger eviction. Safe to call concurrently with
// Save/Read; registered with internal/scheduler when a ring topic declares
// a rotation interval in storage_config.
func (r *Ring) Rotate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	acked := r.minAcked()
	for r.baseSeq < acked && len(r.entries) > 0 {
		r.entries = r.entries[1:]
		r.baseSeq++
	}
	r.cond.Broadcast()
	return nil
}

func (r *Ring) Read(_ context.Context, mode topic.ReadMode, params topic.ReadParams) (topic.ReadResult, error) {
	if err := r.session.Guard(); err != nil {
		return topic.ReadResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch mode {
	case topic.ReadLatest:
		if len(r.entries) == 0 {
			return topic.ReadResult{}, nil
		}
		return topic.ReadResult{Records: []topicrecord.Record{r.entries[len(r.entries)-1].rec}}, nil

	case topic.ReadOffset:
		cursor := params.Cursor
		if cursor < r.baseSeq {
			cursor = r.baseSeq
		}
		startIdx := int(cursor - r.baseSeq)
		if startIdx > len(r.entries) {
			startIdx = len(r.entries)
		}
		out := make([]topicrecord.Record, 0, len(r.entries)-startIdx)
		for _, e := range r.entries[startIdx:] {
			out = append(out, e.rec)
		}
		return topic.ReadResult{Records: out, NextCursor: r.baseSeq + int64(len(r.entries))}, nil

	case topic.ReadQuery:
		out := make([]topicrecord.Record, 0)
		for _, e := range r.entries {
			if e.rec.TsMs < params.FromMs || (params.ToMs > 0 && e.rec.TsMs > params.ToMs) {
				continue
			}
			out = append(out, e.rec)
			if params.Limit > 0 && len(out) >= params.Limit {
				break
			}
		}
		return topic.ReadResult{Records: out}, nil

	default:
		return topic.ReadResult{}, fmt.Errorf("%w: %q", topic.ErrUnsupportedReadMode, mode)
	}
}
