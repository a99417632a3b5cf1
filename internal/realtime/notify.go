package realtime

import (
	"context"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// NotifyingStorage decorates a topic.Storage so every successful Save also
// fans the record out to the broker's live subscribers, wiring the
// subscribe read mode into a storage engine that otherwise has
// no notion of push delivery. Constructed once per topic at topology-build
// time, in place of the bare storage, so the Supervisor's tiers and the
// subscribe API observe the same writes without either depending on the
// other.
type NotifyingStorage struct {
	topic.Storage
	broker    *Broker
	topicName string
}

// Wrap returns a Storage that behaves exactly like inner, except every
// Save that succeeds is also published under topicName.
func Wrap(inner topic.Storage, broker *Broker, topicName string) *NotifyingStorage {
	return &NotifyingStorage{Storage: inner, broker: broker, topicName: topicName}
}

// Unwrap exposes the decorated storage for optional-interface probes
// (topic.DepthReporter, scheduler.Rotatable) that the embedded interface
// would otherwise hide.
func (n *NotifyingStorage) Unwrap() topic.Storage { return n.Storage }

// Save delegates to the wrapped storage, then publishes to subscribers.
func (n *NotifyingStorage) Save(ctx context.Context, rec topicrecord.Record) error {
	if err := n.Storage.Save(ctx, rec); err != nil {
		return err
	}
	n.broker.Publish(n.topicName, rec)
	return nil
}
