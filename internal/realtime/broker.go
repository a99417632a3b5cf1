package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// TopicSource is the surface Broker needs from the pipeline supervisor: a
// way to resolve which live topic names match a subscribe pattern, and to
// pull an initial snapshot for each before live deltas start flowing.
// Kept as a narrow interface rather than importing the supervisor
// directly.
type TopicSource interface {
	// MatchTopicNames returns every currently registered topic name that
	// satisfies pattern (exact name or glob).
	MatchTopicNames(pattern string) []string
	// Snapshot returns every record currently stored under topicName with
	// TsMs >= fromMs, for the subscribe response's initial snapshot.
	Snapshot(ctx context.Context, topicName string, fromMs int64) ([]topicrecord.Record, error)
}

// BrokerConfig holds configuration for the broker.
type BrokerConfig struct {
	MaxConnections int
	BufferSize     int
}

// Broker manages WebSocket clients and subscriptions, and is the fan-out
// point every topic's Save path feeds into: Publish is called once per
// saved record, after the storage write succeeds.
type Broker struct {
	source TopicSource

	mu      sync.RWMutex
	clients map[string]*Client
	index   *SubscriptionIndex

	done chan struct{}
}

// NewBroker creates a new subscription broker bound to source for snapshot
// resolution.
func NewBroker(source TopicSource, cfg *BrokerConfig) *Broker {
	if cfg == nil {
		cfg = &BrokerConfig{MaxConnections: 1000, BufferSize: 1000}
	}
	return &Broker{
		source:  source,
		clients: make(map[string]*Client),
		index:   NewSubscriptionIndex(),
		done:    make(chan struct{}),
	}
}

// Stop disconnects every client, unwinding its subscriptions.
func (b *Broker) Stop() {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*Client)
	b.mu.Unlock()

	for _, c := range clients {
		c.CloseWithoutUnsubscribe()
	}
}

// RegisterClient adds a new client to the broker.
func (b *Broker) RegisterClient(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client.ID] = client
	log.Debug().Str("client_id", client.ID).Int("total_clients", len(b.clients)).Msg("realtime client connected")
}

// UnregisterClient removes a client and every subscription it owns.
func (b *Broker) UnregisterClient(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	client, ok := b.clients[clientID]
	if !ok {
		return
	}
	for _, sub := range client.Subscriptions() {
		b.index.Remove(sub.ID)
	}
	delete(b.clients, clientID)
	log.Debug().Str("client_id", clientID).Int("total_clients", len(b.clients)).Msg("realtime client disconnected")
}

// Subscribe registers sub and resolves its initial snapshot across every
// currently matching topic.
func (b *Broker) Subscribe(ctx context.Context, client *Client, sub *Subscription, fromMs int64) (*SnapshotPayload, error) {
	if err := client.AddSubscription(sub); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.index.Add(sub)
	b.mu.Unlock()

	var records []RecordPayload
	for _, topicName := range b.source.MatchTopicNames(sub.Pattern) {
		recs, err := b.source.Snapshot(ctx, topicName, fromMs)
		if err != nil {
			b.mu.Lock()
			b.index.Remove(sub.ID)
			b.mu.Unlock()
			client.RemoveSubscription(sub.ID)
			return nil, err
		}
		for _, rec := range recs {
			records = append(records, RecordPayload{TopicName: topicName, TsMs: rec.TsMs, Data: rec.Data})
		}
	}

	return &SnapshotPayload{SubscriptionID: sub.ID, Records: records}, nil
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index.Remove(subID)
}

// Publish fans rec out to every subscription whose pattern matches
// topicName. Called by NotifyingStorage.Save immediately after the wrapped
// storage accepts a record.
func (b *Broker) Publish(topicName string, rec topicrecord.Record) {
	b.mu.RLock()
	candidates := b.index.Candidates(topicName)
	b.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	payload := RecordPayload{TopicName: topicName, TsMs: rec.TsMs, Data: rec.Data}
	for _, sub := range candidates {
		if sub.State != SubscriptionStateActive {
			continue
		}
		client := b.getClient(sub.ClientID)
		if client == nil {
			continue
		}
		b.sendDelta(client, sub, payload)
	}
}

func (b *Broker) sendDelta(client *Client, sub *Subscription, record RecordPayload) {
	payload, _ := json.Marshal(&DeltaPayload{SubscriptionID: sub.ID, Record: record})
	_ = client.Send(&Message{Type: MessageTypeDelta, Payload: payload})
}

func (b *Broker) getClient(clientID string) *Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clients[clientID]
}

// ClientCount returns the number of currently connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// SubscriptionCount returns the number of currently live subscriptions.
func (b *Broker) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Count()
}
