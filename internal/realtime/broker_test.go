package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/topicrecord"
)

func TestSubscriptionIndexMatchesGlob(t *testing.T) {
	idx := NewSubscriptionIndex()

	sub1, err := NewSubscription("c1", "sub1", "trades.*")
	require.NoError(t, err)
	sub2, err := NewSubscription("c1", "sub2", "quotes")
	require.NoError(t, err)

	idx.Add(sub1)
	idx.Add(sub2)

	require.ElementsMatch(t, []*Subscription{sub1}, idx.Candidates("trades.btc"))
	require.ElementsMatch(t, []*Subscription{sub2}, idx.Candidates("quotes"))
	require.Empty(t, idx.Candidates("orders"))

	idx.Remove(sub1.ID)
	require.Empty(t, idx.Candidates("trades.btc"))
}

type fakeTopicSource struct {
	topics map[string][]topicrecord.Record
}

func (f *fakeTopicSource) MatchTopicNames(pattern string) []string {
	sub, err := NewSubscription("", "", pattern)
	if err != nil {
		return nil
	}
	var out []string
	for name := range f.topics {
		if sub.Matches(name) {
			out = append(out, name)
		}
	}
	return out
}

func (f *fakeTopicSource) Snapshot(_ context.Context, topicName string, fromMs int64) ([]topicrecord.Record, error) {
	var out []topicrecord.Record
	for _, rec := range f.topics[topicName] {
		if rec.TsMs >= fromMs {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestBrokerSubscribeReturnsSnapshotAcrossMatchingTopics(t *testing.T) {
	source := &fakeTopicSource{topics: map[string][]topicrecord.Record{
		"trades.btc": {topicrecord.New(100, []byte("a")), topicrecord.New(200, []byte("b"))},
		"trades.eth": {topicrecord.New(150, []byte("c"))},
		"quotes":     {topicrecord.New(50, []byte("d"))},
	}}
	broker := NewBroker(source, nil)

	client := &Client{ID: "client-1", subscriptions: make(map[string]*Subscription), done: make(chan struct{})}
	sub, err := NewSubscription(client.ID, "sub-1", "trades.*")
	require.NoError(t, err)

	snapshot, err := broker.Subscribe(context.Background(), client, sub, 120)
	require.NoError(t, err)
	require.Len(t, snapshot.Records, 2)
	require.Equal(t, 1, broker.SubscriptionCount())
}

func TestBrokerPublishOnlyReachesMatchingSubscriptions(t *testing.T) {
	source := &fakeTopicSource{topics: map[string][]topicrecord.Record{}}
	broker := NewBroker(source, nil)

	client := &Client{
		ID:            "client-1",
		subscriptions: make(map[string]*Subscription),
		sendCh:        make(chan []byte, 4),
		done:          make(chan struct{}),
	}
	broker.RegisterClient(client)

	sub, err := NewSubscription(client.ID, "sub-1", "trades.*")
	require.NoError(t, err)
	_, err = broker.Subscribe(context.Background(), client, sub, 0)
	require.NoError(t, err)

	broker.Publish("trades.btc", topicrecord.New(1, []byte("x")))
	broker.Publish("quotes", topicrecord.New(2, []byte("y")))

	require.Len(t, client.sendCh, 1)
}
