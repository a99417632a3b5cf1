package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

type stubStorage struct {
	saved []topicrecord.Record
}

func (s *stubStorage) Init(context.Context, topic.Context) error { return nil }
func (s *stubStorage) Close() error                              { return nil }
func (s *stubStorage) Save(_ context.Context, rec topicrecord.Record) error {
	s.saved = append(s.saved, rec)
	return nil
}
func (s *stubStorage) Read(context.Context, topic.ReadMode, topic.ReadParams) (topic.ReadResult, error) {
	return topic.ReadResult{}, nil
}
func (s *stubStorage) SupportedReadModes() []topic.ReadMode          { return []topic.ReadMode{topic.ReadLatest} }
func (s *stubStorage) BackPressurePolicy() topic.BackPressurePolicy { return topic.PolicyBlock }
func (s *stubStorage) SessionState() topic.SessionState             { return topic.SessionReady }

func TestNotifyingStoragePublishesAfterSave(t *testing.T) {
	source := &fakeTopicSource{topics: map[string][]topicrecord.Record{}}
	broker := NewBroker(source, nil)

	client := &Client{
		ID:            "client-1",
		subscriptions: make(map[string]*Subscription),
		sendCh:        make(chan []byte, 4),
		done:          make(chan struct{}),
	}
	broker.RegisterClient(client)
	sub, err := NewSubscription(client.ID, "sub-1", "trades")
	require.NoError(t, err)
	_, err = broker.Subscribe(context.Background(), client, sub, 0)
	require.NoError(t, err)

	inner := &stubStorage{}
	wrapped := Wrap(inner, broker, "trades")

	require.NoError(t, wrapped.Save(context.Background(), topicrecord.New(1, []byte("x"))))
	require.Len(t, inner.saved, 1)
	require.Len(t, client.sendCh, 1)
}
