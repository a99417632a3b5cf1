package bootstrap

import (
	"context"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// topicSource adapts the bootstrap package's resolved topic map to
// internal/realtime's narrow TopicSource interface, the same way the
// broker depends on a narrow interface rather than the whole topology.
//
// topics is the same map bootstrap.Build populates topic-by-topic; a
// topicSource is constructed before that loop runs and reads it lazily, so
// it always reflects every topic present by the time a client subscribes.
type topicSource struct {
	topics map[string]*topic.Topic
}

func newTopicSource(topics map[string]*topic.Topic) *topicSource {
	return &topicSource{topics: topics}
}

func (s *topicSource) MatchTopicNames(pattern string) []string {
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	matched, err := matchTopicNames(names, pattern)
	if err != nil {
		return nil
	}
	return matched
}

// Snapshot answers a new subscription's initial catch-up: whichever read
// mode the topic's storage supports for a full read (snapshot, falling back
// to offset for storages that only ever append), filtered to records at or
// after fromMs.
func (s *topicSource) Snapshot(ctx context.Context, topicName string, fromMs int64) ([]topicrecord.Record, error) {
	tp, ok := s.topics[topicName]
	if !ok {
		return nil, nil
	}

	mode := topic.ReadSnapshot
	if !tp.SupportsReadMode(mode) {
		mode = topic.ReadOffset
	}
	res, err := tp.Read(ctx, mode, topic.ReadParams{Cursor: 0, FromMs: fromMs})
	if err != nil {
		return nil, err
	}
	if fromMs <= 0 {
		return res.Records, nil
	}

	out := make([]topicrecord.Record, 0, len(res.Records))
	for _, rec := range res.Records {
		if rec.TsMs >= fromMs {
			out = append(out, rec)
		}
	}
	return out, nil
}
