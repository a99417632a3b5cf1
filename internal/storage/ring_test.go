package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

func TestRingOffsetReadFromZero(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 4, Policy: topic.PolicyDrop})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, topic.Context{}))

	require.NoError(t, r.Save(ctx, topicrecord.New(1, []byte("a"))))
	require.NoError(t, r.Save(ctx, topicrecord.New(2, []byte("b"))))

	res, err := r.Read(ctx, topic.ReadOffset, topic.ReadParams{Cursor: 0})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(1), res.Records[0].TsMs)
	assert.Equal(t, int64(2), res.NextCursor)
}

func TestRingLatestReturnsMostRecentOnly(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 4, Policy: topic.PolicyDrop})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, topic.Context{}))
	require.NoError(t, r.Save(ctx, topicrecord.New(1, []byte("a"))))
	require.NoError(t, r.Save(ctx, topicrecord.New(2, []byte("b"))))

	res, err := r.Read(ctx, topic.ReadLatest, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, []byte("b"), res.Records[0].Data)
}

func TestRingDropPolicyRejectsWhenFull(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 2, Policy: topic.PolicyDrop})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, topic.Context{}))
	require.NoError(t, r.Save(ctx, topicrecord.New(1, []byte("a"))))
	require.NoError(t, r.Save(ctx, topicrecord.New(2, []byte("b"))))

	err := r.Save(ctx, topicrecord.New(3, []byte("c")))
	require.ErrorIs(t, err, topic.ErrBackPressure)
}

func TestRingOverwritePolicyEvictsOldest(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 2, Policy: topic.PolicyOverwrite})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, topic.Context{}))
	require.NoError(t, r.Save(ctx, topicrecord.New(1, []byte("a"))))
	require.NoError(t, r.Save(ctx, topicrecord.New(2, []byte("b"))))
	require.NoError(t, r.Save(ctx, topicrecord.New(3, []byte("c"))))

	res, err := r.Read(ctx, topic.ReadOffset, topic.ReadParams{Cursor: 0})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(2), res.Records[0].TsMs)
	assert.Equal(t, int64(3), res.Records[1].TsMs)
}

func TestRingBlockPolicyUnblocksOnCursorAck(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 1, Policy: topic.PolicyBlock})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, topic.Context{}))
	require.NoError(t, r.Save(ctx, topicrecord.New(1, []byte("a"))))

	cur := r.RegisterConsumer()

	done := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		done <- r.Save(ctx, topicrecord.New(2, []byte("b")))
	}()

	// Give the blocked Save a moment to actually park on cond.Wait.
	time.Sleep(20 * time.Millisecond)
	cur.Ack(0)

	wg.Wait()
	require.NoError(t, <-done)

	res, err := r.Read(ctx, topic.ReadLatest, topic.ReadParams{})
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), res.Records[0].Data)
}

func TestRingBlockPolicyRespectsContextCancellation(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 1, Policy: topic.PolicyBlock})
	require.NoError(t, r.Init(context.Background(), topic.Context{}))
	require.NoError(t, r.Save(context.Background(), topicrecord.New(1, []byte("a"))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := r.Save(ctx, topicrecord.New(2, []byte("b")))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRingQueryFiltersByTimeRangeAndLimit(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 10, Policy: topic.PolicyDrop})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, topic.Context{}))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, r.Save(ctx, topicrecord.New(i*1000, []byte("x"))))
	}

	res, err := r.Read(ctx, topic.ReadQuery, topic.ReadParams{FromMs: 2000, ToMs: 4000, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(2000), res.Records[0].TsMs)
	assert.Equal(t, int64(3000), res.Records[1].TsMs)

	// zero ToMs is unbounded: everything from FromMs on
	res, err = r.Read(ctx, topic.ReadQuery, topic.ReadParams{FromMs: 2000})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)
}

func TestRingSupportedReadModesExcludesSnapshotAndSubscribe(t *testing.T) {
	r := NewRing(RingConfig{Capacity: 1, Policy: topic.PolicyDrop})
	modes := r.SupportedReadModes()
	assert.Contains(t, modes, topic.ReadOffset)
	assert.NotContains(t, modes, topic.ReadSnapshot)
	assert.NotContains(t, modes, topic.ReadSubscribe)
}
