package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

func TestFileAppendAndOffsetRead(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(FileConfig{Dir: dir})
	require.NoError(t, f.Init(context.Background(), topic.Context{}))
	defer f.Close()

	for i := int64(0); i < 5; i++ {
		require.NoError(t, f.Save(context.Background(), topicrecord.New(i, []byte{byte(i)})))
	}

	res, err := f.Read(context.Background(), topic.ReadOffset, topic.ReadParams{Cursor: 0})
	require.NoError(t, err)
	require.Len(t, res.Records, 5)
	require.EqualValues(t, 5, res.NextCursor)

	res, err = f.Read(context.Background(), topic.ReadLatest, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, int64(4), res.Records[0].TsMs)
}

func TestFileRotateCompressesSegment(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(FileConfig{Dir: dir, Compression: "gzip"})
	require.NoError(t, f.Init(context.Background(), topic.Context{}))
	defer f.Close()

	require.NoError(t, f.Save(context.Background(), topicrecord.New(1, []byte("a"))))
	require.NoError(t, f.Rotate(context.Background()))
	require.NoError(t, f.Save(context.Background(), topicrecord.New(2, []byte("b"))))

	require.Len(t, f.segments, 1)
	require.True(t, f.segments[0].compressed)

	res, err := f.Read(context.Background(), topic.ReadOffset, topic.ReadParams{Cursor: 0})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
}

func TestFileQueryFiltersByTimestamp(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(FileConfig{Dir: dir})
	require.NoError(t, f.Init(context.Background(), topic.Context{}))
	defer f.Close()

	for _, ts := range []int64{100, 200, 300} {
		require.NoError(t, f.Save(context.Background(), topicrecord.New(ts, []byte("x"))))
	}

	res, err := f.Read(context.Background(), topic.ReadQuery, topic.ReadParams{FromMs: 150, ToMs: 250})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, int64(200), res.Records[0].TsMs)
}
