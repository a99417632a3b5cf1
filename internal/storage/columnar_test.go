package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/mapping"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// mockObjectStore implements objectStore entirely in memory, mirroring the
// fake used in place of a live bucket.
type mockObjectStore struct {
	objects map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockObjectStore) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockObjectStore) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var contents []types.Object
	for key := range m.objects {
		if len(prefix) == 0 || (len(key) >= len(prefix) && key[:len(prefix)] == prefix) {
			k := key
			contents = append(contents, types.Object{Key: &k})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func testMapSchema() *mapping.MapSchema {
	return &mapping.MapSchema{
		Fields: []mapping.FieldMap{
			{HasTarget: true, Source: mapping.FieldRef{Index: 0}, Target: gschema.Field{Name: "symbol", Type: gschema.FieldType{Name: "string"}}},
			{HasTarget: true, Source: mapping.FieldRef{Index: 1}, Target: gschema.Field{Name: "price", Type: gschema.FieldType{Name: "float64"}}},
		},
	}
}

func testCodec() codec.Codec {
	return codec.NewJSONLine(codec.JSONLineConfig{Fields: []string{"symbol", "price"}})
}

func TestColumnarFlushAndQuery(t *testing.T) {
	store := newMockObjectStore()
	col := newColumnar(store, ColumnarConfig{Bucket: "archive", Prefix: "ticks", FlushRecords: 2})

	require.NoError(t, col.Init(context.Background(), topic.Context{Codec: testCodec(), MapSchema: testMapSchema()}))

	require.NoError(t, col.Save(context.Background(), topicrecord.New(100, []byte(`{"symbol":"BTC","price":50000}`))))
	require.NoError(t, col.Save(context.Background(), topicrecord.New(200, []byte(`{"symbol":"ETH","price":3000}`))))
	require.Len(t, store.objects, 1, "flush should have happened after 2 buffered rows")

	res, err := col.Read(context.Background(), topic.ReadSnapshot, topic.ReadParams{})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
}

func TestColumnarRotateFlushesPartialBuffer(t *testing.T) {
	store := newMockObjectStore()
	col := newColumnar(store, ColumnarConfig{Bucket: "archive", FlushRecords: 100})
	require.NoError(t, col.Init(context.Background(), topic.Context{Codec: testCodec(), MapSchema: testMapSchema()}))

	require.NoError(t, col.Save(context.Background(), topicrecord.New(1, []byte(`{"symbol":"BTC","price":1}`))))
	require.Empty(t, store.objects)

	require.NoError(t, col.Rotate(context.Background()))
	require.Len(t, store.objects, 1)
}
