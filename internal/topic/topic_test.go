package topic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// stubStorage is a minimal in-memory Storage used only to exercise Topic's
// read-mode gating; the concrete ring/table/file/columnar engines live in
// internal/storage and are tested there.
type stubStorage struct {
	modes  []ReadMode
	policy BackPressurePolicy
	saved  []topicrecord.Record
}

func (s *stubStorage) Init(context.Context, Context) error { return nil }

func (s *stubStorage) Save(_ context.Context, rec topicrecord.Record) error {
	s.saved = append(s.saved, rec)
	return nil
}

func (s *stubStorage) Read(_ context.Context, mode ReadMode, _ ReadParams) (ReadResult, error) {
	return ReadResult{Records: s.saved}, nil
}

func (s *stubStorage) SupportedReadModes() []ReadMode       { return s.modes }
func (s *stubStorage) BackPressurePolicy() BackPressurePolicy { return s.policy }
func (s *stubStorage) SessionState() SessionState           { return SessionReady }
func (s *stubStorage) Close() error                         { return nil }

func TestTopicReadRejectsUnsupportedMode(t *testing.T) {
	st := &stubStorage{modes: []ReadMode{ReadOffset, ReadLatest}, policy: PolicyBlock}
	tp := New("trades", st, nil)

	_, err := tp.Read(context.Background(), ReadSnapshot, ReadParams{})
	require.ErrorIs(t, err, ErrUnsupportedReadMode)

	_, err = tp.Read(context.Background(), ReadOffset, ReadParams{})
	require.NoError(t, err)
}

func TestTopicSupportsReadMode(t *testing.T) {
	st := &stubStorage{modes: []ReadMode{ReadQuery}, policy: PolicyDrop}
	tp := New("orders", st, nil)

	assert.True(t, tp.SupportsReadMode(ReadQuery))
	assert.False(t, tp.SupportsReadMode(ReadSubscribe))
}

func TestTopicSaveDelegatesToStorage(t *testing.T) {
	st := &stubStorage{modes: []ReadMode{ReadOffset}, policy: PolicyBlock}
	tp := New("trades", st, nil)

	rec := topicrecord.New(1700000000000, []byte("hello"))
	require.NoError(t, tp.Save(context.Background(), rec))
	assert.Len(t, st.saved, 1)
}
