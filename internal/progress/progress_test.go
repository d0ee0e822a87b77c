package progress

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/kv/kvtest"
	"github.com/mindwell-ai/conductor/internal/logger"
)

func newTestStore() *Store {
	return NewStore(kvtest.New(), time.Minute, logger.New(logger.Config{Level: slog.LevelError}))
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Save(ctx, &Entry{
		MessageID:        "msg-1",
		UserID:           "user-1",
		ConversationID:   "conv-1",
		AccumulatedText:  "partial reply",
		Status:           StatusStreaming,
		LastSentPosition: 7,
	})

	entry, err := s.Get(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "partial reply", entry.AccumulatedText)
	assert.Equal(t, StatusStreaming, entry.Status)
	assert.Equal(t, 7, entry.LastSentPosition)
	assert.NotZero(t, entry.CreatedAt)
	assert.NotZero(t, entry.LastUpdateAt)
}

func TestSaveClampsPosition(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Save(ctx, &Entry{
		MessageID:        "msg-1",
		AccumulatedText:  "short",
		Status:           StatusStreaming,
		LastSentPosition: 999,
	})

	entry, err := s.Get(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, len("short"), entry.LastSentPosition)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkError(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Save(ctx, &Entry{MessageID: "msg-1", Status: StatusStreaming})
	s.MarkError(ctx, "msg-1", "backend timeout")

	entry, err := s.Get(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, entry.Status)
	assert.Equal(t, "backend timeout", entry.Error)
}

func TestDelete(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Save(ctx, &Entry{MessageID: "msg-1", Status: StatusStreaming})
	s.Delete(ctx, "msg-1")

	_, err := s.Get(ctx, "msg-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
