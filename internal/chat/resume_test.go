package chat

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/kv/kvtest"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/progress"
	"github.com/mindwell-ai/conductor/internal/sse"
	"github.com/mindwell-ai/conductor/internal/store"
)

type resumerFixture struct {
	resumer  *Resumer
	progress *progress.Store
	repo     *fakeRepo
	writer   *sse.Writer
	recorder *httptest.ResponseRecorder
}

func newResumerFixture(t *testing.T) *resumerFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})

	repo := newFakeRepo()
	prog := progress.NewStore(kvtest.New(), time.Minute, log)
	resumer := NewResumer(prog, repo, time.Minute, log)

	rec := httptest.NewRecorder()
	w, err := sse.NewWriter(context.Background(), rec, log)
	require.NoError(t, err)

	return &resumerFixture{resumer: resumer, progress: prog, repo: repo, writer: w, recorder: rec}
}

func TestResumeReplaysCompletedEntry(t *testing.T) {
	f := newResumerFixture(t)
	ctx := context.Background()

	f.progress.Save(ctx, &progress.Entry{
		MessageID:       "msg-1",
		UserID:          "user-1",
		ConversationID:  "conv-1",
		AccumulatedText: "The full answer text.",
		Status:          progress.StatusCompleted,
	})

	f.resumer.Resume(ctx, f.writer, "conv-1", "msg-1", "user-1", 0)

	body := f.recorder.Body.String()
	assert.Contains(t, body, `"type":"init"`)
	assert.Contains(t, body, "The full answer text.")
	assert.Contains(t, body, "data: [DONE]\n\n")

	// Consumed in full; the entry is cleaned up.
	_, err := f.progress.Get(ctx, "msg-1")
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func TestResumeReplaysFromPosition(t *testing.T) {
	f := newResumerFixture(t)
	ctx := context.Background()

	text := "prefix that the client already has, plus the tail it missed"
	f.progress.Save(ctx, &progress.Entry{
		MessageID:       "msg-1",
		UserID:          "user-1",
		ConversationID:  "conv-1",
		AccumulatedText: text,
		Status:          progress.StatusCompleted,
	})

	from := len("prefix that the client already has")
	f.resumer.Resume(ctx, f.writer, "conv-1", "msg-1", "user-1", from)

	// Cumulative events always carry the full text so the client can
	// reconcile; the stream must still terminate normally.
	body := f.recorder.Body.String()
	assert.Contains(t, body, "plus the tail it missed")
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestResumePollsUntilSourceCompletes(t *testing.T) {
	f := newResumerFixture(t)
	ctx := context.Background()

	f.progress.Save(ctx, &progress.Entry{
		MessageID:       "msg-1",
		UserID:          "user-1",
		ConversationID:  "conv-1",
		AccumulatedText: "partial",
		Status:          progress.StatusStreaming,
	})

	// The source stream finishes while the resumer is polling.
	go func() {
		time.Sleep(150 * time.Millisecond)
		f.progress.Save(context.Background(), &progress.Entry{
			MessageID:       "msg-1",
			UserID:          "user-1",
			ConversationID:  "conv-1",
			AccumulatedText: "partial then complete",
			Status:          progress.StatusCompleted,
		})
	}()

	f.resumer.Resume(ctx, f.writer, "conv-1", "msg-1", "user-1", 0)

	body := f.recorder.Body.String()
	assert.Contains(t, body, "partial then complete")
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestResumeSurfacesSourceError(t *testing.T) {
	f := newResumerFixture(t)
	ctx := context.Background()

	f.progress.Save(ctx, &progress.Entry{
		MessageID:       "msg-1",
		UserID:          "user-1",
		ConversationID:  "conv-1",
		AccumulatedText: "got this far",
		Status:          progress.StatusError,
		Error:           "model backend unavailable",
	})

	f.resumer.Resume(ctx, f.writer, "conv-1", "msg-1", "user-1", 0)

	body := f.recorder.Body.String()
	assert.Contains(t, body, `"type":"error"`)
	assert.Contains(t, body, "model backend unavailable")
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestResumeFallsBackToPersistedMessage(t *testing.T) {
	f := newResumerFixture(t)
	ctx := context.Background()

	id, err := f.repo.CreateMessage(ctx, store.CreateMessageParams{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Role:           "assistant",
		Content:        "the persisted reply",
	})
	require.NoError(t, err)

	f.resumer.Resume(ctx, f.writer, "conv-1", id, "user-1", 0)

	body := f.recorder.Body.String()
	assert.Contains(t, body, "the persisted reply")
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestResumeUnknownMessage(t *testing.T) {
	f := newResumerFixture(t)

	f.resumer.Resume(context.Background(), f.writer, "conv-1", "missing", "user-1", 0)

	body := f.recorder.Body.String()
	assert.Contains(t, body, `"type":"error"`)
	assert.Contains(t, body, "message not found")
}
