package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/progress"
	"github.com/mindwell-ai/conductor/internal/sse"
)

// Replay pacing and polling for resumed streams.
const (
	resumeChunkSize    = 200
	resumeChunkDelay   = 30 * time.Millisecond
	resumePollInterval = 500 * time.Millisecond
	resumeBudget       = 60 * time.Second
)

// Resumer replays an in-progress assistant message to a reconnecting
// client from its stream progress entry, falling back to the persisted
// message when the entry is gone.
type Resumer struct {
	progress *progress.Store
	messages MessageStore
	log      *logger.Logger

	heartbeat time.Duration
}

// NewResumer wires the resume path.
func NewResumer(progressStore *progress.Store, messages MessageStore, heartbeat time.Duration, log *logger.Logger) *Resumer {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Resumer{
		progress:  progressStore,
		messages:  messages,
		log:       log.WithComponent("stream-resumer"),
		heartbeat: heartbeat,
	}
}

// Resume streams accumulatedText[fromPosition:] to the client, then polls
// for growth until the source stream completes, errors or the budget
// elapses. Once the client has consumed a completed stream the progress
// entry is deleted.
func (r *Resumer) Resume(ctx context.Context, w *sse.Writer, conversationID, messageID, userID string, fromPosition int) {
	w.WriteEvent(sse.NewInitEvent(conversationID, ""))
	w.Heartbeat(r.heartbeat)
	defer w.StopHeartbeat()

	entry, err := r.progress.Get(ctx, messageID)
	if err != nil {
		if !errors.Is(err, progress.ErrNotFound) {
			r.log.Warn("progress lookup failed", slog.String("error", err.Error()))
		}
		r.resumeFromPersisted(ctx, w, messageID, userID, fromPosition)
		return
	}

	if fromPosition < 0 {
		fromPosition = 0
	}
	position := fromPosition
	deadline := time.Now().Add(resumeBudget)

	for {
		if w.IsClosed() {
			return
		}
		if position < len(entry.AccumulatedText) {
			position = r.replay(w, entry.AccumulatedText, entry.Thinking, position)
			if w.IsClosed() {
				return
			}
		}

		if entry.Status == progress.StatusCompleted {
			w.WriteEvent(sse.ContentEvent{
				Content:  entry.AccumulatedText,
				Thinking: entry.Thinking,
				Sources:  entry.Sources,
			})
			if w.WriteDone() {
				// The client consumed the full response; the entry has
				// served its purpose.
				r.progress.Delete(ctx, messageID)
			}
			return
		}
		if entry.Status == progress.StatusError {
			w.WriteEvent(sse.ErrorEvent{Type: sse.TypeError, Error: entry.Error, Timestamp: sse.Now()})
			w.WriteDone()
			return
		}
		if time.Now().After(deadline) {
			r.log.Info("resume budget elapsed", slog.String("message_id", messageID))
			w.WriteDone()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resumePollInterval):
		}

		entry, err = r.progress.Get(ctx, messageID)
		if err != nil {
			// The source stream finished and cleaned up; fall back to
			// the persisted row for the tail.
			r.resumeFromPersisted(ctx, w, messageID, userID, position)
			return
		}
	}
}

// replay emits text[from:] in small spaced cumulative events and returns
// the new position.
func (r *Resumer) replay(w *sse.Writer, text, thinking string, from int) int {
	for from < len(text) {
		end := from + resumeChunkSize
		if end > len(text) {
			end = len(text)
		}
		ok := w.WriteEvent(sse.ContentEvent{Content: text[:end], Thinking: thinking})
		if !ok {
			return from
		}
		from = end
		if from < len(text) {
			time.Sleep(resumeChunkDelay)
		}
	}
	return from
}

// resumeFromPersisted streams the stored message from the given position.
func (r *Resumer) resumeFromPersisted(ctx context.Context, w *sse.Writer, messageID, userID string, fromPosition int) {
	msg, err := r.messages.GetMessage(ctx, messageID, userID)
	if err != nil {
		r.log.Warn("no persisted message for resume",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()))
		w.WriteEvent(sse.ErrorEvent{Type: sse.TypeError, Error: "message not found", Timestamp: sse.Now()})
		w.WriteDone()
		return
	}

	if fromPosition < 0 || fromPosition > len(msg.Content) {
		fromPosition = 0
	}
	r.replay(w, msg.Content, msg.Thinking, fromPosition)
	w.WriteEvent(sse.ContentEvent{Content: msg.Content, Thinking: msg.Thinking, Sources: msg.Sources})
	w.WriteDone()
}
