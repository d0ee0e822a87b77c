package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindwell-ai/conductor/internal/kv"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/sse"
)

// Status values for an in-progress assistant message.
const (
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// ErrNotFound is returned when no progress entry exists for a message.
var ErrNotFound = errors.New("stream progress not found")

// Entry is the snapshot of an in-flight assistant message, kept so a
// reconnecting client can pick up mid-stream.
type Entry struct {
	MessageID        string       `json:"messageId"`
	UserID           string       `json:"userId"`
	ConversationID   string       `json:"conversationId"`
	AccumulatedText  string       `json:"accumulatedText"`
	Thinking         string       `json:"thinking,omitempty"`
	Sources          []sse.Source `json:"sources,omitempty"`
	ModelType        string       `json:"modelType,omitempty"`
	Status           string       `json:"status"`
	LastSentPosition int          `json:"lastSentPosition"`
	Error            string       `json:"error,omitempty"`
	LastUpdateAt     int64        `json:"lastUpdateAt"`
	CreatedAt        int64        `json:"createdAt"`
}

// Store tracks stream progress entries in Redis.
type Store struct {
	rdb kv.Store
	ttl time.Duration
	log *logger.Logger
}

// NewStore creates a progress store. Entries expire after ttl (default 10
// minutes) so abandoned streams clean themselves up.
func NewStore(rdb kv.Store, ttl time.Duration, log *logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl, log: log.WithComponent("stream-progress")}
}

func key(messageID string) string {
	return fmt.Sprintf("stream_progress:%s", messageID)
}

// Save writes the entry, clamping LastSentPosition to the text length.
// Store failures are logged and swallowed; progress is best-effort.
func (s *Store) Save(ctx context.Context, entry *Entry) {
	if entry.LastSentPosition > len(entry.AccumulatedText) {
		entry.LastSentPosition = len(entry.AccumulatedText)
	}
	entry.LastUpdateAt = time.Now().UnixMilli()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = entry.LastUpdateAt
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.log.Error("failed to marshal stream progress", slog.String("error", err.Error()))
		return
	}
	if err := s.rdb.Set(ctx, key(entry.MessageID), data, s.ttl).Err(); err != nil {
		s.log.Warn("failed to save stream progress",
			slog.String("message_id", entry.MessageID),
			slog.String("error", err.Error()))
	}
}

// Get loads the entry for a message.
func (s *Store) Get(ctx context.Context, messageID string) (*Entry, error) {
	data, err := s.rdb.Get(ctx, key(messageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load stream progress: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode stream progress: %w", err)
	}
	return &entry, nil
}

// MarkError flips the entry to error with the failure message.
func (s *Store) MarkError(ctx context.Context, messageID, errMsg string) {
	entry, err := s.Get(ctx, messageID)
	if err != nil {
		return
	}
	entry.Status = StatusError
	entry.Error = errMsg
	s.Save(ctx, entry)
}

// Delete removes the entry once the client has consumed the full response.
func (s *Store) Delete(ctx context.Context, messageID string) {
	if err := s.rdb.Del(ctx, key(messageID)).Err(); err != nil {
		s.log.Debug("failed to delete stream progress",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()))
	}
}
